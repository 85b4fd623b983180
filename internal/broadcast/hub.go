// Package broadcast routes outbound events to broadcast groups and single
// connections.
package broadcast

import (
	"log/slog"
	"sync"

	"live-quiz-service/internal/domain"
)

// Sink receives events for one connection. Deliver must not block.
type Sink interface {
	Deliver(ev domain.Event)
}

// Hub is an in-process group router. Group membership is keyed by connection
// id so a connection can belong to several groups at once.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	sinks  map[string]Sink
	groups map[string]map[string]struct{}
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log,
		sinks:  make(map[string]Sink),
		groups: make(map[string]map[string]struct{}),
	}
}

// Register makes connID addressable.
func (h *Hub) Register(connID string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks[connID] = sink
}

// Unregister forgets connID and drops it from every group.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sinks, connID)
	for name, members := range h.groups {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, name)
		}
	}
}

func (h *Hub) Join(group, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]struct{})
		h.groups[group] = members
	}
	members[connID] = struct{}{}
}

func (h *Hub) Leave(group, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// Publish delivers ev to every member of group.
func (h *Hub) Publish(group string, ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.groups[group] {
		if sink, ok := h.sinks[connID]; ok {
			sink.Deliver(ev)
		}
	}
}

// Send delivers ev to a single connection.
func (h *Hub) Send(connID string, ev domain.Event) {
	h.mu.RLock()
	sink, ok := h.sinks[connID]
	h.mu.RUnlock()
	if !ok {
		h.log.Debug("drop event for unknown connection", slog.String("conn_id", connID), slog.String("event", ev.Type))
		return
	}
	sink.Deliver(ev)
}

// Members returns the connection ids currently in group.
func (h *Hub) Members(group string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.groups[group]))
	for connID := range h.groups[group] {
		out = append(out, connID)
	}
	return out
}

// ChannelSink is a buffered Sink. A full buffer first sheds stale
// leaderboard snapshots when a newer one arrives; if there is still no room
// the sink closes itself so the connection is torn down instead of silently
// losing an event.
type ChannelSink struct {
	mu         sync.Mutex
	ch         chan domain.Event
	closed     bool
	overflowed bool
}

func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{ch: make(chan domain.Event, size)}
}

func (c *ChannelSink) Deliver(ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- ev:
		return
	default:
	}
	if ev.Type == domain.EventLeaderboardUpdated {
		c.coalesceLocked(ev.Type)
	}
	select {
	case c.ch <- ev:
	default:
		c.overflowed = true
		c.closed = true
		close(c.ch)
	}
}

// coalesceLocked removes buffered events of typ, keeping the rest in order.
func (c *ChannelSink) coalesceLocked(typ string) {
	pending := make([]domain.Event, 0, cap(c.ch))
	for {
		select {
		case ev := <-c.ch:
			pending = append(pending, ev)
			continue
		default:
		}
		break
	}
	for _, ev := range pending {
		if ev.Type != typ {
			c.ch <- ev
		}
	}
}

// Overflowed reports whether the sink closed because its reader fell behind.
func (c *ChannelSink) Overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflowed
}

// Events is the receive side of the sink.
func (c *ChannelSink) Events() <-chan domain.Event {
	return c.ch
}

// Close stops delivery and closes the channel.
func (c *ChannelSink) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}
