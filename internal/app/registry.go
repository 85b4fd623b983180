package app

import "sync"

// Binding records what a connection is attached to.
type Binding struct {
	SessionID     string
	ParticipantID string
	// HostOf lists the sessions this connection controls as host.
	HostOf []string
}

// Participant reports whether the connection is bound as a participant.
func (b Binding) Participant() bool {
	return b.SessionID != "" && b.ParticipantID != ""
}

// Registry maps connection ids to their session bindings. It replaces
// attaching identifiers to the connection object so the binding can be
// inspected independently of the transport.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

// Lookup returns the binding for a connection.
func (r *Registry) Lookup(connID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[connID]
	if !ok {
		return Binding{}, false
	}
	b.HostOf = append([]string(nil), b.HostOf...)
	return b, true
}

// BindParticipant attaches a connection to one participant of one session.
func (r *Registry) BindParticipant(connID, sessionID, participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bindings[connID]
	b.SessionID = sessionID
	b.ParticipantID = participantID
	r.bindings[connID] = b
}

// UnbindParticipant clears the participant binding, keeping host bindings.
func (r *Registry) UnbindParticipant(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[connID]
	if !ok {
		return
	}
	b.SessionID = ""
	b.ParticipantID = ""
	r.storeLocked(connID, b)
}

// BindHost records that the connection controls sessionID.
func (r *Registry) BindHost(connID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bindings[connID]
	for _, id := range b.HostOf {
		if id == sessionID {
			return
		}
	}
	b.HostOf = append(b.HostOf, sessionID)
	r.bindings[connID] = b
}

// Remove drops the connection entirely and returns what it was bound to.
func (r *Registry) Remove(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[connID]
	delete(r.bindings, connID)
	return b, ok
}

func (r *Registry) storeLocked(connID string, b Binding) {
	if b.SessionID == "" && len(b.HostOf) == 0 {
		delete(r.bindings, connID)
		return
	}
	r.bindings[connID] = b
}
