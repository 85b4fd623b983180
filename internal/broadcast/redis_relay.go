package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"live-quiz-service/internal/domain"
)

// RedisRelay fans group broadcasts out through a Redis pub/sub channel so
// every service instance delivers them to its own local members. Direct
// sends and group membership stay local because connections are.
type RedisRelay struct {
	hub     *Hub
	client  *redis.Client
	channel string
	log     *slog.Logger

	mu  sync.Mutex
	sub *redis.PubSub
}

type relayEnvelope struct {
	Group string       `json:"group"`
	Event domain.Event `json:"event"`
}

func NewRedisRelay(hub *Hub, client *redis.Client, channel string, log *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = "live-quiz:events"
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisRelay{hub: hub, client: client, channel: channel, log: log}
}

// Start subscribes to the relay channel and delivers relayed events until
// ctx is canceled or Close is called.
func (r *RedisRelay) Start(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()

	go func() {
		for msg := range sub.Channel() {
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("drop malformed relay message", slog.Any("error", err))
				continue
			}
			r.hub.Publish(env.Group, env.Event)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = r.Close()
	}()
	return nil
}

// Close ends the subscription.
func (r *RedisRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return nil
	}
	err := r.sub.Close()
	r.sub = nil
	return err
}

// Publish relays ev to group members on every instance. If Redis is
// unreachable the event is still delivered locally.
func (r *RedisRelay) Publish(group string, ev domain.Event) {
	data, err := json.Marshal(relayEnvelope{Group: group, Event: ev})
	if err == nil {
		err = r.client.Publish(context.Background(), r.channel, data).Err()
	}
	if err != nil {
		r.log.Warn("relay publish failed, delivering locally", slog.String("group", group), slog.Any("error", err))
		r.hub.Publish(group, ev)
	}
}

func (r *RedisRelay) Send(connID string, ev domain.Event) { r.hub.Send(connID, ev) }
func (r *RedisRelay) Join(group, connID string)           { r.hub.Join(group, connID) }
func (r *RedisRelay) Leave(group, connID string)          { r.hub.Leave(group, connID) }
