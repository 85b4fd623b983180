package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"live-quiz-service/internal/domain"
)

// DefaultExchange receives session lifecycle events, routed by event name.
const DefaultExchange = "live-quiz-events"

const publishTimeout = 5 * time.Second

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends domain.SessionEvent messages to a topic exchange. A
// publisher built from an empty URL is disabled and drops every event.
type Publisher struct {
	url      string
	exchange string
	log      *slog.Logger
	dial     func(url string) (*amqp.Connection, channel, error)

	mu      sync.Mutex
	conn    *amqp.Connection
	channel channel
	enabled bool
}

func NewPublisher(url, exchange string, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	p := &Publisher{url: url, exchange: exchange, log: log, dial: dialChannel}
	if url == "" {
		log.Warn("rabbitmq url is empty, session event publishing is disabled")
		return p, nil
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	p.enabled = true
	return p, nil
}

// newChannelPublisher wraps an already open channel.
func newChannelPublisher(ch channel, exchange string, log *slog.Logger) (*Publisher, error) {
	if err := declareExchange(ch, exchange); err != nil {
		return nil, err
	}
	return &Publisher{exchange: exchange, log: log, channel: ch, enabled: true}, nil
}

func dialChannel(url string) (*amqp.Connection, channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return conn, ch, nil
}

func declareExchange(ch channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

func (p *Publisher) connect() error {
	conn, ch, err := p.dial(p.url)
	if err != nil {
		return err
	}
	if err := declareExchange(ch, p.exchange); err != nil {
		ch.Close()
		conn.Close()
		return err
	}
	p.conn, p.channel = conn, ch
	return nil
}

func (p *Publisher) PublishSessionEvent(ctx context.Context, ev domain.SessionEvent) error {
	if !p.enabled {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// redial once if the broker dropped us since the last publish
	if p.conn != nil && p.conn.IsClosed() {
		p.log.Warn("rabbitmq connection closed, reconnecting")
		if err := p.connect(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err = p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		ev.Name,    // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
			MessageId:    ev.SessionID + ":" + ev.Name,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.log.Debug("published session event", "event", ev.Name, "session_id", ev.SessionID)
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.channel != nil {
		err = p.channel.Close()
	}
	if p.conn != nil {
		err = p.conn.Close()
	}
	p.enabled = false
	return err
}
