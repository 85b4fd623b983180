package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"live-quiz-service/internal/domain"
)

type fakeChannel struct {
	declared   []string
	published  []amqp.Publishing
	keys       []string
	publishErr error
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.declared = append(c.declared, name+"/"+kind)
	return nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.keys = append(c.keys, exchange+"/"+key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestPublisherRoutesByEventName(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newChannelPublisher(ch, DefaultExchange, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultExchange + "/topic"}, ch.declared)

	ev := domain.SessionEvent{
		Name:       domain.SessionEventCompleted,
		SessionID:  "s1",
		QuizID:     "quiz-1",
		Status:     domain.SessionCompleted,
		OccurredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishSessionEvent(context.Background(), ev))

	require.Len(t, ch.published, 1)
	assert.Equal(t, DefaultExchange+"/session.completed", ch.keys[0])
	assert.Equal(t, "application/json", ch.published[0].ContentType)

	var decoded domain.SessionEvent
	require.NoError(t, json.Unmarshal(ch.published[0].Body, &decoded))
	assert.Equal(t, "s1", decoded.SessionID)
	assert.Equal(t, domain.SessionCompleted, decoded.Status)
}

func TestPublisherWrapsPublishErrors(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	p, err := newChannelPublisher(ch, "events", slog.Default())
	require.NoError(t, err)

	err = p.PublishSessionEvent(context.Background(), domain.SessionEvent{Name: domain.SessionEventStarted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestDisabledPublisherDropsEvents(t *testing.T) {
	p, err := NewPublisher("", "", slog.Default())
	require.NoError(t, err)
	assert.NoError(t, p.PublishSessionEvent(context.Background(), domain.SessionEvent{Name: domain.SessionEventStarted}))
	assert.NoError(t, p.Close())
}

func TestPublisherCloseReleasesChannel(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newChannelPublisher(ch, "events", slog.Default())
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	assert.NoError(t, p.PublishSessionEvent(context.Background(), domain.SessionEvent{Name: domain.SessionEventStarted}))
	assert.Empty(t, ch.published)
}
