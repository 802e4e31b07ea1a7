package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"plantlink/config"
	"plantlink/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type publishedMessage struct {
	Exchange string
	Key      string
	Msg      amqp.Publishing
}

type fakeAMQPChannel struct {
	published []publishedMessage
	err       error
}

func (f *fakeAMQPChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedMessage{Exchange: exchange, Key: key, Msg: msg})
	return nil
}

func newTestEventPublisher(t *testing.T, channel amqpPublisher) *WateringEventPublisher {
	return &WateringEventPublisher{
		config:  &config.Config{RabbitMQExchange: "plantlink.watering"},
		channel: channel,
		logger:  zaptest.NewLogger(t),
	}
}

func TestWateringEventPublisher_Publish(t *testing.T) {
	channel := &fakeAMQPChannel{}
	p := newTestEventPublisher(t, channel)

	event := models.WateringEvent{
		ID:              "evt-1",
		SessionID:       "sess-1",
		PlantID:         "p1",
		Kind:            models.WateringCompleted,
		DurationSeconds: 10,
		ElapsedFraction: 1,
		Timestamp:       t0,
	}
	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, channel.published, 1)

	got := channel.published[0]
	assert.Equal(t, "plantlink.watering", got.Exchange)
	assert.Equal(t, "watering.completed", got.Key)
	assert.Equal(t, "application/json", got.Msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.Msg.DeliveryMode)
	assert.Equal(t, "evt-1", got.Msg.MessageId)

	var decoded models.WateringEvent
	require.NoError(t, json.Unmarshal(got.Msg.Body, &decoded))
	assert.True(t, event.Timestamp.Equal(decoded.Timestamp))
	decoded.Timestamp = event.Timestamp
	assert.Equal(t, event, decoded)
}

func TestWateringEventPublisher_StartDrainsChannel(t *testing.T) {
	channel := &fakeAMQPChannel{}
	p := newTestEventPublisher(t, channel)

	events := make(chan models.WateringEvent, 3)
	events <- models.WateringEvent{ID: "1", Kind: models.WateringStarted}
	events <- models.WateringEvent{ID: "2", Kind: models.WateringCanceled}
	close(events)

	p.Start(context.Background(), events)

	require.Len(t, channel.published, 2)
	assert.Equal(t, "watering.started", channel.published[0].Key)
	assert.Equal(t, "watering.canceled", channel.published[1].Key)
}

func TestWateringEventPublisher_Errors(t *testing.T) {
	p := newTestEventPublisher(t, &fakeAMQPChannel{err: errors.New("channel closed")})
	assert.Error(t, p.Publish(context.Background(), models.WateringEvent{Kind: models.WateringStarted}))

	require.NoError(t, p.Close())
	assert.Error(t, p.Publish(context.Background(), models.WateringEvent{Kind: models.WateringStarted}))
}
