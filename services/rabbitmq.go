package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"plantlink/config"
	"plantlink/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// WateringEventPublisher publishes watering session events to a RabbitMQ topic exchange
type WateringEventPublisher struct {
	config    *config.Config
	channel   amqpPublisher
	closer    func() error
	logger    *zap.Logger
	mu        sync.RWMutex
	isClosing bool
}

// NewWateringEventPublisher connects to RabbitMQ and declares the event exchange
func NewWateringEventPublisher(cfg *config.Config, logger *zap.Logger) (*WateringEventPublisher, error) {
	publisher := &WateringEventPublisher{
		config: cfg,
		logger: logger,
	}

	if err := publisher.connect(); err != nil {
		return nil, err
	}

	return publisher, nil
}

// connect establishes connection to RabbitMQ and declares the exchange
func (r *WateringEventPublisher) connect() error {
	var conn *amqp.Connection
	var err error

	r.logger.Info("Connecting to RabbitMQ", zap.String("exchange", r.config.RabbitMQExchange))

	// Connect to RabbitMQ with retry
	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(r.config.RabbitMQURL)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	r.logger.Info("Connected to RabbitMQ successfully")

	// Create channel
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Topic exchange so consumers can bind to watering.* or a single kind
	err = channel.ExchangeDeclare(
		r.config.RabbitMQExchange, // name
		"topic",                   // type
		true,                      // durable
		false,                     // auto-deleted
		false,                     // internal
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	r.logger.Info("Exchange declared", zap.String("exchange", r.config.RabbitMQExchange))

	r.mu.Lock()
	r.channel = channel
	r.closer = func() error {
		channel.Close()
		return conn.Close()
	}
	r.mu.Unlock()

	// Setup connection close notification
	go r.handleReconnect(conn)

	return nil
}

// handleReconnect reconnects when the connection is lost
func (r *WateringEventPublisher) handleReconnect(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))

	r.mu.RLock()
	closing := r.isClosing
	r.mu.RUnlock()
	if closing {
		r.logger.Info("RabbitMQ connection closed gracefully")
		return
	}

	r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

	for {
		r.logger.Info("Attempting to reconnect to RabbitMQ...")
		err := r.connect()
		if err == nil {
			r.logger.Info("Successfully reconnected to RabbitMQ")
			return
		}

		r.logger.Error("Failed to reconnect", zap.Error(err))
		time.Sleep(5 * time.Second)
	}
}

// Start publishes events from the channel until ctx is done or the channel is closed
func (r *WateringEventPublisher) Start(ctx context.Context, events <-chan models.WateringEvent) {
	r.logger.Info("Starting watering event publisher", zap.String("exchange", r.config.RabbitMQExchange))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Watering event publisher stopped")
			return
		case event, ok := <-events:
			if !ok {
				r.logger.Info("Watering event channel closed")
				return
			}
			if err := r.Publish(ctx, event); err != nil {
				r.logger.Error("Failed to publish watering event",
					zap.String("event_id", event.ID),
					zap.String("kind", string(event.Kind)),
					zap.Error(err))
			}
		}
	}
}

// Publish sends one event with routing key watering.<kind>
func (r *WateringEventPublisher) Publish(ctx context.Context, event models.WateringEvent) error {
	routingKey, msg, err := buildWateringPublishing(event)
	if err != nil {
		return err
	}

	r.mu.RLock()
	channel := r.channel
	r.mu.RUnlock()
	if channel == nil {
		return errors.New("rabbitmq channel not open")
	}

	err = channel.PublishWithContext(ctx,
		r.config.RabbitMQExchange, // exchange
		routingKey,                // routing key
		false,                     // mandatory
		false,                     // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.logger.Debug("Published watering event",
		zap.String("event_id", event.ID),
		zap.String("routing_key", routingKey))
	return nil
}

func buildWateringPublishing(event models.WateringEvent) (string, amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return "", amqp.Publishing{}, fmt.Errorf("failed to marshal watering event: %w", err)
	}

	return "watering." + string(event.Kind), amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent, // persistent message
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Type:         string(event.Kind),
	}, nil
}

// Close gracefully closes RabbitMQ connection
func (r *WateringEventPublisher) Close() error {
	r.mu.Lock()
	r.isClosing = true
	closer := r.closer
	r.closer = nil
	r.channel = nil
	r.mu.Unlock()

	r.logger.Info("Closing RabbitMQ connection")

	if closer == nil {
		return nil
	}
	if err := closer(); err != nil {
		r.logger.Error("Error closing connection", zap.Error(err))
		return err
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}
