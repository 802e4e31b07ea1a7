package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"plantlink/config"
	"plantlink/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const mqttPublishTimeout = 5 * time.Second

// NewMQTTClient connects a paho client to the configured broker
func NewMQTTClient(cfg *config.Config, clientID string, logger *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.MQTTBroker))
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.MQTTUser)
	opts.SetPassword(cfg.MQTTPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	// Connection handler
	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
	}

	// Connection lost handler
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttPublishTimeout) {
		return nil, errors.New("unable to connect to MQTT broker in time")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return client, nil
}

type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// LinkStatusPayload is the retained message mirrored for every device
type LinkStatusPayload struct {
	DeviceID    string   `json:"device_id"`
	Active      bool     `json:"active"`
	Subscribed  bool     `json:"subscribed"`
	MotorStatus bool     `json:"motor_status"`
	Moisture    *float64 `json:"moisture,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	LastUpdate  any      `json:"last_update,omitempty"`
}

func newLinkStatusPayload(state models.LinkState) LinkStatusPayload {
	payload := LinkStatusPayload{
		DeviceID:    state.DeviceID,
		Active:      state.Active,
		Subscribed:  state.Subscribed,
		MotorStatus: state.Data.MotorOn(),
		LastUpdate:  state.Data.LastUpdate(),
	}
	if state.Data != nil && state.Data.SensorData != nil {
		payload.Moisture = state.Data.SensorData.Moisture
		payload.Humidity = state.Data.SensorData.Humidity
		payload.Temperature = state.Data.SensorData.Temperature
	}
	return payload
}

// StatusMirror republishes link states to MQTT as retained messages on
// <prefix>/<deviceId>/state. Unchanged states are not published again.
type StatusMirror struct {
	client mqttPublisher
	prefix string
	logger *zap.Logger

	mu   sync.Mutex
	last map[string][]byte
}

func NewStatusMirror(client mqttPublisher, prefix string, logger *zap.Logger) *StatusMirror {
	return &StatusMirror{
		client: client,
		prefix: prefix,
		logger: logger,
		last:   make(map[string][]byte),
	}
}

// Topic returns the state topic of a device
func (s *StatusMirror) Topic(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", s.prefix, deviceID)
}

// Start mirrors link states until ctx is done or the channel is closed
func (s *StatusMirror) Start(ctx context.Context, states <-chan models.LinkState) {
	s.logger.Info("Starting MQTT status mirror", zap.String("prefix", s.prefix))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("MQTT status mirror stopped")
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			if err := s.Mirror(state); err != nil {
				s.logger.Error("Failed to mirror link state",
					zap.String("device_id", state.DeviceID),
					zap.Error(err))
			}
		}
	}
}

// Mirror publishes state if it differs from the last one published for the device
func (s *StatusMirror) Mirror(state models.LinkState) error {
	if state.DeviceID == "" {
		return nil
	}

	body, err := json.Marshal(newLinkStatusPayload(state))
	if err != nil {
		return fmt.Errorf("failed to marshal link state: %w", err)
	}

	topic := s.Topic(state.DeviceID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.shouldUpdate(topic, body) {
		return nil
	}

	token := s.client.Publish(topic, 1, true, body)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	s.last[topic] = body
	s.logger.Debug("Mirrored link state",
		zap.String("topic", topic),
		zap.Bool("active", state.Active))
	return nil
}

func (s *StatusMirror) shouldUpdate(topic string, body []byte) bool {
	previous, ok := s.last[topic]
	return !ok || !bytes.Equal(previous, body)
}
