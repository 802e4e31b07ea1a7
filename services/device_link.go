package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"plantlink/models"

	"go.uber.org/zap"
)

var (
	ErrNoDeviceSelected = errors.New("no device selected")
	ErrManagerClosed    = errors.New("device link manager closed")
)

const writeQueueSize = 32

// LinkPublisher receives every state the device link produces
type LinkPublisher interface {
	Publish(state models.LinkState)
}

// DeviceLinkManager keeps a live view of one device record, derives its liveness from
// the heartbeat and mirrors the app foreground state into the record.
type DeviceLinkManager struct {
	store     RealtimeStore
	publisher LinkPublisher
	logger    *zap.Logger
	ctx       context.Context
	now       func() time.Time

	// motor commands and appActive flags are written on independent streams
	motorQueue    *WriteQueue
	presenceQueue *WriteQueue

	// opMu serializes Select and Close so teardown and subscribe never overlap
	opMu sync.Mutex

	mu          sync.Mutex
	deviceID    string
	unsubscribe Unsubscribe
	gen         uint64
	baseline    Baseline
	data        *models.DeviceRecord
	active      bool
	foreground  bool
	closed      bool
}

// NewDeviceLinkManager creates a manager with no device selected. The app is assumed to
// be in the foreground.
func NewDeviceLinkManager(ctx context.Context, store RealtimeStore, publisher LinkPublisher, logger *zap.Logger) *DeviceLinkManager {
	return &DeviceLinkManager{
		store:         store,
		publisher:     publisher,
		logger:        logger,
		ctx:           ctx,
		now:           time.Now,
		motorQueue:    NewWriteQueue(ctx, "motor", store, writeQueueSize, logger),
		presenceQueue: NewWriteQueue(ctx, "presence", store, writeQueueSize, logger),
		foreground:    true,
	}
}

// Select switches the link to deviceID. The previous device is fully torn down first.
// An empty id clears the selection.
func (m *DeviceLinkManager) Select(deviceID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if deviceID != "" && deviceID == m.deviceID && m.unsubscribe != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if deviceID != "" && !models.ValidDeviceID(deviceID) {
		return fmt.Errorf("invalid device id %q", deviceID)
	}

	m.teardown()

	if deviceID == "" {
		m.logger.Info("No device selected")
		m.publisher.Publish(models.LinkState{UpdatedAt: m.now()})
		return nil
	}

	m.mu.Lock()
	m.deviceID = deviceID
	m.gen++
	gen := m.gen
	if err := m.presenceQueue.Enqueue(models.AppActivePath(deviceID), m.foreground); err != nil {
		m.logger.Error("Failed to queue appActive write", zap.String("device_id", deviceID), zap.Error(err))
	}
	m.mu.Unlock()

	m.logger.Info("Subscribing to device record", zap.String("device_id", deviceID))

	unsubscribe, err := m.store.Subscribe(m.ctx, models.DeviceRecordPath(deviceID), m.onData(gen), m.onError(gen))
	if err != nil {
		m.logger.Error("Failed to subscribe to device record", zap.String("device_id", deviceID), zap.Error(err))

		m.mu.Lock()
		m.active = false
		state := m.stateLocked(false)
		m.mu.Unlock()
		m.publisher.Publish(state)
		return fmt.Errorf("error subscribing to device %s: %w", deviceID, err)
	}

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
	return nil
}

// teardown detaches the current subscription, resets liveness and marks the previous
// device as no longer controlled by the app. Callers hold opMu.
func (m *DeviceLinkManager) teardown() {
	m.mu.Lock()
	previous := m.deviceID
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	// callbacks still in flight for the old subscription are dropped
	m.gen++
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
		m.logger.Info("Unsubscribed from device record", zap.String("device_id", previous))
	}

	m.mu.Lock()
	m.baseline = Baseline{}
	m.data = nil
	m.active = false
	m.mu.Unlock()

	if previous == "" {
		return
	}

	// Consumers react to this state while the old id is still current, so a running
	// watering session turns the old device's motor off.
	m.publisher.Publish(models.LinkState{DeviceID: previous, UpdatedAt: m.now()})

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.presenceQueue.Enqueue(models.AppActivePath(previous), false); err != nil {
		m.logger.Error("Failed to queue appActive write", zap.String("device_id", previous), zap.Error(err))
	}
	m.deviceID = ""
}

func (m *DeviceLinkManager) onData(gen uint64) func(Snapshot) {
	return func(snapshot Snapshot) {
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}

		if !snapshot.Exists() {
			m.data = nil
			m.active = false
			m.logger.Warn("Device record does not exist", zap.String("device_id", m.deviceID))
		} else {
			var record models.DeviceRecord
			if err := snapshot.Decode(&record); err != nil {
				m.active = false
				m.logger.Error("Failed to decode device record", zap.String("device_id", m.deviceID), zap.Error(err))
			} else {
				verdict := Classify(m.baseline, record.LastUpdate())
				m.baseline = verdict.Next
				m.data = &record
				m.active = verdict.Active
			}
		}

		state := m.stateLocked(true)
		m.mu.Unlock()

		m.logger.Debug("Device record updated",
			zap.String("device_id", state.DeviceID),
			zap.Bool("active", state.Active),
			zap.Any("last_update", state.Data.LastUpdate()))
		m.publisher.Publish(state)
	}
}

func (m *DeviceLinkManager) onError(gen uint64) func(error) {
	return func(err error) {
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		// keep the last known record, only liveness is lost
		m.active = false
		state := m.stateLocked(true)
		m.mu.Unlock()

		m.logger.Warn("Device record subscription error", zap.String("device_id", state.DeviceID), zap.Error(err))
		m.publisher.Publish(state)
	}
}

func (m *DeviceLinkManager) stateLocked(subscribed bool) models.LinkState {
	return models.LinkState{
		DeviceID:   m.deviceID,
		Data:       m.data,
		Active:     m.active,
		Subscribed: subscribed,
		UpdatedAt:  m.now(),
	}
}

// SetMotorStatus queues the actuator command for the selected device
func (m *DeviceLinkManager) SetMotorStatus(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if m.deviceID == "" {
		m.logger.Warn("Ignoring motor command, no device selected", zap.Bool("motor_status", on))
		return ErrNoDeviceSelected
	}

	m.logger.Info("Setting motor status", zap.String("device_id", m.deviceID), zap.Bool("motor_status", on))
	return m.motorQueue.Enqueue(models.MotorStatusPath(m.deviceID), on)
}

// HandleAppState mirrors an app lifecycle transition into the appActive flag. Only a
// change between foreground and not-foreground produces a write.
func (m *DeviceLinkManager) HandleAppState(state models.AppState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	foreground := state.Foreground()
	if m.closed || foreground == m.foreground {
		return
	}
	m.foreground = foreground

	m.logger.Info("App state changed", zap.String("app_state", string(state)), zap.String("device_id", m.deviceID))
	if m.deviceID == "" {
		return
	}
	if err := m.presenceQueue.Enqueue(models.AppActivePath(m.deviceID), foreground); err != nil {
		m.logger.Error("Failed to queue appActive write", zap.String("device_id", m.deviceID), zap.Error(err))
	}
}

// Active reports whether the selected device is currently live
func (m *DeviceLinkManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// DeviceID returns the selected device, empty when none is selected
func (m *DeviceLinkManager) DeviceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceID
}

// State returns the current link state
func (m *DeviceLinkManager) State() models.LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(m.unsubscribe != nil)
}

// Close tears the link down, writes appActive=false for the selected device and waits
// for the queued writes to be applied.
func (m *DeviceLinkManager) Close() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.teardown()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.motorQueue.Close()
	m.presenceQueue.Close()
	m.logger.Info("Device link closed")
	return nil
}
