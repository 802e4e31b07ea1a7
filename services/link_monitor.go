package services

import (
	"context"
	"sync"
	"time"

	"plantlink/config"
	"plantlink/models"

	"go.uber.org/zap"
)

// Notifier delivers device alerts to the plant owner
type Notifier interface {
	SendOfflineAlert(deviceID string, lastSeen time.Time) error
	SendRecoveryAlert(deviceID string, downtime time.Duration) error
	SendCareAlert(report *models.HealthReport) error
}

// LinkMonitor follows the published link states, alerts when a device stays offline and
// when it comes back, and forwards care alerts for live devices.
type LinkMonitor struct {
	assessor     *PlantHealthAssessor
	notifier     Notifier
	logger       *zap.Logger
	unit         models.TemperatureUnit
	offlineAfter time.Duration
	now          func() time.Time

	devices map[string]*models.DeviceHealth
	mu      sync.RWMutex
}

// NewLinkMonitor creates a new link monitoring service
func NewLinkMonitor(cfg *config.Config, assessor *PlantHealthAssessor, notifier Notifier, logger *zap.Logger) *LinkMonitor {
	return &LinkMonitor{
		assessor:     assessor,
		notifier:     notifier,
		logger:       logger,
		unit:         models.TemperatureUnit(cfg.TemperatureUnit),
		offlineAfter: cfg.OfflineAlertAfter,
		now:          time.Now,
		devices:      make(map[string]*models.DeviceHealth),
	}
}

// Start processes link states until ctx is done or the channel is closed
func (m *LinkMonitor) Start(ctx context.Context, states <-chan models.LinkState) {
	m.logger.Info("Starting link monitor", zap.Duration("offline_after", m.offlineAfter))

	// Start the timeout checker goroutine
	go m.runTimeoutChecker(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Link monitor stopped")
			return
		case state, ok := <-states:
			if !ok {
				m.logger.Info("Link state channel closed")
				return
			}
			m.HandleLinkState(state)
		}
	}
}

// HandleLinkState updates the health of the device the state belongs to
func (m *LinkMonitor) HandleLinkState(state models.LinkState) {
	if state.DeviceID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	deviceID := state.DeviceID
	now := m.now()

	if !state.Subscribed {
		if _, exists := m.devices[deviceID]; exists {
			delete(m.devices, deviceID)
			m.logger.Info("Device no longer monitored", zap.String("device_id", deviceID))
		}
		return
	}

	device, exists := m.devices[deviceID]
	if !exists {
		device = &models.DeviceHealth{DeviceID: deviceID}
		m.devices[deviceID] = device
		m.logger.Info("New device registered for link monitoring", zap.String("device_id", deviceID))
	}

	if !state.Active {
		if device.Status != models.DeviceOffline {
			device.Status = models.DeviceOffline
			device.OfflineAt = now
			m.logger.Warn("Device went offline",
				zap.String("device_id", deviceID),
				zap.Time("last_seen", device.LastSeen))
		}
		return
	}

	wasReported := device.Status == models.DeviceOffline && device.WasReported
	downtime := now.Sub(device.OfflineAt)

	device.Status = models.DeviceOnline
	device.LastSeen = now
	device.WasReported = false

	// Only outages that were alerted get a recovery alert
	if wasReported {
		m.logger.Info("Device recovered",
			zap.String("device_id", deviceID),
			zap.Duration("down_duration", downtime))

		if err := m.notifier.SendRecoveryAlert(deviceID, downtime); err != nil {
			m.logger.Error("Failed to send recovery alert",
				zap.String("device_id", deviceID),
				zap.Error(err))
		}
	}

	report := m.assessor.Assess(state, m.unit)
	if len(report.Concerns) == 0 {
		return
	}
	if err := m.notifier.SendCareAlert(report); err != nil {
		m.logger.Error("Failed to send care alert",
			zap.String("device_id", deviceID),
			zap.Error(err))
	}
}

// runTimeoutChecker periodically checks for devices that stayed offline
func (m *LinkMonitor) runTimeoutChecker(ctx context.Context) {
	interval := max(m.offlineAfter/3, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Link timeout checker started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Link timeout checker stopped")
			return
		case <-ticker.C:
			m.checkTimeouts()
		}
	}
}

// checkTimeouts alerts once for every device offline longer than the grace period
func (m *LinkMonitor) checkTimeouts() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	for deviceID, device := range m.devices {
		if device.Status != models.DeviceOffline || device.WasReported {
			continue
		}

		offlineFor := now.Sub(device.OfflineAt)
		if offlineFor <= m.offlineAfter {
			continue
		}

		m.logger.Warn("Device offline timeout detected",
			zap.String("device_id", deviceID),
			zap.Time("last_seen", device.LastSeen),
			zap.Duration("offline_for", offlineFor))

		device.WasReported = true

		if err := m.notifier.SendOfflineAlert(deviceID, device.LastSeen); err != nil {
			m.logger.Error("Failed to send offline alert",
				zap.String("device_id", deviceID),
				zap.Error(err))
		}
	}
}

// GetDeviceHealth returns the current health status of a device
func (m *LinkMonitor) GetDeviceHealth(deviceID string) (models.DeviceHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.devices[deviceID]
	if !exists {
		return models.DeviceHealth{}, false
	}
	return *device, true
}
