package models

import (
	"time"
)

// LinkState is what the device link publishes to its consumers
type LinkState struct {
	DeviceID string
	// Data is the last decoded device record, nil when the record does not exist
	Data   *DeviceRecord
	Active bool
	// Subscribed is false for the state published when a link is torn down
	Subscribed bool
	UpdatedAt  time.Time
}

// AppState mirrors the application lifecycle states
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateInactive   AppState = "inactive"
	AppStateBackground AppState = "background"
)

// Foreground reports whether the state counts as the app being in the foreground
func (s AppState) Foreground() bool {
	return s == AppStateActive
}

// DeviceHealthStatus represents the connectivity status of a device
type DeviceHealthStatus string

const (
	DeviceOnline  DeviceHealthStatus = "online"
	DeviceOffline DeviceHealthStatus = "offline"
)

// DeviceHealth tracks the connectivity history of a device
type DeviceHealth struct {
	DeviceID    string
	LastSeen    time.Time
	Status      DeviceHealthStatus
	OfflineAt   time.Time // When the device went offline (if applicable)
	WasReported bool      // an offline alert went out for the current outage
}
