package models

import (
	"strings"
)

// SensorData is the firmware-owned part of a device record
type SensorData struct {
	Moisture    *float64 `json:"moisture,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	// LastUpdate is the device heartbeat, a number or a numeric string
	LastUpdate any `json:"lastUpdate,omitempty"`
}

// MotorData holds the actuator command written by the app
type MotorData struct {
	MotorStatus bool `json:"motorStatus"`
}

// DeviceRecord represents one watering unit stored at the top-level key <deviceId>
type DeviceRecord struct {
	SensorData *SensorData `json:"sensorData,omitempty"`
	MotorData  *MotorData  `json:"motorData,omitempty"`
	AppActive  bool        `json:"appActive"`
}

// LastUpdate returns the raw heartbeat value, nil when the record has none
func (r *DeviceRecord) LastUpdate() any {
	if r == nil || r.SensorData == nil {
		return nil
	}
	return r.SensorData.LastUpdate
}

// MotorOn reports the last actuator command stored in the record
func (r *DeviceRecord) MotorOn() bool {
	return r != nil && r.MotorData != nil && r.MotorData.MotorStatus
}

// DeviceRecordPath returns the realtime path of a device record
func DeviceRecordPath(deviceID string) string {
	return deviceID
}

// SensorDataPath returns the realtime path of the firmware sensor block
func SensorDataPath(deviceID string) string {
	return deviceID + "/sensorData"
}

// MotorStatusPath returns the realtime path of the actuator command
func MotorStatusPath(deviceID string) string {
	return deviceID + "/motorData/motorStatus"
}

// AppActivePath returns the realtime path of the foreground flag
func AppActivePath(deviceID string) string {
	return deviceID + "/appActive"
}

// ValidDeviceID reports whether id can be used as a realtime database key
func ValidDeviceID(id string) bool {
	if id == "" || strings.TrimSpace(id) != id {
		return false
	}
	return !strings.ContainsAny(id, ".$#[]/")
}

// ConcernType represents a plant care problem derived from sensor readings
type ConcernType string

const (
	WaterLow        ConcernType = "water_low"
	HumidityLow     ConcernType = "humidity_low"
	TemperatureHigh ConcernType = "temperature_high"
)

// Concern represents a detected care problem
type Concern struct {
	Type        ConcernType `json:"type"`
	Value       float64     `json:"value"`
	Threshold   float64     `json:"threshold"`
	DeviceID    string      `json:"device_id"`
	Description string      `json:"description"`
}

// GetConcernEmoji returns appropriate emoji for concern type
func (c *Concern) GetConcernEmoji() string {
	switch c.Type {
	case WaterLow:
		return "🏜️"
	case HumidityLow:
		return "💨"
	case TemperatureHigh:
		return "🔥"
	default:
		return "⚠️"
	}
}

// GetSeverityColor returns the severity marker used in alerts
func (c *Concern) GetSeverityColor() string {
	switch c.Type {
	case WaterLow:
		return "🔴"
	case TemperatureHigh:
		return "🟡"
	case HumidityLow:
		return "🔵"
	default:
		return "⚪"
	}
}
