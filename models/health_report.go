package models

import "fmt"

// Placeholder is shown for sensor values the device has not reported
const Placeholder = "N/A"

// HealthReport is the display model of a plant's sensor readings
type HealthReport struct {
	DeviceID string
	Active   bool

	WaterLevel *int // percent, nil when moisture is missing
	UrgentCare bool

	Humidity    *float64
	LowHumidity bool

	Temperature     *int // in Unit
	TemperatureUnit TemperatureUnit
	Hot             bool

	Concerns []*Concern
}

// WaterLevelText renders the water level, e.g. "42%"
func (r *HealthReport) WaterLevelText() string {
	if r.WaterLevel == nil {
		return Placeholder
	}
	return fmt.Sprintf("%d%%", *r.WaterLevel)
}

// HumidityText renders the humidity, e.g. "55%"
func (r *HealthReport) HumidityText() string {
	if r.Humidity == nil {
		return Placeholder
	}
	return fmt.Sprintf("%g%%", *r.Humidity)
}

// TemperatureText renders the temperature in the report unit, e.g. "24°C"
func (r *HealthReport) TemperatureText() string {
	if r.Temperature == nil {
		return Placeholder
	}
	return fmt.Sprintf("%d°%s", *r.Temperature, r.TemperatureUnit)
}
