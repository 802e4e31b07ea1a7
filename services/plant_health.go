package services

import (
	"fmt"
	"math"

	"plantlink/config"
	"plantlink/models"
)

type PlantHealthAssessor struct {
	config *config.Config
}

func NewPlantHealthAssessor(cfg *config.Config) *PlantHealthAssessor {
	return &PlantHealthAssessor{
		config: cfg,
	}
}

// WaterLevel converts a raw soil moisture reading to a percentage. The sensor reads
// higher when the soil is drier.
func (a *PlantHealthAssessor) WaterLevel(moisture float64) int {
	wet, dry := a.config.MoistureWet, a.config.MoistureDry
	level := math.Floor(100 - (moisture-wet)/(dry-wet)*100)
	return int(min(max(level, 0), 100))
}

// DisplayTemperature converts a Celsius reading to a whole number in unit, rounding half up
func DisplayTemperature(celsius float64, unit models.TemperatureUnit) int {
	if unit == models.Fahrenheit {
		return int(math.Floor(celsius*9/5 + 32 + 0.5))
	}
	return int(math.Floor(celsius + 0.5))
}

// Assess builds the health report shown for a device record. Missing readings stay nil
// and never raise a concern.
func (a *PlantHealthAssessor) Assess(state models.LinkState, unit models.TemperatureUnit) *models.HealthReport {
	report := &models.HealthReport{
		DeviceID:        state.DeviceID,
		Active:          state.Active,
		TemperatureUnit: unit,
	}

	var data *models.SensorData
	if state.Data != nil {
		data = state.Data.SensorData
	}
	if data == nil {
		return report
	}

	if data.Moisture != nil {
		level := a.WaterLevel(*data.Moisture)
		report.WaterLevel = &level
		report.UrgentCare = level < a.config.LowWaterPercent
	}

	if data.Humidity != nil {
		humidity := *data.Humidity
		report.Humidity = &humidity
		report.LowHumidity = humidity < a.config.LowHumidity
	}

	if data.Temperature != nil {
		temperature := DisplayTemperature(*data.Temperature, unit)
		report.Temperature = &temperature
		report.Hot = *data.Temperature > a.config.HotTemperature
	}

	report.Concerns = a.DetectConcerns(state.DeviceID, data)
	return report
}

// DetectConcerns analyzes sensor data and returns the care problems it shows
func (a *PlantHealthAssessor) DetectConcerns(deviceID string, data *models.SensorData) []*models.Concern {
	var concerns []*models.Concern
	if data == nil {
		return concerns
	}

	// Check soil water
	if data.Moisture != nil {
		level := a.WaterLevel(*data.Moisture)
		if level < a.config.LowWaterPercent {
			concerns = append(concerns, &models.Concern{
				Type:        models.WaterLow,
				Value:       float64(level),
				Threshold:   float64(a.config.LowWaterPercent),
				DeviceID:    deviceID,
				Description: fmt.Sprintf("Water level %d%% is below %d%%, the plant needs watering", level, a.config.LowWaterPercent),
			})
		}
	}

	// Check air humidity
	if data.Humidity != nil && *data.Humidity < a.config.LowHumidity {
		concerns = append(concerns, &models.Concern{
			Type:        models.HumidityLow,
			Value:       *data.Humidity,
			Threshold:   a.config.LowHumidity,
			DeviceID:    deviceID,
			Description: fmt.Sprintf("Humidity %.1f%% is below %.1f%%", *data.Humidity, a.config.LowHumidity),
		})
	}

	// Check temperature
	if data.Temperature != nil && *data.Temperature > a.config.HotTemperature {
		concerns = append(concerns, &models.Concern{
			Type:        models.TemperatureHigh,
			Value:       *data.Temperature,
			Threshold:   a.config.HotTemperature,
			DeviceID:    deviceID,
			Description: fmt.Sprintf("Temperature %.1f°C exceeds %.1f°C", *data.Temperature, a.config.HotTemperature),
		})
	}

	return concerns
}
