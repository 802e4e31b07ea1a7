package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultWaterDuration is used when a plant has no watering duration configured
const DefaultWaterDuration = 10

// BirthdayLayout is the DD-MM-YYYY format plant birthdays are stored in
const BirthdayLayout = "02-01-2006"

// Plant is a user's plant document
type Plant struct {
	ID                 string `firestore:"-" json:"id"`
	HardwareID         string `firestore:"hardwareId" json:"hardwareId"`
	CommonName         string `firestore:"commonName" json:"commonName"`
	Nickname           string `firestore:"nickname" json:"nickname"`
	ImageIndex         int    `firestore:"imageIndex" json:"imageIndex"`
	Birthday           string `firestore:"birthday" json:"birthday"`
	AutoWateredEnabled bool   `firestore:"autoWateredEnabled" json:"autoWateredEnabled"`
	WaterDuration      int    `firestore:"waterDuration" json:"waterDuration"`
}

// WateringDuration returns the configured duration in seconds, or the default
func (p *Plant) WateringDuration() int {
	if p == nil || p.WaterDuration <= 0 {
		return DefaultWaterDuration
	}
	return p.WaterDuration
}

// DisplayName returns the nickname, falling back to "Plant"
func (p *Plant) DisplayName() string {
	if p == nil || strings.TrimSpace(p.Nickname) == "" {
		return "Plant"
	}
	return p.Nickname
}

// Age renders how old the plant is relative to now, e.g. "3 weeks old"
func (p *Plant) Age(now time.Time) (string, error) {
	if p == nil || p.Birthday == "" {
		return "", nil
	}

	parts := strings.Split(p.Birthday, "-")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid birthday %q", p.Birthday)
	}
	day, errDay := strconv.Atoi(parts[0])
	month, errMonth := strconv.Atoi(parts[1])
	year, errYear := strconv.Atoi(parts[2])
	if errDay != nil || errMonth != nil || errYear != nil {
		return "", fmt.Errorf("invalid birthday %q", p.Birthday)
	}

	born := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
	days := int(now.Sub(born).Hours() / 24)

	switch {
	case days < 7:
		return fmt.Sprintf("%d days old", days), nil
	case days < 30:
		return fmt.Sprintf("%d weeks old", days/7), nil
	case days < 365:
		return fmt.Sprintf("%d months old", days/30), nil
	default:
		return fmt.Sprintf("%d years old", days/365), nil
	}
}

// TemperatureUnit is the user's preferred display unit
type TemperatureUnit string

const (
	Celsius    TemperatureUnit = "C"
	Fahrenheit TemperatureUnit = "F"
)

// UserProfile holds the per-user settings the core reads
type UserProfile struct {
	ID              string          `firestore:"-" json:"id"`
	MeasurementUnit TemperatureUnit `firestore:"measurementUnit" json:"measurementUnit"`
}

// Unit returns the measurement unit, Celsius when unset
func (u *UserProfile) Unit() TemperatureUnit {
	if u == nil || u.MeasurementUnit != Fahrenheit {
		return Celsius
	}
	return Fahrenheit
}
