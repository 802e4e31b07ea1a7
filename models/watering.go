package models

import "time"

// Phase is the state of a watering session
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseBlocked   Phase = "blocked"
)

// WateringSnapshot is reported to progress observers
type WateringSnapshot struct {
	SessionID       string
	PlantID         string
	PlantName       string
	Phase           Phase
	ElapsedFraction float64
	DurationSeconds int
}

// Percent returns the progress as a rounded percentage (0-100)
func (s WateringSnapshot) Percent() int {
	return int(s.ElapsedFraction*100 + 0.5)
}

// WateringEventKind names a watering session transition
type WateringEventKind string

const (
	WateringStarted   WateringEventKind = "started"
	WateringCompleted WateringEventKind = "completed"
	WateringCanceled  WateringEventKind = "canceled"
	WateringAborted   WateringEventKind = "aborted"
	WateringBlocked   WateringEventKind = "blocked"
)

// WateringEvent records a session transition for the event stream
type WateringEvent struct {
	ID              string            `json:"id"`
	SessionID       string            `json:"session_id,omitempty"`
	PlantID         string            `json:"plant_id"`
	Kind            WateringEventKind `json:"kind"`
	DurationSeconds int               `json:"duration_seconds"`
	ElapsedFraction float64           `json:"elapsed_fraction"`
	Reason          string            `json:"reason,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}
