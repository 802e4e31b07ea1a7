package services

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Baseline is the last heartbeat value a link has accepted. The zero value is unset.
type Baseline struct {
	value float64
	set   bool
}

// NewBaseline returns a baseline holding v
func NewBaseline(v float64) Baseline {
	return Baseline{value: v, set: true}
}

// Value returns the stored heartbeat and whether one is set
func (b Baseline) Value() (float64, bool) {
	return b.value, b.set
}

// Verdict is the result of classifying one heartbeat observation
type Verdict struct {
	Next   Baseline
	Active bool
}

// Classify maps the previous baseline and a raw heartbeat to a liveness verdict.
//
// A heartbeat that is missing or not numeric is inactive and leaves the baseline alone.
// The first heartbeat after a reset is active. After that only a strictly greater
// heartbeat is active; an equal or smaller one never moves the baseline back.
func Classify(previous Baseline, current any) Verdict {
	value, ok := CoerceTimestamp(current)
	if !ok {
		return Verdict{Next: previous, Active: false}
	}
	if !previous.set {
		return Verdict{Next: NewBaseline(value), Active: true}
	}
	if value > previous.value {
		return Verdict{Next: NewBaseline(value), Active: true}
	}
	return Verdict{Next: previous, Active: false}
}

// CoerceTimestamp converts a decoded heartbeat to a finite number. A numeric zero counts
// as missing, while the string "0" is a value.
func CoerceTimestamp(raw any) (float64, bool) {
	var value float64
	numeric := true
	switch v := raw.(type) {
	case float64:
		value = v
	case float32:
		value = float64(v)
	case int:
		value = float64(v)
	case int32:
		value = float64(v)
	case int64:
		value = float64(v)
	case uint32:
		value = float64(v)
	case uint64:
		value = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		value = f
	case string:
		numeric = false
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		value = f
	default:
		return 0, false
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	if numeric && value == 0 {
		return 0, false
	}
	return value, true
}
