package services

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_FirstObservationIsActive(t *testing.T) {
	for _, v := range []any{100.0, -5.0, "0", "1700000000000"} {
		verdict := Classify(Baseline{}, v)
		assert.True(t, verdict.Active, "value %v", v)

		got, set := verdict.Next.Value()
		assert.True(t, set)
		want, _ := CoerceTimestamp(v)
		assert.Equal(t, want, got)
	}
}

func TestClassify_StrictlyIncreasingSequenceStaysActive(t *testing.T) {
	sequences := [][]any{
		{100.0, 150.0, 151.0, 1e12},
		{"1", "2", 3.0, "4.5"},
		{-10.0, -9.5, "0", 0.1},
	}
	for _, seq := range sequences {
		baseline := Baseline{}
		for i, v := range seq {
			verdict := Classify(baseline, v)
			assert.True(t, verdict.Active, "step %d of %v", i, seq)
			baseline = verdict.Next
		}
	}
}

func TestClassify_RepeatOrDecreaseIsInactiveAndKeepsBaseline(t *testing.T) {
	baseline := NewBaseline(150)

	for _, v := range []any{150.0, 149.0, "150", 0.0, -1.0} {
		verdict := Classify(baseline, v)
		assert.False(t, verdict.Active, "value %v", v)
		assert.Equal(t, baseline, verdict.Next, "baseline must not regress for %v", v)
	}

	// a later genuine increase is measured against the untouched baseline
	verdict := Classify(Classify(baseline, 120.0).Next, 151.0)
	assert.True(t, verdict.Active)
}

func TestClassify_InvalidHeartbeat(t *testing.T) {
	baseline := NewBaseline(42)
	for _, v := range []any{nil, "", "   ", "yesterday", true, math.NaN(), math.Inf(1), map[string]any{}} {
		verdict := Classify(baseline, v)
		assert.False(t, verdict.Active, "value %v", v)
		assert.Equal(t, baseline, verdict.Next)
	}

	// invalid input does not consume the first-observation slot either
	verdict := Classify(Baseline{}, nil)
	assert.False(t, verdict.Active)
	_, set := verdict.Next.Value()
	assert.False(t, set)
}

func TestClassify_ZeroHeartbeatIsMissing(t *testing.T) {
	verdict := Classify(Baseline{}, 0.0)
	assert.False(t, verdict.Active)
	_, set := verdict.Next.Value()
	assert.False(t, set)

	// the next real heartbeat is still the first observation
	verdict = Classify(verdict.Next, 1.0)
	assert.True(t, verdict.Active)
	got, _ := verdict.Next.Value()
	assert.Equal(t, 1.0, got)

	verdict = Classify(NewBaseline(5), 0.0)
	assert.False(t, verdict.Active)
	assert.Equal(t, NewBaseline(5), verdict.Next)
}

func TestClassify_Scenarios(t *testing.T) {
	first := Classify(Baseline{}, 100.0)
	second := Classify(first.Next, 150.0)
	assert.Equal(t, []bool{true, true}, []bool{first.Active, second.Active})

	first = Classify(Baseline{}, 100.0)
	second = Classify(first.Next, 100.0)
	assert.Equal(t, []bool{true, false}, []bool{first.Active, second.Active})
}

func TestCoerceTimestamp(t *testing.T) {
	tests := []struct {
		raw  any
		want float64
		ok   bool
	}{
		{float64(12.5), 12.5, true},
		{int64(1700000000000), 1700000000000, true},
		{42, 42, true},
		{json.Number("77"), 77, true},
		{" 88 ", 88, true},
		{"1e3", 1000, true},
		{"2024-01-01T00:00:00Z", 0, false},
		{json.Number("x"), 0, false},
		{"NaN", 0, false},
		{"0", 0, true},
		{0.0, 0, false},
		{0, 0, false},
		{int64(0), 0, false},
		{json.Number("0"), 0, false},
		{false, 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := CoerceTimestamp(tt.raw)
		assert.Equal(t, tt.ok, ok, "raw %#v", tt.raw)
		assert.Equal(t, tt.want, got, "raw %#v", tt.raw)
	}
}
