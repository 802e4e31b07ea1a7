package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"plantlink/models"
	"plantlink/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequenceStore answers ReadOnce with the given records in order
type sequenceStore struct {
	records []string
}

func (s *sequenceStore) ReadOnce(_ context.Context, path string) (services.Snapshot, error) {
	raw := "null"
	if len(s.records) > 0 {
		raw, s.records = s.records[0], s.records[1:]
	}
	return services.Snapshot{Path: path, Raw: json.RawMessage(raw)}, nil
}

func (s *sequenceStore) Subscribe(context.Context, string, func(services.Snapshot), func(error)) (services.Unsubscribe, error) {
	return func() {}, nil
}

func (s *sequenceStore) Write(context.Context, string, any) error {
	return nil
}

func TestSample(t *testing.T) {
	tests := []struct {
		name       string
		records    []string
		wantActive bool
	}{
		{
			name:       "advancing heartbeat",
			records:    []string{`{"sensorData":{"lastUpdate":10}}`, `{"sensorData":{"lastUpdate":11}}`},
			wantActive: true,
		},
		{
			name:       "string heartbeat",
			records:    []string{`{"sensorData":{"lastUpdate":"10"}}`, `{"sensorData":{"lastUpdate":"12"}}`},
			wantActive: true,
		},
		{
			name:    "frozen heartbeat",
			records: []string{`{"sensorData":{"lastUpdate":10}}`, `{"sensorData":{"lastUpdate":10}}`},
		},
		{
			name:    "record removed between reads",
			records: []string{`{"sensorData":{"lastUpdate":10}}`, `null`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := sample(context.Background(), &sequenceStore{records: tt.records}, "esp-01", 0)
			require.NoError(t, err)
			assert.Equal(t, "esp-01", state.DeviceID)
			assert.Equal(t, tt.wantActive, state.Active)
		})
	}
}

func TestSample_MissingRecord(t *testing.T) {
	_, err := sample(context.Background(), &sequenceStore{}, "esp-01", 0)
	assert.ErrorContains(t, err, "has no record")
}

func TestPrintReport(t *testing.T) {
	level := 12
	report := &models.HealthReport{
		DeviceID:        "esp-01",
		Active:          true,
		WaterLevel:      &level,
		TemperatureUnit: models.Celsius,
		Concerns:        []*models.Concern{{Type: models.WaterLow, Description: "Water level is low"}},
	}
	state := models.LinkState{
		DeviceID: "esp-01",
		Data:     &models.DeviceRecord{SensorData: &models.SensorData{LastUpdate: 42.0}},
	}

	var out bytes.Buffer
	printReport(&out, state, report)

	assert.Contains(t, out.String(), "Device:      esp-01 (online)")
	assert.Contains(t, out.String(), "Heartbeat:   42")
	assert.Contains(t, out.String(), "Water level: 12%")
	assert.Contains(t, out.String(), "Humidity:    N/A")
	assert.Contains(t, out.String(), "Water level is low")
}
