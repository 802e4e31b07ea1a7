package services

import (
	"testing"

	"plantlink/models"

	"github.com/stretchr/testify/assert"
)

func TestSelectPlant(t *testing.T) {
	plants := []*models.Plant{
		{ID: "p1", HardwareID: "esp-01"},
		{ID: "p2", HardwareID: "esp-02"},
	}

	tests := []struct {
		name     string
		plants   []*models.Plant
		selected string
		want     string
	}{
		{name: "selected plant", plants: plants, selected: "p2", want: "p2"},
		{name: "nothing selected defaults to first", plants: plants, selected: "", want: "p1"},
		{name: "unknown selection defaults to first", plants: plants, selected: "gone", want: "p1"},
		{name: "no plants", plants: nil, selected: "p1", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectPlant(tt.plants, tt.selected)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.want, got.ID)
			}
		})
	}
}
