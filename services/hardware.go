package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"plantlink/models"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	ErrHardwareIDRequired   = errors.New("hardware id is required")
	ErrInvalidHardwareID    = errors.New("hardware id is not a valid key")
	ErrHardwareAlreadyAdded = errors.New("hardware is already used by a plant")
	ErrHardwareNotFound     = errors.New("hardware not found")
)

// HardwareRegistry checks hardware ids before a plant is attached to them
type HardwareRegistry struct {
	store  RealtimeStore
	plants PlantRepository
	logger *zap.Logger
}

// NewHardwareRegistry creates a new hardware registry
func NewHardwareRegistry(store RealtimeStore, plants PlantRepository, logger *zap.Logger) *HardwareRegistry {
	return &HardwareRegistry{
		store:  store,
		plants: plants,
		logger: logger,
	}
}

// Validate returns the normalized hardware id if it can be attached to a new plant
func (h *HardwareRegistry) Validate(ctx context.Context, hardwareID string) (string, error) {
	id := strings.TrimSpace(hardwareID)
	if id == "" {
		return "", ErrHardwareIDRequired
	}
	if !models.ValidDeviceID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHardwareID, id)
	}

	plants, err := h.plants.ListPlants(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list plants: %w", err)
	}
	if lo.ContainsBy(plants, func(p *models.Plant) bool { return p.HardwareID == id }) {
		return "", fmt.Errorf("%w: %s", ErrHardwareAlreadyAdded, id)
	}

	snapshot, err := h.store.ReadOnce(ctx, models.DeviceRecordPath(id))
	if err != nil {
		h.logger.Error("Failed to look up hardware",
			zap.Error(err),
			zap.String("hardware_id", id),
		)
		return "", fmt.Errorf("failed to look up hardware %s: %w", id, err)
	}
	if !snapshot.Exists() {
		return "", fmt.Errorf("%w: %s", ErrHardwareNotFound, id)
	}

	return id, nil
}

// Register attaches plant to its hardware and stores it
func (h *HardwareRegistry) Register(ctx context.Context, plant *models.Plant) (*models.Plant, error) {
	id, err := h.Validate(ctx, plant.HardwareID)
	if err != nil {
		h.logger.Warn("Hardware rejected",
			zap.String("hardware_id", plant.HardwareID),
			zap.Error(err),
		)
		return nil, err
	}
	plant.HardwareID = id

	added, err := h.plants.AddPlant(ctx, plant)
	if err != nil {
		return nil, err
	}

	h.logger.Info("Hardware registered",
		zap.String("hardware_id", id),
		zap.String("plant_id", added.ID),
	)
	return added, nil
}
