package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"plantlink/config"
	"plantlink/models"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var ErrPlantNotFound = errors.New("plant not found")

// PlantDirectory resolves what the device link and the watering controller need from
// the plant records
type PlantDirectory interface {
	GetPlantDuration(ctx context.Context, plantID string) (int, error)
	GetSelectedDeviceID(ctx context.Context) (string, error)
}

// PlantRepository reads and writes a user's plants
type PlantRepository interface {
	ListPlants(ctx context.Context) ([]*models.Plant, error)
	AddPlant(ctx context.Context, plant *models.Plant) (*models.Plant, error)
}

// PlantStore keeps the plant documents of one user in Cloud Firestore under
// users/{uid}/plants/{plantId}
type PlantStore struct {
	client          *firestore.Client
	userID          string
	defaultDuration int
	logger          *zap.Logger

	mu         sync.RWMutex
	selectedID string
}

func NewPlantStore(ctx context.Context, app *firebase.App, cfg *config.Config, logger *zap.Logger) (*PlantStore, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firestore client: %w", err)
	}

	return &PlantStore{
		client:          client,
		userID:          cfg.UserID,
		defaultDuration: cfg.DefaultWaterDuration,
		logger:          logger,
		selectedID:      cfg.PlantID,
	}, nil
}

func (s *PlantStore) userDoc() *firestore.DocumentRef {
	return s.client.Collection("users").Doc(s.userID)
}

func (s *PlantStore) plants() *firestore.CollectionRef {
	return s.userDoc().Collection("plants")
}

// ListPlants returns every plant of the user
func (s *PlantStore) ListPlants(ctx context.Context) ([]*models.Plant, error) {
	iter := s.plants().Documents(ctx)
	defer iter.Stop()

	var plants []*models.Plant
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error listing plants: %w", err)
		}

		plant := &models.Plant{}
		if err := doc.DataTo(plant); err != nil {
			s.logger.Warn("Skipping malformed plant document", zap.String("plant_id", doc.Ref.ID), zap.Error(err))
			continue
		}
		plant.ID = doc.Ref.ID
		plants = append(plants, plant)
	}

	return plants, nil
}

// GetPlant reads one plant
func (s *PlantStore) GetPlant(ctx context.Context, plantID string) (*models.Plant, error) {
	doc, err := s.plants().Doc(plantID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrPlantNotFound, plantID)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading plant %s: %w", plantID, err)
	}

	plant := &models.Plant{}
	if err := doc.DataTo(plant); err != nil {
		return nil, fmt.Errorf("error decoding plant %s: %w", plantID, err)
	}
	plant.ID = doc.Ref.ID
	return plant, nil
}

// AddPlant stores a new plant and returns it with its generated id
func (s *PlantStore) AddPlant(ctx context.Context, plant *models.Plant) (*models.Plant, error) {
	ref, _, err := s.plants().Add(ctx, plant)
	if err != nil {
		return nil, fmt.Errorf("error adding plant: %w", err)
	}
	plant.ID = ref.ID

	s.logger.Info("Plant added",
		zap.String("plant_id", plant.ID),
		zap.String("hardware_id", plant.HardwareID))
	return plant, nil
}

// UpdatePlant overwrites an existing plant
func (s *PlantStore) UpdatePlant(ctx context.Context, plant *models.Plant) error {
	if plant.ID == "" {
		return errors.New("plant id is required")
	}
	if _, err := s.plants().Doc(plant.ID).Set(ctx, plant); err != nil {
		return fmt.Errorf("error updating plant %s: %w", plant.ID, err)
	}
	return nil
}

// DeletePlant removes a plant, clearing the selection if it was selected
func (s *PlantStore) DeletePlant(ctx context.Context, plantID string) error {
	if _, err := s.plants().Doc(plantID).Delete(ctx); err != nil {
		return fmt.Errorf("error deleting plant %s: %w", plantID, err)
	}

	s.mu.Lock()
	if s.selectedID == plantID {
		s.selectedID = ""
	}
	s.mu.Unlock()

	s.logger.Info("Plant deleted", zap.String("plant_id", plantID))
	return nil
}

// GetProfile reads the user's settings. A missing profile yields the defaults.
func (s *PlantStore) GetProfile(ctx context.Context) (*models.UserProfile, error) {
	doc, err := s.userDoc().Get(ctx)
	if status.Code(err) == codes.NotFound {
		return &models.UserProfile{ID: s.userID, MeasurementUnit: models.Celsius}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading profile: %w", err)
	}

	profile := &models.UserProfile{}
	if err := doc.DataTo(profile); err != nil {
		return nil, fmt.Errorf("error decoding profile: %w", err)
	}
	profile.ID = s.userID
	return profile, nil
}

// SelectPlant makes plantID the plant the app controls
func (s *PlantStore) SelectPlant(plantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedID = plantID
}

// SelectedPlant returns the selected plant, the first plant when nothing valid is
// selected, or nil when the user has no plants
func (s *PlantStore) SelectedPlant(ctx context.Context) (*models.Plant, error) {
	plants, err := s.ListPlants(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	selectedID := s.selectedID
	s.mu.RUnlock()

	return selectPlant(plants, selectedID), nil
}

func selectPlant(plants []*models.Plant, plantID string) *models.Plant {
	if plant, ok := lo.Find(plants, func(p *models.Plant) bool { return p.ID == plantID }); ok {
		return plant
	}
	if len(plants) == 0 {
		return nil
	}
	return plants[0]
}

// GetPlantDuration returns the watering duration of a plant in seconds
func (s *PlantStore) GetPlantDuration(ctx context.Context, plantID string) (int, error) {
	plant, err := s.GetPlant(ctx, plantID)
	if err != nil {
		return 0, err
	}
	if plant.WaterDuration <= 0 {
		return s.defaultDuration, nil
	}
	return plant.WaterDuration, nil
}

// GetSelectedDeviceID returns the hardware id of the selected plant, empty when no plant
// is selected
func (s *PlantStore) GetSelectedDeviceID(ctx context.Context) (string, error) {
	plant, err := s.SelectedPlant(ctx)
	if err != nil {
		return "", err
	}
	if plant == nil {
		return "", nil
	}
	return plant.HardwareID, nil
}

func (s *PlantStore) Close() error {
	return s.client.Close()
}
