package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"plantlink/config"
	"plantlink/log"
	"plantlink/models"
	"plantlink/services"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// Simulator plays the firmware of one watering unit: it publishes sensor samples with a
// heartbeat and follows the motor command
type Simulator struct {
	deviceID         string
	stringTimestamps bool

	moisture    float64
	humidity    float64
	temperature float64
	heartbeat   int64

	motorOn atomic.Bool
	rng     *rand.Rand
}

func NewSimulator(deviceID string, stringTimestamps bool, seed int64) *Simulator {
	return &Simulator{
		deviceID:         deviceID,
		stringTimestamps: stringTimestamps,
		moisture:         2500,
		humidity:         55,
		temperature:      26,
		rng:              rand.New(rand.NewSource(seed)),
	}
}

// Next advances the simulated plant by one sample. Watering pulls the moisture reading
// towards the wet end, otherwise the soil slowly dries out.
func (s *Simulator) Next(beat bool) *models.SensorData {
	if s.motorOn.Load() {
		s.moisture = math.Max(600, s.moisture-150)
	} else {
		s.moisture = math.Min(4095, s.moisture+5+s.rng.Float64()*5)
	}
	s.humidity = clamp(s.humidity+s.rng.Float64()*2-1, 0, 100)
	s.temperature = clamp(s.temperature+s.rng.Float64()*0.4-0.2, -10, 50)

	if beat {
		s.heartbeat++
	}

	moisture := math.Round(s.moisture)
	humidity := math.Round(s.humidity*10) / 10
	temperature := math.Round(s.temperature*10) / 10

	data := &models.SensorData{
		Moisture:    &moisture,
		Humidity:    &humidity,
		Temperature: &temperature,
		LastUpdate:  s.heartbeat,
	}
	if s.stringTimestamps {
		data.LastUpdate = strconv.FormatInt(s.heartbeat, 10)
	}
	return data
}

// SetMotor applies a motor command and reports whether it changed
func (s *Simulator) SetMotor(on bool) bool {
	return s.motorOn.Swap(on) != on
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func main() {
	app := &cli.App{
		Name:  "devicesim",
		Usage: "simulate a watering unit against the realtime database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "device", Value: "ESP32-MOCK-001", Usage: "hardware id to simulate"},
			&cli.DurationFlag{Name: "interval", Value: 2 * time.Second, Usage: "time between sensor samples"},
			&cli.DurationFlag{Name: "freeze-after", Usage: "stop advancing the heartbeat after this long to simulate a dead device"},
			&cli.BoolFlag{Name: "string-timestamps", Usage: "publish the heartbeat as a numeric string"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := log.Init(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	deviceID := c.String("device")
	if !models.ValidDeviceID(deviceID) {
		return fmt.Errorf("invalid device id %q", deviceID)
	}

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := services.NewFirebaseApp(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := services.NewFirebaseRealtimeStore(ctx, app, cfg, logger)
	if err != nil {
		return err
	}

	sim := NewSimulator(deviceID, c.Bool("string-timestamps"), time.Now().UnixNano())

	if err := ensureRecord(ctx, store, sim); err != nil {
		return err
	}

	unsubscribe, err := store.Subscribe(ctx, models.MotorStatusPath(deviceID),
		func(snapshot services.Snapshot) {
			var on bool
			if snapshot.Exists() {
				if err := snapshot.Decode(&on); err != nil {
					logger.Warn("Ignoring malformed motor command", zap.Error(err))
					return
				}
			}
			if sim.SetMotor(on) {
				logger.Info("Motor switched", zap.Bool("on", on))
			}
		},
		func(err error) {
			logger.Error("Motor command subscription failed", zap.Error(err))
		})
	if err != nil {
		return err
	}
	defer unsubscribe()

	interval := c.Duration("interval")
	freezeAfter := c.Duration("freeze-after")
	startTime := time.Now()

	logger.Info("Device simulator started",
		zap.String("device_id", deviceID),
		zap.Duration("interval", interval),
		zap.Duration("freeze_after", freezeAfter))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sampleCount := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down simulator",
				zap.Int("samples", sampleCount),
				zap.Duration("uptime", time.Since(startTime)))
			return nil

		case <-ticker.C:
			beat := freezeAfter <= 0 || time.Since(startTime) < freezeAfter
			data := sim.Next(beat)
			if err := store.Write(ctx, models.SensorDataPath(deviceID), data); err != nil {
				logger.Error("Failed to write sensor data", zap.Error(err))
				continue
			}
			sampleCount++

			logger.Debug("Published sensor sample",
				zap.Any("last_update", data.LastUpdate),
				zap.Float64("moisture", *data.Moisture),
				zap.Bool("heartbeat", beat))
		}
	}
}

// ensureRecord creates the device record the app expects when it does not exist yet
func ensureRecord(ctx context.Context, store services.RealtimeStore, sim *Simulator) error {
	snapshot, err := store.ReadOnce(ctx, models.DeviceRecordPath(sim.deviceID))
	if err != nil {
		return fmt.Errorf("failed to read device record: %w", err)
	}
	if snapshot.Exists() {
		return nil
	}

	record := models.DeviceRecord{
		SensorData: sim.Next(true),
		MotorData:  &models.MotorData{MotorStatus: false},
	}
	if err := store.Write(ctx, models.DeviceRecordPath(sim.deviceID), record); err != nil {
		return fmt.Errorf("failed to create device record: %w", err)
	}
	return nil
}
