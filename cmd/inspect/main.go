package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"plantlink/config"
	"plantlink/log"
	"plantlink/models"
	"plantlink/services"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "inspect",
		Usage: "read a device record and print its health report",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "device", Usage: "hardware id, defaults to the selected plant's"},
			&cli.DurationFlag{Name: "window", Usage: "time between the two heartbeat reads, defaults to RTDB_POLL_INTERVAL"},
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
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := log.Init(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := c.Context
	app, err := services.NewFirebaseApp(ctx, cfg)
	if err != nil {
		return err
	}
	store, err := services.NewFirebaseRealtimeStore(ctx, app, cfg, logger)
	if err != nil {
		return err
	}

	deviceID := c.String("device")
	if deviceID == "" {
		plants, err := services.NewPlantStore(ctx, app, cfg, logger)
		if err != nil {
			return err
		}
		defer plants.Close()

		deviceID, err = plants.GetSelectedDeviceID(ctx)
		if err != nil {
			return err
		}
		if deviceID == "" {
			return services.ErrNoDeviceSelected
		}
	}

	window := c.Duration("window")
	if window <= 0 {
		window = cfg.RealtimePollInterval
	}

	state, err := sample(ctx, store, deviceID, window)
	if err != nil {
		return err
	}
	logger.Debug("Device sampled", zap.String("device_id", deviceID), zap.Bool("active", state.Active))

	report := services.NewPlantHealthAssessor(cfg).Assess(state, models.TemperatureUnit(cfg.TemperatureUnit))
	printReport(c.App.Writer, state, report)
	return nil
}

// sample reads the record twice, window apart, and classifies the heartbeat the way the
// device link does
func sample(ctx context.Context, store services.RealtimeStore, deviceID string, window time.Duration) (models.LinkState, error) {
	state := models.LinkState{DeviceID: deviceID, Subscribed: true}

	first, err := readRecord(ctx, store, deviceID)
	if err != nil {
		return state, err
	}
	if first == nil {
		return state, fmt.Errorf("device %s has no record", deviceID)
	}
	verdict := services.Classify(services.Baseline{}, first.LastUpdate())

	select {
	case <-time.After(window):
	case <-ctx.Done():
		return state, ctx.Err()
	}

	second, err := readRecord(ctx, store, deviceID)
	if err != nil {
		return state, err
	}
	state.Data = second
	if second != nil {
		state.Active = services.Classify(verdict.Next, second.LastUpdate()).Active
	}
	state.UpdatedAt = time.Now()
	return state, nil
}

func readRecord(ctx context.Context, store services.RealtimeStore, deviceID string) (*models.DeviceRecord, error) {
	snapshot, err := store.ReadOnce(ctx, models.DeviceRecordPath(deviceID))
	if err != nil {
		return nil, fmt.Errorf("failed to read device %s: %w", deviceID, err)
	}
	if !snapshot.Exists() {
		return nil, nil
	}

	record := &models.DeviceRecord{}
	if err := snapshot.Decode(record); err != nil {
		return nil, fmt.Errorf("failed to decode device %s: %w", deviceID, err)
	}
	return record, nil
}

func printReport(w io.Writer, state models.LinkState, report *models.HealthReport) {
	status := "offline"
	if report.Active {
		status = "online"
	}

	fmt.Fprintf(w, "Device:      %s (%s)\n", state.DeviceID, status)
	fmt.Fprintf(w, "Heartbeat:   %v\n", state.Data.LastUpdate())
	fmt.Fprintf(w, "Motor:       %t\n", state.Data.MotorOn())
	fmt.Fprintf(w, "Water level: %s\n", report.WaterLevelText())
	fmt.Fprintf(w, "Humidity:    %s\n", report.HumidityText())
	fmt.Fprintf(w, "Temperature: %s\n", report.TemperatureText())

	if len(report.Concerns) == 0 {
		fmt.Fprintln(w, "Concerns:    none")
		return
	}
	fmt.Fprintln(w, "Concerns:")
	for _, concern := range report.Concerns {
		fmt.Fprintf(w, "  %s %s\n", concern.GetConcernEmoji(), concern.Description)
	}
}
