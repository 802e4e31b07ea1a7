package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"plantlink/config"
	"plantlink/log"
	"plantlink/services"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "plantlink",
		Usage: "link a plant to its watering unit over the Firebase Realtime Database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user",
				EnvVars: []string{"PLANT_USER_ID"},
				Usage:   "owner of the plant documents",
			},
			&cli.StringFlag{
				Name:    "plant",
				EnvVars: []string{"PLANT_ID"},
				Usage:   "plant to control, defaults to the first plant",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "monitor",
				Usage:  "follow the selected device, mirror its link state and send alerts",
				Action: monitorCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "device",
						Usage: "hardware id to follow instead of the selected plant's",
					},
				},
			},
			{
				Name:   "water",
				Usage:  "run one watering session on the selected plant",
				Action: waterCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "wait",
						Usage: "how long to wait for the device to become live",
						Value: 30 * time.Second,
					},
				},
			},
			{
				Name:   "plants",
				Usage:  "list the user's plants",
				Action: plantsCommand,
				Subcommands: []*cli.Command{
					{
						Name:      "rename",
						Usage:     "change a plant's nickname or watering duration",
						ArgsUsage: "<plant-id>",
						Action:    renamePlantCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "nickname"},
							&cli.IntFlag{Name: "duration", Usage: "watering duration in seconds"},
						},
					},
					{
						Name:      "remove",
						Usage:     "delete a plant",
						ArgsUsage: "<plant-id>",
						Action:    removePlantCommand,
					},
				},
			},
			{
				Name:   "register",
				Usage:  "add a plant for a hardware unit",
				Action: registerCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "hardware", Required: true},
					&cli.StringFlag{Name: "nickname"},
					&cli.StringFlag{Name: "common-name"},
					&cli.StringFlag{Name: "birthday", Usage: "DD-MM-YYYY"},
					&cli.IntFlag{Name: "duration", Usage: "watering duration in seconds"},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// deps holds what every command needs to reach Firebase
type deps struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *services.FirebaseRealtimeStore
	plants *services.PlantStore
}

func setup(c *cli.Context) (*deps, error) {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("user") {
		cfg.UserID = c.String("user")
	}
	if c.IsSet("plant") {
		cfg.PlantID = c.String("plant")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}

	// Initialize structured logger
	logger, err := log.Init(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info("Configuration loaded", zap.Any("config", cfg.Redacted()))

	app, err := services.NewFirebaseApp(c.Context, cfg)
	if err != nil {
		return nil, err
	}

	store, err := services.NewFirebaseRealtimeStore(c.Context, app, cfg, logger)
	if err != nil {
		return nil, err
	}

	plants, err := services.NewPlantStore(c.Context, app, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &deps{
		cfg:    cfg,
		logger: logger,
		store:  store,
		plants: plants,
	}, nil
}

func (d *deps) Close() {
	if err := d.plants.Close(); err != nil {
		d.logger.Error("Error closing Firestore client", zap.Error(err))
	}
	_ = d.logger.Sync()
}

// resolveDevice returns the hardware id to follow, preferring an explicit one
func resolveDevice(ctx context.Context, directory services.PlantDirectory, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	deviceID, err := directory.GetSelectedDeviceID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve selected device: %w", err)
	}
	return deviceID, nil
}

// applyProfile takes the temperature unit from the user's profile when it has one
func (d *deps) applyProfile(ctx context.Context) {
	profile, err := d.plants.GetProfile(ctx)
	if err != nil {
		d.logger.Warn("Failed to read user profile, keeping configured unit", zap.Error(err))
		return
	}
	if profile.MeasurementUnit != "" {
		d.cfg.TemperatureUnit = string(profile.Unit())
	}
}
