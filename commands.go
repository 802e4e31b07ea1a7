package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"plantlink/models"
	"plantlink/services"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const linkStateBuffer = 64

// linkConsumer reads published link states until ctx is done
type linkConsumer struct {
	name  string
	start func(ctx context.Context, states <-chan models.LinkState)
}

func monitorCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := setup(c)
	if err != nil {
		return err
	}
	defer d.Close()
	logger := d.logger

	d.applyProfile(ctx)

	var consumers []linkConsumer
	var onSelected func(deviceID string)

	if d.cfg.TelegramEnabled() {
		telegram, err := services.NewTelegramService(d.cfg, logger)
		if err != nil {
			return err
		}

		monitor := services.NewLinkMonitor(d.cfg, services.NewPlantHealthAssessor(d.cfg), telegram, logger)
		consumers = append(consumers, linkConsumer{name: "link monitor", start: monitor.Start})
		onSelected = func(deviceID string) {
			if err := telegram.SendStartupMessage(deviceID); err != nil {
				logger.Warn("Failed to send startup message", zap.Error(err))
			}
		}
	} else {
		logger.Info("Telegram not configured, alerts disabled")
	}

	if d.cfg.MQTTEnabled() {
		client, err := services.NewMQTTClient(d.cfg, "plantlink-"+d.cfg.UserID, logger)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)

		mirror := services.NewStatusMirror(client, d.cfg.MQTTTopicPrefix, logger)
		consumers = append(consumers, linkConsumer{name: "status mirror", start: mirror.Start})
	}

	return runMonitor(ctx, d.store, d.plants, c.String("device"), consumers, onSelected, logger)
}

// runMonitor follows the selected device until ctx is done. The device link and every
// consumer goroutine are stopped on all return paths.
func runMonitor(ctx context.Context, store services.RealtimeStore, directory services.PlantDirectory, explicit string,
	consumers []linkConsumer, onSelected func(deviceID string), logger *zap.Logger) error {
	broadcaster := services.NewLinkBroadcaster()
	manager := services.NewDeviceLinkManager(ctx, store, broadcaster, logger)
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error("Error closing device link", zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	eg, gctx := errgroup.WithContext(runCtx)

	for _, consumer := range consumers {
		states, unsubscribe := subscribeChannel(broadcaster, consumer.name, logger)
		defer unsubscribe()

		start := consumer.start
		eg.Go(func() error {
			start(gctx, states)
			return nil
		})
	}

	eg.Go(func() error {
		watchAppState(gctx, manager, logger)
		return nil
	})

	defer func() {
		cancel()
		_ = eg.Wait()
	}()

	deviceID, err := resolveDevice(ctx, directory, explicit)
	if err != nil {
		return err
	}
	if deviceID == "" {
		logger.Warn("No device selected, waiting for shutdown")
	}
	if err := manager.Select(deviceID); err != nil {
		return err
	}

	if onSelected != nil && deviceID != "" {
		onSelected(deviceID)
	}

	logger.Info("Monitoring started", zap.String("device_id", deviceID))

	err = eg.Wait()
	logger.Info("Shutdown signal received, stopping services")
	return err
}

func waterCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := setup(c)
	if err != nil {
		return err
	}
	defer d.Close()
	logger := d.logger

	plant, err := d.plants.SelectedPlant(ctx)
	if err != nil {
		return err
	}
	if plant == nil {
		return services.ErrNoPlantSelected
	}
	if plant.HardwareID == "" {
		return fmt.Errorf("plant %s has no hardware", plant.ID)
	}
	if plant.WaterDuration, err = plantDuration(ctx, d.plants, plant.ID); err != nil {
		return err
	}

	var publisher *services.WateringEventPublisher
	if d.cfg.RabbitMQEnabled() {
		publisher, err = services.NewWateringEventPublisher(d.cfg, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	broadcaster := services.NewLinkBroadcaster()
	manager := services.NewDeviceLinkManager(ctx, d.store, broadcaster, logger)

	events := make(chan models.WateringEvent, 16)
	controller := services.NewWateringController(manager, manager, logger,
		services.WithTickInterval(d.cfg.WateringTickInterval),
		services.WithDefaultDuration(d.cfg.DefaultWaterDuration),
		services.WithEvents(events),
		services.WithObserver(progressLogger(logger)),
	)
	defer func() {
		controller.Close()
		if err := manager.Close(); err != nil {
			logger.Error("Error closing device link", zap.Error(err))
		}
	}()

	unsubscribeController := broadcaster.Subscribe(controller.HandleLinkState)
	defer unsubscribeController()

	live := make(chan struct{})
	var liveOnce sync.Once
	unsubscribeLive := broadcaster.Subscribe(func(state models.LinkState) {
		if state.Active {
			liveOnce.Do(func() { close(live) })
		}
	})
	defer unsubscribeLive()

	if err := manager.Select(plant.HardwareID); err != nil {
		return err
	}

	logger.Info("Waiting for device heartbeat",
		zap.String("device_id", plant.HardwareID),
		zap.Duration("wait", c.Duration("wait")))

	select {
	case <-live:
	case <-time.After(c.Duration("wait")):
		return fmt.Errorf("device %s did not report a heartbeat within %s", plant.HardwareID, c.Duration("wait"))
	case <-ctx.Done():
		return nil
	}

	if _, err := controller.Start(plant); err != nil {
		return err
	}

	var sink eventSink
	if publisher != nil {
		sink = publisher.Start
	}

	event := awaitWatering(ctx, controller, events, sink, logger)
	switch event.Kind {
	case models.WateringCompleted:
		logger.Info("Watering completed",
			zap.String("plant", plant.DisplayName()),
			zap.Int("duration_seconds", event.DurationSeconds))
		return nil
	case models.WateringAborted:
		return fmt.Errorf("watering aborted at %d%%: %s", int(event.ElapsedFraction*100), event.Reason)
	case models.WateringBlocked:
		return fmt.Errorf("device %s is offline", plant.HardwareID)
	}
	return nil
}

// eventSink consumes watering events until the channel is closed
type eventSink func(ctx context.Context, events <-chan models.WateringEvent)

type canceler interface {
	Cancel()
}

// awaitWatering returns the event that ends the session, handing every event to sink on
// the way. The session is canceled once when ctx is done. Events forwarded before the
// return are drained by sink before awaitWatering returns.
func awaitWatering(ctx context.Context, session canceler, events <-chan models.WateringEvent, sink eventSink, logger *zap.Logger) models.WateringEvent {
	forward := make(chan models.WateringEvent, 16)
	var eg errgroup.Group
	if sink != nil {
		eg.Go(func() error {
			sink(context.WithoutCancel(ctx), forward)
			return nil
		})
	}
	defer func() {
		close(forward)
		_ = eg.Wait()
	}()

	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			logger.Info("Interrupted, stopping watering")
			interrupted = nil
			session.Cancel()
		case event := <-events:
			if sink != nil {
				forward <- event
			}

			switch event.Kind {
			case models.WateringCompleted, models.WateringCanceled, models.WateringAborted, models.WateringBlocked:
				return event
			}
		}
	}
}

func plantsCommand(c *cli.Context) error {
	d, err := setup(c)
	if err != nil {
		return err
	}
	defer d.Close()

	plants, err := d.plants.ListPlants(c.Context)
	if err != nil {
		return err
	}
	selected, err := d.plants.SelectedPlant(c.Context)
	if err != nil {
		return err
	}

	now := time.Now()
	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tNAME\tHARDWARE\tDURATION\tAGE")
	for _, plant := range plants {
		marker := ""
		if selected != nil && plant.ID == selected.ID {
			marker = "*"
		}
		age, err := plant.Age(now)
		if err != nil {
			age = "unknown"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%ds\t%s\n",
			marker, plant.ID, plant.DisplayName(), plant.HardwareID, plant.WateringDuration(), age)
	}
	return w.Flush()
}

func renamePlantCommand(c *cli.Context) error {
	plantID := c.Args().First()
	if plantID == "" {
		return errors.New("plant id is required")
	}

	d, err := setup(c)
	if err != nil {
		return err
	}
	defer d.Close()

	plant, err := d.plants.GetPlant(c.Context, plantID)
	if err != nil {
		return err
	}
	if c.IsSet("nickname") {
		plant.Nickname = c.String("nickname")
	}
	if c.IsSet("duration") {
		plant.WaterDuration = c.Int("duration")
	}

	if err := d.plants.UpdatePlant(c.Context, plant); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Updated %s (%s)\n", plant.DisplayName(), plant.ID)
	return nil
}

func removePlantCommand(c *cli.Context) error {
	plantID := c.Args().First()
	if plantID == "" {
		return errors.New("plant id is required")
	}

	d, err := setup(c)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.plants.DeletePlant(c.Context, plantID); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Removed %s\n", plantID)
	return nil
}

func registerCommand(c *cli.Context) error {
	d, err := setup(c)
	if err != nil {
		return err
	}
	defer d.Close()

	plant := &models.Plant{
		HardwareID:    c.String("hardware"),
		Nickname:      c.String("nickname"),
		CommonName:    c.String("common-name"),
		Birthday:      c.String("birthday"),
		WaterDuration: c.Int("duration"),
	}
	if plant.Birthday != "" {
		if _, err := time.Parse(models.BirthdayLayout, plant.Birthday); err != nil {
			return fmt.Errorf("invalid birthday %q, expected DD-MM-YYYY", plant.Birthday)
		}
	}

	registry := services.NewHardwareRegistry(d.store, d.plants, d.logger)
	added, err := registry.Register(c.Context, plant)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Added %s (%s) on hardware %s\n", added.DisplayName(), added.ID, added.HardwareID)
	return nil
}

func plantDuration(ctx context.Context, directory services.PlantDirectory, plantID string) (int, error) {
	duration, err := directory.GetPlantDuration(ctx, plantID)
	if errors.Is(err, services.ErrPlantNotFound) {
		return 0, fmt.Errorf("plant %s was removed: %w", plantID, err)
	}
	return duration, err
}

// subscribeChannel feeds broadcaster states into a buffered channel. States are dropped
// when the consumer falls behind.
func subscribeChannel(b *services.LinkBroadcaster, consumer string, logger *zap.Logger) (<-chan models.LinkState, func()) {
	states := make(chan models.LinkState, linkStateBuffer)
	unsubscribe := b.Subscribe(func(state models.LinkState) {
		select {
		case states <- state:
		default:
			logger.Warn("Dropping link state",
				zap.String("consumer", consumer),
				zap.String("device_id", state.DeviceID))
		}
	})
	return states, unsubscribe
}

// watchAppState maps SIGUSR1 to the app going to the background and SIGUSR2 to it
// coming back
func watchAppState(ctx context.Context, manager *services.DeviceLinkManager, logger *zap.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			state := models.AppStateActive
			if sig == syscall.SIGUSR1 {
				state = models.AppStateBackground
			}
			logger.Info("App state changed", zap.String("state", string(state)))
			manager.HandleAppState(state)
		}
	}
}

func progressLogger(logger *zap.Logger) services.WateringObserver {
	lastStep := -1
	return func(s models.WateringSnapshot) {
		if s.Phase != models.PhaseRunning {
			return
		}
		step := s.Percent() / 10
		if step == lastStep {
			return
		}
		lastStep = step
		logger.Info("Watering",
			zap.String("plant", s.PlantName),
			zap.Int("percent", s.Percent()))
	}
}
