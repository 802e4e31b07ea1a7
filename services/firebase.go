package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"plantlink/config"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// NewFirebaseApp initializes the Firebase app from the service account in the config
func NewFirebaseApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	// Parse the service account JSON from environment variable
	serviceAccountJSON := []byte(cfg.FirebaseServiceAccountJSON)

	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
		ProjectID:   cfg.FirebaseProjectID,
	}

	opt := option.WithCredentialsJSON(serviceAccountJSON)
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	return app, nil
}

// FirebaseRealtimeStore implements RealtimeStore on the Firebase Realtime Database
type FirebaseRealtimeStore struct {
	client         *db.Client
	logger         *zap.Logger
	pollInterval   time.Duration
	requestTimeout time.Duration
}

func NewFirebaseRealtimeStore(ctx context.Context, app *firebase.App, cfg *config.Config, logger *zap.Logger) (*FirebaseRealtimeStore, error) {
	// Get database client
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fs := &FirebaseRealtimeStore{
		client:         client,
		logger:         logger,
		pollInterval:   cfg.RealtimePollInterval,
		requestTimeout: cfg.RealtimeRequestTimeout,
	}

	// Test Firebase connection with retry
	if err := fs.testConnection(ctx); err != nil {
		logger.Error("Firebase connection test failed", zap.Error(err))
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fs, nil
}

// testConnection tests Firebase connection with retry logic
func (fs *FirebaseRealtimeStore) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		fs.logger.Info("Testing Firebase connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		// Shallow read of the root lists the device keys without their contents
		var keys map[string]any
		reqCtx, cancel := fs.requestContext(ctx)
		err := fs.client.NewRef("/").GetShallow(reqCtx, &keys)
		cancel()

		if err == nil {
			fs.logger.Info("Firebase connection successful", zap.Int("device_count", len(keys)))
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

func (fs *FirebaseRealtimeStore) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if fs.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, fs.requestTimeout)
}

// ReadOnce reads the value at path
func (fs *FirebaseRealtimeStore) ReadOnce(ctx context.Context, path string) (Snapshot, error) {
	reqCtx, cancel := fs.requestContext(ctx)
	defer cancel()

	var raw json.RawMessage
	if err := fs.client.NewRef(path).Get(reqCtx, &raw); err != nil {
		return Snapshot{Path: path}, fmt.Errorf("error reading %s: %w", path, err)
	}
	return Snapshot{Path: path, Raw: raw}, nil
}

// Write sets the value at path
func (fs *FirebaseRealtimeStore) Write(ctx context.Context, path string, value any) error {
	reqCtx, cancel := fs.requestContext(ctx)
	defer cancel()

	if err := fs.client.NewRef(path).Set(reqCtx, value); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// Subscribe watches path by polling. The Admin SDK has no streaming listener, so every
// poll is delivered as an update: the poll interval is the window in which a live device
// has to advance its heartbeat.
func (fs *FirebaseRealtimeStore) Subscribe(ctx context.Context, path string, onData func(Snapshot), onError func(error)) (Unsubscribe, error) {
	if onData == nil {
		return nil, errors.New("subscribe requires a data callback")
	}
	if fs.pollInterval <= 0 {
		return nil, fmt.Errorf("invalid poll interval %s", fs.pollInterval)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer fs.logger.Debug("Realtime polling stopped", zap.String("path", path))

		ticker := time.NewTicker(fs.pollInterval)
		defer ticker.Stop()

		fs.logger.Info("Starting realtime polling",
			zap.String("path", path),
			zap.Duration("interval", fs.pollInterval))

		for {
			fs.poll(pollCtx, path, onData, onError)

			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (fs *FirebaseRealtimeStore) poll(ctx context.Context, path string, onData func(Snapshot), onError func(error)) {
	snapshot, err := fs.ReadOnce(ctx, path)
	if ctx.Err() != nil {
		// Unsubscribed while the read was in flight
		return
	}
	if err != nil {
		fs.logger.Error("Error polling realtime path", zap.String("path", path), zap.Error(err))
		if onError != nil {
			onError(err)
		}
		return
	}
	onData(snapshot)
}
