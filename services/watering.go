package services

import (
	"errors"
	"sync"
	"time"

	"plantlink/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNoPlantSelected  = errors.New("no plant selected")
	ErrControllerClosed = errors.New("watering controller closed")
)

const defaultWateringTick = 100 * time.Millisecond

// Actuator switches the watering motor of the selected device
type Actuator interface {
	SetMotorStatus(on bool) error
}

// LivenessSource reports whether the selected device is live
type LivenessSource interface {
	Active() bool
}

// WateringObserver receives progress snapshots. It runs while the controller holds its
// lock and must not call back into the controller.
type WateringObserver func(models.WateringSnapshot)

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (tt timeTicker) C() <-chan time.Time { return tt.t.C }
func (tt timeTicker) Stop()               { tt.t.Stop() }

func newTimeTicker(d time.Duration) ticker {
	return timeTicker{t: time.NewTicker(d)}
}

type WateringOption func(*WateringController)

// WithTickInterval sets how often progress is reported
func WithTickInterval(d time.Duration) WateringOption {
	return func(c *WateringController) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithDefaultDuration sets the duration used for plants without one, in seconds
func WithDefaultDuration(seconds int) WateringOption {
	return func(c *WateringController) {
		if seconds > 0 {
			c.defaultDuration = seconds
		}
	}
}

func WithObserver(observer WateringObserver) WateringOption {
	return func(c *WateringController) {
		c.observer = observer
	}
}

// WithEvents publishes session transitions to events without blocking
func WithEvents(events chan<- models.WateringEvent) WateringOption {
	return func(c *WateringController) {
		c.events = events
	}
}

func withClock(now func() time.Time, newTicker func(time.Duration) ticker) WateringOption {
	return func(c *WateringController) {
		c.now = now
		c.newTicker = newTicker
	}
}

type wateringSession struct {
	id        string
	plantID   string
	plantName string
	seconds   int
	duration  time.Duration
	startedAt time.Time
	fraction  float64
	offSent   bool
	ticker    ticker
	stop      chan struct{}
	done      chan struct{}
}

// WateringController runs one timed watering session at a time and makes sure the motor
// is switched off exactly once whichever way the session ends.
type WateringController struct {
	actuator        Actuator
	liveness        LivenessSource
	logger          *zap.Logger
	tick            time.Duration
	defaultDuration int
	observer        WateringObserver
	events          chan<- models.WateringEvent
	now             func() time.Time
	newTicker       func(time.Duration) ticker

	mu       sync.Mutex
	phase    models.Phase
	session  *wateringSession
	snapshot models.WateringSnapshot
	closed   bool
}

func NewWateringController(actuator Actuator, liveness LivenessSource, logger *zap.Logger, opts ...WateringOption) *WateringController {
	c := &WateringController{
		actuator:        actuator,
		liveness:        liveness,
		logger:          logger,
		tick:            defaultWateringTick,
		defaultDuration: models.DefaultWaterDuration,
		now:             time.Now,
		newTicker:       newTimeTicker,
		phase:           models.PhaseIdle,
		snapshot:        models.WateringSnapshot{Phase: models.PhaseIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins watering plant. Starting while a session is running, completed or blocked
// is a no-op. If the device is not live the controller moves to PhaseBlocked without
// touching the motor.
func (c *WateringController) Start(plant *models.Plant) (models.Phase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.phase, ErrControllerClosed
	}
	if plant == nil {
		c.logger.Warn("Ignoring watering request, no plant selected")
		return c.phase, ErrNoPlantSelected
	}
	if c.phase != models.PhaseIdle {
		c.logger.Debug("Watering request ignored", zap.String("phase", string(c.phase)))
		return c.phase, nil
	}

	seconds := plant.WaterDuration
	if seconds <= 0 {
		seconds = c.defaultDuration
	}

	if !c.liveness.Active() {
		c.logger.Warn("Device unreachable, watering blocked", zap.String("plant_id", plant.ID))
		c.phase = models.PhaseBlocked
		c.emit(models.WateringSnapshot{
			PlantID:         plant.ID,
			PlantName:       plant.DisplayName(),
			Phase:           models.PhaseBlocked,
			DurationSeconds: seconds,
		})
		c.publish(models.WateringEvent{
			PlantID:         plant.ID,
			Kind:            models.WateringBlocked,
			DurationSeconds: seconds,
			Reason:          "device unreachable",
		})
		return c.phase, nil
	}

	s := &wateringSession{
		id:        uuid.NewString(),
		plantID:   plant.ID,
		plantName: plant.DisplayName(),
		seconds:   seconds,
		duration:  time.Duration(seconds) * time.Second,
		startedAt: c.now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	// the session runs on its own schedule whether or not the command is delivered
	if err := c.actuator.SetMotorStatus(true); err != nil {
		c.logger.Error("Failed to switch motor on", zap.String("session_id", s.id), zap.Error(err))
	}

	c.phase = models.PhaseRunning
	c.session = s
	s.ticker = c.newTicker(c.tick)

	c.logger.Info("Watering started",
		zap.String("session_id", s.id),
		zap.String("plant_id", s.plantID),
		zap.Int("duration_seconds", s.seconds))
	c.emit(c.sessionSnapshot(s, models.PhaseRunning))
	c.publish(c.sessionEvent(s, models.WateringStarted, ""))

	go c.run(s)
	return c.phase, nil
}

func (c *WateringController) run(s *wateringSession) {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case t := <-s.ticker.C():
			if c.advance(s, t) {
				return
			}
		}
	}
}

// advance applies one tick and reports whether the session is over
func (c *WateringController) advance(s *wateringSession, t time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != s || c.phase != models.PhaseRunning {
		return true
	}

	fraction := float64(t.Sub(s.startedAt)) / float64(s.duration)
	fraction = min(max(fraction, s.fraction), 1)
	s.fraction = fraction

	if fraction < 1 {
		c.emit(c.sessionSnapshot(s, models.PhaseRunning))
		return false
	}

	s.ticker.Stop()
	c.switchOff(s)
	c.session = nil
	c.phase = models.PhaseCompleted

	c.logger.Info("Watering completed", zap.String("session_id", s.id), zap.Int("duration_seconds", s.seconds))
	c.emit(c.sessionSnapshot(s, models.PhaseCompleted))
	c.publish(c.sessionEvent(s, models.WateringCompleted, ""))
	return true
}

// Cancel stops a running session and switches the motor off. It is a no-op in any other
// phase.
func (c *WateringController) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(models.WateringCanceled, "canceled by user")
}

// HandleLinkState aborts a running session when the device stops being live
func (c *WateringController) HandleLinkState(state models.LinkState) {
	if state.Active {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(models.WateringAborted, "device inactive")
}

func (c *WateringController) stopLocked(kind models.WateringEventKind, reason string) *wateringSession {
	s := c.session
	if c.phase != models.PhaseRunning || s == nil {
		return nil
	}

	close(s.stop)
	s.ticker.Stop()
	c.switchOff(s)
	c.session = nil
	c.phase = models.PhaseIdle

	c.logger.Info("Watering stopped",
		zap.String("session_id", s.id),
		zap.String("reason", reason),
		zap.Float64("elapsed_fraction", s.fraction))
	c.publish(c.sessionEvent(s, kind, reason))

	s.fraction = 0
	c.emit(c.sessionSnapshot(s, models.PhaseIdle))
	return s
}

func (c *WateringController) switchOff(s *wateringSession) {
	if s.offSent {
		return
	}
	s.offSent = true
	if err := c.actuator.SetMotorStatus(false); err != nil {
		c.logger.Error("Failed to switch motor off", zap.String("session_id", s.id), zap.Error(err))
	}
}

// Dismiss returns a completed or blocked controller to idle
func (c *WateringController) Dismiss() models.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == models.PhaseCompleted || c.phase == models.PhaseBlocked {
		c.phase = models.PhaseIdle
		c.emit(models.WateringSnapshot{Phase: models.PhaseIdle})
	}
	return c.phase
}

// Snapshot returns the last reported progress
func (c *WateringController) Snapshot() models.WateringSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Close is the unmount path: a running session is stopped like a cancel and its
// goroutine has exited when Close returns.
func (c *WateringController) Close() {
	c.mu.Lock()
	s := c.stopLocked(models.WateringAborted, "controller closed")
	c.closed = true
	c.mu.Unlock()

	if s != nil {
		<-s.done
	}
}

func (c *WateringController) sessionSnapshot(s *wateringSession, phase models.Phase) models.WateringSnapshot {
	return models.WateringSnapshot{
		SessionID:       s.id,
		PlantID:         s.plantID,
		PlantName:       s.plantName,
		Phase:           phase,
		ElapsedFraction: s.fraction,
		DurationSeconds: s.seconds,
	}
}

func (c *WateringController) sessionEvent(s *wateringSession, kind models.WateringEventKind, reason string) models.WateringEvent {
	return models.WateringEvent{
		SessionID:       s.id,
		PlantID:         s.plantID,
		Kind:            kind,
		DurationSeconds: s.seconds,
		ElapsedFraction: s.fraction,
		Reason:          reason,
	}
}

func (c *WateringController) emit(snapshot models.WateringSnapshot) {
	c.snapshot = snapshot
	if c.observer != nil {
		c.observer(snapshot)
	}
}

func (c *WateringController) publish(event models.WateringEvent) {
	if c.events == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Timestamp = c.now()

	select {
	case c.events <- event:
	default:
		c.logger.Warn("Watering event channel full, dropping event", zap.String("kind", string(event.Kind)), zap.String("session_id", event.SessionID))
	}
}
