package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"plantlink/models"
)

type fakeWrite struct {
	Path  string
	Value any
}

type fakeSubscription struct {
	onData  func(Snapshot)
	onError func(error)
	active  bool
}

// fakeStore is an in-memory RealtimeStore. Subscriptions are driven by the test through
// emit and fail, which run the callbacks on the calling goroutine.
type fakeStore struct {
	mu           sync.Mutex
	calls        []string
	writes       []fakeWrite
	subs         map[string]*fakeSubscription
	records      map[string]string
	subscribeErr error
	readErr      error
	writeErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subs:    make(map[string]*fakeSubscription),
		records: make(map[string]string),
	}
}

func (f *fakeStore) Subscribe(_ context.Context, path string, onData func(Snapshot), onError func(error)) (Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "subscribe:"+path)
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeSubscription{onData: onData, onError: onError, active: true}
	f.subs[path] = sub

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub.active {
			sub.active = false
			f.calls = append(f.calls, "unsubscribe:"+path)
		}
	}, nil
}

func (f *fakeStore) ReadOnce(_ context.Context, path string) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return Snapshot{Path: path}, f.readErr
	}
	raw, ok := f.records[path]
	if !ok {
		return Snapshot{Path: path, Raw: json.RawMessage("null")}, nil
	}
	return Snapshot{Path: path, Raw: json.RawMessage(raw)}, nil
}

func (f *fakeStore) Write(_ context.Context, path string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, fakeWrite{Path: path, Value: value})
	return f.writeErr
}

func (f *fakeStore) subscription(path string) *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[path]
}

// emit delivers raw JSON to the active subscription on path
func (f *fakeStore) emit(path, raw string) {
	sub := f.subscription(path)
	if sub == nil || !f.isActive(sub) {
		panic(fmt.Sprintf("no active subscription on %q", path))
	}
	sub.onData(Snapshot{Path: path, Raw: json.RawMessage(raw)})
}

func (f *fakeStore) fail(path string, err error) {
	sub := f.subscription(path)
	if sub == nil || !f.isActive(sub) {
		panic(fmt.Sprintf("no active subscription on %q", path))
	}
	sub.onError(err)
}

func (f *fakeStore) isActive(sub *fakeSubscription) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sub.active
}

func (f *fakeStore) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) writesTo(path string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var values []any
	for _, w := range f.writes {
		if w.Path == path {
			values = append(values, w.Value)
		}
	}
	return values
}

func (f *fakeStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// stateRecorder collects published link states
type stateRecorder struct {
	mu     sync.Mutex
	states []models.LinkState
}

func (r *stateRecorder) Publish(state models.LinkState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) all() []models.LinkState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.LinkState(nil), r.states...)
}

func (r *stateRecorder) last() models.LinkState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return models.LinkState{}
	}
	return r.states[len(r.states)-1]
}

func (r *stateRecorder) activity() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, s.Active)
	}
	return out
}

type fakeActuator struct {
	mu    sync.Mutex
	calls []bool
	err   error
}

func (a *fakeActuator) SetMotorStatus(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, on)
	return a.err
}

func (a *fakeActuator) commands() []bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]bool(nil), a.calls...)
}

type fakeLiveness struct {
	active atomic.Bool
}

func newFakeLiveness(active bool) *fakeLiveness {
	l := &fakeLiveness{}
	l.active.Store(active)
	return l
}

func (l *fakeLiveness) Active() bool {
	return l.active.Load()
}

// manualTicker hands ticks to the controller only when the test sends them
type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

type sentAlert struct {
	Kind     string
	DeviceID string
	Detail   string
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []sentAlert
	err    error
}

func (n *fakeNotifier) record(kind, deviceID, detail string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, sentAlert{Kind: kind, DeviceID: deviceID, Detail: detail})
	return n.err
}

func (n *fakeNotifier) SendOfflineAlert(deviceID string, lastSeen time.Time) error {
	return n.record("offline", deviceID, lastSeen.Format(time.RFC3339))
}

func (n *fakeNotifier) SendRecoveryAlert(deviceID string, downtime time.Duration) error {
	return n.record("recovery", deviceID, downtime.String())
}

func (n *fakeNotifier) SendCareAlert(report *models.HealthReport) error {
	return n.record("care", report.DeviceID, fmt.Sprintf("%d concerns", len(report.Concerns)))
}

func (n *fakeNotifier) sent() []sentAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentAlert(nil), n.alerts...)
}
