package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"plantlink/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestLink(t *testing.T) (*DeviceLinkManager, *fakeStore, *stateRecorder) {
	t.Helper()
	store := newFakeStore()
	states := &stateRecorder{}
	m := NewDeviceLinkManager(context.Background(), store, states, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = m.Close() })
	return m, store, states
}

func heartbeat(v any) string {
	raw, _ := json.Marshal(map[string]any{
		"sensorData": map[string]any{"moisture": 1800, "humidity": 45, "temperature": 24.5, "lastUpdate": v},
		"motorData":  map[string]any{"motorStatus": false},
		"appActive":  true,
	})
	return string(raw)
}

func TestDeviceLink_HeartbeatIncreaseStaysActive(t *testing.T) {
	m, store, states := newTestLink(t)
	require.NoError(t, m.Select("esp-01"))

	store.emit("esp-01", heartbeat(100))
	store.emit("esp-01", heartbeat(150))

	assert.Equal(t, []bool{true, true}, states.activity())
	assert.True(t, m.Active())

	last := states.last()
	assert.Equal(t, "esp-01", last.DeviceID)
	assert.True(t, last.Subscribed)
	require.NotNil(t, last.Data)
	require.NotNil(t, last.Data.SensorData.Moisture)
	assert.Equal(t, 1800.0, *last.Data.SensorData.Moisture)
}

func TestDeviceLink_UnchangedHeartbeatGoesInactive(t *testing.T) {
	m, store, states := newTestLink(t)
	require.NoError(t, m.Select("esp-01"))

	store.emit("esp-01", heartbeat(100))
	store.emit("esp-01", heartbeat(100))
	store.emit("esp-01", heartbeat("90"))
	store.emit("esp-01", heartbeat("101"))

	assert.Equal(t, []bool{true, false, false, true}, states.activity())
	assert.True(t, m.Active())
}

func TestDeviceLink_MissingRecord(t *testing.T) {
	m, store, states := newTestLink(t)
	require.NoError(t, m.Select("esp-01"))

	store.emit("esp-01", heartbeat(100))
	store.emit("esp-01", "null")

	last := states.last()
	assert.Nil(t, last.Data)
	assert.False(t, last.Active)
	assert.False(t, m.Active())

	// the baseline survives a missing record
	store.emit("esp-01", heartbeat(100))
	assert.False(t, states.last().Active)
}

func TestDeviceLink_UndecodableRecordIsInactive(t *testing.T) {
	m, store, states := newTestLink(t)
	require.NoError(t, m.Select("esp-01"))

	store.emit("esp-01", heartbeat(100))
	store.emit("esp-01", `{"sensorData": "garbage"}`)

	last := states.last()
	assert.False(t, last.Active)
	assert.NotNil(t, last.Data, "last good record is kept")
	assert.False(t, m.Active())
}

func TestDeviceLink_SubscriptionErrorKeepsData(t *testing.T) {
	m, store, states := newTestLink(t)
	require.NoError(t, m.Select("esp-01"))

	store.emit("esp-01", heartbeat(100))
	store.fail("esp-01", errors.New("permission denied"))

	last := states.last()
	assert.False(t, last.Active)
	require.NotNil(t, last.Data)
	assert.Equal(t, 100.0, last.Data.LastUpdate())
	assert.False(t, m.Active())
}

func TestDeviceLink_SubscribeFailure(t *testing.T) {
	m, store, states := newTestLink(t)
	store.subscribeErr = errors.New("network down")

	err := m.Select("esp-01")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.subscribeErr)

	last := states.last()
	assert.Equal(t, "esp-01", last.DeviceID)
	assert.False(t, last.Active)
	assert.False(t, last.Subscribed)

	// selecting the same id again retries
	store.subscribeErr = nil
	require.NoError(t, m.Select("esp-01"))
	assert.Equal(t, []string{"subscribe:esp-01", "subscribe:esp-01"}, store.callLog())
}

func TestDeviceLink_ChangingDeviceUnsubscribesFirst(t *testing.T) {
	m, store, states := newTestLink(t)
	require.NoError(t, m.Select("esp-01"))
	store.emit("esp-01", heartbeat(500))

	require.NoError(t, m.Select("esp-02"))
	assert.Equal(t, []string{"subscribe:esp-01", "unsubscribe:esp-01", "subscribe:esp-02"}, store.callLog())

	// the old device is published as torn down
	all := states.all()
	require.Len(t, all, 2)
	assert.Equal(t, models.LinkState{DeviceID: "esp-01", UpdatedAt: all[1].UpdatedAt}, all[1])

	// liveness starts over for the new device, a lower heartbeat is a first observation
	store.emit("esp-02", heartbeat(5))
	assert.True(t, states.last().Active)
	assert.Equal(t, "esp-02", m.DeviceID())
}

func TestDeviceLink_ReselectingSameDeviceIsNoop(t *testing.T) {
	m, store, _ := newTestLink(t)
	require.NoError(t, m.Select("esp-01"))
	require.NoError(t, m.Select("esp-01"))
	assert.Equal(t, []string{"subscribe:esp-01"}, store.callLog())
}

func TestDeviceLink_StaleCallbacksAreDropped(t *testing.T) {
	m, store, states := newTestLink(t)
	require.NoError(t, m.Select("esp-01"))
	old := store.subscription("esp-01")

	require.NoError(t, m.Select("esp-02"))
	before := len(states.all())

	old.onData(Snapshot{Path: "esp-01", Raw: json.RawMessage(heartbeat(999))})
	old.onError(errors.New("late"))

	assert.Len(t, states.all(), before)
	assert.Equal(t, "esp-02", m.DeviceID())
}

func TestDeviceLink_InvalidDeviceID(t *testing.T) {
	m, store, _ := newTestLink(t)
	require.Error(t, m.Select("bad/id"))
	assert.Empty(t, store.callLog())
}

func TestDeviceLink_ClearSelection(t *testing.T) {
	m, store, states := newTestLink(t)
	require.NoError(t, m.Select("esp-01"))
	store.emit("esp-01", heartbeat(1))

	require.NoError(t, m.Select(""))
	assert.Equal(t, []string{"subscribe:esp-01", "unsubscribe:esp-01"}, store.callLog())
	assert.Equal(t, "", states.last().DeviceID)
	assert.False(t, m.Active())
	assert.ErrorIs(t, m.SetMotorStatus(true), ErrNoDeviceSelected)
}

func TestDeviceLink_AppActiveWrites(t *testing.T) {
	m, store, _ := newTestLink(t)

	require.NoError(t, m.Select("esp-01"))
	m.HandleAppState(models.AppStateBackground)
	m.HandleAppState(models.AppStateInactive)
	m.HandleAppState(models.AppStateActive)
	m.HandleAppState(models.AppStateActive)
	require.NoError(t, m.Select("esp-02"))
	require.NoError(t, m.Close())

	assert.Equal(t, []any{true, false, true, false}, store.writesTo("esp-01/appActive"))
	assert.Equal(t, []any{true, false}, store.writesTo("esp-02/appActive"))
}

func TestDeviceLink_SelectWhileBackgroundedWritesFalse(t *testing.T) {
	m, store, _ := newTestLink(t)

	m.HandleAppState(models.AppStateBackground)
	require.NoError(t, m.Select("esp-01"))
	require.NoError(t, m.Close())

	assert.Equal(t, []any{false, false}, store.writesTo("esp-01/appActive"))
}

func TestDeviceLink_MotorWrites(t *testing.T) {
	m, store, _ := newTestLink(t)
	require.NoError(t, m.Select("esp-01"))

	require.NoError(t, m.SetMotorStatus(true))
	require.NoError(t, m.SetMotorStatus(false))
	require.NoError(t, m.Close())

	assert.Equal(t, []any{true, false}, store.writesTo("esp-01/motorData/motorStatus"))
	assert.ErrorIs(t, m.SetMotorStatus(true), ErrManagerClosed)
}

func TestDeviceLink_NoDeviceSelectedIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := newFakeStore()
	m := NewDeviceLinkManager(context.Background(), store, &stateRecorder{}, zap.New(core))

	err := m.SetMotorStatus(true)
	assert.ErrorIs(t, err, ErrNoDeviceSelected)
	require.NoError(t, m.Close())

	assert.Zero(t, store.writeCount())
	assert.Equal(t, 1, logs.FilterMessage("Ignoring motor command, no device selected").Len())
}

func TestDeviceLink_WriteFailuresDoNotAffectSubscription(t *testing.T) {
	m, store, states := newTestLink(t)
	store.writeErr = errors.New("write denied")

	require.NoError(t, m.Select("esp-01"))
	require.NoError(t, m.SetMotorStatus(true))

	store.emit("esp-01", heartbeat(10))
	store.emit("esp-01", heartbeat(20))
	assert.Equal(t, []bool{true, true}, states.activity())

	require.Eventually(t, func() bool { return store.writeCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDeviceLink_CloseTearsDown(t *testing.T) {
	m, store, states := newTestLink(t)
	require.NoError(t, m.Select("esp-01"))
	store.emit("esp-01", heartbeat(10))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Equal(t, []string{"subscribe:esp-01", "unsubscribe:esp-01"}, store.callLog())
	last := states.last()
	assert.Equal(t, "esp-01", last.DeviceID)
	assert.False(t, last.Active)
	assert.False(t, last.Subscribed)
	assert.ErrorIs(t, m.Select("esp-02"), ErrManagerClosed)
}

func TestDeviceLink_DeviceChangeStopsWateringOnOldDevice(t *testing.T) {
	store := newFakeStore()
	broadcaster := NewLinkBroadcaster()
	m := NewDeviceLinkManager(context.Background(), store, broadcaster, zaptest.NewLogger(t))

	tk := newManualTicker()
	c := NewWateringController(m, m, zaptest.NewLogger(t),
		withClock(time.Now, func(time.Duration) ticker { return tk }))
	broadcaster.Subscribe(c.HandleLinkState)

	require.NoError(t, m.Select("esp-01"))
	store.emit("esp-01", heartbeat(1))

	phase, err := c.Start(&models.Plant{ID: "p1", WaterDuration: 5})
	require.NoError(t, err)
	require.Equal(t, models.PhaseRunning, phase)

	require.NoError(t, m.Select("esp-02"))
	assert.Equal(t, models.PhaseIdle, c.Snapshot().Phase)

	c.Close()
	require.NoError(t, m.Close())

	assert.Equal(t, []any{true, false}, store.writesTo("esp-01/motorData/motorStatus"))
	assert.Empty(t, store.writesTo("esp-02/motorData/motorStatus"))
}
