package opscore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/opscore/eventbus"
	"github.com/GoCodeAlone/opscore/internal/catalog"
	"github.com/GoCodeAlone/opscore/registry"
)

func stubFactory(context.Context) (any, error) { return map[string]string{"kind": "stub"}, nil }

// eventRecorder collects the types of events delivered to it.
type eventRecorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *eventRecorder) handle(_ context.Context, e eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) last() (eventbus.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return eventbus.Event{}, false
	}
	return r.events[len(r.events)-1], true
}

func newTestCore(t *testing.T, opts ...Option) *Core {
	t.Helper()
	core, err := New(append([]Option{WithLogger(&testLogger{})}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Stop(context.Background()) })
	return core
}

func TestCoreStartWithCatalog(t *testing.T) {
	core := newTestCore(t)
	assert.Equal(t, StatusInitializing, core.Status())
	assert.False(t, core.IsInitialized())

	require.NoError(t, core.Start(context.Background()))
	assert.Equal(t, StatusReady, core.Status())
	assert.True(t, core.IsInitialized())
	assert.NoError(t, core.Err())

	assert.Equal(t, len(catalog.Descriptors()), core.Registry().Len())
	for _, id := range []string{catalog.Communication, catalog.Chat, catalog.Inventory} {
		state, ok := core.Registry().Get(id)
		require.True(t, ok, id)
		assert.Equal(t, registry.StatusLoaded, state.Status, id)
	}
	for _, id := range []string{catalog.UnreadMessages, catalog.Reports, catalog.Schedule} {
		state, ok := core.Registry().Get(id)
		require.True(t, ok, id)
		assert.Equal(t, registry.StatusLoading, state.Status, id)
	}

	feature, err := registry.Instance[*catalog.Feature](context.Background(), core.Registry(), catalog.Reports)
	require.NoError(t, err)
	assert.Equal(t, catalog.Reports, feature.ID)

	assert.ErrorIs(t, core.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, core.Stop(context.Background()))
	assert.Equal(t, StatusStopped, core.Status())
	assert.True(t, feature.Closed())
	state, _ := core.Registry().Get(catalog.Communication)
	assert.Equal(t, registry.StatusSuspended, state.Status)

	// stopping twice is a no-op
	assert.NoError(t, core.Stop(context.Background()))
}

func TestCoreWithoutPreload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Modules.PreloadCritical = false
	core := newTestCore(t, WithConfig(cfg))
	require.NoError(t, core.Start(context.Background()))

	state, _ := core.Registry().Get(catalog.Inventory)
	assert.Equal(t, registry.StatusLoading, state.Status)
	// priority 9 modules load on registration regardless
	state, _ = core.Registry().Get(catalog.Communication)
	assert.Equal(t, registry.StatusLoaded, state.Status)
}

func TestCoreStartFailure(t *testing.T) {
	logger := &testLogger{}
	core, err := New(
		WithLogger(logger),
		WithoutCatalog(),
		WithModules(registry.Descriptor{ID: "orders", Priority: 5, Dependencies: []string{"ghost"}, Factory: stubFactory}),
	)
	require.NoError(t, err)

	rec := &eventRecorder{}
	_, err = core.Bus().On(EventCoreError, rec.handle)
	require.NoError(t, err)

	err = core.Start(context.Background())
	require.ErrorIs(t, err, ErrCoreFailed)
	assert.ErrorIs(t, err, registry.ErrDependencyMissing)
	assert.Equal(t, StatusFailed, core.Status())
	assert.False(t, core.IsInitialized())
	assert.ErrorIs(t, core.Err(), registry.ErrDependencyMissing)
	assert.True(t, logger.has("error", "Core initialization failed"))

	// core.error is urgent and delivered before Start returns
	e, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, EventCoreError, e.Type)
	assert.Equal(t, eventbus.UrgentPriority, e.Priority)
	payload, ok := e.Payload.(CoreError)
	require.True(t, ok)
	assert.ErrorIs(t, payload.Err, registry.ErrDependencyMissing)

	require.NoError(t, core.Stop(context.Background()))
}

func TestCoreRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Modules.MaxModules = 0
	_, err := New(WithConfig(cfg))
	assert.ErrorIs(t, err, ErrConfigValidationFailed)

	_, err = New(WithConfigFile("opscore.ini"))
	assert.ErrorIs(t, err, ErrConfigFeederError)
}

func TestCoreModuleEvents(t *testing.T) {
	core := newTestCore(t,
		WithoutCatalog(),
		WithModules(registry.Descriptor{ID: "menu", Priority: 4, Lazy: true, Factory: stubFactory}),
	)
	rec := &eventRecorder{}
	_, err := core.Bus().On("module.*", rec.handle)
	require.NoError(t, err)
	started := &eventRecorder{}
	_, err = core.Bus().On(EventCoreInitialized, started.handle)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, core.Start(ctx))
	_, err = core.Registry().Load(ctx, "menu")
	require.NoError(t, err)
	require.NoError(t, core.Registry().Unload(ctx, "menu"))
	require.NoError(t, core.Registry().Unregister(ctx, "menu"))
	require.NoError(t, core.Bus().Flush(ctx))

	assert.Equal(t, []string{"module.loading", "module.loaded", "module.suspended", "module.unregistered"}, rec.types())

	e, _ := rec.last()
	assert.Equal(t, "registry", e.Source)
	assert.Equal(t, ModuleEvent{ID: "menu", From: registry.StatusSuspended}, e.Payload)

	assert.Equal(t, []string{EventCoreInitialized}, started.types())
}

func TestCoreModuleErrorEvent(t *testing.T) {
	boom := errors.New("boom")
	core := newTestCore(t,
		WithoutCatalog(),
		WithModules(registry.Descriptor{ID: "printer", Priority: 4, Lazy: true, Factory: func(context.Context) (any, error) {
			return nil, boom
		}}),
	)
	rec := &eventRecorder{}
	_, err := core.Bus().On("module.error", rec.handle)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, core.Start(ctx))
	_, err = core.Registry().Load(ctx, "printer")
	require.ErrorIs(t, err, boom)
	require.NoError(t, core.Bus().Flush(ctx))

	e, ok := rec.last()
	require.True(t, ok)
	payload := e.Payload.(ModuleEvent)
	assert.Equal(t, registry.StatusError, payload.To)
	assert.Contains(t, payload.Error, "boom")
}

func TestCoreUpdateConfig(t *testing.T) {
	core := newTestCore(t, WithoutCatalog())
	rec := &eventRecorder{}
	_, err := core.Bus().On(EventConfigUpdated, rec.handle)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, core.Start(ctx))
	require.Contains(t, core.jobs.Names(), jobSnapshot)

	require.NoError(t, core.UpdateConfig(func(cfg *Config) {
		cfg.Events.BatchSize = 5
		cfg.Modules.MaxModules = 10
		cfg.Performance.EnableMetrics = false
	}))
	assert.Equal(t, 5, core.Config().Events.BatchSize)
	assert.Equal(t, 5, core.Bus().Config().BatchSize)
	assert.Equal(t, 10, core.Registry().Config().MaxModules)
	assert.NotContains(t, core.jobs.Names(), jobSnapshot)

	require.NoError(t, core.Bus().Flush(ctx))
	e, ok := rec.last()
	require.True(t, ok)
	assert.Equal(t, 5, e.Payload.(Config).Events.BatchSize)

	err = core.UpdateConfig(func(cfg *Config) { cfg.Events.BatchSize = 0 })
	assert.ErrorIs(t, err, ErrConfigValidationFailed)
	assert.Equal(t, 5, core.Config().Events.BatchSize)

	require.NoError(t, core.UpdateConfig(func(cfg *Config) {
		cfg.Performance.EnableMetrics = true
		cfg.Performance.SnapshotInterval = time.Second
	}))
	assert.Contains(t, core.jobs.Names(), jobSnapshot)
}

func TestCoreSnapshots(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Performance.SnapshotInterval = 20 * time.Millisecond
	sink := NewMemorySink(10)
	core := newTestCore(t, WithConfig(cfg), WithoutCatalog(), WithSink(sink))
	require.NoError(t, core.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return len(sink.Snapshots()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	snap, ok := sink.Latest()
	require.True(t, ok)
	assert.True(t, snap.Healthy)
	assert.False(t, snap.At.IsZero())
}

func TestCoreMemoryHighEvents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Performance.EnableMetrics = false
	sink := NewMemorySink(0)
	other := NewMemorySink(0)
	core := newTestCore(t,
		WithConfig(cfg),
		WithoutCatalog(),
		WithSink(sink),
		WithSink(other),
		WithEstimator(registry.EstimatorFunc(func(any) int64 { return 300 << 20 })),
		WithModules(registry.Descriptor{ID: "pos", Priority: 6, Factory: stubFactory}),
	)
	high := &eventRecorder{}
	_, err := core.Bus().On(EventMemoryHigh, high.handle)
	require.NoError(t, err)
	exceeded := &eventRecorder{}
	_, err = core.Bus().On(EventThresholdExceeded, exceeded.handle)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, core.Start(ctx))
	require.EqualValues(t, 300<<20, core.Registry().MemoryUsage())

	core.snapshot(ctx)
	require.NoError(t, core.Bus().Flush(ctx))

	assert.Equal(t, []string{EventMemoryHigh}, high.types())
	assert.Equal(t, []string{EventThresholdExceeded}, exceeded.types())
	assert.False(t, core.Performance().IsHealthy())

	snap, ok := sink.Latest()
	require.True(t, ok)
	assert.False(t, snap.Healthy)
	assert.Len(t, other.Snapshots(), 1)
}

func TestCoreContext(t *testing.T) {
	core := newTestCore(t, WithoutCatalog())

	got, err := FromContext(NewContext(context.Background(), core))
	require.NoError(t, err)
	assert.Same(t, core, got)

	_, err = FromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoCore)
}

func TestObserveCloudEvents(t *testing.T) {
	core := newTestCore(t, WithoutCatalog())
	ctx := context.Background()
	require.NoError(t, core.Start(ctx))

	var (
		mu  sync.Mutex
		got []cloudevents.Event
	)
	stop, err := core.ObserveCloudEvents("order.*", func(_ context.Context, ce cloudevents.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ce)
		return nil
	})
	require.NoError(t, err)

	id := core.Bus().Emit(eventbus.Event{Type: "order.created", Source: "pos", Payload: map[string]int{"table": 4}})
	require.NoError(t, core.Bus().Flush(ctx))

	stop()
	core.Bus().Emit(eventbus.Event{Type: "order.closed", Source: "pos"})
	require.NoError(t, core.Bus().Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID())
	assert.Equal(t, "com.opscore.order.created", got[0].Type())
	assert.Equal(t, "pos", got[0].Source())
	assert.JSONEq(t, `{"table":4}`, string(got[0].Data()))
}
