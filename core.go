// Package opscore composes the module registry and the event bus into the
// core of an application built from independently developed modules.
//
// A Core owns exactly one registry and one bus. Start registers the caller's
// modules, then the built-in business catalog, preloads critical modules and
// begins periodic performance snapshots:
//
//	core, err := opscore.New(opscore.WithConfigFile("opscore.yaml"))
//	if err != nil {
//	    return err
//	}
//	if err := core.Start(ctx); err != nil {
//	    return err // core.Status() is StatusFailed
//	}
//	defer core.Stop(context.Background())
//
//	inventory, err := core.Registry().Load(ctx, "inventory")
package opscore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/opscore/eventbus"
	"github.com/GoCodeAlone/opscore/internal/catalog"
	"github.com/GoCodeAlone/opscore/internal/janitor"
	"github.com/GoCodeAlone/opscore/registry"
)

// Event types emitted by the core.
const (
	EventCoreInitialized   = "core.initialized"
	EventCoreError         = "core.error"
	EventCoreStopped       = "core.stopped"
	EventConfigUpdated     = "config.updated"
	EventMemoryHigh        = "memory.high"
	EventThresholdExceeded = "performance.threshold.exceeded"

	// EventModulePrefix prefixes module state changes: module.loading,
	// module.loaded, module.error, module.suspended and module.unregistered.
	EventModulePrefix       = "module."
	EventModuleUnregistered = EventModulePrefix + "unregistered"

	sourceCore     = "core"
	sourceRegistry = "registry"

	jobSnapshot = "core.snapshot"

	// System listeners run ahead of application listeners.
	systemListenerPriority = 10
)

// Status is the lifecycle state of a Core.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusFailed       Status = "failed"
	StatusStopped      Status = "stopped"
)

// ModuleEvent is the payload of module.* events.
type ModuleEvent struct {
	ID    string          `json:"id"`
	From  registry.Status `json:"from,omitempty"`
	To    registry.Status `json:"to,omitempty"`
	Error string          `json:"error,omitempty"`
}

// CoreError is the payload of core.error events.
type CoreError struct {
	Err     error  `json:"-"`
	Message string `json:"message"`
}

// Core is the composition root. It is safe for concurrent use.
type Core struct {
	mu         sync.RWMutex
	cfg        Config
	configFile string
	status     Status
	err        error
	started    bool

	logger     Logger
	registry   *registry.Registry
	bus        *eventbus.Bus
	perf       *Performance
	sink       Sink
	estimator  registry.Estimator
	modules    []registry.Descriptor
	catalog    []registry.Descriptor
	useCatalog bool

	jobs      *janitor.Janitor
	watcher   *configWatcher
	listeners []string
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger shared by the core, registry and bus.
func WithLogger(logger Logger) Option {
	return func(c *Core) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConfig sets the configuration. It is ignored when WithConfigFile is
// also given.
func WithConfig(cfg Config) Option {
	return func(c *Core) {
		c.cfg = cfg
	}
}

// WithConfigFile loads the configuration from path (YAML, TOML or JSON) and
// OPSCORE_* environment variables. The file is watched for changes when
// modules.enableHotReload is set.
func WithConfigFile(path string) Option {
	return func(c *Core) {
		c.configFile = path
	}
}

// WithModules adds caller-supplied modules. They are registered before the
// catalog, in the given order.
func WithModules(descs ...registry.Descriptor) Option {
	return func(c *Core) {
		c.modules = append(c.modules, descs...)
	}
}

// WithCatalog replaces the built-in business catalog.
func WithCatalog(descs ...registry.Descriptor) Option {
	return func(c *Core) {
		c.catalog = descs
		c.useCatalog = true
	}
}

// WithoutCatalog skips registration of the business catalog.
func WithoutCatalog() Option {
	return func(c *Core) {
		c.useCatalog = false
	}
}

// WithSink adds a performance sink. Several sinks may be given.
func WithSink(sink Sink) Option {
	return func(c *Core) {
		if sink == nil {
			return
		}
		if _, ok := c.sink.(noopSink); ok {
			c.sink = sink
			return
		}
		if m, ok := c.sink.(multiSink); ok {
			c.sink = append(m, sink)
			return
		}
		c.sink = multiSink{c.sink, sink}
	}
}

// WithEstimator replaces the registry's memory estimator.
func WithEstimator(estimator registry.Estimator) Option {
	return func(c *Core) {
		c.estimator = estimator
	}
}

// New builds a Core. Nothing is registered until Start.
func New(opts ...Option) (*Core, error) {
	c := &Core{
		cfg:        DefaultConfig(),
		status:     StatusInitializing,
		logger:     noopLogger{},
		sink:       noopSink{},
		catalog:    catalog.Descriptors(),
		useCatalog: true,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.configFile != "" {
		cfg, err := LoadConfig(c.configFile)
		if err != nil {
			return nil, err
		}
		c.cfg = cfg
	} else if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	c.bus = eventbus.New(c.cfg.Events, eventbus.WithLogger(c.logger))

	regOpts := []registry.Option{
		registry.WithLogger(c.logger),
		registry.WithTransitionHook(c.onTransition),
	}
	if c.estimator != nil {
		regOpts = append(regOpts, registry.WithEstimator(c.estimator))
	}
	c.registry = registry.New(c.cfg.RegistryConfig(), regOpts...)
	c.perf = newPerformance(c.registry, c.bus, c.sink, c.performanceConfig)
	c.jobs = janitor.New(c.logger)

	return c, nil
}

// Start installs the system listeners, registers modules, preloads critical
// modules and starts the periodic jobs. A failure is logged, reported as a
// core.error event and leaves the core in StatusFailed.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if err := c.initialize(ctx); err != nil {
		c.halt(ctx)
		c.fail(err)
		return fmt.Errorf("%w: %w", ErrCoreFailed, err)
	}

	c.mu.Lock()
	c.status = StatusReady
	c.mu.Unlock()

	modules := c.registry.Len()
	c.logger.Info("Core initialized", "modules", modules, "memoryUsage", c.registry.MemoryUsage())
	c.bus.Emit(eventbus.Event{
		Type:    EventCoreInitialized,
		Source:  sourceCore,
		Payload: map[string]any{"modules": modules},
	})
	return nil
}

func (c *Core) initialize(ctx context.Context) error {
	if err := c.installSystemListeners(); err != nil {
		return err
	}

	for _, desc := range c.modules {
		if err := c.registry.Register(ctx, desc); err != nil {
			return fmt.Errorf("failed to register module %s: %w", desc.ID, err)
		}
	}
	if c.useCatalog {
		for _, desc := range c.catalog {
			if err := c.registry.Register(ctx, desc); err != nil {
				return fmt.Errorf("failed to register catalog module %s: %w", desc.ID, err)
			}
		}
	}

	cfg := c.Config()
	if cfg.Modules.PreloadCritical {
		c.registry.PreloadCritical(ctx)
	}

	if cfg.Modules.EnableHotReload {
		if c.configFile == "" {
			c.logger.Warn("Hot reload disabled", "error", ErrNoConfigFile)
		} else {
			w, err := newConfigWatcher(c.configFile, c.applyConfig, c.logger)
			if err != nil {
				return err
			}
			c.mu.Lock()
			c.watcher = w
			c.mu.Unlock()
		}
	}

	if err := c.registry.Start(ctx); err != nil {
		return err
	}
	if cfg.Performance.EnableMetrics {
		if err := c.jobs.Every(jobSnapshot, cfg.Performance.SnapshotInterval, c.snapshot); err != nil {
			return fmt.Errorf("failed to schedule snapshots: %w", err)
		}
	}
	c.jobs.Start()
	return nil
}

// halt releases what a partial initialize started. Modules stay registered
// so a failed core can still be inspected.
func (c *Core) halt(ctx context.Context) {
	c.mu.Lock()
	watcher := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	if err := c.jobs.Stop(ctx); err != nil {
		c.logger.Warn("Failed to stop periodic jobs", "error", err)
	}
	if err := c.registry.Stop(ctx); err != nil {
		c.logger.Warn("Failed to stop module garbage collector", "error", err)
	}
}

func (c *Core) fail(err error) {
	c.mu.Lock()
	c.status = StatusFailed
	c.err = err
	c.mu.Unlock()

	c.logger.Error("Core initialization failed", "error", err)
	c.bus.Emit(eventbus.Event{
		Type:     EventCoreError,
		Source:   sourceCore,
		Priority: eventbus.UrgentPriority,
		Payload:  CoreError{Err: err, Message: err.Error()},
	})
}

func (c *Core) installSystemListeners() error {
	handlers := []struct {
		pattern string
		handler eventbus.Handler
	}{
		{EventModulePrefix + "*", func(_ context.Context, e eventbus.Event) error {
			if c.bus.Config().Debug {
				c.logger.Debug("Module event", "type", e.Type, "payload", e.Payload)
			}
			return nil
		}},
		{EventThresholdExceeded, func(_ context.Context, e eventbus.Event) error {
			c.logger.Warn("Performance threshold exceeded", "snapshot", e.Payload)
			return nil
		}},
		{eventbus.EventTypeSystemError, func(_ context.Context, e eventbus.Event) error {
			if se, ok := e.Payload.(eventbus.SystemError); ok {
				c.logger.Error("Event handler failed", "listener", se.ListenerID, "event", se.Event.Type, "error", se.Err)
				return nil
			}
			c.logger.Error("System error", "payload", e.Payload)
			return nil
		}},
		{EventMemoryHigh, func(_ context.Context, e eventbus.Event) error {
			c.logger.Warn("Module memory is high", "snapshot", e.Payload)
			return nil
		}},
	}

	for _, h := range handlers {
		id, err := c.bus.On(h.pattern, h.handler, systemListenerPriority)
		if err != nil {
			return fmt.Errorf("failed to install listener for %s: %w", h.pattern, err)
		}
		c.mu.Lock()
		c.listeners = append(c.listeners, id)
		c.mu.Unlock()
	}
	return nil
}

// onTransition mirrors registry state changes onto the bus.
func (c *Core) onTransition(t registry.Transition) {
	eventType := EventModulePrefix + string(t.To)
	if t.To == "" {
		eventType = EventModuleUnregistered
	}
	payload := ModuleEvent{ID: t.ID, From: t.From, To: t.To}
	if t.Err != nil {
		payload.Error = t.Err.Error()
	}
	c.bus.Emit(eventbus.Event{Type: eventType, Source: sourceRegistry, Payload: payload})
}

// snapshot records one performance reading and raises threshold events.
func (c *Core) snapshot(ctx context.Context) {
	snap := c.perf.Snapshot()
	c.sink.RecordSnapshot(snap)

	if c.perf.memoryHigh(snap.Metrics) {
		c.bus.Emit(eventbus.Event{Type: EventMemoryHigh, Source: sourceCore, Payload: snap})
	}
	if !snap.Healthy {
		c.bus.Emit(eventbus.Event{Type: EventThresholdExceeded, Source: sourceCore, Payload: snap})
	}
}

// Stop halts the periodic jobs and the config watcher, unloads every
// module, delivers queued events and destroys the bus.
func (c *Core) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusStopped {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusStopped
	watcher := c.watcher
	c.watcher = nil
	listeners := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	var errs []error
	if watcher != nil {
		errs = append(errs, watcher.Close())
	}
	errs = append(errs, c.jobs.Stop(ctx), c.registry.Stop(ctx), c.registry.UnloadAll(ctx))

	c.bus.Emit(eventbus.Event{Type: EventCoreStopped, Source: sourceCore})
	errs = append(errs, c.bus.Flush(ctx))
	for _, id := range listeners {
		c.bus.Off(id)
	}
	c.bus.Destroy()

	c.logger.Info("Core stopped")
	return errors.Join(errs...)
}

// Status returns the lifecycle state.
func (c *Core) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsInitialized reports whether Start completed successfully.
func (c *Core) IsInitialized() bool {
	return c.Status() == StatusReady
}

// Err returns the initialization error of a failed core.
func (c *Core) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Registry returns the module registry.
func (c *Core) Registry() *registry.Registry {
	return c.registry
}

// Bus returns the event bus.
func (c *Core) Bus() *eventbus.Bus {
	return c.bus
}

// Performance returns the performance monitor.
func (c *Core) Performance() *Performance {
	return c.perf
}

// Config returns a copy of the active configuration.
func (c *Core) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Core) performanceConfig() PerformanceConfig {
	return c.Config().Performance
}

// UpdateConfig applies fn to a copy of the configuration, validates the
// result and pushes it to the registry, the bus and the snapshot job.
func (c *Core) UpdateConfig(fn func(*Config)) error {
	next := c.Config()
	fn(&next)
	return c.applyConfig(next)
}

func (c *Core) applyConfig(next Config) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if err := c.bus.Reconfigure(next.Events); err != nil {
		return fmt.Errorf("failed to reconfigure event bus: %w", err)
	}
	if err := c.registry.Reconfigure(next.RegistryConfig()); err != nil {
		return fmt.Errorf("failed to reconfigure registry: %w", err)
	}

	c.mu.Lock()
	prev := c.cfg
	c.cfg = next
	running := c.status == StatusReady
	c.mu.Unlock()

	if running && prev.Performance != next.Performance {
		if next.Performance.EnableMetrics {
			if err := c.jobs.Reschedule(jobSnapshot, next.Performance.SnapshotInterval, c.snapshot); err != nil {
				return fmt.Errorf("failed to reschedule snapshots: %w", err)
			}
		} else {
			c.jobs.Remove(jobSnapshot)
		}
	}

	c.logger.Info("Config updated")
	c.bus.Emit(eventbus.Event{Type: EventConfigUpdated, Source: sourceCore, Payload: next})
	return nil
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying core.
func NewContext(ctx context.Context, core *Core) context.Context {
	return context.WithValue(ctx, contextKey{}, core)
}

// FromContext returns the core stored in ctx by NewContext.
func FromContext(ctx context.Context) (*Core, error) {
	core, ok := ctx.Value(contextKey{}).(*Core)
	if !ok || core == nil {
		return nil, ErrNoCore
	}
	return core, nil
}
