package registry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/GoCodeAlone/opscore/internal/janitor"
)

const sweepGC = "registry.gc"

// Static errors for registry package
var (
	// Capacity errors
	ErrCapacityReached = errors.New("module registry is at capacity")
	ErrMemoryLimit     = errors.New("module memory limit exceeded")

	// Dependency errors
	ErrDependencyMissing  = errors.New("module depends on unregistered module")
	ErrCircularDependency = errors.New("circular dependency detected")
	ErrHasDependents      = errors.New("module is a dependency of other modules")

	// Load errors
	ErrModuleNotFound   = errors.New("module not found")
	ErrDependencyFailed = errors.New("module dependency failed to load")
	ErrFactoryFailed    = errors.New("module factory failed")
	ErrFactoryPanicked  = errors.New("module factory panicked")
	ErrLoadTimeout      = errors.New("module factory timed out")
	ErrLoadWaitTimeout  = errors.New("timed out waiting for in-flight module load")
	ErrInstanceType     = errors.New("module instance has unexpected type")

	// Descriptor errors
	ErrInvalidDescriptor = errors.New("invalid module descriptor")
	ErrInvalidConfig     = errors.New("invalid registry config")
)

// entry is the registry-owned record for one module.
type entry struct {
	desc  Descriptor
	state State
	// gen changes every time the descriptor is replaced.
	gen uint64
}

// loadCall is the single in-flight load of one module. Every concurrent
// Load of the module waits on done.
type loadCall struct {
	done     chan struct{}
	instance any
	err      error
}

// Registry owns the module catalog and the state of every module.
type Registry struct {
	mu          sync.RWMutex
	cfg         Config
	entries     map[string]*entry
	order       []string
	dependents  map[string]map[string]struct{}
	inflight    map[string]*loadCall
	totalMemory int64
	generation  uint64

	estimator Estimator
	logger    Logger
	hook      func(Transition)
	janitor   *janitor.Janitor
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEstimator replaces the default JSON size estimator.
func WithEstimator(estimator Estimator) Option {
	return func(r *Registry) {
		if estimator != nil {
			r.estimator = estimator
		}
	}
}

// WithTransitionHook registers a callback invoked after every state change.
// The hook runs outside the registry lock.
func WithTransitionHook(hook func(Transition)) Option {
	return func(r *Registry) {
		r.hook = hook
	}
}

// New creates an empty registry. Call Start to run the garbage collector.
func New(cfg Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:        cfg.withDefaults(),
		entries:    make(map[string]*entry),
		dependents: make(map[string]map[string]struct{}),
		inflight:   make(map[string]*loadCall),
		estimator:  JSONEstimator{},
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.janitor = janitor.New(r.logger)
	return r
}

// Start schedules the periodic garbage collector.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.RLock()
	interval := r.cfg.GCInterval
	r.mu.RUnlock()

	if err := r.janitor.Reschedule(sweepGC, interval, r.collectGarbage); err != nil {
		return fmt.Errorf("failed to schedule garbage collector: %w", err)
	}
	r.janitor.Start()
	r.logger.Debug("Module garbage collector started", "interval", interval)
	return nil
}

// Stop halts the garbage collector. Loaded modules are left untouched.
func (r *Registry) Stop(ctx context.Context) error {
	if err := r.janitor.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop garbage collector: %w", err)
	}
	return nil
}

// Config returns the active configuration.
func (r *Registry) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Reconfigure applies new limits and intervals. Lowered limits apply to
// future registrations and loads; nothing is evicted immediately.
func (r *Registry) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()

	r.mu.Lock()
	oldInterval := r.cfg.GCInterval
	r.cfg = cfg
	r.mu.Unlock()

	if cfg.GCInterval != oldInterval && slices.Contains(r.janitor.Names(), sweepGC) {
		if err := r.janitor.Reschedule(sweepGC, cfg.GCInterval, r.collectGarbage); err != nil {
			return fmt.Errorf("failed to reschedule garbage collector: %w", err)
		}
	}
	return nil
}

func (r *Registry) notify(t Transition) {
	if r.hook != nil {
		r.hook(t)
	}
}

func validateDescriptor(desc Descriptor) error {
	if desc.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDescriptor)
	}
	if desc.Factory == nil {
		return fmt.Errorf("%w: %s has no factory", ErrInvalidDescriptor, desc.ID)
	}
	if desc.Priority < MinPriority || desc.Priority > MaxPriority {
		return fmt.Errorf("%w: %s priority %d outside %d-%d", ErrInvalidDescriptor, desc.ID, desc.Priority, MinPriority, MaxPriority)
	}
	return nil
}

// checkRegistrationLocked verifies capacity, dependency presence and the
// absence of cycles for desc.
func (r *Registry) checkRegistrationLocked(desc Descriptor) error {
	_, known := r.entries[desc.ID]
	if !known && len(r.entries) >= r.cfg.MaxModules {
		return fmt.Errorf("%w: %d modules", ErrCapacityReached, r.cfg.MaxModules)
	}
	for _, dep := range desc.Dependencies {
		if dep == desc.ID {
			return fmt.Errorf("%w: %s depends on itself", ErrCircularDependency, desc.ID)
		}
		if _, ok := r.entries[dep]; !ok {
			return fmt.Errorf("%w: %s depends on %s", ErrDependencyMissing, desc.ID, dep)
		}
	}
	if known {
		for _, dep := range desc.Dependencies {
			if r.reachesLocked(dep, desc.ID, make(map[string]bool)) {
				return fmt.Errorf("%w: %s -> %s", ErrCircularDependency, desc.ID, dep)
			}
		}
	}
	return nil
}

// reachesLocked reports whether target is reachable from node through
// declared dependencies.
func (r *Registry) reachesLocked(node, target string, visited map[string]bool) bool {
	if node == target {
		return true
	}
	if visited[node] {
		return false
	}
	visited[node] = true
	e, ok := r.entries[node]
	if !ok {
		return false
	}
	for _, dep := range e.desc.Dependencies {
		if r.reachesLocked(dep, target, visited) {
			return true
		}
	}
	return false
}

// Register adds desc to the registry. Dependencies must already be
// registered. Re-registering a known id replaces its descriptor after
// unloading the current instance. Modules that are not lazy, or whose
// priority is above 8, are loaded immediately; a failure of that load is
// recorded in the module state rather than returned.
func (r *Registry) Register(ctx context.Context, desc Descriptor) error {
	if err := validateDescriptor(desc); err != nil {
		return err
	}
	desc.Dependencies = slices.Clone(desc.Dependencies)

	// A known id is replaced only once no load of it is in flight and its
	// current instance is unloaded.
	replacing := false
	r.mu.Lock()
	for {
		if err := r.checkRegistrationLocked(desc); err != nil {
			r.mu.Unlock()
			return err
		}
		old, known := r.entries[desc.ID]
		if known && !replacing {
			replacing = true
			r.logger.Warn("Module already registered, replacing descriptor", "module", desc.ID)
		}
		if call, busy := r.inflight[desc.ID]; busy {
			r.mu.Unlock()
			select {
			case <-call.done:
			case <-ctx.Done():
				return fmt.Errorf("register %s: waiting for in-flight load: %w", desc.ID, ctx.Err())
			}
			r.mu.Lock()
			continue
		}
		if known && old.state.Status == StatusLoaded {
			r.mu.Unlock()
			if err := r.Unload(ctx, desc.ID); err != nil {
				return fmt.Errorf("failed to unload %s before replacing it: %w", desc.ID, err)
			}
			r.mu.Lock()
			continue
		}
		break
	}
	if old, ok := r.entries[desc.ID]; ok {
		for _, dep := range old.desc.Dependencies {
			delete(r.dependents[dep], desc.ID)
		}
		r.totalMemory -= old.state.MemoryUsage
	} else {
		r.order = append(r.order, desc.ID)
	}
	r.generation++
	r.entries[desc.ID] = &entry{
		desc:  desc,
		state: State{ID: desc.ID, Status: StatusLoading},
		gen:   r.generation,
	}
	for _, dep := range desc.Dependencies {
		if r.dependents[dep] == nil {
			r.dependents[dep] = make(map[string]struct{})
		}
		r.dependents[dep][desc.ID] = struct{}{}
	}
	autoLoad := !desc.Lazy || desc.Priority > CriticalPriority || r.cfg.EagerLoading
	r.mu.Unlock()

	r.logger.Debug("Module registered", "module", desc.ID, "version", desc.Version, "priority", desc.Priority, "dependencies", desc.Dependencies)
	r.notify(Transition{ID: desc.ID, To: StatusLoading})

	if autoLoad {
		if _, err := r.Load(ctx, desc.ID); err != nil {
			r.logger.Warn("Automatic module load failed", "module", desc.ID, "error", err)
		}
	}
	return nil
}

// Load returns the module instance, loading it and its dependencies first
// if needed. Concurrent calls for one id share a single factory invocation;
// callers that join an in-flight load give up after LoadWaitTimeout.
func (r *Registry) Load(ctx context.Context, id string) (any, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	if e.state.Status == StatusLoaded {
		instance := e.state.Instance
		r.mu.Unlock()
		return instance, nil
	}
	if call, ok := r.inflight[id]; ok {
		r.mu.Unlock()
		return r.await(ctx, id, call, true)
	}

	call := &loadCall{done: make(chan struct{})}
	r.inflight[id] = call
	desc := e.desc
	gen := e.gen
	from := e.state.Status
	e.state.Status = StatusLoading
	e.state.Err = nil
	e.state.Error = ""
	r.mu.Unlock()

	if from != StatusLoading {
		r.notify(Transition{ID: id, From: from, To: StatusLoading})
	}

	// The load belongs to every waiter, so it outlives the caller's cancellation.
	go r.run(context.WithoutCancel(ctx), desc, gen, call)
	return r.await(ctx, id, call, false)
}

func (r *Registry) await(ctx context.Context, id string, call *loadCall, joined bool) (any, error) {
	var timeout <-chan time.Time
	if joined {
		r.mu.RLock()
		wait := r.cfg.LoadWaitTimeout
		r.mu.RUnlock()
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-call.done:
		return call.instance, call.err
	case <-ctx.Done():
		return nil, fmt.Errorf("load %s: %w", id, ctx.Err())
	case <-timeout:
		return nil, fmt.Errorf("%w: %s", ErrLoadWaitTimeout, id)
	}
}

// run performs one load cycle and publishes its result on call.
func (r *Registry) run(ctx context.Context, desc Descriptor, gen uint64, call *loadCall) {
	instance, err := r.loadOnce(ctx, desc, gen)

	r.mu.Lock()
	delete(r.inflight, desc.ID)
	r.mu.Unlock()

	call.instance, call.err = instance, err
	close(call.done)
}

func (r *Registry) loadOnce(ctx context.Context, desc Descriptor, gen uint64) (any, error) {
	for _, dep := range desc.Dependencies {
		if _, err := r.Load(ctx, dep); err != nil {
			return nil, r.fail(desc.ID, fmt.Errorf("%w: %s requires %s: %w", ErrDependencyFailed, desc.ID, dep, err))
		}
	}

	start := time.Now()
	instance, err := r.invokeFactory(ctx, desc)
	loadTime := time.Since(start)
	if err != nil {
		return nil, r.fail(desc.ID, err)
	}

	size := r.estimator.Estimate(instance)

	r.mu.Lock()
	e, ok := r.entries[desc.ID]
	if !ok || e.gen != gen {
		r.mu.Unlock()
		r.cleanup(desc.ID, instance)
		return nil, fmt.Errorf("%w: %s was unregistered or replaced while loading", ErrModuleNotFound, desc.ID)
	}
	// A dependency may have been unloaded while the factory ran.
	if dep, ok := r.unloadedDependencyLocked(desc); !ok {
		r.mu.Unlock()
		r.cleanup(desc.ID, instance)
		return nil, r.fail(desc.ID, fmt.Errorf("%w: %s requires %s, which was unloaded while loading", ErrDependencyFailed, desc.ID, dep))
	}
	budget := r.cfg.memoryBudget()
	if r.totalMemory+size > budget {
		used := r.totalMemory
		r.mu.Unlock()
		r.cleanup(desc.ID, instance)
		return nil, r.fail(desc.ID, fmt.Errorf("%w: %s needs %d bytes, %d of %d in use", ErrMemoryLimit, desc.ID, size, used, budget))
	}
	e.state.Status = StatusLoaded
	e.state.Instance = instance
	e.state.MemoryUsage = size
	e.state.LoadTime = loadTime
	r.totalMemory += size
	r.mu.Unlock()

	r.logger.Info("Module loaded", "module", desc.ID, "loadTime", loadTime, "memoryUsage", size)
	r.notify(Transition{ID: desc.ID, From: StatusLoading, To: StatusLoaded})
	return instance, nil
}

// invokeFactory runs the factory under FactoryTimeout. A factory that
// outlives the timeout has its eventual instance cleaned up.
func (r *Registry) invokeFactory(ctx context.Context, desc Descriptor) (any, error) {
	r.mu.RLock()
	timeout := r.cfg.FactoryTimeout
	r.mu.RUnlock()

	fctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type result struct {
		instance any
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("%w: %s: %v", ErrFactoryPanicked, desc.ID, p)}
			}
		}()
		instance, err := desc.Factory(fctx)
		ch <- result{instance: instance, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil && !errors.Is(res.err, ErrFactoryPanicked) {
			return nil, fmt.Errorf("%w: %s: %w", ErrFactoryFailed, desc.ID, res.err)
		}
		return res.instance, res.err
	case <-fctx.Done():
		go func() {
			if res := <-ch; res.err == nil {
				r.cleanup(desc.ID, res.instance)
			}
		}()
		return nil, fmt.Errorf("%w: %s after %s", ErrLoadTimeout, desc.ID, timeout)
	}
}

// fail moves a module into the error state and returns err.
func (r *Registry) fail(id string, err error) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return err
	}
	from := e.state.Status
	e.state.Status = StatusError
	e.state.Err = err
	e.state.Error = err.Error()
	e.state.Instance = nil
	e.state.MemoryUsage = 0
	r.mu.Unlock()

	r.logger.Error("Module load failed", "module", id, "error", err)
	r.notify(Transition{ID: id, From: from, To: StatusError, Err: err})
	return err
}

func (r *Registry) cleanup(id string, instance any) {
	c, ok := instance.(Cleaner)
	if !ok {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Module cleanup panicked", "module", id, "panic", p)
		}
	}()
	if err := c.Cleanup(); err != nil {
		r.logger.Error("Module cleanup failed", "module", id, "error", err)
	}
}

// Unload releases a loaded module and moves it to suspended. Loaded modules
// that depend on it are unloaded first. Unloading a module that is not
// loaded is a no-op.
func (r *Registry) Unload(ctx context.Context, id string) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	if !ok || e.state.Status != StatusLoaded {
		r.mu.RUnlock()
		return nil
	}
	loadedDependents := r.loadedDependentsLocked(id)
	r.mu.RUnlock()

	for _, dep := range loadedDependents {
		r.logger.Debug("Unloading dependent module first", "module", id, "dependent", dep)
		if err := r.Unload(ctx, dep); err != nil {
			return err
		}
	}

	r.mu.Lock()
	e, ok = r.entries[id]
	if !ok || e.state.Status != StatusLoaded {
		r.mu.Unlock()
		return nil
	}
	instance := e.state.Instance
	memory := e.state.MemoryUsage
	e.state.Instance = nil
	e.state.Status = StatusSuspended
	e.state.MemoryUsage = 0
	r.totalMemory -= memory
	r.mu.Unlock()

	r.cleanup(id, instance)
	r.logger.Info("Module unloaded", "module", id, "reclaimed", memory)
	r.notify(Transition{ID: id, From: StatusLoaded, To: StatusSuspended})
	return nil
}

// unloadedDependencyLocked returns the first dependency of desc that is not
// loaded, and false, or "" and true when all are loaded.
func (r *Registry) unloadedDependencyLocked(desc Descriptor) (string, bool) {
	for _, dep := range desc.Dependencies {
		if d, ok := r.entries[dep]; !ok || d.state.Status != StatusLoaded {
			return dep, false
		}
	}
	return "", true
}

func (r *Registry) loadedDependentsLocked(id string) []string {
	var ids []string
	for dep := range r.dependents[id] {
		if d, ok := r.entries[dep]; ok && d.state.Status == StatusLoaded {
			ids = append(ids, dep)
		}
	}
	sort.Strings(ids)
	return ids
}

// Unregister unloads and removes a module. It fails while any registered
// module still depends on it.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	if err := r.checkUnregister(id); err != nil {
		return err
	}
	if err := r.Unload(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	if err := r.checkUnregisterLocked(id); err != nil {
		r.mu.Unlock()
		return err
	}
	e := r.entries[id]
	for _, dep := range e.desc.Dependencies {
		delete(r.dependents[dep], id)
		if len(r.dependents[dep]) == 0 {
			delete(r.dependents, dep)
		}
	}
	delete(r.dependents, id)
	delete(r.entries, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	from := e.state.Status
	r.mu.Unlock()

	r.logger.Info("Module unregistered", "module", id)
	r.notify(Transition{ID: id, From: from})
	return nil
}

func (r *Registry) checkUnregister(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkUnregisterLocked(id)
}

func (r *Registry) checkUnregisterLocked(id string) error {
	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	if deps := r.dependents[id]; len(deps) > 0 {
		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Errorf("%w: %s is required by %v", ErrHasDependents, id, names)
	}
	return nil
}

// Get returns a copy of the module state.
func (r *Registry) Get(id string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// Descriptor returns the registered descriptor for id.
func (r *Registry) Descriptor(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Descriptor{}, false
	}
	desc := e.desc
	desc.Dependencies = slices.Clone(desc.Dependencies)
	return desc, true
}

// GetAll returns the state of every module in registration order.
func (r *Registry) GetAll() []State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make([]State, 0, len(r.order))
	for _, id := range r.order {
		states = append(states, r.entries[id].state)
	}
	return states
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// MemoryUsage returns the total memory attributed to loaded modules.
func (r *Registry) MemoryUsage() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalMemory
}

// GetMetrics aggregates module state.
func (r *Registry) GetMetrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := Metrics{MemoryUsage: r.totalMemory}
	var totalLoad time.Duration
	var timed, failed int
	for _, e := range r.entries {
		switch e.state.Status {
		case StatusLoaded:
			m.ActiveModules++
		case StatusError:
			failed++
		}
		if e.state.LoadTime > 0 {
			totalLoad += e.state.LoadTime
			timed++
		}
	}
	if timed > 0 {
		m.AverageResponseTime = totalLoad / time.Duration(timed)
	}
	if len(r.entries) > 0 {
		m.ErrorRate = float64(failed) / float64(len(r.entries))
	}
	return m
}

// PreloadCritical loads every module with priority above 7, highest
// priority first. Failures are logged and skipped.
func (r *Registry) PreloadCritical(ctx context.Context) {
	r.mu.RLock()
	var critical []Descriptor
	for _, id := range r.order {
		if d := r.entries[id].desc; d.Priority > PreloadPriority {
			critical = append(critical, d)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(critical, func(i, j int) bool {
		return critical[i].Priority > critical[j].Priority
	})

	for _, d := range critical {
		if _, err := r.Load(ctx, d.ID); err != nil {
			r.logger.Warn("Failed to preload critical module", "module", d.ID, "priority", d.Priority, "error", err)
			continue
		}
		r.logger.Debug("Preloaded critical module", "module", d.ID, "priority", d.Priority)
	}
}

// UnloadAll unloads every loaded module, dependents before dependencies.
func (r *Registry) UnloadAll(ctx context.Context) error {
	r.mu.RLock()
	ids := slices.Clone(r.order)
	r.mu.RUnlock()

	var errs []error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := r.Unload(ctx, ids[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// collectGarbage evicts the oldest-loading fifth of low-priority modules
// once memory use passes 80% of the budget. Modules at priority 5 or above
// and modules with loaded dependents are never evicted.
func (r *Registry) collectGarbage(ctx context.Context) {
	r.mu.RLock()
	budget := r.cfg.memoryBudget()
	used := r.totalMemory
	if float64(used) <= float64(budget)*gcPressureRatio {
		r.mu.RUnlock()
		return
	}

	type candidate struct {
		id       string
		loadTime time.Duration
	}
	var candidates []candidate
	for _, id := range r.order {
		e := r.entries[id]
		if e.state.Status != StatusLoaded || e.desc.Priority >= EvictablePriority {
			continue
		}
		if len(r.loadedDependentsLocked(id)) > 0 {
			continue
		}
		candidates = append(candidates, candidate{id: id, loadTime: e.state.LoadTime})
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		r.logger.Warn("Module memory under pressure but nothing is evictable", "used", used, "budget", budget)
		return
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].loadTime < candidates[j].loadTime
	})
	n := int(math.Ceil(float64(len(candidates)) * gcEvictRatio))

	r.logger.Info("Collecting low-priority modules", "used", used, "budget", budget, "evicting", n)
	for _, c := range candidates[:n] {
		if err := r.Unload(ctx, c.id); err != nil {
			r.logger.Error("Failed to evict module", "module", c.id, "error", err)
		}
	}
}

// Instance loads id and asserts its instance to T.
func Instance[T any](ctx context.Context, r *Registry, id string) (T, error) {
	var zero T
	instance, err := r.Load(ctx, id)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T", ErrInstanceType, id, instance)
	}
	return typed, nil
}
