package eventbus

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/opscore/internal/janitor"
	"github.com/google/uuid"
)

const (
	sweepBacklog = "eventbus.backlog"
	sweepMemory  = "eventbus.memory"
)

// Logger is the structured logger used by the bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// listener is one registration. removed is set by Off so that batches
// already in flight skip it.
type listener struct {
	id       string
	pattern  string
	matcher  *matcher
	handler  Handler
	priority int
	seq      uint64
	removed  atomic.Bool
}

// Stats is a point-in-time view of the bus counters.
type Stats struct {
	Processed       uint64        `json:"processed"`
	Queued          int           `json:"queued"`
	Listeners       int           `json:"listeners"`
	Patterns        int           `json:"patterns"`
	Dropped         uint64        `json:"dropped"`
	HandlerErrors   uint64        `json:"handlerErrors"`
	EstimatedMemory int64         `json:"estimatedMemory"`
	Uptime          time.Duration `json:"uptime"`
}

// Bus is an in-process publish/subscribe bus with pattern routing,
// priority ordering and batched dispatch.
type Bus struct {
	mu            sync.Mutex
	cfg           Config
	listeners     map[string][]*listener
	patternByID   map[string]string
	listenerCount int
	queue         []Event
	timer         *time.Timer
	seq           uint64
	destroyed     bool
	startedAt     time.Time

	// dispatchMu serializes batches so FIFO holds across them.
	dispatchMu sync.Mutex

	processed     atomic.Uint64
	dropped       atomic.Uint64
	handlerErrors atomic.Uint64

	ctx     context.Context
	cancel  context.CancelFunc
	janitor *janitor.Janitor
	logger  Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a bus and starts its periodic sweeps. Call Destroy to stop them.
func New(cfg Config, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg:         cfg.withDefaults(),
		listeners:   make(map[string][]*listener),
		patternByID: make(map[string]string),
		startedAt:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		logger:      noopLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}

	b.janitor = janitor.New(b.logger)
	b.scheduleSweeps(b.cfg.SweepInterval)
	b.janitor.Start()
	return b
}

func (b *Bus) scheduleSweeps(interval time.Duration) {
	if err := b.janitor.Reschedule(sweepBacklog, interval, func(context.Context) { b.trimBacklog() }); err != nil {
		b.logger.Error("Failed to schedule backlog sweep", "error", err)
	}
	if err := b.janitor.Reschedule(sweepMemory, interval, func(context.Context) { b.enforceMemoryLimit() }); err != nil {
		b.logger.Error("Failed to schedule memory sweep", "error", err)
	}
}

// Config returns the active configuration.
func (b *Bus) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Reconfigure applies a new configuration. Existing listeners above a
// lowered cap are kept; the cap applies to new registrations.
func (b *Bus) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()

	b.mu.Lock()
	oldInterval := b.cfg.SweepInterval
	b.cfg = cfg
	destroyed := b.destroyed
	b.mu.Unlock()

	if !destroyed && cfg.SweepInterval != oldInterval {
		b.scheduleSweeps(cfg.SweepInterval)
	}
	b.logger.Debug("Event bus reconfigured", "batchSize", cfg.BatchSize, "batchTimeout", cfg.BatchTimeout, "maxListeners", cfg.MaxListeners)
	return nil
}

// Emit assigns the event id and timestamp and queues the event. Events with
// priority above 8 are dispatched synchronously before Emit returns, and so
// may be observed ahead of normal events that were queued earlier.
// Emit returns the assigned event id, or "" once the bus is destroyed.
func (b *Bus) Emit(event Event) string {
	event.ID = newEventID()
	event.Timestamp = time.Now()
	b.processed.Add(1)

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		b.dropped.Add(1)
		return ""
	}
	debug := b.cfg.Debug
	if event.IsUrgent() {
		b.mu.Unlock()
		if debug {
			b.logger.Debug("Dispatching urgent event", "type", event.Type, "id", event.ID, "priority", event.Priority)
		}
		b.dispatch([]Event{event})
		return event.ID
	}

	b.queue = append(b.queue, event)
	full := len(b.queue) >= b.cfg.BatchSize
	if !full && b.timer == nil {
		b.timer = time.AfterFunc(b.cfg.BatchTimeout, b.onBatchTimer)
	}
	b.mu.Unlock()

	if debug {
		b.logger.Debug("Event queued", "type", event.Type, "id", event.ID, "source", event.Source)
	}
	if full {
		go b.processBatch()
	}
	return event.ID
}

func (b *Bus) onBatchTimer() {
	b.mu.Lock()
	b.timer = nil
	b.mu.Unlock()
	b.processBatch()
}

// processBatch drains up to one batch from the head of the queue and
// dispatches it.
func (b *Bus) processBatch() int {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	n := min(len(b.queue), b.cfg.BatchSize)
	if n == 0 {
		b.mu.Unlock()
		return 0
	}
	batch := slices.Clone(b.queue[:n])
	b.queue = slices.Clone(b.queue[n:])
	if len(b.queue) > 0 && !b.destroyed {
		b.timer = time.AfterFunc(b.cfg.BatchTimeout, b.onBatchTimer)
	}
	b.mu.Unlock()

	b.dispatch(batch)
	return n
}

// Flush synchronously dispatches every queued event in FIFO batches.
func (b *Bus) Flush(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("flush interrupted: %w", err)
		}
		if b.processBatch() == 0 {
			return nil
		}
	}
}

// dispatch groups events by type, resolves listeners once per type and
// invokes each listener, highest priority first, once per event in arrival
// order.
func (b *Bus) dispatch(events []Event) {
	var types []string
	groups := make(map[string][]Event)
	for _, e := range events {
		if _, ok := groups[e.Type]; !ok {
			types = append(types, e.Type)
		}
		groups[e.Type] = append(groups[e.Type], e)
	}

	for _, eventType := range types {
		matched := b.resolve(eventType)
		for _, l := range matched {
			for _, e := range groups[eventType] {
				if l.removed.Load() {
					break
				}
				b.invoke(l, e)
			}
		}
	}
}

// resolve returns the listeners matching eventType ordered by priority
// descending, then registration order.
func (b *Bus) resolve(eventType string) []*listener {
	b.mu.Lock()
	var matched []*listener
	for _, ls := range b.listeners {
		if len(ls) == 0 || !ls[0].matcher.match(eventType) {
			continue
		}
		matched = append(matched, ls...)
	}
	b.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].priority != matched[j].priority {
			return matched[i].priority > matched[j].priority
		}
		return matched[i].seq < matched[j].seq
	})
	return matched
}

func (b *Bus) invoke(l *listener, e Event) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrHandlerPanicked, r)
			}
		}()
		return l.handler(b.ctx, e)
	}()
	if err == nil {
		return
	}

	b.handlerErrors.Add(1)
	b.logger.Error("Event handler failed", "listener", l.id, "pattern", l.pattern, "type", e.Type, "event", e.ID, "error", err)

	// A failing system.error handler is only logged to avoid feedback loops.
	if e.Type == EventTypeSystemError {
		return
	}
	b.Emit(Event{
		Type:   EventTypeSystemError,
		Source: "eventbus",
		Payload: SystemError{
			Err:        err,
			Message:    err.Error(),
			Event:      e,
			ListenerID: l.id,
		},
	})
}

// On registers handler under pattern and returns the listener id. The
// optional priority defaults to 5; higher runs first.
func (b *Bus) On(pattern string, handler Handler, priority ...int) (string, error) {
	return b.add(uuid.NewString(), pattern, handler, listenerPriority(priority))
}

// Once registers a handler that removes itself before its first invocation.
func (b *Bus) Once(pattern string, handler Handler, priority ...int) (string, error) {
	if handler == nil {
		return "", ErrHandlerNil
	}
	id := uuid.NewString()
	var fired atomic.Bool
	wrapper := func(ctx context.Context, e Event) error {
		if !fired.CompareAndSwap(false, true) {
			return nil
		}
		b.Off(id)
		return handler(ctx, e)
	}
	return b.add(id, pattern, wrapper, listenerPriority(priority))
}

func listenerPriority(priority []int) int {
	if len(priority) > 0 {
		return priority[0]
	}
	return DefaultListenerPriority
}

func (b *Bus) add(id, pattern string, handler Handler, priority int) (string, error) {
	if handler == nil {
		return "", ErrHandlerNil
	}
	m, err := compilePattern(pattern)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return "", ErrBusDestroyed
	}
	if len(b.listeners[pattern]) >= b.cfg.MaxListeners {
		return "", fmt.Errorf("%w for pattern %q (%d)", ErrMaxListeners, pattern, b.cfg.MaxListeners)
	}

	b.seq++
	b.listeners[pattern] = append(b.listeners[pattern], &listener{
		id:       id,
		pattern:  pattern,
		matcher:  m,
		handler:  handler,
		priority: priority,
		seq:      b.seq,
	})
	b.patternByID[id] = pattern
	b.listenerCount++
	return id, nil
}

// Off removes a listener. Unknown ids are ignored.
func (b *Bus) Off(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pattern, ok := b.patternByID[id]
	if !ok {
		return
	}
	delete(b.patternByID, id)

	ls := b.listeners[pattern]
	for i, l := range ls {
		if l.id != id {
			continue
		}
		l.removed.Store(true)
		ls = slices.Delete(ls, i, i+1)
		b.listenerCount--
		break
	}
	if len(ls) == 0 {
		delete(b.listeners, pattern)
		return
	}
	b.listeners[pattern] = ls
}

// ListenerCount returns the number of listeners registered under pattern,
// or across all patterns when pattern is empty.
func (b *Bus) ListenerCount(pattern string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pattern == "" {
		return b.listenerCount
	}
	return len(b.listeners[pattern])
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Processed:       b.processed.Load(),
		Queued:          len(b.queue),
		Listeners:       b.listenerCount,
		Patterns:        len(b.listeners),
		Dropped:         b.dropped.Load(),
		HandlerErrors:   b.handlerErrors.Load(),
		EstimatedMemory: b.estimateMemoryLocked(),
		Uptime:          time.Since(b.startedAt),
	}
}

// Throughput returns processed events per second since the bus was created
// or last destroyed.
func (b *Bus) Throughput() float64 {
	b.mu.Lock()
	elapsed := time.Since(b.startedAt).Seconds()
	b.mu.Unlock()
	if elapsed <= 0 {
		return 0
	}
	return float64(b.processed.Load()) / elapsed
}

func (b *Bus) estimateMemoryLocked() int64 {
	return int64(len(b.queue))*eventMemoryEstimate + int64(b.listenerCount)*listenerMemoryEstimate
}

// trimBacklog drops the oldest events once the queue exceeds ten batches,
// keeping the newest five.
func (b *Bus) trimBacklog() {
	b.mu.Lock()
	limit := b.cfg.BatchSize * backlogTrimFactor
	if len(b.queue) <= limit {
		b.mu.Unlock()
		return
	}
	keep := b.cfg.BatchSize * backlogRetainFactor
	dropped := len(b.queue) - keep
	b.queue = slices.Clone(b.queue[dropped:])
	b.mu.Unlock()

	b.dropped.Add(uint64(dropped))
	b.logger.Warn("Event queue overloaded, dropped oldest events", "dropped", dropped, "retained", keep)
}

// enforceMemoryLimit truncates the queue to one batch when the estimated
// bus memory exceeds the configured limit. Listeners are never removed.
func (b *Bus) enforceMemoryLimit() {
	b.mu.Lock()
	estimate := b.estimateMemoryLocked()
	limit := b.cfg.memoryLimitBytes()
	if estimate <= limit {
		b.mu.Unlock()
		return
	}
	dropped := 0
	if len(b.queue) > b.cfg.BatchSize {
		dropped = len(b.queue) - b.cfg.BatchSize
		b.queue = slices.Clone(b.queue[dropped:])
	}
	listeners := b.listenerCount
	b.mu.Unlock()

	b.dropped.Add(uint64(dropped))
	b.logger.Warn("Event bus memory limit exceeded, consider removing unused listeners",
		"estimatedBytes", estimate, "limitBytes", limit, "dropped", dropped, "listeners", listeners)
}

// Destroy stops the sweeps and any pending batch timer, drops queued
// events, removes every listener and resets the counters. It is safe to
// call more than once.
func (b *Bus) Destroy() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	alreadyDestroyed := b.destroyed
	b.destroyed = true
	b.queue = nil
	for _, ls := range b.listeners {
		for _, l := range ls {
			l.removed.Store(true)
		}
	}
	b.listeners = make(map[string][]*listener)
	b.patternByID = make(map[string]string)
	b.listenerCount = 0
	b.processed.Store(0)
	b.dropped.Store(0)
	b.handlerErrors.Store(0)
	b.startedAt = time.Now()
	b.mu.Unlock()

	if alreadyDestroyed {
		return
	}
	b.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.janitor.Stop(ctx); err != nil {
		b.logger.Warn("Event bus sweeps did not stop cleanly", "error", err)
	}
}
