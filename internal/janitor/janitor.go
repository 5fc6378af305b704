// Package janitor runs named periodic sweeps on top of a robfig/cron scheduler.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidInterval = errors.New("janitor: interval must be positive")
	ErrDuplicateSweep  = errors.New("janitor: sweep already registered")
)

// Logger is the subset of the application logger used by the janitor.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// interval is a cron.Schedule with sub-second resolution. cron.Every rounds
// down to whole seconds, which is too coarse for batch sweeps.
type interval time.Duration

func (i interval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(i))
}

// Janitor owns one cron scheduler and the sweeps registered on it.
type Janitor struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  Logger
	started bool
}

// New creates a janitor. A nil logger disables logging.
func New(logger Logger) *Janitor {
	return &Janitor{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// Every registers fn to run every d under name. Sweeps may be added before
// or after Start.
func (j *Janitor) Every(name string, d time.Duration, fn func(ctx context.Context)) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, name)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSweep, name)
	}

	id := j.cron.Schedule(interval(d), cron.FuncJob(func() {
		if j.logger != nil {
			j.logger.Debug("Running sweep", "sweep", name)
		}
		fn(context.Background())
	}))
	j.entries[name] = id
	return nil
}

// Remove unregisters a sweep. Unknown names are ignored.
func (j *Janitor) Remove(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if id, ok := j.entries[name]; ok {
		j.cron.Remove(id)
		delete(j.entries, name)
	}
}

// Reschedule replaces the interval of an existing sweep.
func (j *Janitor) Reschedule(name string, d time.Duration, fn func(ctx context.Context)) error {
	j.Remove(name)
	return j.Every(name, d, fn)
}

// Start begins running sweeps. Calling Start twice is a no-op.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.started {
		return
	}
	j.cron.Start()
	j.started = true
}

// Stop halts the scheduler and waits for running sweeps until ctx is done.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.started {
		j.mu.Unlock()
		return nil
	}
	j.started = false
	done := j.cron.Stop()
	j.mu.Unlock()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		if j.logger != nil {
			j.logger.Error("Sweeps did not finish before shutdown deadline")
		}
		return fmt.Errorf("janitor stop: %w", ctx.Err())
	}
}

// Running reports whether the scheduler has been started and not stopped.
func (j *Janitor) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.started
}

// Names returns the registered sweep names.
func (j *Janitor) Names() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	names := make([]string, 0, len(j.entries))
	for name := range j.entries {
		names = append(names, name)
	}
	return names
}
