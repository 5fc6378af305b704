// Package registry tracks application modules, loads them in dependency
// order, enforces module-count and memory limits, and evicts low-priority
// modules under memory pressure.
package registry

import (
	"context"
	"time"
)

// Factory constructs a module instance. It is invoked at most once per load
// cycle; concurrent loads of the same module share one invocation.
type Factory func(ctx context.Context) (any, error)

// Descriptor declares a module. It is immutable once registered.
type Descriptor struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`

	// Dependencies are module ids that must be registered before this
	// module and are loaded before its factory runs.
	Dependencies []string `json:"dependencies,omitempty"`

	// Lazy modules are not loaded on registration unless Priority > 8.
	Lazy bool `json:"lazy"`

	// Priority ranges from 0 to 10. Modules above 7 are preloaded by
	// PreloadCritical; modules below 5 may be evicted by the collector.
	Priority int `json:"priority"`

	Factory Factory `json:"-"`
}

// Status is the lifecycle state of a registered module.
type Status string

const (
	StatusLoading   Status = "loading"
	StatusLoaded    Status = "loaded"
	StatusError     Status = "error"
	StatusSuspended Status = "suspended"
)

// State is a copy of a module's mutable state.
type State struct {
	ID          string        `json:"id"`
	Status      Status        `json:"status"`
	Instance    any           `json:"-"`
	Err         error         `json:"-"`
	Error       string        `json:"error,omitempty"`
	MemoryUsage int64         `json:"memoryUsage"`
	LoadTime    time.Duration `json:"loadTime"`
}

// Metrics aggregates registry state. EventThroughput is filled in by the
// composition layer.
type Metrics struct {
	MemoryUsage         int64         `json:"memoryUsage"`
	ActiveModules       int           `json:"activeModules"`
	EventThroughput     float64       `json:"eventThroughput"`
	AverageResponseTime time.Duration `json:"averageResponseTime"`
	ErrorRate           float64       `json:"errorRate"`
}

// Transition describes a module state change. From is empty when the module
// was just registered and To is empty when it was unregistered.
type Transition struct {
	ID   string
	From Status
	To   Status
	Err  error
}

// Cleaner is implemented by instances that release resources on unload.
type Cleaner interface {
	Cleanup() error
}

// Sizer is implemented by instances that report their own memory footprint.
type Sizer interface {
	MemoryFootprint() int64
}

// Estimator estimates the memory attributed to a loaded instance. The
// result only needs to grow with instance size.
type Estimator interface {
	Estimate(instance any) int64
}

// EstimatorFunc adapts a function to the Estimator interface.
type EstimatorFunc func(instance any) int64

// Estimate implements Estimator.
func (f EstimatorFunc) Estimate(instance any) int64 {
	return f(instance)
}

// Logger is the structured logger used by the registry.
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
