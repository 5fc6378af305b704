package registry

import (
	"fmt"
	"time"
)

const (
	DefaultMaxModules      = 50
	DefaultMaxMemoryMB     = 512
	DefaultLoadWaitTimeout = 10 * time.Second
	DefaultFactoryTimeout  = 30 * time.Second
	DefaultGCInterval      = 30 * time.Second

	// CriticalPriority is the highest priority that is still neither
	// preloaded nor force-loaded on registration.
	CriticalPriority = 8
	// PreloadPriority is the threshold above which PreloadCritical loads.
	PreloadPriority = 7
	// EvictablePriority is the lowest priority the collector never evicts.
	EvictablePriority = 5

	MinPriority = 0
	MaxPriority = 10

	gcPressureRatio = 0.8
	gcEvictRatio    = 0.2
)

// Config controls registry capacity and timing.
type Config struct {
	// MaxModules caps the number of registered modules.
	MaxModules int `json:"maxModules" yaml:"maxModules"`

	// MaxMemoryMB is the memory budget for loaded instances.
	MaxMemoryMB int `json:"maxMemoryMB" yaml:"maxMemoryMB"`

	// EagerLoading loads every module on registration, ignoring Lazy.
	EagerLoading bool `json:"eagerLoading" yaml:"eagerLoading"`

	// LoadWaitTimeout bounds how long a concurrent Load waits for the
	// in-flight load of the same module.
	LoadWaitTimeout time.Duration `json:"loadWaitTimeout" yaml:"loadWaitTimeout"`

	// FactoryTimeout bounds a single factory invocation. Zero disables it.
	FactoryTimeout time.Duration `json:"factoryTimeout" yaml:"factoryTimeout"`

	// GCInterval is how often the collector audits memory.
	GCInterval time.Duration `json:"gcInterval" yaml:"gcInterval"`
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		MaxModules:      DefaultMaxModules,
		MaxMemoryMB:     DefaultMaxMemoryMB,
		LoadWaitTimeout: DefaultLoadWaitTimeout,
		FactoryTimeout:  DefaultFactoryTimeout,
		GCInterval:      DefaultGCInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxModules <= 0 {
		c.MaxModules = d.MaxModules
	}
	if c.MaxMemoryMB <= 0 {
		c.MaxMemoryMB = d.MaxMemoryMB
	}
	if c.LoadWaitTimeout <= 0 {
		c.LoadWaitTimeout = d.LoadWaitTimeout
	}
	if c.FactoryTimeout < 0 {
		c.FactoryTimeout = 0
	}
	if c.GCInterval <= 0 {
		c.GCInterval = d.GCInterval
	}
	return c
}

// Validate reports values that cannot be defaulted.
func (c Config) Validate() error {
	if c.MaxModules < 0 || c.MaxMemoryMB < 0 {
		return fmt.Errorf("%w: maxModules=%d maxMemoryMB=%d", ErrInvalidConfig, c.MaxModules, c.MaxMemoryMB)
	}
	return nil
}

func (c Config) memoryBudget() int64 {
	return int64(c.MaxMemoryMB) * 1024 * 1024
}
