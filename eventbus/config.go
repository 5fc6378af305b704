package eventbus

import (
	"fmt"
	"time"
)

const (
	DefaultMaxListeners  = 100
	DefaultBatchSize     = 50
	DefaultBatchTimeout  = 16 * time.Millisecond
	DefaultMemoryLimitMB = 50
	DefaultSweepInterval = time.Second

	// Fixed per-item estimates used by the memory sweep.
	eventMemoryEstimate    = 1024
	listenerMemoryEstimate = 512

	// Back-pressure thresholds, as multiples of the batch size.
	backlogTrimFactor   = 10
	backlogRetainFactor = 5
)

// Config controls listener caps, batching and memory governance.
//
// Example YAML configuration:
//
//	maxListeners: 100
//	batchSize: 50
//	batchTimeout: 16ms
//	memoryLimitMB: 50
type Config struct {
	// MaxListeners caps the number of listeners registered under one pattern.
	MaxListeners int `json:"maxListeners" yaml:"maxListeners" toml:"maxListeners" env:"MAX_LISTENERS" default:"100" desc:"Maximum listeners per pattern"`

	// BatchSize is the number of queued events that triggers a dispatch and
	// the maximum drained per dispatch cycle.
	BatchSize int `json:"batchSize" yaml:"batchSize" toml:"batchSize" env:"BATCH_SIZE" default:"50" desc:"Events dispatched per batch"`

	// BatchTimeout is how long a non-full batch may wait before dispatch.
	BatchTimeout time.Duration `json:"batchTimeout" yaml:"batchTimeout" toml:"batchTimeout" env:"BATCH_TIMEOUT" default:"16ms" desc:"Maximum wait before a partial batch is dispatched"`

	// Debug enables per-event debug logging.
	Debug bool `json:"debug" yaml:"debug" toml:"debug" env:"DEBUG" desc:"Log every emitted event"`

	// MemoryLimitMB bounds the estimated bus memory before the queue is truncated.
	MemoryLimitMB int `json:"memoryLimitMB" yaml:"memoryLimitMB" toml:"memoryLimitMB" env:"MEMORY_LIMIT_MB" default:"50" desc:"Estimated bus memory budget in MB"`

	// SweepInterval controls the back-pressure and memory sweeps.
	SweepInterval time.Duration `json:"sweepInterval" yaml:"sweepInterval" toml:"sweepInterval" env:"SWEEP_INTERVAL" default:"1s" desc:"Interval of the queue sweeps"`
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{
		MaxListeners:  DefaultMaxListeners,
		BatchSize:     DefaultBatchSize,
		BatchTimeout:  DefaultBatchTimeout,
		MemoryLimitMB: DefaultMemoryLimitMB,
		SweepInterval: DefaultSweepInterval,
	}
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxListeners <= 0 {
		c.MaxListeners = d.MaxListeners
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.MemoryLimitMB <= 0 {
		c.MemoryLimitMB = d.MemoryLimitMB
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	return c
}

// Validate reports configuration values that cannot be defaulted.
func (c Config) Validate() error {
	if c.BatchSize < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchSize, c.BatchSize)
	}
	return nil
}

func (c Config) memoryLimitBytes() int64 {
	return int64(c.MemoryLimitMB) * 1024 * 1024
}
