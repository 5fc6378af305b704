package opscore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/opscore/eventbus"
	"github.com/GoCodeAlone/opscore/feeders"
	"github.com/GoCodeAlone/opscore/registry"
)

const (
	// EnvPrefix prefixes every environment variable read by LoadConfig.
	EnvPrefix = "OPSCORE"

	tagDefault = "default"
	tagDesc    = "desc"
)

// Config is the externally supplied configuration of the core.
//
// Example YAML configuration:
//
//	modules:
//	  maxModules: 50
//	  maxMemoryMB: 512
//	  enableLazyLoading: true
//	events:
//	  batchSize: 50
//	  batchTimeout: 16ms
//	performance:
//	  memoryThresholdMB: 256
type Config struct {
	Modules     ModuleConfig      `json:"modules" yaml:"modules" toml:"modules" env:"MODULES"`
	Events      eventbus.Config   `json:"events" yaml:"events" toml:"events" env:"EVENTS"`
	Performance PerformanceConfig `json:"performance" yaml:"performance" toml:"performance" env:"PERFORMANCE"`
}

// ModuleConfig configures the module registry.
type ModuleConfig struct {
	MaxModules        int           `json:"maxModules" yaml:"maxModules" toml:"maxModules" env:"MAX_MODULES" default:"50" desc:"Maximum number of registered modules"`
	MaxMemoryMB       int           `json:"maxMemoryMB" yaml:"maxMemoryMB" toml:"maxMemoryMB" env:"MAX_MEMORY_MB" default:"512" desc:"Memory budget for loaded modules in MB"`
	EnableLazyLoading bool          `json:"enableLazyLoading" yaml:"enableLazyLoading" toml:"enableLazyLoading" env:"ENABLE_LAZY_LOADING" default:"true" desc:"Honor the lazy flag of module descriptors"`
	EnableHotReload   bool          `json:"enableHotReload" yaml:"enableHotReload" toml:"enableHotReload" env:"ENABLE_HOT_RELOAD" desc:"Re-apply the config file when it changes"`
	PreloadCritical   bool          `json:"preloadCritical" yaml:"preloadCritical" toml:"preloadCritical" env:"PRELOAD_CRITICAL" default:"true" desc:"Load modules above priority 7 at startup"`
	LoadWaitTimeout   time.Duration `json:"loadWaitTimeout" yaml:"loadWaitTimeout" toml:"loadWaitTimeout" env:"LOAD_WAIT_TIMEOUT" default:"10s" desc:"How long a concurrent load waits for the in-flight load"`
	FactoryTimeout    time.Duration `json:"factoryTimeout" yaml:"factoryTimeout" toml:"factoryTimeout" env:"FACTORY_TIMEOUT" default:"30s" desc:"Maximum duration of one module factory call"`
	GCInterval        time.Duration `json:"gcInterval" yaml:"gcInterval" toml:"gcInterval" env:"GC_INTERVAL" default:"30s" desc:"Interval of the module garbage collector"`
}

// PerformanceConfig configures the performance monitor.
type PerformanceConfig struct {
	EnableMetrics      bool          `json:"enableMetrics" yaml:"enableMetrics" toml:"enableMetrics" env:"ENABLE_METRICS" default:"true" desc:"Record periodic performance snapshots"`
	MemoryThresholdMB  int           `json:"memoryThresholdMB" yaml:"memoryThresholdMB" toml:"memoryThresholdMB" env:"MEMORY_THRESHOLD_MB" default:"256" desc:"Overall memory threshold in MB"`
	ErrorRateThreshold float64       `json:"errorRateThreshold" yaml:"errorRateThreshold" toml:"errorRateThreshold" env:"ERROR_RATE_THRESHOLD" default:"0.05" desc:"Error rate at or above which the core is unhealthy"`
	MaxConcurrentUsers int           `json:"maxConcurrentUsers" yaml:"maxConcurrentUsers" toml:"maxConcurrentUsers" env:"MAX_CONCURRENT_USERS" default:"100" desc:"Expected concurrent users (informational)"`
	SnapshotInterval   time.Duration `json:"snapshotInterval" yaml:"snapshotInterval" toml:"snapshotInterval" env:"SNAPSHOT_INTERVAL" default:"5s" desc:"Interval of performance snapshots"`
}

// DefaultConfig returns a Config populated from the default tags.
func DefaultConfig() Config {
	var cfg Config
	if err := ProcessConfigDefaults(&cfg); err != nil {
		panic(fmt.Sprintf("opscore: invalid default tag: %v", err))
	}
	return cfg
}

// LoadConfig builds a Config from defaults, then the optional file at path,
// then OPSCORE_* environment variables, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var sources []feeders.Feeder
	if path != "" {
		f, err := feeders.ForFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrConfigFeederError, err)
		}
		sources = append(sources, f)
	}
	sources = append(sources, feeders.NewAffixedEnvFeeder(EnvPrefix, ""))

	if err := feeders.Feed(&cfg, sources...); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfigFeederError, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be corrected by defaults.
func (c *Config) Validate() error {
	var problems []string
	if c.Modules.MaxModules <= 0 {
		problems = append(problems, "modules.maxModules must be positive")
	}
	if c.Modules.MaxMemoryMB <= 0 {
		problems = append(problems, "modules.maxMemoryMB must be positive")
	}
	if c.Modules.LoadWaitTimeout < 0 || c.Modules.FactoryTimeout < 0 || c.Modules.GCInterval < 0 {
		problems = append(problems, "modules durations cannot be negative")
	}
	if err := c.Events.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Events.BatchSize <= 0 {
		problems = append(problems, "events.batchSize must be positive")
	}
	if c.Performance.MemoryThresholdMB <= 0 {
		problems = append(problems, "performance.memoryThresholdMB must be positive")
	}
	if c.Performance.ErrorRateThreshold < 0 || c.Performance.ErrorRateThreshold > 1 {
		problems = append(problems, "performance.errorRateThreshold must be within 0-1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigValidationFailed, strings.Join(problems, "; "))
	}
	return nil
}

// RegistryConfig maps the module section onto the registry configuration.
func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{
		MaxModules:      c.Modules.MaxModules,
		MaxMemoryMB:     c.Modules.MaxMemoryMB,
		EagerLoading:    !c.Modules.EnableLazyLoading,
		LoadWaitTimeout: c.Modules.LoadWaitTimeout,
		FactoryTimeout:  c.Modules.FactoryTimeout,
		GCInterval:      c.Modules.GCInterval,
	}
}

// ProcessConfigDefaults applies default values to a config struct based on struct tags.
// It looks for `default:"value"` tags on struct fields and sets the field value if currently zero.
// Durations use time.ParseDuration syntax.
func ProcessConfigDefaults(cfg any) error {
	if cfg == nil {
		return ErrConfigNil
	}

	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return ErrConfigNotPointer
	}

	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return ErrConfigNotStruct
	}

	return processStructDefaults(v)
}

// processStructDefaults recursively processes struct fields for default values
func processStructDefaults(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := processStructDefaults(field); err != nil {
				return err
			}
			continue
		}

		defaultVal, hasDefault := fieldType.Tag.Lookup(tagDefault)
		if !hasDefault || !field.IsZero() {
			continue
		}

		if err := setDefaultValue(field, defaultVal); err != nil {
			return fmt.Errorf("failed to set default value for %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

// setDefaultValue sets a default value from a string to the proper field type
func setDefaultValue(field reflect.Value, defaultVal string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(defaultVal)
		if err != nil {
			return fmt.Errorf("failed to parse duration value: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(defaultVal)
	case reflect.Bool:
		b, err := strconv.ParseBool(defaultVal)
		if err != nil {
			return fmt.Errorf("failed to parse bool value: %w", err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(defaultVal, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse int value: %w", err)
		}
		if field.OverflowInt(i) {
			return fmt.Errorf("%w: %d overflows %s", ErrDefaultValueOverflows, i, field.Type())
		}
		field.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(defaultVal, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse uint value: %w", err)
		}
		if field.OverflowUint(u) {
			return fmt.Errorf("%w: %d overflows %s", ErrDefaultValueOverflows, u, field.Type())
		}
		field.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(defaultVal, 64)
		if err != nil {
			return fmt.Errorf("failed to parse float value: %w", err)
		}
		if field.OverflowFloat(f) {
			return fmt.Errorf("%w: %f overflows %s", ErrDefaultValueOverflows, f, field.Type())
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("%w: %s", ErrUnsupportedTypeForDefault, field.Type())
		}
		var strs []string
		if err := json.Unmarshal([]byte(defaultVal), &strs); err != nil {
			return fmt.Errorf("failed to unmarshal JSON array: %w", err)
		}
		field.Set(reflect.ValueOf(strs).Convert(field.Type()))
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedTypeForDefault, field.Kind())
	}
	return nil
}

// GenerateSampleConfig renders the default configuration in the given
// format ("yaml", "toml" or "json").
func GenerateSampleConfig(format string) ([]byte, error) {
	cfg := DefaultConfig()

	switch strings.ToLower(format) {
	case "yaml", "yml":
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal to YAML: %w", err)
		}
		return data, nil
	case "json":
		data, err := json.MarshalIndent(&cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal to JSON: %w", err)
		}
		return data, nil
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to marshal to TOML: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormatType, format)
	}
}

// ConfigField documents one configuration knob.
type ConfigField struct {
	Path        string `json:"path"`
	Env         string `json:"env"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// DescribeConfig lists every configuration knob with its environment
// variable, default and description.
func DescribeConfig() []ConfigField {
	env := feeders.NewAffixedEnvFeeder(EnvPrefix, "")
	var fields []ConfigField
	describeStruct(reflect.TypeOf(Config{}), "", "", env, &fields)
	return fields
}

func describeStruct(t reflect.Type, path, envPath string, env feeders.AffixedEnvFeeder, out *[]ConfigField) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.Split(f.Tag.Get("yaml"), ",")[0]
		if name == "" {
			name = f.Name
		}
		fieldPath := name
		if path != "" {
			fieldPath = path + "." + name
		}
		envName := f.Tag.Get("env")
		if envPath != "" && envName != "" {
			envName = envPath + "_" + envName
		}

		if f.Type.Kind() == reflect.Struct {
			describeStruct(f.Type, fieldPath, envName, env, out)
			continue
		}
		*out = append(*out, ConfigField{
			Path:        fieldPath,
			Env:         env.EnvName(envName),
			Default:     f.Tag.Get(tagDefault),
			Description: f.Tag.Get(tagDesc),
		})
	}
}
