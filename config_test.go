package opscore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/opscore/eventbus"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 50, cfg.Modules.MaxModules)
	assert.Equal(t, 512, cfg.Modules.MaxMemoryMB)
	assert.True(t, cfg.Modules.EnableLazyLoading)
	assert.False(t, cfg.Modules.EnableHotReload)
	assert.True(t, cfg.Modules.PreloadCritical)
	assert.Equal(t, 10*time.Second, cfg.Modules.LoadWaitTimeout)
	assert.Equal(t, 30*time.Second, cfg.Modules.FactoryTimeout)

	assert.Equal(t, eventbus.DefaultConfig(), cfg.Events)

	assert.True(t, cfg.Performance.EnableMetrics)
	assert.Equal(t, 256, cfg.Performance.MemoryThresholdMB)
	assert.InDelta(t, 0.05, cfg.Performance.ErrorRateThreshold, 1e-9)
	assert.Equal(t, 100, cfg.Performance.MaxConcurrentUsers)
	assert.Equal(t, 5*time.Second, cfg.Performance.SnapshotInterval)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "opscore.yaml",
			content: `modules:
  maxModules: 12
  enableLazyLoading: false
events:
  batchSize: 20
  batchTimeout: 40ms
performance:
  errorRateThreshold: 0.1
`,
		},
		{
			name: "toml",
			file: "opscore.toml",
			content: `[modules]
maxModules = 12
enableLazyLoading = false

[events]
batchSize = 20
batchTimeout = "40ms"

[performance]
errorRateThreshold = 0.1
`,
		},
		{
			name:    "json",
			file:    "opscore.json",
			content: `{"modules":{"maxModules":12,"enableLazyLoading":false},"events":{"batchSize":20,"batchTimeout":40000000},"performance":{"errorRateThreshold":0.1}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, tt.file, tt.content))
			require.NoError(t, err)

			assert.Equal(t, 12, cfg.Modules.MaxModules)
			assert.False(t, cfg.Modules.EnableLazyLoading)
			assert.Equal(t, 20, cfg.Events.BatchSize)
			assert.Equal(t, 40*time.Millisecond, cfg.Events.BatchTimeout)
			assert.InDelta(t, 0.1, cfg.Performance.ErrorRateThreshold, 1e-9)

			// untouched fields keep their defaults
			assert.Equal(t, 512, cfg.Modules.MaxMemoryMB)
			assert.True(t, cfg.Modules.PreloadCritical)
			assert.Equal(t, eventbus.DefaultMaxListeners, cfg.Events.MaxListeners)
		})
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "opscore.yaml", "modules:\n  maxModules: 12\n")
	t.Setenv("OPSCORE_MODULES_MAX_MODULES", "7")
	t.Setenv("OPSCORE_EVENTS_BATCH_TIMEOUT", "25ms")
	t.Setenv("OPSCORE_PERFORMANCE_ENABLE_METRICS", "false")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Modules.MaxModules)
	assert.Equal(t, 25*time.Millisecond, cfg.Events.BatchTimeout)
	assert.False(t, cfg.Performance.EnableMetrics)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("OPSCORE_MODULES_MAX_MEMORY_MB", "64")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Modules.MaxMemoryMB)
	assert.Equal(t, 50, cfg.Modules.MaxModules)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "opscore.ini", "x=1"))
		assert.ErrorIs(t, err, ErrConfigFeederError)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorIs(t, err, ErrConfigFeederError)
	})

	t.Run("invalid env value", func(t *testing.T) {
		t.Setenv("OPSCORE_MODULES_MAX_MODULES", "many")
		_, err := LoadConfig("")
		assert.ErrorIs(t, err, ErrConfigFeederError)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "opscore.yaml", "modules:\n  maxModules: -1\nperformance:\n  errorRateThreshold: 2\n"))
		require.ErrorIs(t, err, ErrConfigValidationFailed)
		assert.Contains(t, err.Error(), "modules.maxModules")
		assert.Contains(t, err.Error(), "errorRateThreshold")
	})
}

func TestRegistryConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Modules.EnableLazyLoading = false

	rc := cfg.RegistryConfig()
	assert.Equal(t, cfg.Modules.MaxModules, rc.MaxModules)
	assert.Equal(t, cfg.Modules.MaxMemoryMB, rc.MaxMemoryMB)
	assert.True(t, rc.EagerLoading)
	assert.Equal(t, cfg.Modules.FactoryTimeout, rc.FactoryTimeout)
	assert.Equal(t, cfg.Modules.GCInterval, rc.GCInterval)
}

func TestProcessConfigDefaults(t *testing.T) {
	t.Run("rejects invalid targets", func(t *testing.T) {
		assert.ErrorIs(t, ProcessConfigDefaults(nil), ErrConfigNil)
		assert.ErrorIs(t, ProcessConfigDefaults(Config{}), ErrConfigNotPointer)
		n := 1
		assert.ErrorIs(t, ProcessConfigDefaults(&n), ErrConfigNotStruct)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		cfg := Config{Modules: ModuleConfig{MaxModules: 3}}
		require.NoError(t, ProcessConfigDefaults(&cfg))
		assert.Equal(t, 3, cfg.Modules.MaxModules)
		assert.Equal(t, 512, cfg.Modules.MaxMemoryMB)
	})

	t.Run("supported kinds", func(t *testing.T) {
		var cfg struct {
			Name  string        `default:"kitchen"`
			Tags  []string      `default:"[\"a\",\"b\"]"`
			Small int8          `default:"12"`
			Ratio float32       `default:"0.5"`
			Count uint          `default:"4"`
			Wait  time.Duration `default:"2m"`
		}
		require.NoError(t, ProcessConfigDefaults(&cfg))
		assert.Equal(t, "kitchen", cfg.Name)
		assert.Equal(t, []string{"a", "b"}, cfg.Tags)
		assert.Equal(t, int8(12), cfg.Small)
		assert.InDelta(t, 0.5, cfg.Ratio, 1e-9)
		assert.Equal(t, uint(4), cfg.Count)
		assert.Equal(t, 2*time.Minute, cfg.Wait)
	})

	t.Run("overflow", func(t *testing.T) {
		var cfg struct {
			Small int8 `default:"300"`
		}
		assert.ErrorIs(t, ProcessConfigDefaults(&cfg), ErrDefaultValueOverflows)
	})

	t.Run("unsupported type", func(t *testing.T) {
		var cfg struct {
			Lookup map[string]int `default:"{}"`
		}
		assert.ErrorIs(t, ProcessConfigDefaults(&cfg), ErrUnsupportedTypeForDefault)
	})
}

func TestGenerateSampleConfig(t *testing.T) {
	for _, format := range []string{"yaml", "json"} {
		t.Run(format, func(t *testing.T) {
			data, err := GenerateSampleConfig(format)
			require.NoError(t, err)

			cfg, err := LoadConfig(writeConfig(t, "sample."+format, string(data)))
			require.NoError(t, err)
			assert.Equal(t, DefaultConfig(), cfg)
		})
	}

	t.Run("toml", func(t *testing.T) {
		data, err := GenerateSampleConfig("toml")
		require.NoError(t, err)
		assert.Contains(t, string(data), "[modules]")
		assert.Contains(t, string(data), "maxModules = 50")
	})

	_, err := GenerateSampleConfig("xml")
	assert.ErrorIs(t, err, ErrUnsupportedFormatType)
}

func TestDescribeConfig(t *testing.T) {
	fields := DescribeConfig()
	byPath := make(map[string]ConfigField, len(fields))
	for _, f := range fields {
		byPath[f.Path] = f
	}

	f, ok := byPath["modules.maxModules"]
	require.True(t, ok)
	assert.Equal(t, "OPSCORE_MODULES_MAX_MODULES", f.Env)
	assert.Equal(t, "50", f.Default)
	assert.NotEmpty(t, f.Description)

	f, ok = byPath["events.batchTimeout"]
	require.True(t, ok)
	assert.Equal(t, "OPSCORE_EVENTS_BATCH_TIMEOUT", f.Env)
	assert.Equal(t, "16ms", f.Default)

	assert.Contains(t, byPath, "performance.snapshotInterval")
}
