package opscore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opscore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modules:\n  enableHotReload: true\nevents:\n  batchSize: 20\n"), 0o600))

	logger := &testLogger{}
	core, err := New(WithLogger(logger), WithConfigFile(path), WithoutCatalog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Stop(context.Background()) })
	require.NoError(t, core.Start(context.Background()))
	require.Equal(t, 20, core.Config().Events.BatchSize)

	require.NoError(t, os.WriteFile(path, []byte("modules:\n  enableHotReload: true\nevents:\n  batchSize: 30\n"), 0o600))
	assert.Eventually(t, func() bool {
		return core.Bus().Config().BatchSize == 30
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 30, core.Config().Events.BatchSize)

	// an invalid file is logged and leaves the active config in place
	require.NoError(t, os.WriteFile(path, []byte("modules:\n  enableHotReload: true\nevents:\n  batchSize: -4\n"), 0o600))
	assert.Eventually(t, func() bool {
		return logger.has("error", "Failed to reload config")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 30, core.Config().Events.BatchSize)
}

func TestConfigWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opscore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("events:\n  batchSize: 20\n"), 0o600))

	applied := make(chan Config, 4)
	w, err := newConfigWatcher(path, func(cfg Config) error {
		applied <- cfg
		return nil
	}, &testLogger{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600))
	select {
	case <-applied:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(3 * reloadDebounce):
	}

	require.NoError(t, os.WriteFile(path, []byte("events:\n  batchSize: 25\n"), 0o600))
	select {
	case cfg := <-applied:
		assert.Equal(t, 25, cfg.Events.BatchSize)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not applied")
	}

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestHotReloadRequiresFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Modules.EnableHotReload = true
	core := newTestCore(t, WithConfig(cfg), WithoutCatalog())
	require.NoError(t, core.Start(context.Background()))
	assert.Nil(t, core.watcher)
}

func TestStartFailsWhenConfigDirCannotBeWatched(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "conf")
	require.NoError(t, os.Mkdir(dir, 0o700))
	path := filepath.Join(dir, "opscore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modules:\n  enableHotReload: true\n"), 0o600))

	core, err := New(WithLogger(&testLogger{}), WithConfigFile(path), WithoutCatalog())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	err = core.Start(context.Background())
	require.ErrorIs(t, err, ErrCoreFailed)
	assert.Equal(t, StatusFailed, core.Status())

	// nothing keeps sweeping after a failed start
	assert.False(t, core.jobs.Running())
	assert.NotContains(t, core.jobs.Names(), jobSnapshot)
	assert.NoError(t, core.Stop(context.Background()))
}
