package opscore

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the bursts of events editors produce on save.
const reloadDebounce = 100 * time.Millisecond

// configWatcher re-reads the config file when it changes and hands the
// result to apply. The parent directory is watched so that files replaced
// by rename are still picked up.
type configWatcher struct {
	path   string
	apply  func(Config) error
	logger Logger

	watcher   *fsnotify.Watcher
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
}

func newConfigWatcher(path string, apply func(Config) error, logger Logger) (*configWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	w := &configWatcher{
		path:    absPath,
		apply:   apply,
		logger:  logger,
		watcher: fsw,
		closeCh: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.processLoop()
	return w, nil
}

func (w *configWatcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *configWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *configWatcher) reload() {
	select {
	case <-w.closeCh:
		return
	default:
	}

	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.logger.Error("Failed to reload config", "path", w.path, "error", err)
		return
	}
	if err := w.apply(cfg); err != nil {
		w.logger.Error("Failed to apply reloaded config", "path", w.path, "error", err)
		return
	}
	w.logger.Info("Config reloaded", "path", w.path)
}

// Close stops the watcher. Pending reloads are discarded.
func (w *configWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closeCh)

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
