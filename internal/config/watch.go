package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"dapaggregator/pkg/logging"
)

// Watcher reloads a config file whenever it changes on disk and hands the
// new value to onChange. Rapid successive writes (e.g. an editor's
// write-then-rename) are debounced into a single reload.
type Watcher struct {
	path             string
	debounceInterval time.Duration
	onChange         func(FileConfig)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	running bool
}

// NewWatcher builds a Watcher for the config file at path. debounceInterval
// of 0 defaults to 500ms.
func NewWatcher(path string, debounceInterval time.Duration, onChange func(FileConfig)) *Watcher {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}
	return &Watcher{path: path, debounceInterval: debounceInterval, onChange: onChange}
}

// Start begins watching the config file's directory for changes. It watches
// the directory rather than the file itself so that editors which replace
// the file via rename-over (instead of an in-place write) are still caught.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		w.mu.Unlock()
		return err
	}

	w.watcher = fw
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	go w.run(ctx)

	logging.Info("ConfigWatcher", "watching %s for configuration changes", w.path)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounceInterval, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("ConfigWatcher", err, "filesystem watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logging.Warn("ConfigWatcher", "reload of %s failed, keeping previous configuration: %v", w.path, err)
		return
	}
	logging.Info("ConfigWatcher", "reloaded configuration from %s", w.path)
	w.onChange(cfg)
}

// Stop stops watching and releases the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	close(w.stopCh)

	err := w.watcher.Close()
	w.watcher = nil
	return err
}
