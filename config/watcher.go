package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/soundpost/soundpost/errors"
	"github.com/soundpost/soundpost/logger"
)

// Watcher watches the config file for changes and triggers reload callbacks
type Watcher struct {
	configPath     string
	watcher        *fsnotify.Watcher
	callbacks      []ReloadCallback
	mu             sync.RWMutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
}

// ReloadCallback is called with the new config when the file is reloaded
type ReloadCallback func(*Config) error

// NewWatcher creates a new config file watcher
func NewWatcher(configPath string) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	if err := watcher.Add(configPath); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch config file %s", configPath)
	}

	return &Watcher{
		configPath:     configPath,
		watcher:        watcher,
		callbacks:      make([]ReloadCallback, 0),
		debouncePeriod: 500 * time.Millisecond, // Debounce rapid editor writes
	}, nil
}

// OnReload registers a callback to be called when config is reloaded
func (w *Watcher) OnReload(callback ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for config file changes
func (w *Watcher) Start() {
	go w.watchLoop()
}

// Stop stops watching for config changes
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				logger.Debugw("Config watcher detected change",
					"file", event.Name,
					"op", event.Op.String())
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("Config watcher error", "error", err)
		}
	}
}

// scheduleReload debounces rapid file changes and triggers reload
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(w.debouncePeriod, func() {
		if err := w.reload(); err != nil {
			logger.Errorw("Config reload failed", "error", err)
		}
	})
}

// reload reloads the configuration and calls all callbacks
func (w *Watcher) reload() error {
	Reset()

	newConfig, err := Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	logger.Infow("Config reloaded", "path", w.configPath)

	w.mu.RLock()
	callbacks := make([]ReloadCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(newConfig); err != nil {
			logger.Warnw("Config reload callback error", "error", err)
			// Continue calling other callbacks even if one fails
		}
	}

	return nil
}
