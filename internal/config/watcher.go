// internal/config/watcher.go
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/valpere/ecomscrapexter/internal/utils"
)

// Watcher reloads the configuration file when it changes and hands every
// valid reload to the registered callbacks. Invalid reloads are logged and
// ignored.
type Watcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	logger     *slog.Logger

	mu        sync.RWMutex
	callbacks []func(*Config)
	stopped   bool
	done      chan struct{}
}

// NewWatcher starts watching configPath.
func NewWatcher(configPath string, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Editors often replace the file instead of writing it, so the
	// directory is watched and events are filtered by name.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		watcher:    fw,
		configPath: abs,
		logger:     utils.Component(logger, "config-watcher"),
		done:       make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

// OnChange registers a callback for valid reloads.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

func (w *Watcher) watch() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == w.configPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	w.mu.RLock()
	if w.stopped {
		w.mu.RUnlock()
		return
	}
	callbacks := slices.Clone(w.callbacks)
	w.mu.RUnlock()

	cfg, err := LoadFromFile(w.configPath)
	if err != nil {
		w.logger.Warn("ignoring invalid configuration change", "path", w.configPath, "error", err)
		return
	}
	w.logger.Info("configuration reloaded", "path", w.configPath)
	for _, cb := range callbacks {
		cb(cfg)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	err := w.watcher.Close()
	<-w.done
	return err
}
