package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/docsieve/docsieve/pkg/logger"
)

// Watcher reloads the config file when it changes and notifies subscribers.
// It watches the parent directory rather than the file itself, because most
// editors and config management tools replace files by rename, which would
// silently detach a file-level watch.
type Watcher struct {
	mu         sync.RWMutex
	fsw        *fsnotify.Watcher
	loader     *Loader
	configPath string
	callbacks  []func(*Config)
	debounce   time.Duration
	stopCh     chan struct{}
	running    bool
}

// WatcherOption adjusts watcher behavior.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits after the last write before
// reloading. Editors often produce several events per save.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(configPath string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required for watching")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fsw:        fsw,
		loader:     loader,
		configPath: filepath.Clean(configPath),
		debounce:   500 * time.Millisecond,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch blocks, reloading on changes, until the context is cancelled or Stop
// is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if err := w.fsw.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}

	// The timer stays stopped until a relevant event arms it; each further
	// event pushes the reload out again.
	pending := time.NewTimer(time.Hour)
	if !pending.Stop() {
		<-pending.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.stopCh:
			return nil

		case <-pending.C:
			w.reload()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.concernsConfig(event) {
				continue
			}
			if !pending.Stop() {
				select {
				case <-pending.C:
				default:
				}
			}
			pending.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err, "path", w.configPath)
		}
	}
}

func (w *Watcher) concernsConfig(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.configPath {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// reload re-merges the config and notifies subscribers in registration
// order. A file that fails validation keeps the previous config in effect.
func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.configPath, nil)
	if err != nil {
		logger.Warn("config reload rejected", "error", err, "path", w.configPath)
		return
	}

	w.mu.RLock()
	callbacks := append(([]func(*Config))(nil), w.callbacks...)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		w.invoke(cb, cfg)
	}
}

func (w *Watcher) invoke(cb func(*Config), cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("config change callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	cb(cfg)
}

// OnChange registers a callback invoked with each successfully reloaded
// config.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Stop ends the watch and releases the fsnotify resources.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.fsw.Close()
}

// IsRunning reports whether Watch is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// ConfigPath returns the watched file.
func (w *Watcher) ConfigPath() string {
	return w.configPath
}

// HotReloadableConfig holds the settings that take effect without a restart:
// the value-gate confidence thresholds and the log level. Everything else
// requires a restart.
type HotReloadableConfig struct {
	LogLevel          string
	LogFormat         string
	Thresholds        map[string]float64
	ThresholdFallback float64
}

// ExtractHotReloadable copies the hot-reloadable values out of a Config.
func ExtractHotReloadable(cfg *Config) HotReloadableConfig {
	thresholds := make(map[string]float64, len(cfg.Bus.Thresholds))
	for k, v := range cfg.Bus.Thresholds {
		thresholds[k] = v
	}
	return HotReloadableConfig{
		LogLevel:          cfg.Log.Level,
		LogFormat:         cfg.Log.Format,
		Thresholds:        thresholds,
		ThresholdFallback: cfg.Bus.ThresholdFallback,
	}
}

// Changed reports whether any hot-reloadable value differs.
func (h HotReloadableConfig) Changed(other HotReloadableConfig) bool {
	if h.LogLevel != other.LogLevel ||
		h.LogFormat != other.LogFormat ||
		h.ThresholdFallback != other.ThresholdFallback {
		return true
	}
	if len(h.Thresholds) != len(other.Thresholds) {
		return true
	}
	for k, v := range h.Thresholds {
		if ov, ok := other.Thresholds[k]; !ok || ov != v {
			return true
		}
	}
	return false
}
