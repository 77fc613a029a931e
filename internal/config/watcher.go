package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/linkcap/linkcap/internal/observability"
)

// ReloadCallback receives the freshly loaded config after a change on disk
type ReloadCallback func(cfg *Config)

// Watcher monitors the config file and reloads it on change. Only a
// subset of settings is safe to apply at runtime; the callback decides
// which ones take effect.
type Watcher struct {
	watcher            *fsnotify.Watcher
	loader             *Loader
	configPath         string
	stabilityThreshold time.Duration
	onReload           ReloadCallback
	log                zerolog.Logger
	done               chan struct{}
	debounceTimer      *time.Timer
	debounceMu         sync.Mutex
	stopOnce           sync.Once
}

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	ConfigPath         string
	StabilityThreshold time.Duration
	OnReload           ReloadCallback
	Logger             zerolog.Logger
}

// NewWatcher creates a new config file watcher
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.ConfigPath == "" {
		return nil, fmt.Errorf("config path is required")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if config.StabilityThreshold == 0 {
		config.StabilityThreshold = 500 * time.Millisecond
	}

	return &Watcher{
		watcher:            watcher,
		loader:             NewLoader(config.ConfigPath),
		configPath:         config.ConfigPath,
		stabilityThreshold: config.StabilityThreshold,
		onReload:           config.OnReload,
		log:                config.Logger,
		done:               make(chan struct{}),
	}, nil
}

// Start starts watching the config file
func (w *Watcher) Start() error {
	// Watch the parent directory; editors commonly replace the file via
	// rename, which drops a watch registered on the file itself.
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop()

	w.log.Info().
		Str("path", w.configPath).
		Msg("Config watcher started")

	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.log.Info().Msg("Config watcher stopped")
	return nil
}

// eventLoop processes file system events
func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

// handleEvent handles a file system event
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	// Debounce rapid successive writes to the same file
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(w.stabilityThreshold, func() {
		select {
		case <-w.done:
			return
		default:
			w.reload()
		}
	})
}

// reload re-reads the config file and hands the result to the callback
func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.log.Warn().
			Err(err).
			Str("path", w.configPath).
			Msg("Config reload failed, keeping current settings")
		return
	}

	if errs := NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		w.log.Warn().
			Errs("errors", errs).
			Str("path", w.configPath).
			Msg("Config reload rejected, keeping current settings")
		return
	}

	if w.onReload != nil {
		w.onReload(cfg)
	}

	observability.RecordConfigAudit(context.Background(), "config_reloaded", w.configPath, map[string]interface{}{
		"log_level":  cfg.Logging.Level,
		"login_url":  cfg.Capture.LoginURL,
		"verify_url": cfg.Capture.VerifyURL,
	})

	w.log.Info().
		Str("path", w.configPath).
		Str("log_level", cfg.Logging.Level).
		Msg("Config reloaded")
}
