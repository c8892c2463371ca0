// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/aircheck/internal/driver"
	"github.com/ManuGH/aircheck/internal/log"
	"github.com/ManuGH/aircheck/internal/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounceDuration collapses the burst of file events editors emit on save
// into a single reload.
const debounceDuration = 500 * time.Millisecond

// Holder keeps the current configuration and hot-reloads it when the file
// changes. A reload is atomic: if the new file does not materialize, the old
// configuration stays in place.
type Holder struct {
	mu      sync.RWMutex
	current *Configuration

	path    string
	deps    driver.Deps
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	listenerMu sync.RWMutex
	listeners  []func(*Configuration)
}

// NewHolder wraps an initially loaded configuration.
func NewHolder(initial *Configuration, path string, deps driver.Deps) *Holder {
	return &Holder{
		current: initial,
		path:    path,
		deps:    deps,
		logger:  log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() *Configuration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// OnReload registers a callback invoked with the new configuration after
// every successful reload.
func (h *Holder) OnReload(fn func(*Configuration)) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload loads the file again and swaps the configuration in. On failure the
// previous configuration is kept and the error returned.
func (h *Holder) Reload() error {
	h.logger.Info().Str("path", h.path).Msg("reloading configuration")

	cfg, err := Load(h.path, h.deps)
	if err != nil {
		h.logger.Error().Err(err).Msg("configuration reload failed; keeping previous configuration")
		metrics.RecordConfigReload(false)
		return err
	}

	h.mu.Lock()
	h.current = cfg
	h.mu.Unlock()

	metrics.RecordConfigReload(true)
	h.logger.Info().
		Int("sources", len(cfg.Sources)).
		Int("storage", len(cfg.Storage)).
		Msg("configuration reloaded")

	h.listenerMu.RLock()
	listeners := make([]func(*Configuration), len(h.listeners))
	copy(listeners, h.listeners)
	h.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// StartWatcher watches the configuration file until ctx is done, reloading
// on write with a debounce.
func (h *Holder) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(h.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch configuration file: %w", err)
	}
	h.watcher = watcher

	h.logger.Info().Str("path", h.path).Msg("watching configuration file")
	go h.watchLoop(ctx)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context) {
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = h.watcher.Close()
			h.logger.Debug().Msg("configuration watcher stopped")
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			// Write and Create cover both in-place saves and the
			// rename-into-place dance editors do.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDuration, func() {
				_ = h.Reload()
			})

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("configuration watcher error")
		}
	}
}
