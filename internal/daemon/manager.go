// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon manages the process lifecycle: the status HTTP server and
// orderly shutdown of the daemon's subsystems.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/aircheck/internal/log"
	"github.com/rs/zerolog"
)

// Config holds the status server settings.
type Config struct {
	// ListenAddr is the status server address; empty disables the server.
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return c
}

// ShutdownHook is a cleanup step run during graceful shutdown. Hooks run in
// reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager runs the status server and coordinates shutdown.
type Manager struct {
	cfg     Config
	handler http.Handler
	server  *http.Server

	mu       sync.Mutex
	hooks    []namedHook
	started  bool
	stopping bool

	logger zerolog.Logger
}

// NewManager creates a lifecycle manager serving handler on cfg.ListenAddr.
func NewManager(cfg Config, handler http.Handler) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		handler: handler,
		logger:  log.WithComponent("daemon"),
	}
}

// RegisterShutdownHook adds a cleanup step; hooks run LIFO during Shutdown.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}

// Start serves until ctx is done or the server fails, then shuts down.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("daemon manager already started")
	}
	m.started = true
	m.mu.Unlock()

	errCh := make(chan error, 1)
	if m.cfg.ListenAddr != "" {
		m.server = &http.Server{
			Addr:              m.cfg.ListenAddr,
			Handler:           m.handler,
			ReadTimeout:       m.cfg.ReadTimeout,
			ReadHeaderTimeout: m.cfg.ReadTimeout / 2,
			WriteTimeout:      m.cfg.WriteTimeout,
			IdleTimeout:       m.cfg.IdleTimeout,
		}
		go func() {
			m.logger.Info().Str("addr", m.cfg.ListenAddr).Msg("status server listening")
			if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("status server: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		m.logger.Error().Err(err).Msg("server error, initiating shutdown")
		shutdownCtx, cancel := m.boundedShutdownContext(ctx)
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := m.boundedShutdownContext(ctx)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	}
}

// boundedShutdownContext is detached from the caller's cancellation so
// shutdown can complete after the parent context is gone, but still bounded.
func (m *Manager) boundedShutdownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
}

// Shutdown stops the status server and runs the registered hooks in LIFO
// order. It is idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	hooks := make([]namedHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	m.logger.Info().Msg("shutting down")

	var errs []error
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("status server shutdown: %w", err))
		}
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		started := time.Now()
		if err := h.hook(ctx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", h.name).
				Dur("duration", time.Since(started)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", h.name).
			Dur("duration", time.Since(started)).
			Msg("shutdown hook completed")
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Msg("daemon stopped cleanly")
	return nil
}
