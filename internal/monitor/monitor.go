// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package monitor watches capture subprocesses and reports their exits.
//
// A single background worker polls every watched handle in round-robin
// sweeps, decoupling exit detection from the scheduler's tick loop. The
// worker is started lazily on the first Watch and halted once on daemon
// shutdown; the Monitor is owned by the daemon entry point and handed to
// source drivers, never kept as package-global state.
package monitor

import (
	"sync"
	"time"

	"github.com/ManuGH/aircheck/internal/event"
	"github.com/ManuGH/aircheck/internal/log"
	"github.com/ManuGH/aircheck/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultInterval is the pause between poll sweeps.
const DefaultInterval = 250 * time.Millisecond

// Handle is a non-blocking view of a subprocess. Poll reports the exit code
// once the process has exited; until then exited is false.
type Handle interface {
	Poll() (code int, exited bool)
}

// ExitFunc is invoked exactly once with the subprocess exit code.
// It runs on the monitor worker and must not block.
type ExitFunc func(code int)

type watched struct {
	handle Handle
	onExit ExitFunc
}

// Monitor polls a set of subprocess handles in a background worker.
type Monitor struct {
	// Empty fires at the end of every sweep that leaves the watch set empty.
	Empty event.Emitter[struct{}]

	mu       sync.Mutex
	queue    []watched
	running  bool
	halted   bool
	haltCh   chan struct{}
	haltOnce sync.Once
	interval time.Duration
	logger   zerolog.Logger
}

// New creates a monitor with the default sweep interval.
func New() *Monitor {
	return &Monitor{
		haltCh:   make(chan struct{}),
		interval: DefaultInterval,
		logger:   log.WithComponent("monitor"),
	}
}

// SetInterval overrides the sweep interval. Call before the first Watch.
func (m *Monitor) SetInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.interval = d
	}
}

// Watch enqueues a handle and its exit callback. The first call starts the
// background worker. A handle already present in the watch set is not added
// twice.
func (m *Monitor) Watch(h Handle, onExit ExitFunc) {
	if h == nil || onExit == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted {
		m.logger.Warn().Msg("watch requested after halt; handle will not be polled")
		return
	}
	for _, w := range m.queue {
		if w.handle == h {
			return
		}
	}
	m.queue = append(m.queue, watched{handle: h, onExit: onExit})
	metrics.WatchedProcesses.Set(float64(len(m.queue)))

	if !m.running {
		m.running = true
		go m.loop()
		m.logger.Debug().Msg("process monitor worker started")
	}
}

// Halt requests the worker to stop after its current sweep.
func (m *Monitor) Halt() {
	m.haltOnce.Do(func() {
		m.mu.Lock()
		m.halted = true
		m.mu.Unlock()
		close(m.haltCh)
		m.logger.Debug().Msg("process monitor halt requested")
	})
}

// Running reports whether the background worker has been started and not
// halted. A monitor that never watched anything is not running; shutdown
// paths use this to avoid waiting for an Empty event that cannot fire.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running && !m.halted
}

func (m *Monitor) loop() {
	for {
		select {
		case <-m.haltCh:
			return
		default:
		}

		m.sweep()

		select {
		case <-m.haltCh:
			return
		case <-time.After(m.interval):
		}
	}
}

// sweep polls each queued handle once. Exited handles are dropped after their
// callback runs; live ones are re-enqueued at the tail. The sweep ends when
// it re-encounters the first still-live handle it saw, bounding each sweep to
// O(n) polls regardless of enqueues arriving mid-sweep.
func (m *Monitor) sweep() {
	var firstLive Handle

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			break
		}
		w := m.queue[0]
		if firstLive != nil && w.handle == firstLive {
			m.mu.Unlock()
			break
		}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		code, exited := w.handle.Poll()
		if exited {
			w.onExit(code)
			continue
		}

		if firstLive == nil {
			firstLive = w.handle
		}
		m.mu.Lock()
		m.queue = append(m.queue, w)
		m.mu.Unlock()
	}

	m.mu.Lock()
	remaining := len(m.queue)
	m.mu.Unlock()
	metrics.WatchedProcesses.Set(float64(remaining))

	if remaining == 0 {
		m.Empty.Emit(struct{}{})
	}
}
