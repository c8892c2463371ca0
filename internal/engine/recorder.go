// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/aircheck/internal/config"
	"github.com/ManuGH/aircheck/internal/driver"
	"github.com/ManuGH/aircheck/internal/event"
	"github.com/ManuGH/aircheck/internal/hook"
	"github.com/ManuGH/aircheck/internal/log"
	"github.com/ManuGH/aircheck/internal/metrics"
	"github.com/ManuGH/aircheck/internal/monitor"
	"github.com/ManuGH/aircheck/internal/schedule"
	"github.com/rs/zerolog"
)

// Hook names the recorder declares up front. Registration of any other name
// from the configuration is rejected.
const (
	HookStartup      = "startup"
	HookShutdown     = "shutdown"
	HookShowSchedule = "show_schedule"
	HookShowAdd      = "show_add"
	HookShowUpdate   = "show_update"
	HookShowRemove   = "show_remove"
	HookShowStart    = "show_start"
	HookShowError    = "show_error"
	HookShowDone     = "show_done"
	HookShowSave     = "show_save"
	HookFailure      = "hook_failure"
)

var hookNames = []string{
	HookStartup,
	HookShutdown,
	HookShowSchedule,
	HookShowAdd,
	HookShowUpdate,
	HookShowRemove,
	HookShowStart,
	HookShowError,
	HookShowDone,
	HookShowSave,
	HookFailure,
}

const (
	// stopSafetyMargin pads the forced-stop deadline of self-stopping
	// sessions, so the tool gets a chance to end on its own before the
	// recorder reaps it.
	stopSafetyMargin = 3 * time.Second

	// shutdownWait bounds how long shutdown waits for capture subprocesses
	// to be reaped.
	shutdownWait = 30 * time.Second
)

// Recorder is the tick loop. It owns the show manager and the hook invoker,
// reconciles them against the current configuration, starts and stops
// capture sessions, and routes their lifecycle events to storage drivers and
// hooks.
type Recorder struct {
	clock    schedule.Clock
	mon      *monitor.Monitor
	invoker  *hook.Invoker
	manager  *Manager
	emitters map[string]*event.Emitter[hook.Args]
	logger   zerolog.Logger

	// reloadMu serializes configuration apply with the tick loop; a reload
	// never runs concurrently with a tick.
	reloadMu      sync.Mutex
	cfg           *config.Configuration
	configUpdated bool

	// retired holds storage drivers replaced by reloads. In-flight sessions
	// wired to them can still save; their queues are drained at shutdown.
	retired []driver.Storage

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a recorder around the initial configuration and applies it.
func New(cfg *config.Configuration, mon *monitor.Monitor, clock schedule.Clock) (*Recorder, error) {
	r := &Recorder{
		clock:    clock,
		mon:      mon,
		invoker:  hook.NewInvoker(cfg.Options.HookPoolSize),
		manager:  NewManager(),
		emitters: make(map[string]*event.Emitter[hook.Args], len(hookNames)),
		logger:   log.WithComponent("recorder"),
		stopCh:   make(chan struct{}),
	}

	for _, name := range hookNames {
		r.emitters[name] = &event.Emitter[hook.Args]{}
		if err := r.invoker.Declare(name); err != nil {
			return nil, err
		}
	}
	r.invoker.BindEvents(r)
	r.invoker.Failure.Subscribe(r.onHookFailure)

	r.manager.Schedule.Subscribe(func(e ScheduleEvent) {
		r.emit(HookShowSchedule, hook.Args{
			"source":     e.Key.Source,
			"show":       e.Key.Show,
			"start_time": e.Start.Unix(),
		})
	})

	if err := r.Apply(cfg); err != nil {
		r.invoker.Stop()
		return nil, err
	}
	return r, nil
}

// HookEmitter implements hook.EventSource.
func (r *Recorder) HookEmitter(name string) *event.Emitter[hook.Args] {
	return r.emitters[name]
}

// Apply installs a new configuration. Hook targets are resolved up front, so
// a broken hooks section leaves the previous registrations untouched. The
// tick loop picks up the new sources and shows on its next iteration.
func (r *Recorder) Apply(cfg *config.Configuration) error {
	type staged struct {
		name        string
		description string
		h           hook.Hook
	}
	var resolved []staged
	for name, specs := range cfg.Hooks {
		if _, known := r.emitters[name]; !known {
			return fmt.Errorf("no hook named %q is emitted (have %v)", name, hookNames)
		}
		for _, spec := range specs {
			h, err := hook.Resolve(spec.Target, cfg.Options.HookSearchPath)
			if err != nil {
				return fmt.Errorf("hook %q: %w", name, err)
			}
			resolved = append(resolved, staged{name: name, description: spec.Description, h: h})
		}
	}

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	r.invoker.Clear()
	for _, s := range resolved {
		if err := r.invoker.Register(s.name, s.h, s.description); err != nil {
			return err
		}
	}

	for _, storage := range cfg.Storage {
		storage.Events().Save.Subscribe(func(e driver.StorageSave) {
			r.emit(HookShowSave, hook.Args{
				"source":   e.Source,
				"show":     e.Show,
				"location": e.Location,
			})
		})
		storage.Events().Error.Subscribe(func(e driver.StorageError) {
			r.emit(HookShowError, hook.Args{
				"source": e.Source,
				"show":   e.Show,
				"error":  e.Err.Error(),
			})
		})
	}

	if r.cfg != nil {
		next := make(map[driver.Storage]bool, len(cfg.Storage))
		for _, st := range cfg.Storage {
			next[st] = true
		}
		kept := r.retired[:0]
		for _, st := range r.retired {
			if !next[st] {
				kept = append(kept, st)
			}
		}
		r.retired = kept
		for _, st := range r.cfg.Storage {
			if !next[st] {
				r.retired = append(r.retired, st)
			}
		}
	}

	r.cfg = cfg
	r.configUpdated = true
	r.logger.Info().
		Int("sources", len(cfg.Sources)).
		Int("storage", len(cfg.Storage)).
		Int("hooks", len(resolved)).
		Msg("configuration applied")
	return nil
}

// Run drives the tick loop until ctx is done or Stop is called, then runs
// the shutdown sequence.
func (r *Recorder) Run(ctx context.Context) error {
	r.logger.Info().Msg("recorder started")
	r.emit(HookStartup, hook.Args{})

	timer := r.clock.NewTimer(r.checkInterval())
	defer timer.Stop()

	for {
		r.tick()

		timer.Reset(r.checkInterval())
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case <-r.stopCh:
			r.shutdown()
			return nil
		case <-timer.C():
		}
	}
}

// Stop asks the tick loop to exit; Run performs the shutdown sequence.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Snapshot exposes the show table for the status API.
func (r *Recorder) Snapshot() []ShowStatus {
	return r.manager.Snapshot()
}

func (r *Recorder) checkInterval() time.Duration {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	return r.cfg.Options.CheckInterval
}

func (r *Recorder) emit(name string, args hook.Args) {
	r.emitters[name].Emit(args)
}

// onHookFailure surfaces failed hook executions as the hook_failure hook.
// Failures of hook_failure hooks themselves are only logged, otherwise a
// permanently broken hook would feed back into its own bucket.
func (r *Recorder) onHookFailure(f hook.Failure) {
	if strings.HasPrefix(f.Description, HookFailure+"/") {
		r.logger.Error().Err(f.Err).Str("hook", f.Description).Msg("hook_failure hook failed")
		return
	}
	r.emit(HookFailure, hook.Args{
		"description": f.Description,
		"error":       f.Err.Error(),
	})
}

// tick runs one scheduling pass under the reload lock.
func (r *Recorder) tick() {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	now := r.clock.Now()

	if r.configUpdated {
		r.reconcileLocked(now)
		r.configUpdated = false
	}

	for _, item := range r.manager.ShowsToStart(now) {
		r.startSessionLocked(now, item)
	}

	for _, item := range r.manager.SessionsToStop(now) {
		if err := item.Session.Stop(); err != nil && !errors.Is(err, driver.ErrNotRunning) {
			r.logger.Warn().
				Err(err).
				Str("source", item.Key.Source).
				Str("show", item.Key.Show).
				Msg("failed to stop session")
		}
		r.rescheduleLocked(now, item.Key)
	}
}

// reconcileLocked aligns the show manager with the current configuration.
func (r *Recorder) reconcileLocked(now time.Time) {
	leeway := r.cfg.Options.Leeway

	prev := make(map[Key]bool)
	for _, key := range r.manager.Keys() {
		prev[key] = true
	}

	found := make(map[Key]bool)
	for sourceName, src := range r.cfg.Sources {
		for _, show := range src.Shows {
			key := Key{Source: sourceName, Show: show.Name}
			found[key] = true
			changed := r.manager.AddShow(key, src.Driver, show.Schedule, now, leeway)
			if !changed {
				continue
			}
			name := HookShowAdd
			if prev[key] {
				name = HookShowUpdate
			}
			r.emit(name, hook.Args{"source": key.Source, "show": key.Show})
		}
	}

	for key := range prev {
		if found[key] {
			continue
		}
		if r.manager.RemoveShow(key) {
			r.logger.Info().
				Str("source", key.Source).
				Str("show", key.Show).
				Msg("show removed from configuration")
			r.emit(HookShowRemove, hook.Args{"source": key.Source, "show": key.Show})
		}
	}
}

// startSessionLocked spawns and starts one capture session. The session is
// recorded in the manager even if it failed to start, so the failed window
// occupies its slot until the stop time passes and the show is rescheduled;
// that prevents tight retry loops within one window.
func (r *Recorder) startSessionLocked(now time.Time, item StartItem) {
	source, show := item.Key.Source, item.Key.Show

	var storages []driver.Storage
	if src, ok := r.cfg.Sources[source]; ok {
		for _, name := range src.StorageNames {
			if st, ok := r.cfg.Storage[name]; ok {
				storages = append(storages, st)
			}
		}
	}

	session := item.Driver.Spawn(show)
	d := item.EffectiveDuration

	stopTime := now.Add(d)
	var startArg time.Duration
	if session.CanStopAutomatically(d) {
		stopTime = stopTime.Add(stopSafetyMargin)
		startArg = d
	}

	session.Events().Start.Subscribe(func(driver.SessionStart) {
		r.emit(HookShowStart, hook.Args{"source": source, "show": show})
	})
	session.Events().Error.Subscribe(func(e driver.SessionError) {
		r.emit(HookShowError, hook.Args{
			"source": source,
			"show":   show,
			"error":  e.Err.Error(),
		})
	})
	session.Events().Done.Subscribe(func(e driver.SessionDone) {
		r.emit(HookShowDone, hook.Args{
			"source":   source,
			"show":     show,
			"filename": e.Filename,
		})
		for _, st := range storages {
			st.Save(source, show, e.Filename)
		}
	})

	r.logger.Info().
		Str("source", source).
		Str("show", show).
		Dur("duration", d).
		Time("stop_time", stopTime).
		Msg("starting recording session")

	session.Start(startArg)
	r.manager.SetSession(item.Key, session, stopTime)
}

// rescheduleLocked books the show's next occurrence after its session ended.
// A show that vanished from configuration mid-session is simply not re-added.
func (r *Recorder) rescheduleLocked(now time.Time, key Key) {
	src, ok := r.cfg.Sources[key.Source]
	if !ok {
		return
	}
	for _, show := range src.Shows {
		if show.Name == key.Show {
			r.manager.AddShow(key, src.Driver, show.Schedule, now, r.cfg.Options.Leeway)
			return
		}
	}
}

// shutdown stops every session, waits for their subprocesses to be reaped,
// drains the storage queues and finally lets the shutdown hook run before
// the invoker workers exit.
func (r *Recorder) shutdown() {
	r.logger.Info().Msg("recorder shutting down")

	r.reloadMu.Lock()
	cfg := r.cfg
	retired := r.retired
	r.reloadMu.Unlock()

	emptyCh := make(chan struct{}, 1)
	r.mon.Empty.Subscribe(func(struct{}) {
		select {
		case emptyCh <- struct{}{}:
		default:
		}
	})

	for _, item := range r.manager.ActiveSessions() {
		if err := item.Session.Stop(); err != nil && !errors.Is(err, driver.ErrNotRunning) {
			r.logger.Warn().
				Err(err).
				Str("source", item.Key.Source).
				Str("show", item.Key.Show).
				Msg("failed to stop session during shutdown")
		}
	}

	if r.mon.Running() {
		timer := r.clock.NewTimer(shutdownWait)
		select {
		case <-emptyCh:
		case <-timer.C():
			r.logger.Warn().Msg("timed out waiting for capture processes to exit")
		}
		timer.Stop()
	}
	r.mon.Halt()

	for _, storage := range cfg.Storage {
		if s, ok := storage.(driver.Shutdowner); ok {
			s.Shutdown()
		}
	}
	for _, storage := range retired {
		if s, ok := storage.(driver.Shutdowner); ok {
			s.Shutdown()
		}
	}

	// Enqueued before Stop, so the graceful drain guarantees it runs.
	r.emit(HookShutdown, hook.Args{})
	r.invoker.Stop()

	metrics.ActiveSessions.Set(0)
	r.logger.Info().Msg("recorder shutdown complete")
}
