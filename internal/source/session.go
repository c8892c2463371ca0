// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package source implements the capture drivers that record a show by
// supervising an external tool.
package source

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/aircheck/internal/driver"
	"github.com/ManuGH/aircheck/internal/log"
	"github.com/ManuGH/aircheck/internal/metrics"
	"github.com/ManuGH/aircheck/internal/monitor"
	"github.com/ManuGH/aircheck/internal/procgroup"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// earlyExitMargin is how much sooner than the expected end a self-stopping
// tool may exit before the session is considered failed.
const earlyExitMargin = 5 * time.Second

// stopGrace is how long a signalled capture tool gets before SIGKILL.
const stopGrace = 10 * time.Second

var sessionNonWord = regexp.MustCompile(`\W+`)
var sessionWhitespace = regexp.MustCompile(`\s+`)

func safeName(show string) string {
	return strings.ToLower(sessionNonWord.ReplaceAllString(sessionWhitespace.ReplaceAllString(show, "_"), ""))
}

// sessionConfig is what a concrete driver contributes to a procSession.
type sessionConfig struct {
	tool     string // binary nickname used in log and error messages
	selfStop bool   // the tool can bound its own runtime

	// allocOutput reserves the output path handed to the tool.
	allocOutput func(show string) (string, error)
	// build constructs the (unstarted) command; d is zero unless the tool
	// stops itself.
	build func(output string, d time.Duration) *exec.Cmd
	// locate resolves the finished recording from the output path the tool
	// was given.
	locate func(output string) (string, error)
}

// procSession runs one capture subprocess and reports its lifecycle through
// session events. All drivers in this package share it.
type procSession struct {
	cfg      sessionConfig
	deps     driver.Deps
	showName string
	id       uuid.UUID
	events   driver.SessionEvents
	logger   zerolog.Logger

	mu           sync.Mutex
	cmd          *exec.Cmd
	handle       *monitor.CmdHandle
	started      bool
	ended        bool
	stopping     bool
	output       string
	startTime    time.Time
	duration     time.Duration
	expectedStop time.Time
}

func newProcSession(cfg sessionConfig, deps driver.Deps, showName string) *procSession {
	id := uuid.New()
	return &procSession{
		cfg:      cfg,
		deps:     deps,
		showName: showName,
		id:       id,
		logger: log.WithComponent("source." + cfg.tool).With().
			Str("show", showName).
			Str("session_id", id.String()).
			Logger(),
	}
}

// Events implements driver.Session.
func (s *procSession) Events() *driver.SessionEvents { return &s.events }

// CanStopAutomatically implements driver.Session.
func (s *procSession) CanStopAutomatically(time.Duration) bool { return s.cfg.selfStop }

// Start launches the capture tool. Failures are reported through the Error
// event; the session then counts as ended.
func (s *procSession) Start(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	output, err := s.cfg.allocOutput(s.showName)
	if err != nil {
		s.failStartLocked(err)
		return
	}
	s.output = output

	cmd := s.cfg.build(output, d)
	procgroup.Set(cmd)
	if err := cmd.Start(); err != nil {
		s.failStartLocked(err)
		return
	}

	s.cmd = cmd
	s.startTime = time.Now()
	if d > 0 {
		s.duration = d
		s.expectedStop = s.startTime.Add(d - earlyExitMargin)
	}

	s.logger.Info().
		Int("pid", cmd.Process.Pid).
		Dur("duration", d).
		Str("output", output).
		Msg("capture started")
	metrics.RecordSessionStart(true)

	s.handle = monitor.NewCmdHandle(cmd)
	s.deps.Monitor.Watch(s.handle, s.procEnded)

	s.events.Start.Emit(driver.SessionStart{PID: cmd.Process.Pid, Duration: d})
}

func (s *procSession) failStartLocked(err error) {
	s.ended = true
	s.logger.Error().Err(err).Msg("failed to start capture")
	metrics.RecordSessionStart(false)
	s.events.Error.Emit(driver.SessionError{
		Err: fmt.Errorf("failed to start recording: %w", err),
	})
}

// Stop signals the capture tool's process group. Escalation to SIGKILL after
// the grace period happens in the background; exit reporting stays with the
// process monitor.
func (s *procSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.ended {
		return fmt.Errorf("cannot stop %s session: %w", s.cfg.tool, driver.ErrNotRunning)
	}
	if s.stopping {
		return nil
	}
	s.stopping = true

	s.logger.Debug().Msg("stopping capture")
	go func(cmd *exec.Cmd, waitCh <-chan error) {
		_ = procgroup.Terminate(cmd, waitCh, stopGrace)
	}(s.cmd, s.handle.WaitCh())
	return nil
}

// procEnded runs on the monitor worker once the subprocess has exited.
func (s *procSession) procEnded(code int) {
	s.mu.Lock()
	s.ended = true
	elapsed := time.Since(s.startTime).Truncate(time.Second)
	expectedStop := s.expectedStop
	duration := s.duration
	output := s.output
	s.mu.Unlock()

	switch {
	case code != 0:
		metrics.RecordSessionExit("error")
		s.events.Error.Emit(driver.SessionError{
			Err: fmt.Errorf("%s exited with status %d after %s", s.cfg.tool, code, elapsed),
		})
	case !expectedStop.IsZero() && time.Now().Before(expectedStop):
		metrics.RecordSessionExit("early_exit")
		s.events.Error.Emit(driver.SessionError{
			Err: fmt.Errorf("%s exited early, after only %s (expected %s)",
				s.cfg.tool, elapsed, duration.Truncate(time.Second)),
		})
	default:
		filename, err := s.cfg.locate(output)
		if err != nil {
			metrics.RecordSessionExit("error")
			s.events.Error.Emit(driver.SessionError{Err: err})
			return
		}
		s.logger.Info().
			Str("filename", filename).
			Dur("elapsed", elapsed).
			Msg("capture finished")
		metrics.RecordSessionExit("done")
		s.events.Done.Emit(driver.SessionDone{Filename: filename})
	}
}
