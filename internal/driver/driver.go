// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package driver defines the contracts between the recording engine and the
// pluggable capture and storage backends, together with their registries.
package driver

import (
	"errors"
	"time"

	"github.com/ManuGH/aircheck/internal/event"
	"github.com/ManuGH/aircheck/internal/monitor"
	"github.com/ManuGH/aircheck/internal/temp"
)

// ErrNotRunning is returned by Session.Stop when the session already ended.
// The engine swallows it; stopping a stopped session is never fatal.
var ErrNotRunning = errors.New("session is not running")

// Source spawns capture sessions for the shows of one configured source.
type Source interface {
	// Spawn prepares a new capture session for the named show. The session
	// is inert until Start is called.
	Spawn(showName string) Session
}

// Session is a single in-progress capture of a show.
type Session interface {
	// CanStopAutomatically reports whether the capture tool can bound its
	// own runtime to the given duration.
	CanStopAutomatically(d time.Duration) bool

	// Start launches the capture. A positive duration asks a self-stopping
	// tool to end on its own; zero means the engine will stop the session.
	// Failures surface through the Error event, never as a return value.
	Start(d time.Duration)

	// Stop terminates the capture. Returns ErrNotRunning if the session
	// already ended.
	Stop() error

	// Events exposes the session's lifecycle events.
	Events() *SessionEvents
}

// SessionEvents are fired by a session as its subprocess progresses.
type SessionEvents struct {
	Start event.Emitter[SessionStart]
	Error event.Emitter[SessionError]
	Done  event.Emitter[SessionDone]
}

// SessionStart reports a successfully launched capture subprocess.
type SessionStart struct {
	PID      int
	Duration time.Duration // zero when the engine bounds the session
}

// SessionError reports a failed or prematurely ended capture.
type SessionError struct {
	Err error
}

// SessionDone reports a completed capture and the recorded file.
type SessionDone struct {
	Filename string
}

// Storage persists completed recordings.
type Storage interface {
	// Save stores the file for the given source and show. It must not
	// block the caller; completion is reported via the Save/Error events.
	Save(source, show, filePath string)

	// Events exposes the driver's completion events.
	Events() *StorageEvents
}

// Shutdowner is implemented by storage drivers that own background workers.
type Shutdowner interface {
	Shutdown()
}

// StorageEvents are fired by a storage driver as saves complete.
type StorageEvents struct {
	Save  event.Emitter[StorageSave]
	Error event.Emitter[StorageError]
}

// StorageSave reports a stored recording and its final location.
type StorageSave struct {
	Source   string
	Show     string
	Location string
}

// StorageError reports a failed save attempt.
type StorageError struct {
	Source string
	Show   string
	Err    error
}

// Deps carries daemon-owned collaborators into driver factories.
type Deps struct {
	Monitor *monitor.Monitor
	Temp    *temp.Dir
}
