// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package engine contains the scheduling core: the show manager that tracks
// upcoming and active recording sessions, and the recorder that drives them
// from a tick loop.
package engine

import (
	"sync"
	"time"

	"github.com/ManuGH/aircheck/internal/driver"
	"github.com/ManuGH/aircheck/internal/event"
	"github.com/ManuGH/aircheck/internal/metrics"
	"github.com/ManuGH/aircheck/internal/schedule"
)

// Key identifies a managed show by its source and show names.
type Key struct {
	Source string
	Show   string
}

// ScheduleEvent reports a newly scheduled recording window.
type ScheduleEvent struct {
	Key      Key
	Start    time.Time
	Duration time.Duration
}

// managedShow is one tracked entry. A nil src means the show was removed
// from configuration while its session was still running; the entry is kept
// only until that session reaches its stop time.
type managedShow struct {
	key       Key
	src       driver.Source
	sched     schedule.Schedule
	start     time.Time
	duration  time.Duration
	scheduled bool

	session  driver.Session
	stopTime time.Time
}

// StartItem is one show due to start recording.
type StartItem struct {
	Key    Key
	Driver driver.Source
	// EffectiveDuration is the remainder of the window; a session begun
	// partway into its window records only what is left.
	EffectiveDuration time.Duration
}

// SessionItem pairs an active session with its key.
type SessionItem struct {
	Key     Key
	Session driver.Session
}

// ShowStatus is a read-only view of one tracked show for the status API.
type ShowStatus struct {
	Source    string     `json:"source"`
	Show      string     `json:"show"`
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Recording bool       `json:"recording"`
	StopTime  *time.Time `json:"stop_time,omitempty"`
}

// Manager is the authoritative table of tracked shows. All operations
// serialize through one mutex; the Schedule event fires while state is
// consistent but before the lock is released, so listeners must not call
// back into the manager from the handler.
type Manager struct {
	// Schedule fires whenever a show gets a new recording window.
	Schedule event.Emitter[ScheduleEvent]

	mu    sync.Mutex
	shows map[Key]*managedShow
}

// NewManager creates an empty show table.
func NewManager() *Manager {
	return &Manager{shows: make(map[Key]*managedShow)}
}

// AddShow inserts or updates the entry for key, computing its next recording
// window from sched. It reports whether anything changed; a second call with
// identical arguments is a no-op. When an update extends the window of a
// show that is currently recording, the session's stop time is pushed out to
// the new end; it is never pulled in.
func (m *Manager) AddShow(key Key, src driver.Source, sched schedule.Schedule, now time.Time, leeway time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	start, duration, ok := sched.NextOccurrence(now, leeway)

	entry, exists := m.shows[key]
	if !exists {
		if !ok {
			return false
		}
		entry = &managedShow{
			key:       key,
			src:       src,
			sched:     sched,
			start:     start,
			duration:  duration,
			scheduled: true,
		}
		m.shows[key] = entry
		metrics.TrackedShows.Set(float64(len(m.shows)))
		m.Schedule.Emit(ScheduleEvent{Key: key, Start: start, Duration: duration})
		return true
	}

	if !ok {
		// The schedule ran out of occurrences; keep the entry but stop
		// offering it for starts.
		changed := entry.scheduled || entry.src != src
		entry.src = src
		entry.sched = sched
		entry.scheduled = false
		return changed
	}

	if entry.src == src && entry.scheduled &&
		entry.start.Equal(start) && entry.duration == duration {
		return false
	}

	timingChanged := !entry.scheduled || !entry.start.Equal(start) || entry.duration != duration

	entry.src = src
	entry.sched = sched
	entry.start = start
	entry.duration = duration
	entry.scheduled = true

	if entry.session != nil {
		if end := start.Add(duration); end.After(entry.stopTime) {
			entry.stopTime = end
		}
	}

	if timingChanged {
		m.Schedule.Emit(ScheduleEvent{Key: key, Start: start, Duration: duration})
	}
	return true
}

// Keys returns a snapshot of the tracked keys.
func (m *Manager) Keys() []Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]Key, 0, len(m.shows))
	for key := range m.shows {
		keys = append(keys, key)
	}
	return keys
}

// RemoveShow takes key out of the table. An idle entry is deleted outright;
// one with a running session only loses its driver and window, so the tick
// loop will not restart it, and the entry goes away once the session hits
// its stop time. Reports whether the key was tracked.
func (m *Manager) RemoveShow(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.shows[key]
	if !exists {
		return false
	}
	if entry.session == nil {
		delete(m.shows, key)
		metrics.TrackedShows.Set(float64(len(m.shows)))
		return true
	}
	if entry.src == nil {
		// Already removed; only the in-flight session keeps the entry alive.
		return false
	}
	entry.src = nil
	entry.sched = nil
	entry.scheduled = false
	return true
}

// ShowsToStart returns every idle, scheduled entry whose window has opened.
func (m *Manager) ShowsToStart(now time.Time) []StartItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []StartItem
	for _, entry := range m.shows {
		if entry.session != nil || entry.src == nil || !entry.scheduled {
			continue
		}
		if now.Before(entry.start) {
			continue
		}
		due = append(due, StartItem{
			Key:               entry.key,
			Driver:            entry.src,
			EffectiveDuration: entry.duration - now.Sub(entry.start),
		})
	}
	return due
}

// SetSession attaches a running session and its forced-stop deadline.
// Reports false if the key is no longer tracked.
func (m *Manager) SetSession(key Key, session driver.Session, stopTime time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.shows[key]
	if !exists {
		return false
	}
	entry.session = session
	entry.stopTime = stopTime
	m.updateActiveLocked()
	return true
}

// SessionsToStop removes and returns every entry whose session has reached
// its stop time. Rescheduling the show afterwards is the caller's business.
func (m *Manager) SessionsToStop(now time.Time) []SessionItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []SessionItem
	for key, entry := range m.shows {
		if entry.session == nil || now.Before(entry.stopTime) {
			continue
		}
		due = append(due, SessionItem{Key: key, Session: entry.session})
		delete(m.shows, key)
	}
	if len(due) > 0 {
		metrics.TrackedShows.Set(float64(len(m.shows)))
		m.updateActiveLocked()
	}
	return due
}

// ActiveSessions returns every running session; used by the shutdown path.
func (m *Manager) ActiveSessions() []SessionItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active []SessionItem
	for key, entry := range m.shows {
		if entry.session != nil {
			active = append(active, SessionItem{Key: key, Session: entry.session})
		}
	}
	return active
}

// Snapshot returns the table's current state for the status API.
func (m *Manager) Snapshot() []ShowStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ShowStatus, 0, len(m.shows))
	for _, entry := range m.shows {
		status := ShowStatus{
			Source:    entry.key.Source,
			Show:      entry.key.Show,
			Recording: entry.session != nil,
		}
		if entry.scheduled {
			status.Start = entry.start
			status.End = entry.start.Add(entry.duration)
		}
		if entry.session != nil {
			stop := entry.stopTime
			status.StopTime = &stop
		}
		out = append(out, status)
	}
	return out
}

func (m *Manager) updateActiveLocked() {
	active := 0
	for _, entry := range m.shows {
		if entry.session != nil {
			active++
		}
	}
	metrics.ActiveSessions.Set(float64(active))
}
