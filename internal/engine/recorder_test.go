// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/aircheck/internal/config"
	"github.com/ManuGH/aircheck/internal/driver"
	"github.com/ManuGH/aircheck/internal/hook"
	"github.com/ManuGH/aircheck/internal/monitor"
	"github.com/ManuGH/aircheck/internal/schedule"
	_ "github.com/ManuGH/aircheck/internal/source"
	"github.com/ManuGH/aircheck/internal/temp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockClock
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *MockClock) NewTimer(d time.Duration) schedule.Timer {
	return &MockTimer{CBox: make(chan time.Time, 1)}
}

// MockTimer never fires on its own; tests drive the recorder by calling
// tick directly.
type MockTimer struct {
	CBox chan time.Time
}

func (m *MockTimer) C() <-chan time.Time        { return m.CBox }
func (m *MockTimer) Stop() bool                 { return true }
func (m *MockTimer) Reset(d time.Duration) bool { return true }

type fakeSession struct {
	mu        sync.Mutex
	events    driver.SessionEvents
	canStop   bool
	failStart bool
	started   bool
	startArg  time.Duration
	stopped   bool
	ended     bool
}

func (s *fakeSession) CanStopAutomatically(time.Duration) bool { return s.canStop }

func (s *fakeSession) Start(d time.Duration) {
	s.mu.Lock()
	s.started = true
	s.startArg = d
	fail := s.failStart
	if fail {
		s.ended = true
	}
	s.mu.Unlock()

	if fail {
		s.events.Error.Emit(driver.SessionError{Err: errors.New("failed to start recording: no such binary")})
		return
	}
	s.events.Start.Emit(driver.SessionStart{PID: 4242, Duration: d})
}

func (s *fakeSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.ended {
		return driver.ErrNotRunning
	}
	s.stopped = true
	s.ended = true
	return nil
}

func (s *fakeSession) Events() *driver.SessionEvents { return &s.events }

func (s *fakeSession) finish(filename string) {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.events.Done.Emit(driver.SessionDone{Filename: filename})
}

func (s *fakeSession) wasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeStorage struct {
	mu        sync.Mutex
	events    driver.StorageEvents
	saves     []string
	shutdowns int
}

func (f *fakeStorage) Save(source, show, filePath string) {
	f.mu.Lock()
	f.saves = append(f.saves, filePath)
	f.mu.Unlock()
	f.events.Save.Emit(driver.StorageSave{
		Source:   source,
		Show:     show,
		Location: "/archive/" + filepath.Base(filePath),
	})
}

func (f *fakeStorage) Events() *driver.StorageEvents { return &f.events }

func (f *fakeStorage) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
}

// hookLog records every hook-level event the recorder emits, in order.
type hookLog struct {
	mu      sync.Mutex
	entries []hookEntry
}

type hookEntry struct {
	name string
	args hook.Args
}

func recordHooks(r *Recorder) *hookLog {
	l := &hookLog{}
	for _, name := range hookNames {
		name := name
		r.HookEmitter(name).Subscribe(func(args hook.Args) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.entries = append(l.entries, hookEntry{name: name, args: args})
		})
	}
	return l
}

func (l *hookLog) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.name == name {
			n++
		}
	}
	return n
}

func (l *hookLog) last(name string) (hook.Args, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].name == name {
			return l.entries[i].args, true
		}
	}
	return nil, false
}

// names returns the emission order restricted to the given names.
func (l *hookLog) names(filter ...string) []string {
	keep := make(map[string]bool, len(filter))
	for _, name := range filter {
		keep[name] = true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if len(keep) == 0 || keep[e.name] {
			out = append(out, e.name)
		}
	}
	return out
}

func testConfig(sources map[string]*config.Source, storage map[string]driver.Storage) *config.Configuration {
	if storage == nil {
		storage = map[string]driver.Storage{}
	}
	return &config.Configuration{
		Options: config.Options{CheckInterval: time.Second, HookPoolSize: 2},
		Storage: storage,
		Sources: sources,
		Hooks:   map[string][]config.HookSpec{},
	}
}

func newTestRecorder(t *testing.T, cfg *config.Configuration, clock schedule.Clock) *Recorder {
	t.Helper()
	r, err := New(cfg, monitor.New(), clock)
	require.NoError(t, err)
	t.Cleanup(r.invoker.Stop)
	return r
}

func weeklyAt(start time.Time, duration time.Duration) *fakeSchedule {
	return &fakeSchedule{start: start, duration: duration, period: 7 * 24 * time.Hour}
}

func TestRecorderFullCycle(t *testing.T) {
	start := base
	src := &fakeSource{canStop: true}
	store := &fakeStorage{}
	cfg := testConfig(map[string]*config.Source{
		"fm4": {
			Name:         "fm4",
			Driver:       src,
			StorageNames: []string{"archive"},
			Shows:        []config.Show{{Name: "Morning Show", Schedule: weeklyAt(start, 30*time.Minute)}},
		},
	}, map[string]driver.Storage{"archive": store})

	clock := &MockClock{now: start.Add(-time.Second)}
	r := newTestRecorder(t, cfg, clock)
	hooks := recordHooks(r)

	// First tick, one second before the window: the show is scheduled but
	// not started.
	r.tick()
	assert.Empty(t, src.spawned)
	assert.Equal(t, 1, hooks.count(HookShowAdd))
	args, ok := hooks.last(HookShowSchedule)
	require.True(t, ok)
	assert.Equal(t, start.Unix(), args["start_time"])

	// The window opens: the session is spawned with the full duration and
	// a self-stopping start.
	clock.Set(start)
	r.tick()
	require.Equal(t, []string{"Morning Show"}, src.spawned)
	session := src.sessions[0]
	assert.Equal(t, 30*time.Minute, session.startArg)
	assert.Equal(t, 1, hooks.count(HookShowStart))

	// A second tick inside the window must not start it again.
	r.tick()
	assert.Len(t, src.spawned, 1)

	// The tool finishes; the recording flows to storage, with show_done
	// strictly before show_save.
	session.finish("/tmp/aircheck-1/morning_show.mp3")
	assert.Equal(t, []string{"/tmp/aircheck-1/morning_show.mp3"}, store.saves)
	assert.Equal(t,
		[]string{HookShowDone, HookShowSave},
		hooks.names(HookShowDone, HookShowSave))
	args, _ = hooks.last(HookShowSave)
	assert.Equal(t, "/archive/morning_show.mp3", args["location"])

	// Past the stop deadline (window end plus safety margin) the show is
	// rescheduled for next week.
	clock.Set(start.Add(30*time.Minute + stopSafetyMargin))
	r.tick()
	assert.Equal(t, 2, hooks.count(HookShowSchedule))
	args, _ = hooks.last(HookShowSchedule)
	assert.Equal(t, start.Add(7*24*time.Hour).Unix(), args["start_time"])
}

func TestRecorderReloadRemovesShow(t *testing.T) {
	start := base
	src := &fakeSource{}
	shows := []config.Show{
		{Name: "a", Schedule: weeklyAt(start, time.Hour)},
		{Name: "b", Schedule: weeklyAt(start.Add(2*time.Hour), time.Hour)},
	}
	cfg := testConfig(map[string]*config.Source{
		"fm4": {Name: "fm4", Driver: src, Shows: shows},
	}, nil)

	clock := &MockClock{now: start}
	r := newTestRecorder(t, cfg, clock)
	hooks := recordHooks(r)

	// First tick tracks both shows and starts a's session.
	r.tick()
	require.Equal(t, []string{"a"}, src.spawned)
	assert.Equal(t, 2, hooks.count(HookShowAdd))

	// Reload without b while a records: b is removed immediately, a's
	// session keeps running with its deadline untouched.
	cfg2 := testConfig(map[string]*config.Source{
		"fm4": {Name: "fm4", Driver: src, Shows: shows[:1]},
	}, nil)
	require.NoError(t, r.Apply(cfg2))
	r.tick()

	assert.Equal(t, 1, hooks.count(HookShowRemove))
	args, _ := hooks.last(HookShowRemove)
	assert.Equal(t, "b", args["show"])
	require.Len(t, r.manager.ActiveSessions(), 1)
	assert.False(t, src.sessions[0].wasStopped())
}

func TestRecorderFailedStartReschedules(t *testing.T) {
	start := base
	src := &fakeSource{failStart: true}
	cfg := testConfig(map[string]*config.Source{
		"fm4": {Name: "fm4", Driver: src, Shows: []config.Show{
			{Name: "a", Schedule: weeklyAt(start, 30*time.Minute)},
		}},
	}, nil)

	clock := &MockClock{now: start}
	r := newTestRecorder(t, cfg, clock)
	hooks := recordHooks(r)

	r.tick()
	require.Len(t, src.spawned, 1)
	assert.Equal(t, 1, hooks.count(HookShowError))
	args, _ := hooks.last(HookShowError)
	assert.Contains(t, args["error"], "failed to start recording")

	// The failed session occupies its slot: no immediate retry.
	clock.Set(start.Add(time.Second))
	r.tick()
	assert.Len(t, src.spawned, 1)

	// Once the window closes, the show is rescheduled for next week.
	clock.Set(start.Add(30 * time.Minute))
	r.tick()
	assert.Equal(t, 2, hooks.count(HookShowSchedule))
	assert.Len(t, src.spawned, 1)
}

func TestRecorderOverlappingSources(t *testing.T) {
	start := base
	srcA := &fakeSource{}
	srcB := &fakeSource{}
	cfg := testConfig(map[string]*config.Source{
		"fm4": {Name: "fm4", Driver: srcA, Shows: []config.Show{
			{Name: "a", Schedule: weeklyAt(start, time.Hour)},
		}},
		"oe1": {Name: "oe1", Driver: srcB, Shows: []config.Show{
			{Name: "b", Schedule: weeklyAt(start.Add(10*time.Minute), time.Hour)},
		}},
	}, nil)

	clock := &MockClock{now: start}
	r := newTestRecorder(t, cfg, clock)
	hooks := recordHooks(r)

	r.tick()
	clock.Set(start.Add(10 * time.Minute))
	r.tick()

	assert.Equal(t, []string{"a"}, srcA.spawned)
	assert.Equal(t, []string{"b"}, srcB.spawned)
	assert.Equal(t, 2, hooks.count(HookShowStart))
	assert.Len(t, r.manager.ActiveSessions(), 2)

	// Completions arrive in their own order, not schedule order.
	srcB.sessions[0].finish("/tmp/b.mp3")
	srcA.sessions[0].finish("/tmp/a.mp3")
	args, _ := hooks.last(HookShowDone)
	assert.Equal(t, "/tmp/a.mp3", args["filename"])
	assert.Equal(t, 2, hooks.count(HookShowDone))
}

func init() {
	hook.Register("explode", hook.Func(func(hook.Args) error {
		return errors.New("kaboom")
	}))
}

func TestRecorderHookFailure(t *testing.T) {
	start := base
	src := &fakeSource{}
	cfg := testConfig(map[string]*config.Source{
		"fm4": {Name: "fm4", Driver: src, Shows: []config.Show{
			{Name: "a", Schedule: weeklyAt(start, time.Hour)},
		}},
	}, nil)
	cfg.Hooks = map[string][]config.HookSpec{
		HookShowStart: {{Description: "h1", Target: "explode"}},
	}

	clock := &MockClock{now: start}
	r := newTestRecorder(t, cfg, clock)
	hooks := recordHooks(r)

	r.tick()

	require.Eventually(t, func() bool {
		return hooks.count(HookFailure) == 1
	}, 5*time.Second, 10*time.Millisecond)

	args, _ := hooks.last(HookFailure)
	assert.Equal(t, "show_start/h1", args["description"])
	assert.Contains(t, args["error"], "kaboom")
}

func TestRecorderUnknownHookRejected(t *testing.T) {
	cfg := testConfig(nil, nil)
	cfg.Hooks = map[string][]config.HookSpec{
		"show_finished": {{Description: "h", Target: "log"}},
	}
	_, err := New(cfg, monitor.New(), &MockClock{now: base})
	require.ErrorContains(t, err, `no hook named "show_finished"`)
}

func TestRecorderGracefulShutdown(t *testing.T) {
	start := base
	srcA := &fakeSource{}
	srcB := &fakeSource{}
	store := &fakeStorage{}
	cfg := testConfig(map[string]*config.Source{
		"fm4": {Name: "fm4", Driver: srcA, Shows: []config.Show{
			{Name: "a", Schedule: weeklyAt(start, time.Hour)},
		}},
		"oe1": {Name: "oe1", Driver: srcB, Shows: []config.Show{
			{Name: "b", Schedule: weeklyAt(start, time.Hour)},
		}},
	}, map[string]driver.Storage{"archive": store})

	clock := &MockClock{now: start}
	r := newTestRecorder(t, cfg, clock)
	hooks := recordHooks(r)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(context.Background())
	}()

	require.Eventually(t, func() bool {
		return len(r.manager.ActiveSessions()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	r.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("recorder did not shut down")
	}

	assert.True(t, srcA.sessions[0].wasStopped())
	assert.True(t, srcB.sessions[0].wasStopped())
	assert.Equal(t, 1, store.shutdowns)
	assert.Equal(t, 1, hooks.count(HookStartup))
	assert.Equal(t, 1, hooks.count(HookShutdown))
}

// fileCheckStorage reads the capture file at save time, so tests can tell
// whether it still existed when the save ran.
type fileCheckStorage struct {
	mu     sync.Mutex
	events driver.StorageEvents
	data   []string
	errs   []error
}

func (f *fileCheckStorage) Save(source, show, filePath string) {
	b, err := os.ReadFile(filePath)
	f.mu.Lock()
	f.data = append(f.data, string(b))
	f.errs = append(f.errs, err)
	f.mu.Unlock()
	f.events.Save.Emit(driver.StorageSave{
		Source:   source,
		Show:     show,
		Location: filePath,
	})
}

func (f *fileCheckStorage) Events() *driver.StorageEvents { return &f.events }

func TestRecorderShutdownReapsCapture(t *testing.T) {
	mon := monitor.New()
	mon.SetInterval(10 * time.Millisecond)
	scratch := temp.New()
	t.Cleanup(func() { _ = scratch.Cleanup() })
	deps := driver.Deps{Monitor: mon, Temp: scratch}

	// A capture tool that writes its recording, then records until signalled.
	src, err := driver.NewSource("command", map[string]any{
		"command": []any{
			"sh", "-c",
			`trap 'exit 0' TERM; echo audio > "$0"; while :; do sleep 1; done`,
			"{output}",
		},
		"extension": "txt",
	}, deps)
	require.NoError(t, err)

	store := &fileCheckStorage{}
	cfg := testConfig(map[string]*config.Source{
		"fm4": {
			Name:         "fm4",
			Driver:       src,
			StorageNames: []string{"archive"},
			Shows:        []config.Show{{Name: "Morning Show", Schedule: weeklyAt(base, time.Hour)}},
		},
	}, map[string]driver.Storage{"archive": store})

	r, err := New(cfg, mon, &MockClock{now: base})
	require.NoError(t, err)
	hooks := recordHooks(r)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(context.Background())
	}()

	// Wait until the session is up and the tool has written its output.
	require.Eventually(t, func() bool {
		if len(r.manager.ActiveSessions()) != 1 {
			return false
		}
		dir, err := scratch.Path()
		if err != nil {
			return false
		}
		matches, _ := filepath.Glob(filepath.Join(dir, "*"))
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Size() > 0 {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	r.Stop()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("recorder did not shut down")
	}

	// Shutdown waited for the subprocess to be reaped, and the save that its
	// exit triggered still found the capture file on disk.
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.data, 1)
	require.NoError(t, store.errs[0])
	assert.Equal(t, "audio\n", store.data[0])
	assert.False(t, mon.Running())
	assert.Equal(t, 1, hooks.count(HookShowDone))
	assert.Equal(t, 1, hooks.count(HookShutdown))
}

func TestRecorderReloadRetiresStorage(t *testing.T) {
	start := base
	src := &fakeSource{}
	old := &fakeStorage{}
	shows := []config.Show{{Name: "a", Schedule: weeklyAt(start, time.Hour)}}
	cfg := testConfig(map[string]*config.Source{
		"fm4": {Name: "fm4", Driver: src, StorageNames: []string{"archive"}, Shows: shows},
	}, map[string]driver.Storage{"archive": old})

	r := newTestRecorder(t, cfg, &MockClock{now: start})

	// Reload swaps the storage driver; the old one keeps its queue until
	// shutdown, when both are drained.
	replacement := &fakeStorage{}
	cfg2 := testConfig(map[string]*config.Source{
		"fm4": {Name: "fm4", Driver: src, StorageNames: []string{"archive"}, Shows: shows},
	}, map[string]driver.Storage{"archive": replacement})
	require.NoError(t, r.Apply(cfg2))

	// A reload that keeps the replacement must not retire it.
	cfg3 := testConfig(map[string]*config.Source{
		"fm4": {Name: "fm4", Driver: src, StorageNames: []string{"archive"}, Shows: shows},
	}, map[string]driver.Storage{"archive": replacement})
	require.NoError(t, r.Apply(cfg3))

	r.shutdown()

	assert.Equal(t, 1, old.shutdowns)
	assert.Equal(t, 1, replacement.shutdowns)
}
