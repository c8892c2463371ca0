// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package source

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/aircheck/internal/driver"
	"github.com/ManuGH/aircheck/internal/monitor"
	"github.com/ManuGH/aircheck/internal/temp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventTimeout = 5 * time.Second

func testDeps(t *testing.T) driver.Deps {
	t.Helper()

	m := monitor.New()
	m.SetInterval(10 * time.Millisecond)
	t.Cleanup(m.Halt)

	d := temp.New()
	t.Cleanup(func() { _ = d.Cleanup() })

	return driver.Deps{Monitor: m, Temp: d}
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "morning_show", safeName("Morning Show"))
	assert.Equal(t, "drivetime", safeName("Drive-Time!"))
	assert.Equal(t, "news_briefing", safeName("News  Briefing"))
}

func TestNewStreamripperValidation(t *testing.T) {
	_, err := newStreamripper(map[string]any{}, driver.Deps{})
	require.ErrorContains(t, err, "no stream URL")

	src, err := newStreamripper(map[string]any{"stream": "http://example.com/live"}, driver.Deps{})
	require.NoError(t, err)
	assert.Equal(t, "streamripper", src.(*Streamripper).executable)

	src, err = newStreamripper(map[string]any{
		"stream": "http://example.com/live",
		"path":   "/opt/bin/streamripper",
	}, driver.Deps{})
	require.NoError(t, err)
	assert.Equal(t, "/opt/bin/streamripper", src.(*Streamripper).executable)
}

func TestStreamripperBuildArgs(t *testing.T) {
	src, err := newStreamripper(map[string]any{"stream": "http://example.com/live"}, testDeps(t))
	require.NoError(t, err)

	session := src.Spawn("Morning Show").(*procSession)
	assert.True(t, session.CanStopAutomatically(time.Hour))

	cmd := session.cfg.build("/tmp/base", 90*time.Second)
	assert.Equal(t,
		[]string{"streamripper", "http://example.com/live", "-A", "-l", "90", "-a", "/tmp/base"},
		cmd.Args)

	cmd = session.cfg.build("/tmp/base", 0)
	assert.Equal(t,
		[]string{"streamripper", "http://example.com/live", "-A", "-a", "/tmp/base"},
		cmd.Args)
}

func TestLocateByExtension(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "show1234")

	_, err := locateByExtension(base)
	require.ErrorContains(t, err, "could not find")

	require.NoError(t, os.WriteFile(base+".mp3", []byte("audio"), 0o600))
	found, err := locateByExtension(base)
	require.NoError(t, err)
	assert.Equal(t, base+".mp3", found)
}

func TestNewCommandValidation(t *testing.T) {
	_, err := newCommand(map[string]any{}, driver.Deps{})
	require.ErrorContains(t, err, "no command provided")

	_, err = newCommand(map[string]any{"command": []any{"rec", 7}}, driver.Deps{})
	require.ErrorContains(t, err, "argument 1 is not a string")

	src, err := newCommand(map[string]any{
		"command":   []any{"rec", "-d", "{duration}", "{output}"},
		"extension": "wav",
	}, driver.Deps{})
	require.NoError(t, err)
	c := src.(*Command)
	assert.True(t, c.selfStop)
	assert.Equal(t, ".wav", c.extension)

	src, err = newCommand(map[string]any{"command": []any{"rec", "{output}"}}, driver.Deps{})
	require.NoError(t, err)
	assert.False(t, src.(*Command).selfStop)
}

func TestCommandSessionRecords(t *testing.T) {
	deps := testDeps(t)
	src, err := newCommand(map[string]any{
		"command":   []any{"sh", "-c", "echo captured > {output}"},
		"extension": ".txt",
	}, deps)
	require.NoError(t, err)

	session := src.Spawn("Morning Show")
	done := make(chan driver.SessionDone, 1)
	errs := make(chan driver.SessionError, 1)
	session.Events().Done.Subscribe(func(e driver.SessionDone) { done <- e })
	session.Events().Error.Subscribe(func(e driver.SessionError) { errs <- e })

	session.Start(0)

	select {
	case e := <-done:
		data, err := os.ReadFile(e.Filename)
		require.NoError(t, err)
		assert.Equal(t, "captured\n", string(data))
	case e := <-errs:
		t.Fatalf("unexpected session error: %v", e.Err)
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for session to finish")
	}

	// The session has ended; stopping it again must report that.
	assert.ErrorIs(t, session.Stop(), driver.ErrNotRunning)
}

func TestCommandSessionExitStatus(t *testing.T) {
	deps := testDeps(t)
	src, err := newCommand(map[string]any{
		"command": []any{"sh", "-c", "exit 3"},
	}, deps)
	require.NoError(t, err)

	session := src.Spawn("Morning Show")
	errs := make(chan driver.SessionError, 1)
	session.Events().Error.Subscribe(func(e driver.SessionError) { errs <- e })

	session.Start(0)

	select {
	case e := <-errs:
		assert.ErrorContains(t, e.Err, "exited with status 3")
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for error event")
	}
}

func TestSessionStartFailure(t *testing.T) {
	deps := testDeps(t)
	src, err := newCommand(map[string]any{
		"command": []any{"/nonexistent/capture-tool", "{output}"},
	}, deps)
	require.NoError(t, err)

	session := src.Spawn("Morning Show")
	errs := make(chan driver.SessionError, 1)
	session.Events().Error.Subscribe(func(e driver.SessionError) { errs <- e })

	session.Start(0)

	select {
	case e := <-errs:
		assert.ErrorContains(t, e.Err, "failed to start recording")
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for error event")
	}

	assert.ErrorIs(t, session.Stop(), driver.ErrNotRunning)
}

func TestSessionEarlyExit(t *testing.T) {
	deps := testDeps(t)
	session := newProcSession(sessionConfig{
		tool:     "faketool",
		selfStop: true,
		allocOutput: func(show string) (string, error) {
			return deps.Temp.FilePath(safeName(show), "")
		},
		build: func(output string, d time.Duration) *exec.Cmd {
			return exec.Command("true")
		},
		locate: locateByExtension,
	}, deps, "Morning Show")

	errs := make(chan driver.SessionError, 1)
	session.Events().Error.Subscribe(func(e driver.SessionError) { errs <- e })

	session.Start(time.Hour)

	select {
	case e := <-errs:
		assert.ErrorContains(t, e.Err, "exited early")
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for early-exit error")
	}
}

func TestSessionStop(t *testing.T) {
	deps := testDeps(t)
	src, err := newCommand(map[string]any{
		"command": []any{"sleep", "60"},
	}, deps)
	require.NoError(t, err)

	session := src.Spawn("Morning Show")
	started := make(chan driver.SessionStart, 1)
	ended := make(chan struct{}, 1)
	session.Events().Start.Subscribe(func(e driver.SessionStart) { started <- e })
	session.Events().Error.Subscribe(func(driver.SessionError) { ended <- struct{}{} })
	session.Events().Done.Subscribe(func(driver.SessionDone) { ended <- struct{}{} })

	session.Start(0)

	select {
	case e := <-started:
		assert.Positive(t, e.PID)
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for start event")
	}

	require.NoError(t, session.Stop())
	// A second stop is a no-op while termination is in flight, or reports
	// ErrNotRunning if the process already went down.
	if err := session.Stop(); err != nil {
		assert.ErrorIs(t, err, driver.ErrNotRunning)
	}

	select {
	case <-ended:
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for session to end after stop")
	}
}
