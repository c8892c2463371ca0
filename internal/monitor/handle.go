// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package monitor

import (
	"os/exec"
	"sync"
)

// CmdHandle adapts a started *exec.Cmd to the non-blocking Handle contract.
// A dedicated goroutine performs the single blocking Wait; Poll only reads
// the recorded outcome.
type CmdHandle struct {
	mu     sync.Mutex
	code   int
	exited bool
	waitCh chan error
}

// NewCmdHandle wraps cmd, which must have been started. It reaps the process
// in the background as soon as it exits.
func NewCmdHandle(cmd *exec.Cmd) *CmdHandle {
	h := &CmdHandle{waitCh: make(chan error, 1)}

	go func() {
		err := cmd.Wait()

		h.mu.Lock()
		h.exited = true
		if cmd.ProcessState != nil {
			h.code = cmd.ProcessState.ExitCode()
		} else if err != nil {
			h.code = -1
		}
		h.mu.Unlock()

		h.waitCh <- err
	}()

	return h
}

// Poll reports the exit code once the process has exited.
func (h *CmdHandle) Poll() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.code, h.exited
}

// WaitCh yields the error from Wait exactly once; used with
// procgroup.Terminate for bounded kills.
func (h *CmdHandle) WaitCh() <-chan error {
	return h.waitCh
}
