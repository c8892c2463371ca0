// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build windows

package procgroup

import (
	"os/exec"
	"syscall"
)

// Set is a no-op on Windows; capture tools are stopped via Process.Kill.
func Set(cmd *exec.Cmd) {}

// Kill terminates the root process. Child processes are not reaped on
// Windows; the supported deployment targets are unix-like systems.
func Kill(cmd *exec.Cmd, _ syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Kill()
	if err != nil && err.Error() == "os: process already finished" {
		return nil
	}
	return err
}
