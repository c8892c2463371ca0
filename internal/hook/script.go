// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// scriptTimeout bounds a single hook execution so a wedged script cannot
// occupy an invoker worker forever.
const scriptTimeout = 60 * time.Second

// Script invokes an executable file with the hook payload on stdin.
type Script struct {
	Path string
}

// Call runs the executable. A non-empty payload is serialized as one JSON
// object; a non-zero exit status is reported as an error.
func (s *Script) Call(args Args) error {
	var stdin bytes.Buffer
	if len(args) > 0 {
		data, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("failed to serialize hook arguments: %w", err)
		}
		stdin.Write(data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), scriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.Path)
	cmd.Dir = filepath.Dir(s.Path)
	cmd.Stdin = &stdin

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("hook timed out after %s", scriptTimeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("hook exited with error status %d", exitErr.ExitCode())
		}
		return fmt.Errorf("failed to execute hook: %w", err)
	}
	return nil
}

// Resolve returns the hook behind the given target.
//
// An absolute path must name an executable file. A bare name is first
// searched as an executable in searchPath, then looked up in the in-process
// registry.
func Resolve(target string, searchPath []string) (Hook, error) {
	if filepath.IsAbs(target) {
		if execFile(target) {
			return &Script{Path: target}, nil
		}
		return nil, fmt.Errorf("hook %q is not an executable file", target)
	}

	for _, dir := range searchPath {
		path := filepath.Join(dir, target)
		if execFile(path) {
			return &Script{Path: path}, nil
		}
	}

	if h, ok := registered(target); ok {
		return h, nil
	}
	return nil, fmt.Errorf("no hook named %q could be found", target)
}

func execFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
