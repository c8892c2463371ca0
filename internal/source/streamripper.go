// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package source

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ManuGH/aircheck/internal/driver"
)

func init() {
	driver.RegisterSource("streamripper", newStreamripper)
}

// Streamripper records internet radio streams with the streamripper(1) tool.
// It passes -l when the session has a duration, so streamripper bounds its
// own runtime and no forced stop is needed.
type Streamripper struct {
	executable string
	stream     string
	deps       driver.Deps
}

func newStreamripper(cfg map[string]any, deps driver.Deps) (driver.Source, error) {
	stream, ok := cfg["stream"].(string)
	if !ok || stream == "" {
		return nil, fmt.Errorf("invalid streamripper source driver configuration: no stream URL provided")
	}
	executable, _ := cfg["path"].(string)
	if executable == "" {
		executable = "streamripper"
	}
	return &Streamripper{executable: executable, stream: stream, deps: deps}, nil
}

// Spawn implements driver.Source.
func (r *Streamripper) Spawn(showName string) driver.Session {
	return newProcSession(sessionConfig{
		tool:     "streamripper",
		selfStop: true,
		allocOutput: func(show string) (string, error) {
			// Extensionless base; streamripper appends the codec suffix.
			return r.deps.Temp.FilePath(safeName(show), "")
		},
		build: func(output string, d time.Duration) *exec.Cmd {
			args := []string{r.stream, "-A"}
			if d > 0 {
				args = append(args, "-l", strconv.Itoa(int(d.Seconds())))
			}
			args = append(args, "-a", output)
			return exec.Command(r.executable, args...)
		},
		locate: locateByExtension,
	}, r.deps, showName)
}

// locateByExtension finds the single file streamripper produced by globbing
// for the base path plus any extension.
func locateByExtension(output string) (string, error) {
	matches, err := filepath.Glob(output + ".*")
	if err != nil {
		return "", fmt.Errorf("search for recording: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("could not find streamripper output file for %s", output)
	}
	return matches[0], nil
}
