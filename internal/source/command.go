// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package source

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/aircheck/internal/driver"
)

func init() {
	driver.RegisterSource("command", newCommand)
}

const (
	outputPlaceholder   = "{output}"
	durationPlaceholder = "{duration}"
)

// Command records with an arbitrary capture tool given as an argv template.
// "{output}" in an argument is replaced with the allocated output path and
// "{duration}" with the session duration in whole seconds. A template that
// carries "{duration}" marks the tool as self-stopping; otherwise the engine
// terminates the process at the end of the show.
//
// Example:
//
//	type: command
//	command: ["jack_capture", "-d", "{duration}", "{output}"]
//	extension: ".wav"
type Command struct {
	argv      []string
	extension string
	selfStop  bool
	deps      driver.Deps
}

func newCommand(cfg map[string]any, deps driver.Deps) (driver.Source, error) {
	raw, ok := cfg["command"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("invalid command source driver configuration: no command provided")
	}

	argv := make([]string, len(raw))
	selfStop := false
	for i, v := range raw {
		arg, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("invalid command source driver configuration: argument %d is not a string", i)
		}
		argv[i] = arg
		if strings.Contains(arg, durationPlaceholder) {
			selfStop = true
		}
	}

	extension, _ := cfg["extension"].(string)
	if extension != "" && !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}

	return &Command{argv: argv, extension: extension, selfStop: selfStop, deps: deps}, nil
}

// Spawn implements driver.Source.
func (c *Command) Spawn(showName string) driver.Session {
	return newProcSession(sessionConfig{
		tool:     c.argv[0],
		selfStop: c.selfStop,
		allocOutput: func(show string) (string, error) {
			return c.deps.Temp.FilePath(safeName(show), c.extension)
		},
		build: func(output string, d time.Duration) *exec.Cmd {
			seconds := strconv.Itoa(int(d.Seconds()))
			args := make([]string, len(c.argv)-1)
			for i, arg := range c.argv[1:] {
				arg = strings.ReplaceAll(arg, outputPlaceholder, output)
				arg = strings.ReplaceAll(arg, durationPlaceholder, seconds)
				args[i] = arg
			}
			return exec.Command(c.argv[0], args...)
		},
		locate: func(output string) (string, error) {
			info, err := os.Stat(output)
			if err != nil {
				return "", fmt.Errorf("could not find %s output file: %w", c.argv[0], err)
			}
			if info.Size() == 0 {
				return "", fmt.Errorf("%s produced an empty recording at %s", c.argv[0], output)
			}
			return output, nil
		},
	}, c.deps, showName)
}
