// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the daemon's YAML configuration and materializes the
// configured drivers, schedules and hook registrations.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ManuGH/aircheck/internal/driver"
	"github.com/ManuGH/aircheck/internal/hook"
	"github.com/ManuGH/aircheck/internal/schedule"
	"gopkg.in/yaml.v3"
)

// Error marks a problem with the configuration file itself, as opposed to a
// runtime failure. The daemon prints it and exits non-zero without a stack.
type Error struct {
	err error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

func errf(format string, args ...any) *Error {
	return &Error{err: fmt.Errorf(format, args...)}
}

// Options are the daemon-wide tunables from the "options" section.
type Options struct {
	// CheckInterval is the scheduler tick period.
	CheckInterval time.Duration
	// Leeway widens every recording window on both ends.
	Leeway time.Duration
	// HookPoolSize is the number of hook worker goroutines.
	HookPoolSize int
	// HookSearchPath lists directories searched for hook scripts given by
	// bare name.
	HookSearchPath []string
}

// Show is one configured show of a source.
type Show struct {
	Name     string
	Schedule schedule.Schedule
}

// Source is one configured capture source with its driver and shows.
type Source struct {
	Name         string
	Driver       driver.Source
	StorageNames []string
	Shows        []Show
}

// HookSpec is one hook registration from the "hooks" section. Target is
// resolved against the hook search path and the in-process registry when the
// configuration is applied.
type HookSpec struct {
	Description string
	Target      string
}

// Configuration is a fully materialized configuration file.
type Configuration struct {
	Options Options
	Storage map[string]driver.Storage
	Sources map[string]*Source
	Hooks   map[string][]HookSpec
}

type rawConfig struct {
	Options map[string]any            `yaml:"options"`
	Storage map[string]map[string]any `yaml:"storage"`
	Sources map[string]map[string]any `yaml:"sources"`
	Hooks   map[string]any            `yaml:"hooks"`
}

// Load reads and materializes the configuration file at path. Any problem is
// reported as a *Error.
func Load(path string, deps driver.Deps) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errf("read configuration: %w", err)
	}
	return Parse(data, deps)
}

// Parse materializes a configuration from its YAML bytes.
func Parse(data []byte, deps driver.Deps) (*Configuration, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errf("parse configuration: %w", err)
	}

	cfg := &Configuration{
		Storage: make(map[string]driver.Storage),
		Sources: make(map[string]*Source),
		Hooks:   make(map[string][]HookSpec),
	}

	if err := cfg.loadOptions(raw.Options); err != nil {
		return nil, err
	}
	if err := cfg.loadStorage(raw.Storage); err != nil {
		return nil, err
	}
	if err := cfg.loadSources(raw.Sources, deps); err != nil {
		return nil, err
	}
	if err := cfg.loadHooks(raw.Hooks); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Configuration) loadOptions(raw map[string]any) error {
	c.Options = Options{
		CheckInterval: time.Second,
		HookPoolSize:  hook.DefaultPoolSize,
	}

	for key, value := range raw {
		switch key {
		case "check_interval":
			d, err := seconds(value)
			if err != nil || d <= 0 {
				return errf("invalid check_interval %v", value)
			}
			c.Options.CheckInterval = d
		case "leeway":
			d, err := seconds(value)
			if err != nil || d < 0 {
				return errf("invalid leeway %v", value)
			}
			c.Options.Leeway = d
		case "hook_pool_size":
			n, ok := value.(int)
			if !ok || n <= 0 {
				return errf("invalid hook_pool_size %v", value)
			}
			c.Options.HookPoolSize = n
		case "hook_search_path":
			dirs, err := stringList(value)
			if err != nil {
				return errf("invalid hook_search_path: %w", err)
			}
			c.Options.HookSearchPath = dirs
		default:
			return errf("unknown option %q", key)
		}
	}
	return nil
}

func (c *Configuration) loadStorage(raw map[string]map[string]any) error {
	for name, section := range raw {
		kind, ok := section["type"].(string)
		if !ok || kind == "" {
			return errf("storage %q: no driver type provided", name)
		}
		s, err := driver.NewStorage(kind, section)
		if err != nil {
			return errf("storage %q: %w", name, err)
		}
		c.Storage[name] = s
	}
	return nil
}

func (c *Configuration) loadSources(raw map[string]map[string]any, deps driver.Deps) error {
	for name, section := range raw {
		kind, ok := section["type"].(string)
		if !ok || kind == "" {
			return errf("source %q: no driver type provided", name)
		}

		src, err := driver.NewSource(kind, section, deps)
		if err != nil {
			return errf("source %q: %w", name, err)
		}

		storageNames, err := stringList(section["storage"])
		if err != nil {
			return errf("source %q: invalid storage reference: %w", name, err)
		}
		for _, ref := range storageNames {
			if _, ok := c.Storage[ref]; !ok {
				return errf("source %q references unknown storage %q", name, ref)
			}
		}

		source := &Source{Name: name, Driver: src, StorageNames: storageNames}

		shows, _ := section["shows"].(map[string]any)
		for showName, rawShow := range shows {
			showCfg, ok := rawShow.(map[string]any)
			if !ok {
				return errf("source %q: show %q is not a mapping", name, showName)
			}
			kind, _ := showCfg["type"].(string)
			if kind == "" {
				kind = "weekly"
			}
			sched, err := schedule.New(kind, showCfg)
			if err != nil {
				return errf("source %q: show %q: %w", name, showName, err)
			}
			source.Shows = append(source.Shows, Show{Name: showName, Schedule: sched})
		}
		sort.Slice(source.Shows, func(i, j int) bool {
			return source.Shows[i].Name < source.Shows[j].Name
		})

		c.Sources[name] = source
	}
	return nil
}

// loadHooks accepts two shapes per hook name: a plain list of targets, which
// get positional descriptions ("show_done:0", ...), or a mapping of
// description to target.
func (c *Configuration) loadHooks(raw map[string]any) error {
	for name, section := range raw {
		switch v := section.(type) {
		case []any:
			for i, entry := range v {
				target, ok := entry.(string)
				if !ok {
					return errf("hook %q: entry %d is not a string", name, i)
				}
				c.Hooks[name] = append(c.Hooks[name], HookSpec{
					Description: fmt.Sprintf("%s:%d", name, i),
					Target:      target,
				})
			}
		case map[string]any:
			descriptions := make([]string, 0, len(v))
			for desc := range v {
				descriptions = append(descriptions, desc)
			}
			sort.Strings(descriptions)
			for _, desc := range descriptions {
				target, ok := v[desc].(string)
				if !ok {
					return errf("hook %q: target for %q is not a string", name, desc)
				}
				c.Hooks[name] = append(c.Hooks[name], HookSpec{Description: desc, Target: target})
			}
		case nil:
		default:
			return errf("hook %q: expected a list or a mapping", name)
		}
	}
	return nil
}

// seconds converts a YAML scalar (int or float, in seconds) to a duration.
func seconds(v any) (time.Duration, error) {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Second, nil
	case int64:
		return time.Duration(n) * time.Second, nil
	case float64:
		return time.Duration(n * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("expected a number of seconds, got %T", v)
	}
}

// stringList accepts a single string or a list of strings; nil yields nil.
func stringList(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{t}, nil
	case []any:
		out := make([]string, len(t))
		for i, entry := range t {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("entry %d is not a string", i)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a string or a list of strings, got %T", v)
	}
}
