// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package schedule computes upcoming recording windows for shows.
package schedule

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Schedule yields recording windows for one show.
type Schedule interface {
	// NextOccurrence returns the next window whose end is strictly after
	// now-leeway. The window is widened symmetrically: the start moves
	// leeway earlier and the duration grows by twice the leeway, so a
	// capture tool that needs warm-up time never misses the head of a
	// show. ok is false when the schedule has no further occurrences.
	NextOccurrence(now time.Time, leeway time.Duration) (start time.Time, duration time.Duration, ok bool)
}

// Factory builds a Schedule from its raw YAML mapping.
type Factory func(cfg map[string]any) (Schedule, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a schedule kind available to the configuration loader.
// It panics on duplicate registration; kinds are registered from init only.
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("schedule: kind %q registered twice", kind))
	}
	registry[kind] = f
}

// New builds a schedule of the given kind from its raw configuration.
func New(kind string, cfg map[string]any) (Schedule, error) {
	registryMu.RLock()
	f, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown schedule type %q", kind)
	}
	return f(cfg)
}

// Kinds lists the registered schedule kinds, sorted.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
