// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package hook lets external code observe recorder events.
//
// Two kinds of hook implementations are supported transparently: in-process
// Go callables registered at compile time, and executable files. Executables
// receive the event payload as a JSON object on standard input; their output
// is ignored by the engine.
package hook

import (
	"fmt"
	"sort"
	"sync"
)

// Args is the payload of a hook invocation, keyed by field name.
type Args map[string]any

// Hook is an externally provided callable invoked on a recorder event.
type Hook interface {
	Call(args Args) error
}

// Func adapts a plain function to the Hook interface.
type Func func(args Args) error

// Call implements Hook.
func (f Func) Call(args Args) error { return f(args) }

var (
	registryMu sync.RWMutex
	registry   = map[string]Hook{}
)

// Register makes an in-process hook available under the given name.
// Duplicate registration panics; hooks are registered from init only.
func Register(name string, h Hook) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("hook: %q registered twice", name))
	}
	registry[name] = h
}

func registered(name string) (Hook, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	h, ok := registry[name]
	return h, ok
}

// Names lists the registered in-process hooks, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
