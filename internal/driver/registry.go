// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package driver

import (
	"fmt"
	"sort"
	"sync"
)

// SourceFactory builds a source driver from its raw YAML mapping.
type SourceFactory func(cfg map[string]any, deps Deps) (Source, error)

// StorageFactory builds a storage driver from its raw YAML mapping.
type StorageFactory func(cfg map[string]any) (Storage, error)

var (
	registryMu sync.RWMutex
	sources    = map[string]SourceFactory{}
	storages   = map[string]StorageFactory{}
)

// RegisterSource makes a source driver type available to the configuration
// loader. Drivers register themselves from init; the daemon links them in
// with blank imports. Duplicate registration panics.
func RegisterSource(name string, f SourceFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := sources[name]; dup {
		panic(fmt.Sprintf("driver: source %q registered twice", name))
	}
	sources[name] = f
}

// RegisterStorage makes a storage driver type available to the configuration
// loader. Duplicate registration panics.
func RegisterStorage(name string, f StorageFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := storages[name]; dup {
		panic(fmt.Sprintf("driver: storage %q registered twice", name))
	}
	storages[name] = f
}

// NewSource builds a source driver of the given type.
func NewSource(name string, cfg map[string]any, deps Deps) (Source, error) {
	registryMu.RLock()
	f, ok := sources[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no source driver named %q (have %v)", name, SourceNames())
	}
	return f(cfg, deps)
}

// NewStorage builds a storage driver of the given type.
func NewStorage(name string, cfg map[string]any) (Storage, error) {
	registryMu.RLock()
	f, ok := storages[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no storage driver named %q (have %v)", name, StorageNames())
	}
	return f(cfg)
}

// SourceNames lists the registered source driver types, sorted.
func SourceNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StorageNames lists the registered storage driver types, sorted.
func StorageNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(storages))
	for name := range storages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
