// Package temp manages the daemon's scratch directory for in-flight captures.
package temp

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Dir is a lazily created per-daemon temp directory. The zero value is not
// usable; call New.
type Dir struct {
	mu     sync.Mutex
	prefix string
	path   string
}

// New returns an allocator that creates its directory on first use.
func New() *Dir {
	return &Dir{prefix: "aircheck-"}
}

// Path returns the temp directory, creating it on first call.
func (d *Dir) Path() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pathLocked()
}

func (d *Dir) pathLocked() (string, error) {
	if d.path != "" {
		return d.path, nil
	}
	path, err := os.MkdirTemp("", d.prefix)
	if err != nil {
		return "", fmt.Errorf("create temp directory: %w", err)
	}
	d.path = path
	return path, nil
}

// FilePath reserves a unique file path inside the temp directory. The file is
// created empty so concurrent allocations cannot collide; capture tools that
// append their own extension receive the path without one and the empty
// placeholder is harmless.
func (d *Dir) FilePath(prefix, suffix string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir, err := d.pathLocked()
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, prefix+"*"+suffix)
	if err != nil {
		return "", fmt.Errorf("allocate temp file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("allocate temp file: %w", err)
	}
	return path, nil
}

// Cleanup removes the temp directory and everything in it.
func (d *Dir) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.path == "" {
		return nil
	}
	err := os.RemoveAll(d.path)
	d.path = ""
	return err
}

// Join returns a path inside the temp directory without creating a file.
func (d *Dir) Join(name string) (string, error) {
	dir, err := d.Path()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
