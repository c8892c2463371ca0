// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ManuGH/aircheck/internal/driver"
	"github.com/ManuGH/aircheck/internal/log"
	"github.com/ManuGH/aircheck/internal/metrics"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

func init() {
	driver.RegisterStorage("filesystem", newFilesystem)
}

// Filesystem stores recordings as regular files under a templated path.
type Filesystem struct {
	events   driver.StorageEvents
	template *PathTemplate
	logger   zerolog.Logger
}

func newFilesystem(cfg map[string]any) (driver.Storage, error) {
	location, ok := cfg["location"].(string)
	if !ok || location == "" {
		return nil, fmt.Errorf("invalid filesystem storage driver config: no storage location provided")
	}
	template, err := CompilePathTemplate(location)
	if err != nil {
		return nil, fmt.Errorf("invalid filesystem storage location: %w", err)
	}
	return &Filesystem{
		template: template,
		logger:   log.WithComponent("storage.filesystem"),
	}, nil
}

// Events implements driver.Storage.
func (f *Filesystem) Events() *driver.StorageEvents { return &f.events }

// Save copies the capture into place on a background goroutine. The source
// file's extension is preserved; the copy lands atomically so readers never
// observe a partial recording.
func (f *Filesystem) Save(source, show, filePath string) {
	go func() {
		dest := f.template.Render(source, show) + filepath.Ext(filePath)
		if err := f.copy(filePath, dest); err != nil {
			f.logger.Error().
				Err(err).
				Str("source", source).
				Str("show", show).
				Str("dest", dest).
				Msg("failed to store recording")
			metrics.RecordSave("filesystem", false)
			f.events.Error.Emit(driver.StorageError{Source: source, Show: show, Err: err})
			return
		}

		f.logger.Info().
			Str("source", source).
			Str("show", show).
			Str("location", dest).
			Msg("recording stored")
		metrics.RecordSave("filesystem", true)
		f.events.Save.Emit(driver.StorageSave{Source: source, Show: show, Location: dest})
	}()
}

func (f *Filesystem) copy(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open capture file: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	defer func() { _ = out.Cleanup() }()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy recording: %w", err)
	}
	if err := out.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("finalize recording: %w", err)
	}
	return nil
}
