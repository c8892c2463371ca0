// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command daemon runs the aircheck recording scheduler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/aircheck/internal/config"
	"github.com/ManuGH/aircheck/internal/daemon"
	"github.com/ManuGH/aircheck/internal/driver"
	"github.com/ManuGH/aircheck/internal/engine"
	"github.com/ManuGH/aircheck/internal/log"
	"github.com/ManuGH/aircheck/internal/monitor"
	"github.com/ManuGH/aircheck/internal/schedule"
	"github.com/ManuGH/aircheck/internal/temp"
	"golang.org/x/sync/errgroup"

	// Capture and storage drivers register themselves.
	_ "github.com/ManuGH/aircheck/internal/source"
	_ "github.com/ManuGH/aircheck/internal/storage"
)

// Set via -ldflags at build time.
var version = "dev"

const (
	exitOK = iota
	exitRuntime
	exitConfig
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "/etc/aircheck/config.yml", "path to the configuration file")
		listenAddr  = flag.String("listen", ":8090", "status server listen address (empty to disable)")
		logLevel    = flag.String("log-level", "info", "log level (trace, debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("aircheck %s\n", version)
		return exitOK
	}

	log.Configure(log.Config{
		Level:   *logLevel,
		Service: "aircheck",
		Version: version,
	})
	logger := log.Base()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mon := monitor.New()
	scratch := temp.New()
	deps := driver.Deps{Monitor: mon, Temp: scratch}

	cfg, err := config.Load(*configPath, deps)
	if err != nil {
		logger.Error().Err(err).Str("path", *configPath).Msg("invalid configuration")
		return exitConfig
	}

	recorder, err := engine.New(cfg, mon, schedule.RealClock{})
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return exitConfig
	}

	holder := config.NewHolder(cfg, *configPath, deps)
	holder.OnReload(func(next *config.Configuration) {
		if err := recorder.Apply(next); err != nil {
			logger.Error().Err(err).Msg("reloaded configuration rejected; keeping previous one")
		}
	})
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("configuration hot reload disabled")
	}

	manager := daemon.NewManager(daemon.Config{ListenAddr: *listenAddr}, daemon.NewRouter(recorder))

	logger.Info().
		Str("version", version).
		Str("config", *configPath).
		Int("sources", len(cfg.Sources)).
		Msg("aircheck starting")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return recorder.Run(ctx) })
	g.Go(func() error { return manager.Start(ctx) })
	err = g.Wait()

	// The recorder's final saves read capture files from the scratch dir;
	// it must survive until both loops have returned.
	if cerr := scratch.Cleanup(); cerr != nil {
		logger.Warn().Err(cerr).Msg("failed to remove temp directory")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("daemon exited with error")
		return exitRuntime
	}

	logger.Info().Msg("aircheck stopped")
	return exitOK
}
