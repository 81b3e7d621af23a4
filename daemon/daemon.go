// Package daemon assembles one orchestrator session: storage recovery,
// the store, the query engine, the worker launcher, the directory
// service, and the clock checker, run together until the loop exits.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"vigil/config"
	"vigil/internal/clock"
	"vigil/internal/directory"
	"vigil/internal/health/ntp"
	"vigil/internal/orchestrator"
	"vigil/internal/query"
	"vigil/internal/store"
	"vigil/internal/telemetry"
)

// Run executes one orchestrator session over the working directory and
// reports whether the caller should start another. A pending corruption
// marker is recovered before the store opens.
func Run(ctx context.Context, dir string) (restart bool, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create working directory: %w", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return false, err
	}

	if store.NeedsRecovery(dir) {
		slog.Warn("recovering from corrupt object store", "dir", dir)
		if err := store.Recover(dir); err != nil {
			return false, err
		}
	}
	st, err := store.Open(dir)
	if err != nil {
		return false, err
	}
	defer st.Close()

	launcher, err := newExecLauncher(dir)
	if err != nil {
		return false, err
	}

	checker := ntp.NewChecker(clock.Real{})
	tp := telemetry.NewProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	o := orchestrator.New(orchestrator.Options{
		WorkDir:         dir,
		Cameras:         cfg.Cameras,
		Rules:           cfg.Rules,
		Launcher:        launcher,
		Store:           st,
		Engine:          query.NewEngine(st),
		MaxStorageBytes: cfg.MaxStorageBytes,
		CacheHours:      cfg.CacheHours,
		WebPort:         cfg.WebPort,
		Persist: func(next *config.Config) error {
			next.LogLevel = cfg.LogLevel
			return next.Save(dir)
		},
		Tracer: tp.Tracer(telemetry.TracerName),
		NTP:    checker,
	})

	srv := directory.NewServer(
		filepath.Join(dir, directory.SocketName), o.Frontdesk(), clock.Real{}, slog.Default(),
		tp.Tracer(telemetry.TracerName))

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(gctx)
	g.Go(func() error {
		checker.Run(gctx)
		return nil
	})
	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error {
		// The loop exiting, for any reason, takes the session down.
		defer cancel()
		var runErr error
		restart, runErr = o.Run(gctx)
		return runErr
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return restart, err
	}
	return restart, nil
}
