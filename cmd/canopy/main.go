package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/platinummonkey/canopy/pkg/async"
	"github.com/platinummonkey/canopy/pkg/config"
	"github.com/platinummonkey/canopy/pkg/observability"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		_ = observability.ShutdownOTel(context.Background(), providers, logger)
		return err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, srv, cfg.Server.ShutdownTimeout)
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	for _, c := range a.closers {
		shutdown.Register(c.name, c.fn)
	}

	if a.sweeper != nil {
		if err := a.sweeper.Start(ctx, cfg.Cleanup.Schedule); err != nil {
			_ = shutdown.Shutdown()
			return err
		}
		shutdown.Register("cleanup", a.sweeper.Stop)
	}

	if cfg.Groups.File != "" {
		watchCtx, stopWatch := context.WithCancel(ctx)
		shutdown.Register("config watcher", func(context.Context) error {
			stopWatch()
			return nil
		})
		go watchGroups(watchCtx, a, logger)
	}

	go func() {
		logger.WithField("addr", srv.Addr).Info("Starting canopy server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(ctx)
}

// watchGroups regenerates the group map whenever the groups file changes
func watchGroups(ctx context.Context, a *app, logger *observability.Logger) {
	defer observability.RecoverPanic(logger, "config watcher")

	err := config.WatchFile(ctx, a.cfg.Groups.File, 250*time.Millisecond, logger, func() {
		async.SafeGo(ctx, logger, reloadTimeout, "group regeneration", func(ctx context.Context) error {
			if err := a.reloadGroups(ctx); err != nil {
				return err
			}
			logger.Info("Regenerated compile groups after config change")
			return nil
		})
	})
	if err != nil {
		logger.WithError(err).Error("Config watcher stopped")
	}
}
