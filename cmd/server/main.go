// Package main is the entry point of the Jornada API server.
//
// The server exposes the progression engine over HTTP and, unless the
// scheduler is disabled, runs the nightly profile reconciliation in the same
// process. Deployments with several API replicas disable the scheduler here
// and run cmd/worker once instead.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/jornada-hub/jornada/config"
	"github.com/jornada-hub/jornada/internal/app"
	httpapi "github.com/jornada-hub/jornada/internal/interface/http"
	"github.com/jornada-hub/jornada/internal/infrastructure/scheduler"
	"github.com/jornada-hub/jornada/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := app.NewLogger(cfg)
	defer func() { _ = log.Sync() }()
	log.Info("starting Jornada API",
		logger.Bool("debug", cfg.App.Debug),
		logger.String("store", cfg.Store.Driver),
		logger.Bool("redis", !cfg.Redis.Disabled),
		logger.Bool("scheduler", cfg.Scheduler.Enabled),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Backends, engine and handlers
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("failed to release resources", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. HTTP server
	// ─────────────────────────────────────────────────────────────────────────
	server := httpapi.NewServer(httpConfig(cfg), httpapi.Dependencies{
		RegisterMember:    a.RegisterMember,
		RecordCompletion:  a.RecordCompletion,
		RevertCompletion:  a.RevertCompletion,
		RecordLogin:       a.RecordLogin,
		GetProgress:       a.GetProgress,
		CheckAvailability: a.CheckAvailability,
		Catalog:           a.CatalogQuery,
		Health:            a.HealthChecker(),
		Logger:            log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Scheduler (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = a.NewScheduler()
		if err != nil {
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Run until a signal or a component fails
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	if sched != nil {
		if err := sched.Start(gctx); err != nil {
			return err
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if sched != nil {
			if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
				errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown completed")
	return nil
}

func httpConfig(cfg *config.Config) httpapi.Config {
	c := httpapi.DefaultConfig()
	c.Host = cfg.HTTP.Host
	c.Port = cfg.HTTP.Port
	c.ReadTimeout = cfg.HTTP.ReadTimeout
	c.WriteTimeout = cfg.HTTP.WriteTimeout
	c.IdleTimeout = cfg.HTTP.IdleTimeout
	c.RequestTimeout = cfg.HTTP.RequestTimeout
	c.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	c.EnableCORS = cfg.HTTP.EnableCORS
	c.AllowedOrigins = cfg.HTTP.AllowedOrigins
	c.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	c.RateLimitClients = cfg.HTTP.RateLimitClients
	c.AllowForce = func(userID string) bool {
		return cfg.Features.IsEnabledFor(config.FeatureForceOverride, userID)
	}
	return c
}
