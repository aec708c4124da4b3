// Package main is the entry point of the Jornada background worker.
//
// The worker runs the scheduled jobs without the HTTP API:
//   - reconcile_profiles: recomputes every member's stats from the completion
//     history and repairs drifted profiles
//
// With -run <job> it executes one job immediately and exits, which suits
// cron-driven deployments and manual repairs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jornada-hub/jornada/config"
	"github.com/jornada-hub/jornada/internal/app"
	"github.com/jornada-hub/jornada/internal/infrastructure/scheduler"
	"github.com/jornada-hub/jornada/pkg/logger"
)

func main() {
	runJob := flag.String("run", "", "run the named job once and exit")
	envFile := flag.String("env", ".env", "dotenv file to load before the environment")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envFile, *runJob); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envFile, runJob string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := app.NewLogger(cfg).With(logger.Component("worker"))
	defer func() { _ = log.Sync() }()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("failed to release resources", logger.Err(err))
		}
	}()

	sched, err := a.NewScheduler()
	if err != nil {
		return err
	}
	jobs := sched.ListJobs()
	if len(jobs) == 0 {
		log.Warn("no jobs enabled, nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// One-shot mode
	// ─────────────────────────────────────────────────────────────────────────
	if runJob != "" {
		result, err := sched.RunNow(ctx, runJob)
		if err != nil {
			return err
		}
		log.Info("job finished",
			logger.String("job", result.JobName),
			logger.Bool("success", result.Success),
			logger.Duration("duration", result.Duration),
		)
		if !result.Success {
			return fmt.Errorf("job %s failed: %w", result.JobName, result.Error)
		}
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Scheduler loop
	// ─────────────────────────────────────────────────────────────────────────
	for _, j := range jobs {
		log.Info("job registered",
			logger.String("job", j.Name),
			logger.String("schedule", j.Schedule),
			logger.Time("next_run", j.NextRun),
		)
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("received shutdown signal")

	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		return err
	}
	log.Info("worker stopped")
	return nil
}
