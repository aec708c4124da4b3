// Package jobs contains the scheduled jobs run by the worker.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jornada-hub/jornada/internal/application/progression"
	"github.com/jornada-hub/jornada/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE PROFILES JOB
// ══════════════════════════════════════════════════════════════════════════════

// ProfileLister pages through member IDs.
type ProfileLister interface {
	ListProfileIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// Reconciler repairs one member's cached profile from the history.
type Reconciler interface {
	Reconcile(ctx context.Context, userID string) (*progression.ReconcileOutcome, error)
}

// ReconcileProfilesConfig contains configuration for the reconcile job.
type ReconcileProfilesConfig struct {
	// Concurrency is the number of members reconciled in parallel.
	Concurrency int

	// BatchSize is the page size used to list members.
	BatchSize int

	// Timeout bounds a whole run.
	Timeout time.Duration

	// MaxFailureRate fails the run when more members than this fraction
	// could not be reconciled.
	MaxFailureRate float64
}

// DefaultReconcileProfilesConfig returns sensible defaults.
func DefaultReconcileProfilesConfig() ReconcileProfilesConfig {
	return ReconcileProfilesConfig{
		Concurrency:    4,
		BatchSize:      200,
		Timeout:        15 * time.Minute,
		MaxFailureRate: 0.1,
	}
}

// ReconcileStats summarizes one run.
type ReconcileStats struct {
	StartedAt     time.Time
	CompletedAt   time.Time
	Duration      time.Duration
	Scanned       int
	Repaired      int
	PhaseChanges  int
	BadgesGranted int
	Failed        int
	Errors        []ReconcileError
}

// ReconcileError records a member that could not be reconciled.
type ReconcileError struct {
	UserID string
	Err    error
}

// ReconcileProfilesJob walks every member and rewrites profiles whose cached
// points, phase or counters drifted from the completion history.
type ReconcileProfilesJob struct {
	profiles   ProfileLister
	reconciler Reconciler
	log        *logger.Logger
	config     ReconcileProfilesConfig
	clock      func() time.Time

	lastStats atomic.Pointer[ReconcileStats]
}

// NewReconcileProfilesJob creates the job.
func NewReconcileProfilesJob(profiles ProfileLister, reconciler Reconciler, log *logger.Logger, config ReconcileProfilesConfig) *ReconcileProfilesJob {
	if log == nil {
		log = logger.Nop()
	}
	defaults := DefaultReconcileProfilesConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxFailureRate <= 0 {
		config.MaxFailureRate = defaults.MaxFailureRate
	}

	return &ReconcileProfilesJob{
		profiles:   profiles,
		reconciler: reconciler,
		log:        log.With(logger.Component("job"), logger.String("job", "reconcile_profiles")),
		config:     config,
		clock:      time.Now,
	}
}

// Name returns the job name.
func (j *ReconcileProfilesJob) Name() string {
	return "reconcile_profiles"
}

// Description returns a human-readable description.
func (j *ReconcileProfilesJob) Description() string {
	return "Recomputes member stats from history and repairs drifted profiles"
}

// Run executes the job.
func (j *ReconcileProfilesJob) Run(ctx context.Context) error {
	stats := &ReconcileStats{StartedAt: j.clock()}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	after := ""
	for {
		ids, err := j.profiles.ListProfileIDs(ctx, after, j.config.BatchSize)
		if err != nil {
			return fmt.Errorf("list profiles after %q: %w", after, err)
		}
		if len(ids) == 0 {
			break
		}

		if err := j.reconcileBatch(ctx, ids, stats); err != nil {
			return err
		}
		after = ids[len(ids)-1]
		if len(ids) < j.config.BatchSize {
			break
		}
	}

	stats.CompletedAt = j.clock()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastStats.Store(stats)

	j.log.Info("reconcile run completed",
		logger.Duration("duration", stats.Duration),
		logger.Int("scanned", stats.Scanned),
		logger.Int("repaired", stats.Repaired),
		logger.Int("phase_changes", stats.PhaseChanges),
		logger.Int("badges_granted", stats.BadgesGranted),
		logger.Int("failed", stats.Failed),
	)

	if stats.Scanned > 0 && float64(stats.Failed)/float64(stats.Scanned) > j.config.MaxFailureRate {
		return fmt.Errorf("reconcile failed for %d of %d members", stats.Failed, stats.Scanned)
	}
	return nil
}

func (j *ReconcileProfilesJob) reconcileBatch(ctx context.Context, ids []string, stats *ReconcileStats) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)

	for _, id := range ids {
		g.Go(func() error {
			out, err := j.reconciler.Reconcile(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			stats.Scanned++
			if err != nil {
				stats.Failed++
				stats.Errors = append(stats.Errors, ReconcileError{UserID: id, Err: err})
				j.log.Warn("reconcile failed", logger.UserID(id), logger.Err(err))
				return nil
			}
			if out.Repaired {
				stats.Repaired++
				j.log.Info("profile repaired",
					logger.UserID(id),
					logger.Points(out.Stats.Points),
					logger.PhaseName(out.Phase.Name),
					logger.Int("warnings", len(out.Warnings)),
				)
			}
			if out.PhaseChanged {
				stats.PhaseChanges++
			}
			stats.BadgesGranted += len(out.NewlyEarnedBadges)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// LastStats returns the stats of the last completed run, or nil.
func (j *ReconcileProfilesJob) LastStats() *ReconcileStats {
	return j.lastStats.Load()
}
