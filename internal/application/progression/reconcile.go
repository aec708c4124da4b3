package progression

import (
	"context"
	"strings"
	"time"

	"github.com/jornada-hub/jornada/internal/domain/badge"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/phase"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
)

// ReconcileOutcome is the result of Reconcile.
type ReconcileOutcome struct {
	UserID string
	Stats  member.Stats
	Phase  phase.Phase

	// Repaired is true when the cached profile was rewritten.
	Repaired     bool
	PhaseChanged bool
	Warnings     []*shared.ConsistencyWarning

	NewlyEarnedBadges []badge.Badge
	ProcessedAt       time.Time
}

// Reconcile recomputes a member's stats from the full history and repairs the
// cached profile when it drifted, for example after a partial failure on a
// store without multi-row transactions. A phase transition hidden by the drift
// gets its phase-change record, and eligible badges that are missing are
// granted.
func (e *Engine) Reconcile(ctx context.Context, userID string) (*ReconcileOutcome, error) {
	const op = "reconcile"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, flowError(op, StepValidate, userID, shared.ErrInvalidUserID)
	}

	var (
		failed   Step
		stats    member.Stats
		warnings []*shared.ConsistencyWarning
		current  phase.Phase
		granted  []badge.Badge
		s        *settlement
	)

	err := e.store.WithinTx(ctx, func(tx member.Store) error {
		profile, err := tx.ReadProfile(ctx, userID)
		if err != nil {
			failed = StepReadProfile
			return err
		}

		history, err := tx.QueryCompletions(ctx, userID, "")
		if err != nil {
			failed = StepReadHistory
			return err
		}

		stats = member.Aggregate(history, profile)
		warnings = e.checkCache(profile, stats)
		current = e.phases.Resolve(stats.Points)

		if len(warnings) == 0 {
			granted, err = e.grantBadges(ctx, tx, userID, stats, e.clock())
			if err != nil {
				failed = StepGrantBadges
			}
			return err
		}

		// The phase the member was last told about is the cached one.
		old, ok := e.phases.Lookup(profile.Phase)
		if !ok {
			old = e.phases.Resolve(profile.Points)
		}

		s = &settlement{
			userID:    userID,
			profile:   profile,
			oldPhase:  old,
			stats:     stats,
			lastLogin: profile.LastLoginDate,
			at:        e.clock(),
		}
		step, err := e.settle(ctx, tx, s)
		if err != nil {
			failed = step
			return err
		}
		granted = s.newBadges
		return nil
	})
	if err != nil {
		if failed == "" {
			failed = StepCommit
		}
		return nil, flowError(op, failed, userID, err)
	}

	out := &ReconcileOutcome{
		UserID:            userID,
		Stats:             stats,
		Phase:             current,
		Warnings:          warnings,
		NewlyEarnedBadges: granted,
		ProcessedAt:       e.clock(),
	}

	var events []shared.Event
	if s != nil {
		out.Repaired = true
		out.PhaseChanged = s.phaseChanged()
		out.ProcessedAt = s.at

		e.logWarnings(op, warnings)
		events = append(events, shared.ProfileReconciledEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventProfileReconciled, userID, s.at),
			Points:    stats.Points,
			Phase:     current.Name,
			Warnings:  warningStrings(warnings),
		})
		events = append(events, e.settlementEvents(s)...)
	} else {
		for _, b := range granted {
			events = append(events, shared.BadgeEarnedEvent{
				BaseEvent: shared.NewBaseEvent(shared.EventBadgeEarned, userID, out.ProcessedAt),
				BadgeID:   b.ID,
				BadgeName: b.Name,
			})
		}
	}
	e.publish(events)

	if out.Repaired || len(granted) > 0 {
		e.log.Info("profile reconciled",
			logger.UserID(userID),
			logger.Points(stats.Points),
			logger.PhaseName(current.Name),
			logger.Bool("repaired", out.Repaired),
			logger.Int("new_badges", len(granted)),
		)
	}

	return out, nil
}
