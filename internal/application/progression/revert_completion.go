package progression

import (
	"context"
	"strings"

	"github.com/jornada-hub/jornada/internal/domain/activity"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVERT COMPLETION
// Flow: Read Profile → Read History → Remove Completion → Recompute Stats →
//
//	Resolve Phases → Record Phase Change → Update Profile → Commit
//
// Badges are never revoked. Badge evaluation still runs so a member whose
// cache had drifted does not lose a badge they were already entitled to.
// ══════════════════════════════════════════════════════════════════════════════

// RevertCompletion removes one completion and recomputes the member's points
// and phase. Points never go below zero.
func (e *Engine) RevertCompletion(ctx context.Context, userID, completionID string) (*Outcome, error) {
	const op = "revert_completion"
	started := e.clock()

	userID = strings.TrimSpace(userID)
	completionID = strings.TrimSpace(completionID)
	if userID == "" {
		return nil, flowError(op, StepValidate, userID, shared.ErrInvalidUserID)
	}
	if completionID == "" {
		return nil, flowError(op, StepValidate, userID,
			shared.NewDomainError("activity", "RevertCompletion", shared.ErrInvalidID, "completion ID is required"))
	}

	var (
		failed   Step
		removed  activity.Completion
		before   member.Stats
		after    member.Stats
		warnings []*shared.ConsistencyWarning
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

		target, ok := activity.Find(history, completionID)
		if !ok {
			failed = StepMutateLog
			return shared.ErrCompletionNotFound
		}
		if err := tx.DeleteCompletion(ctx, userID, completionID); err != nil {
			failed = StepMutateLog
			return err
		}
		removed = target

		remaining := make([]activity.Completion, 0, len(history)-1)
		for _, c := range history {
			if c.ID != completionID {
				remaining = append(remaining, c)
			}
		}

		before = member.Aggregate(history, profile)
		after = member.Aggregate(remaining, profile)

		warnings = e.checkCache(profile, before)
		incremental := member.ApplyDelta(profile.Points, -target.PointsValue())
		if w := checkIncremental(userID, incremental, after.Points); w != nil {
			warnings = append(warnings, w)
		}

		s = &settlement{
			userID:       userID,
			profile:      profile,
			oldPhase:     e.phases.Resolve(before.Points),
			stats:        after,
			lastLogin:    profile.LastLoginDate,
			completionID: completionID,
			at:           e.clock(),
		}
		step, err := e.settle(ctx, tx, s)
		if err != nil {
			failed = step
			return err
		}
		return nil
	})
	if err != nil {
		if failed == "" {
			failed = StepCommit
		}
		e.log.Warn("revert completion failed",
			logger.UserID(userID),
			logger.CompletionID(completionID),
			logger.String("step", string(failed)),
			logger.Err(err),
		)
		return nil, flowError(op, failed, userID, err)
	}

	e.logWarnings(op, warnings)

	events := []shared.Event{shared.CompletionEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventCompletionReverted, userID, s.at),
		CompletionID: removed.ID,
		ActivityID:   removed.ActivityID,
		ActivityType: string(removed.ActivityType),
		Points:       removed.PointsValue(),
		TotalPoints:  after.Points,
	}}
	e.publish(append(events, e.settlementEvents(s)...))

	e.log.Info("completion reverted",
		logger.UserID(userID),
		logger.CompletionID(completionID),
		logger.Points(after.Points),
		logger.PhaseName(s.newPhase.Name),
		logger.Latency(e.clock().Sub(started)),
	)

	return &Outcome{
		UserID:            userID,
		Completion:        removed,
		PreviousStats:     before,
		Stats:             after,
		OldPhase:          s.oldPhase,
		NewPhase:          s.newPhase,
		PhaseChanged:      s.phaseChanged(),
		PhaseChange:       s.phaseChange,
		NewlyEarnedBadges: s.newBadges,
		Warnings:          warnings,
		Profile:           s.updated,
		ProcessedAt:       s.at,
	}, nil
}
