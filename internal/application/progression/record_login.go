package progression

import (
	"context"
	"strings"
	"time"

	"github.com/jornada-hub/jornada/internal/domain/badge"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
)

// LoginOutcome is the result of RecordLogin.
type LoginOutcome struct {
	UserID         string
	PreviousStreak int
	Streak         int
	Broken         bool
	Stats          member.Stats

	NewlyEarnedBadges []badge.Badge
	Warnings          []*shared.ConsistencyWarning

	Profile     member.Profile
	ProcessedAt time.Time
}

// RecordLogin applies the streak rule for a login at `at` (the engine clock
// when zero), stores the new streak and last-login date, and grants any badge
// the new snapshot unlocks.
func (e *Engine) RecordLogin(ctx context.Context, userID string, at time.Time) (*LoginOutcome, error) {
	const op = "record_login"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, flowError(op, StepValidate, userID, shared.ErrInvalidUserID)
	}
	if at.IsZero() {
		at = e.clock()
	}

	var (
		failed   Step
		previous int
		broken   bool
		stats    member.Stats
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

		previous = profile.ConsecutiveDays
		broken = member.StreakBroken(profile.LastLoginDate, at)

		stats = member.Aggregate(history, profile)
		warnings = e.checkCache(profile, stats)
		stats.ConsecutiveDays = member.UpdateStreak(profile.LastLoginDate, profile.ConsecutiveDays, at)

		login := at
		s = &settlement{
			userID:    userID,
			profile:   profile,
			oldPhase:  e.phases.Resolve(stats.Points),
			stats:     stats,
			lastLogin: &login,
			at:        e.clock(),
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
		return nil, flowError(op, failed, userID, err)
	}

	e.logWarnings(op, warnings)

	events := []shared.Event{shared.StreakUpdatedEvent{
		BaseEvent:      shared.NewBaseEvent(shared.EventStreakUpdated, userID, s.at),
		PreviousStreak: previous,
		Streak:         stats.ConsecutiveDays,
		Broken:         broken,
	}}
	e.publish(append(events, e.settlementEvents(s)...))

	e.log.Debug("login recorded",
		logger.UserID(userID),
		logger.Int("streak", stats.ConsecutiveDays),
		logger.Bool("broken", broken),
	)

	return &LoginOutcome{
		UserID:            userID,
		PreviousStreak:    previous,
		Streak:            stats.ConsecutiveDays,
		Broken:            broken,
		Stats:             stats,
		NewlyEarnedBadges: s.newBadges,
		Warnings:          warnings,
		Profile:           s.updated,
		ProcessedAt:       s.at,
	}, nil
}
