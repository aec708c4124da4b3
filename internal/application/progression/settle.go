package progression

import (
	"context"
	"errors"
	"time"

	"github.com/jornada-hub/jornada/internal/domain/badge"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/phase"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
)

// settlement carries a recomputed stats snapshot through the write half of an
// operation: phase resolution, the phase-change record, the profile write and
// badge grants. All writes go through tx.
type settlement struct {
	userID       string
	profile      member.Profile
	oldPhase     phase.Phase
	stats        member.Stats
	lastLogin    *time.Time
	completionID string
	at           time.Time

	newPhase    phase.Phase
	phaseChange *member.PhaseChange
	updated     member.Profile
	newBadges   []badge.Badge
}

func (s *settlement) phaseChanged() bool {
	return s.phaseChange != nil
}

// settle persists s.stats. It fills the result fields of s and returns the
// step that failed, if any.
func (e *Engine) settle(ctx context.Context, tx member.Store, s *settlement) (Step, error) {
	s.newPhase = e.phases.Resolve(s.stats.Points)

	if s.oldPhase.Name != s.newPhase.Name {
		change := member.NewPhaseChange(s.userID, s.oldPhase.Name, s.newPhase.Name, s.stats.Points, s.completionID, s.profile.Version, s.at)
		if err := tx.InsertPhaseChange(ctx, change); err != nil {
			return StepRecordPhase, err
		}
		s.phaseChange = &change
	}

	update := member.UpdateFrom(s.profile, s.at)
	update.Points = s.stats.Points
	update.Phase = s.newPhase.Name
	update.ConsecutiveDays = s.stats.ConsecutiveDays
	update.LastLoginDate = s.lastLogin

	updated, err := tx.UpdateProfile(ctx, s.userID, update)
	if err != nil {
		return StepUpdateProfile, err
	}
	s.updated = updated

	granted, err := e.grantBadges(ctx, tx, s.userID, s.stats, s.at)
	if err != nil {
		return StepGrantBadges, err
	}
	s.newBadges = granted

	return "", nil
}

// grantBadges inserts every newly eligible badge. A badge the store already
// holds is skipped and left out of the result: someone else granted it first.
func (e *Engine) grantBadges(ctx context.Context, tx member.Store, userID string, stats member.Stats, at time.Time) ([]badge.Badge, error) {
	earned, err := tx.QueryEarnedBadgeIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	var granted []badge.Badge
	for _, b := range e.badges.FindNewlyEligible(stats, earned) {
		err := tx.InsertEarnedBadge(ctx, member.EarnedBadge{UserID: userID, BadgeID: b.ID, EarnedAt: at})
		if errors.Is(err, shared.ErrBadgeAlreadyEarned) {
			e.log.Debug("badge already earned, skipping", logger.UserID(userID), logger.BadgeID(b.ID))
			continue
		}
		if err != nil {
			return nil, err
		}
		granted = append(granted, b)
	}
	return granted, nil
}

// checkCache compares the cached profile fields with stats recomputed from the
// same history. The computed values win; mismatches are reported, not fatal.
func (e *Engine) checkCache(profile member.Profile, computed member.Stats) []*shared.ConsistencyWarning {
	var warnings []*shared.ConsistencyWarning
	if profile.Points != computed.Points {
		warnings = append(warnings, &shared.ConsistencyWarning{
			UserID: profile.ID, Field: "points", Cached: profile.Points, Computed: computed.Points,
		})
	}
	if want := e.phases.Resolve(computed.Points).Name; profile.Phase != want {
		warnings = append(warnings, &shared.ConsistencyWarning{
			UserID: profile.ID, Field: "phase", Cached: profile.Phase, Computed: want,
		})
	}
	return warnings
}

// checkIncremental compares the incremental point total (cached points plus
// the delta, clamped) with the full recomputation.
func checkIncremental(userID string, incremental, computed int) *shared.ConsistencyWarning {
	if incremental == computed {
		return nil
	}
	return &shared.ConsistencyWarning{
		UserID: userID, Field: "points_incremental", Cached: incremental, Computed: computed,
	}
}

func (e *Engine) logWarnings(op string, warnings []*shared.ConsistencyWarning) {
	for _, w := range warnings {
		e.log.Warn("cached profile disagrees with history",
			logger.Operation(op),
			logger.UserID(w.UserID),
			logger.String("field", w.Field),
			logger.Any("cached", w.Cached),
			logger.Any("computed", w.Computed),
		)
	}
}

func warningStrings(warnings []*shared.ConsistencyWarning) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.Error())
	}
	return out
}
