package progression

import (
	"context"
	"strings"
	"time"

	"github.com/jornada-hub/jornada/internal/domain/activity"
	"github.com/jornada-hub/jornada/internal/domain/badge"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/phase"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD COMPLETION
// Flow: Validate → Read Profile → Read History → Append Completion →
//
//	Recompute Stats → Resolve Phases → Record Phase Change →
//	Update Profile → Grant Badges → Commit → Publish Events
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionInput describes one completed activity.
type RecordCompletionInput struct {
	// CompletionID is optional. Supplying a stable ID makes retries safe: a
	// second insert with the same ID fails with a conflict.
	CompletionID string

	UserID       string
	ActivityID   string
	ActivityType activity.Type
	Points       *int
	Period       activity.Period
	School       string
	Comment      string

	// CompletedAt defaults to the engine clock.
	CompletedAt time.Time
}

// Outcome is the result of an operation that changed a member's points.
type Outcome struct {
	UserID string

	// Completion is the record that was appended or removed.
	Completion activity.Completion

	PreviousStats member.Stats
	Stats         member.Stats

	OldPhase     phase.Phase
	NewPhase     phase.Phase
	PhaseChanged bool
	PhaseChange  *member.PhaseChange

	// NewlyEarnedBadges are the badges granted by this call, in catalog order.
	NewlyEarnedBadges []badge.Badge

	// Warnings lists cached values that disagreed with the history. They were
	// overwritten with the computed values.
	Warnings []*shared.ConsistencyWarning

	Profile     member.Profile
	ProcessedAt time.Time
}

// HasNewBadges returns true if any badge was granted.
func (o *Outcome) HasNewBadges() bool {
	return len(o.NewlyEarnedBadges) > 0
}

type recordState struct {
	CurrentStep Step
	FailedStep  Step
	Input       RecordCompletionInput
	Completion  activity.Completion
	Profile     member.Profile
	History     []activity.Completion
	Before      member.Stats
	After       member.Stats
	Warnings    []*shared.ConsistencyWarning
	Settlement  *settlement
}

// RecordCompletion appends a completion and brings the member's points, phase
// and badges up to date.
//
// The engine does not apply the cool-down rule; callers check availability
// before invoking it. The engine does not deduplicate either: two calls without
// a CompletionID append two records.
func (e *Engine) RecordCompletion(ctx context.Context, input RecordCompletionInput) (*Outcome, error) {
	const op = "record_completion"
	started := e.clock()

	state := &recordState{CurrentStep: StepValidate, Input: input}

	completion, err := e.buildCompletion(input, started)
	if err != nil {
		return nil, flowError(op, StepValidate, input.UserID, err)
	}
	state.Completion = completion

	err = e.store.WithinTx(ctx, func(tx member.Store) error {
		return e.recordInTx(ctx, tx, state)
	})
	if err != nil {
		step := state.FailedStep
		if step == "" {
			step = StepCommit
		}
		e.log.Warn("record completion failed",
			logger.UserID(input.UserID),
			logger.ActivityID(input.ActivityID),
			logger.String("step", string(step)),
			logger.Err(err),
		)
		return nil, flowError(op, step, input.UserID, err)
	}

	s := state.Settlement
	e.logWarnings(op, state.Warnings)

	state.CurrentStep = StepPublishEvents
	events := []shared.Event{shared.CompletionEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventCompletionRecorded, completion.UserID, s.at),
		CompletionID: state.Completion.ID,
		ActivityID:   completion.ActivityID,
		ActivityType: string(completion.ActivityType),
		Points:       completion.PointsValue(),
		TotalPoints:  state.After.Points,
	}}
	e.publish(append(events, e.settlementEvents(s)...))

	state.CurrentStep = StepComplete
	e.log.Info("completion recorded",
		logger.UserID(completion.UserID),
		logger.CompletionID(state.Completion.ID),
		logger.Points(state.After.Points),
		logger.PhaseName(s.newPhase.Name),
		logger.Int("new_badges", len(s.newBadges)),
		logger.Latency(e.clock().Sub(started)),
	)

	return &Outcome{
		UserID:            completion.UserID,
		Completion:        state.Completion,
		PreviousStats:     state.Before,
		Stats:             state.After,
		OldPhase:          s.oldPhase,
		NewPhase:          s.newPhase,
		PhaseChanged:      s.phaseChanged(),
		PhaseChange:       s.phaseChange,
		NewlyEarnedBadges: s.newBadges,
		Warnings:          state.Warnings,
		Profile:           s.updated,
		ProcessedAt:       s.at,
	}, nil
}

func (e *Engine) buildCompletion(input RecordCompletionInput, now time.Time) (activity.Completion, error) {
	c := activity.Completion{
		ID:           strings.TrimSpace(input.CompletionID),
		UserID:       strings.TrimSpace(input.UserID),
		ActivityID:   strings.TrimSpace(input.ActivityID),
		ActivityType: input.ActivityType,
		Points:       input.Points,
		Period:       input.Period.Normalize(),
		School:       strings.TrimSpace(input.School),
		Comment:      strings.TrimSpace(input.Comment),
		CompletedAt:  input.CompletedAt,
	}
	if c.CompletedAt.IsZero() {
		c.CompletedAt = now
	}
	if c.ID == "" {
		c.ID = e.ids.GenerateID()
	}
	if err := c.Validate(); err != nil {
		return activity.Completion{}, err
	}
	return c, nil
}

func (e *Engine) recordInTx(ctx context.Context, tx member.Store, state *recordState) error {
	userID := state.Completion.UserID

	state.CurrentStep = StepReadProfile
	profile, err := tx.ReadProfile(ctx, userID)
	if err != nil {
		state.FailedStep = StepReadProfile
		return err
	}
	state.Profile = profile

	state.CurrentStep = StepReadHistory
	history, err := tx.QueryCompletions(ctx, userID, "")
	if err != nil {
		state.FailedStep = StepReadHistory
		return err
	}
	state.History = history
	state.Before = member.Aggregate(history, profile)

	state.CurrentStep = StepMutateLog
	id, err := tx.InsertCompletion(ctx, state.Completion)
	if err != nil {
		state.FailedStep = StepMutateLog
		return err
	}
	state.Completion.ID = id

	updatedHistory := append([]activity.Completion{state.Completion}, history...)
	state.After = member.Aggregate(updatedHistory, profile)

	state.Warnings = e.checkCache(profile, state.Before)
	incremental := member.ApplyDelta(profile.Points, state.Completion.PointsValue())
	if w := checkIncremental(userID, incremental, state.After.Points); w != nil {
		state.Warnings = append(state.Warnings, w)
	}

	s := &settlement{
		userID:       userID,
		profile:      profile,
		oldPhase:     e.phases.Resolve(state.Before.Points),
		stats:        state.After,
		lastLogin:    profile.LastLoginDate,
		completionID: state.Completion.ID,
		at:           e.clock(),
	}
	step, err := e.settle(ctx, tx, s)
	if err != nil {
		state.FailedStep = step
		return err
	}
	state.Settlement = s
	return nil
}
