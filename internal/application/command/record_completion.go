package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jornada-hub/jornada/internal/application/progression"
	"github.com/jornada-hub/jornada/internal/domain/activity"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
	"github.com/jornada-hub/jornada/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD COMPLETION COMMAND
// Checks the cool-down rule, then hands the completion to the engine.
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionCommand contains the data to record a completed activity.
type RecordCompletionCommand struct {
	// RequestID doubles as the completion ID, so a client retry of the same
	// request is rejected instead of counted twice. Generated when empty.
	RequestID string

	UserID       string
	ActivityID   string
	ActivityType activity.Type
	Points       *int
	Period       activity.Period
	School       string
	Comment      string

	// CompletedAt defaults to now and may not lie in the future.
	CompletedAt time.Time

	// Force skips the cool-down check (administrative corrections).
	Force bool
}

// Validate checks the fields the availability lookup needs. The engine
// validates the rest.
func (c RecordCompletionCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return shared.ErrInvalidUserID
	}
	if strings.TrimSpace(c.ActivityID) == "" {
		return shared.NewDomainError("activity", "RecordCompletion", shared.ErrInvalidInput, "activity_id is required")
	}
	return nil
}

// RecordCompletionResult contains the engine outcome plus the availability
// that was checked before recording.
type RecordCompletionResult struct {
	*progression.Outcome
	Availability activity.Availability
	Attempts     int
}

// LockedError reports an activity still in cool-down.
type LockedError struct {
	Availability activity.Availability
}

// Error implements the error interface.
func (e *LockedError) Error() string {
	if e.Availability.LockedForever {
		return fmt.Sprintf("activity %s cannot be completed again", e.Availability.ActivityID)
	}
	if e.Availability.UnlocksAt != nil {
		return fmt.Sprintf("activity %s is locked until %s", e.Availability.ActivityID, e.Availability.UnlocksAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("activity %s is locked", e.Availability.ActivityID)
}

// Unwrap makes errors.Is(err, shared.ErrActivityLocked) hold.
func (e *LockedError) Unwrap() error {
	return shared.ErrActivityLocked
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletionHandler handles RecordCompletionCommand.
type RecordCompletionHandler struct {
	engine      Engine
	completions activity.CompletionRepository
	retrier     *retry.Retrier
	clock       func() time.Time
	log         *logger.Logger
}

// NewRecordCompletionHandler creates a new RecordCompletionHandler.
func NewRecordCompletionHandler(engine Engine, completions activity.CompletionRepository, opts Options) *RecordCompletionHandler {
	opts = opts.withDefaults()
	return &RecordCompletionHandler{
		engine:      engine,
		completions: completions,
		retrier:     opts.Retrier,
		clock:       opts.Clock,
		log:         opts.Logger.With(logger.Component("command.record_completion")),
	}
}

// Handle executes the command.
func (h *RecordCompletionHandler) Handle(ctx context.Context, cmd RecordCompletionCommand) (*RecordCompletionResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	cmd.UserID = strings.TrimSpace(cmd.UserID)
	cmd.ActivityID = strings.TrimSpace(cmd.ActivityID)

	now := h.clock()
	completedAt := cmd.CompletedAt
	if completedAt.IsZero() {
		completedAt = now
	}
	if completedAt.After(now) {
		return nil, shared.NewDomainError("activity", "RecordCompletion", shared.ErrInvalidInput, "completed_at cannot be in the future")
	}

	history, err := h.completions.QueryCompletions(ctx, cmd.UserID, cmd.ActivityID)
	if err != nil {
		return nil, fmt.Errorf("record_completion: failed to load history: %w", err)
	}
	// Cool-down is evaluated at server time.
	availability := activity.CheckAvailability(history, cmd.ActivityID, now)
	if !availability.Available {
		if !cmd.Force {
			return nil, &LockedError{Availability: availability}
		}
		h.log.Info("cool-down bypassed",
			logger.UserID(cmd.UserID),
			logger.ActivityID(cmd.ActivityID),
		)
	}

	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	input := progression.RecordCompletionInput{
		CompletionID: requestID,
		UserID:       cmd.UserID,
		ActivityID:   cmd.ActivityID,
		ActivityType: cmd.ActivityType,
		Points:       cmd.Points,
		Period:       cmd.Period,
		School:       cmd.School,
		Comment:      cmd.Comment,
		CompletedAt:  completedAt,
	}

	var (
		outcome  *progression.Outcome
		attempts int
	)
	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		attempts++
		var err error
		outcome, err = h.engine.RecordCompletion(ctx, input)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &RecordCompletionResult{Outcome: outcome, Availability: availability, Attempts: attempts}, nil
}
