package command

import (
	"context"
	"strings"

	"github.com/jornada-hub/jornada/internal/application/progression"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
	"github.com/jornada-hub/jornada/pkg/retry"
)

// RevertCompletionCommand removes one completion (the "toggle off" action).
type RevertCompletionCommand struct {
	UserID       string
	CompletionID string
}

// Validate validates the command.
func (c RevertCompletionCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return shared.ErrInvalidUserID
	}
	if strings.TrimSpace(c.CompletionID) == "" {
		return shared.NewDomainError("activity", "RevertCompletion", shared.ErrInvalidID, "completion_id is required")
	}
	return nil
}

// RevertCompletionHandler handles RevertCompletionCommand.
type RevertCompletionHandler struct {
	engine  Engine
	retrier *retry.Retrier
	log     *logger.Logger
}

// NewRevertCompletionHandler creates a new RevertCompletionHandler.
func NewRevertCompletionHandler(engine Engine, opts Options) *RevertCompletionHandler {
	opts = opts.withDefaults()
	return &RevertCompletionHandler{
		engine:  engine,
		retrier: opts.Retrier,
		log:     opts.Logger.With(logger.Component("command.revert_completion")),
	}
}

// Handle executes the command. A completion that is already gone reports
// ErrCompletionNotFound, so a retried revert is distinguishable from a first
// one.
func (h *RevertCompletionHandler) Handle(ctx context.Context, cmd RevertCompletionCommand) (*progression.Outcome, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var outcome *progression.Outcome
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = h.engine.RevertCompletion(ctx, cmd.UserID, cmd.CompletionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}
