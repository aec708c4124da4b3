package command

import (
	"context"
	"strings"
	"time"

	"github.com/jornada-hub/jornada/internal/application/progression"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
	"github.com/jornada-hub/jornada/pkg/retry"
)

// RecordLoginCommand registers that a member opened the app.
type RecordLoginCommand struct {
	UserID string

	// At defaults to now.
	At time.Time
}

// RecordLoginHandler handles RecordLoginCommand.
type RecordLoginHandler struct {
	engine  Engine
	retrier *retry.Retrier
	clock   func() time.Time
	log     *logger.Logger
}

// NewRecordLoginHandler creates a new RecordLoginHandler.
func NewRecordLoginHandler(engine Engine, opts Options) *RecordLoginHandler {
	opts = opts.withDefaults()
	return &RecordLoginHandler{
		engine:  engine,
		retrier: opts.Retrier,
		clock:   opts.Clock,
		log:     opts.Logger.With(logger.Component("command.record_login")),
	}
}

// Handle executes the command. Repeating a login on the same day is harmless,
// so every retryable failure is retried.
func (h *RecordLoginHandler) Handle(ctx context.Context, cmd RecordLoginCommand) (*progression.LoginOutcome, error) {
	if strings.TrimSpace(cmd.UserID) == "" {
		return nil, shared.ErrInvalidUserID
	}
	at := cmd.At
	if at.IsZero() {
		at = h.clock()
	}

	var outcome *progression.LoginOutcome
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		outcome, err = h.engine.RecordLogin(ctx, cmd.UserID, at)
		return err
	})
	if err != nil {
		return nil, err
	}

	if outcome.Broken {
		h.log.Debug("streak restarted", logger.UserID(cmd.UserID), logger.Int("previous", outcome.PreviousStreak))
	}
	return outcome, nil
}
