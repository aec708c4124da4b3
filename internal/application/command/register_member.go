package command

import (
	"context"

	"github.com/jornada-hub/jornada/internal/application/progression"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/pkg/logger"
	"github.com/jornada-hub/jornada/pkg/retry"
)

// RegisterMemberCommand creates a member profile.
type RegisterMemberCommand struct {
	UserID      string
	DisplayName string
}

// RegisterMemberHandler handles RegisterMemberCommand.
type RegisterMemberHandler struct {
	engine  Engine
	retrier *retry.Retrier
	log     *logger.Logger
}

// NewRegisterMemberHandler creates a new RegisterMemberHandler.
func NewRegisterMemberHandler(engine Engine, opts Options) *RegisterMemberHandler {
	opts = opts.withDefaults()
	return &RegisterMemberHandler{
		engine:  engine,
		retrier: opts.Retrier,
		log:     opts.Logger.With(logger.Component("command.register_member")),
	}
}

// Handle executes the command. Only an unavailable store is retried; a
// duplicate registration is reported as is.
func (h *RegisterMemberHandler) Handle(ctx context.Context, cmd RegisterMemberCommand) (*member.Profile, error) {
	var profile *member.Profile
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		profile, err = h.engine.RegisterMember(ctx, progression.RegisterMemberInput{
			UserID:      cmd.UserID,
			DisplayName: cmd.DisplayName,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}
