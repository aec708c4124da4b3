package progression

import (
	"context"

	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/logger"
)

// RegisterMemberInput contains the data needed to create a profile.
type RegisterMemberInput struct {
	UserID      string
	DisplayName string
}

// RegisterMember creates a zero-point profile in the entry phase.
// Returns ErrProfileAlreadyExists if the member is already registered.
func (e *Engine) RegisterMember(ctx context.Context, input RegisterMemberInput) (*member.Profile, error) {
	const op = "register_member"
	now := e.clock()

	profile, err := member.NewProfile(member.NewProfileParams{
		ID:          input.UserID,
		DisplayName: input.DisplayName,
		Phase:       e.phases.Lowest().Name,
		At:          now,
	})
	if err != nil {
		return nil, flowError(op, StepValidate, input.UserID, err)
	}

	if err := e.store.CreateProfile(ctx, *profile); err != nil {
		return nil, flowError(op, StepCreateProfile, profile.ID, err)
	}
	profile.Version = 1

	e.publish([]shared.Event{shared.MemberRegisteredEvent{
		BaseEvent:   shared.NewBaseEvent(shared.EventMemberRegistered, profile.ID, now),
		DisplayName: profile.DisplayName,
		Phase:       profile.Phase,
	}})

	e.log.Info("member registered", logger.UserID(profile.ID), logger.PhaseName(profile.Phase))
	return profile, nil
}
