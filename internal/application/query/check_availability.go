package query

import (
	"context"
	"strings"
	"time"

	"github.com/jornada-hub/jornada/internal/domain/activity"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/timeutil"
)

// CheckAvailabilityQuery asks whether an activity can be completed.
type CheckAvailabilityQuery struct {
	UserID     string
	ActivityID string

	// At defaults to now.
	At time.Time
}

// CheckAvailabilityHandler applies the cool-down rule to the stored history.
type CheckAvailabilityHandler struct {
	completions activity.CompletionRepository
	clock       func() time.Time
}

// NewCheckAvailabilityHandler creates a new handler. clock may be nil.
func NewCheckAvailabilityHandler(completions activity.CompletionRepository, clock func() time.Time) *CheckAvailabilityHandler {
	if clock == nil {
		clock = timeutil.Now
	}
	return &CheckAvailabilityHandler{completions: completions, clock: clock}
}

// Handle executes the query.
func (h *CheckAvailabilityHandler) Handle(ctx context.Context, q CheckAvailabilityQuery) (activity.Availability, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return activity.Availability{}, shared.ErrInvalidUserID
	}
	if strings.TrimSpace(q.ActivityID) == "" {
		return activity.Availability{}, shared.NewDomainError("query", "CheckAvailability", shared.ErrInvalidInput, "activity_id is required")
	}

	at := q.At
	if at.IsZero() {
		at = h.clock()
	}

	history, err := h.completions.QueryCompletions(ctx, q.UserID, q.ActivityID)
	if err != nil {
		return activity.Availability{}, err
	}
	return activity.CheckAvailability(history, q.ActivityID, at), nil
}
