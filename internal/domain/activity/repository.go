package activity

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// CompletionRepository is the append-only completion log.
type CompletionRepository interface {
	// InsertCompletion stores c and returns its ID. When c.ID is empty the
	// store assigns one. Returns ErrCompletionIDConflict for a reused ID.
	InsertCompletion(ctx context.Context, c Completion) (string, error)

	// DeleteCompletion removes a completion owned by userID.
	// Returns ErrCompletionNotFound if it does not exist.
	DeleteCompletion(ctx context.Context, userID, completionID string) error

	// QueryCompletions returns the member's completions, newest first.
	// An empty activityID returns the whole history.
	QueryCompletions(ctx context.Context, userID, activityID string) ([]Completion, error)
}
