package member

import (
	"context"

	"github.com/jornada-hub/jornada/internal/domain/activity"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence. Every implementation
// reports driver and connection failures as shared.ErrStoreUnavailable.
// ══════════════════════════════════════════════════════════════════════════════

// ProfileRepository stores member profiles.
type ProfileRepository interface {
	// CreateProfile stores a new profile with version 1.
	// Returns ErrProfileAlreadyExists if the ID is taken.
	CreateProfile(ctx context.Context, p Profile) error

	// ReadProfile returns the profile. Inside WithinTx the row is locked until
	// the transaction ends.
	// Returns ErrProfileNotFound if it does not exist.
	ReadProfile(ctx context.Context, userID string) (Profile, error)

	// UpdateProfile rewrites the cached fields when the stored version equals
	// u.ExpectedVersion and returns the stored profile.
	// Returns ErrProfileConflict on a version mismatch.
	UpdateProfile(ctx context.Context, userID string, u ProfileUpdate) (Profile, error)

	// ListProfileIDs pages through member IDs in ascending order.
	ListProfileIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// PhaseHistoryRepository stores phase transitions.
type PhaseHistoryRepository interface {
	// InsertPhaseChange stores c. Writing the same ID twice is a no-op.
	InsertPhaseChange(ctx context.Context, c PhaseChange) error

	// QueryPhaseChanges returns transitions, oldest first.
	QueryPhaseChanges(ctx context.Context, userID string) ([]PhaseChange, error)
}

// BadgeRepository stores earned badges.
type BadgeRepository interface {
	// QueryEarnedBadgeIDs returns the set of badges the member holds.
	QueryEarnedBadgeIDs(ctx context.Context, userID string) (EarnedSet, error)

	// QueryEarnedBadges returns earned badges, oldest first.
	QueryEarnedBadges(ctx context.Context, userID string) ([]EarnedBadge, error)

	// InsertEarnedBadge grants a badge.
	// Returns ErrBadgeAlreadyEarned if the member already holds it.
	InsertEarnedBadge(ctx context.Context, b EarnedBadge) error
}

// Store is the full persistence surface used by the progression engine.
type Store interface {
	activity.CompletionRepository
	ProfileRepository
	PhaseHistoryRepository
	BadgeRepository

	// WithinTx runs fn against a transactional view of the store. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Store) error) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
