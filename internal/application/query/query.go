// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"time"

	"github.com/jornada-hub/jornada/internal/domain/activity"
	"github.com/jornada-hub/jornada/internal/domain/badge"
	"github.com/jornada-hub/jornada/internal/domain/member"
	"github.com/jornada-hub/jornada/internal/domain/phase"
)

// ══════════════════════════════════════════════════════════════════════════════
// READ CONTRACTS
// ══════════════════════════════════════════════════════════════════════════════

// ProgressReader is the read-only slice of the store the queries use.
type ProgressReader interface {
	ReadProfile(ctx context.Context, userID string) (member.Profile, error)
	QueryCompletions(ctx context.Context, userID, activityID string) ([]activity.Completion, error)
	QueryEarnedBadges(ctx context.Context, userID string) ([]member.EarnedBadge, error)
	QueryPhaseChanges(ctx context.Context, userID string) ([]member.PhaseChange, error)
}

// ErrCacheMiss is returned by a ProgressCache that holds no entry.
var ErrCacheMiss = errors.New("progress cache miss")

// ProgressCache stores rendered progress views.
// Implementations must be safe for concurrent use.
type ProgressCache interface {
	// Get returns the cached view or ErrCacheMiss.
	Get(ctx context.Context, userID string) (*ProgressView, error)

	// Set stores a view for ttl. A zero ttl means the implementation default.
	Set(ctx context.Context, view *ProgressView, ttl time.Duration) error

	// Invalidate drops the cached view of a member.
	Invalidate(ctx context.Context, userID string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// DTOs
// ══════════════════════════════════════════════════════════════════════════════

// PhaseDTO is a phase as shown to clients.
type PhaseDTO struct {
	Name        string            `json:"name"`
	MinPoints   int               `json:"min_points"`
	MaxPoints   *int              `json:"max_points,omitempty"` // nil at the top tier
	Icon        string            `json:"icon"`
	Phrase      string            `json:"phrase"`
	Description string            `json:"description"`
	ColorTokens map[string]string `json:"color_tokens,omitempty"`
}

// NewPhaseDTO converts a phase.
func NewPhaseDTO(p phase.Phase) PhaseDTO {
	dto := PhaseDTO{
		Name:        p.Name,
		MinPoints:   p.MinPoints,
		Icon:        p.Icon,
		Phrase:      p.Phrase,
		Description: p.Description,
		ColorTokens: p.ColorTokens,
	}
	if !p.IsTop() {
		upper := p.MaxPoints
		dto.MaxPoints = &upper
	}
	return dto
}

// BadgeDTO is a catalog badge as shown to clients.
type BadgeDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
	Requirement string `json:"requirement"`
	Compound    bool   `json:"compound"`
}

// NewBadgeDTO converts a badge.
func NewBadgeDTO(b badge.Badge) BadgeDTO {
	return BadgeDTO{
		ID:          b.ID,
		Name:        b.Name,
		Icon:        b.Icon,
		Description: b.Description,
		Requirement: b.Requirement.String(),
		Compound:    b.IsCompound(),
	}
}
