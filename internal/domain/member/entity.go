// Package member contains the member profile, the stats snapshot derived from
// a member's history and the login streak rule.
//
// The profile caches points, phase and streak. Completion history is the
// source of truth for points and counts; the cached values are a projection
// rewritten by the progression engine.
package member

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jornada-hub/jornada/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE
// ══════════════════════════════════════════════════════════════════════════════

// Profile is the per-member summary kept next to the completion log.
type Profile struct {
	ID              string     `json:"id" validate:"required,max=128"`
	DisplayName     string     `json:"display_name" validate:"max=128"`
	Points          int        `json:"points" validate:"min=0"`
	Phase           string     `json:"phase" validate:"required"`
	ConsecutiveDays int        `json:"consecutive_days" validate:"min=0"`
	LastLoginDate   *time.Time `json:"last_login_date,omitempty"`
	Version         int64      `json:"version"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewProfileParams holds the inputs for NewProfile.
type NewProfileParams struct {
	ID          string
	DisplayName string
	Phase       string
	At          time.Time
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewProfile builds a zero-point profile in the given entry phase.
func NewProfile(p NewProfileParams) (*Profile, error) {
	profile := &Profile{
		ID:          strings.TrimSpace(p.ID),
		DisplayName: strings.TrimSpace(p.DisplayName),
		Phase:       p.Phase,
		CreatedAt:   p.At,
		UpdatedAt:   p.At,
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// Validate checks the profile invariants.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return shared.ErrInvalidUserID
	}
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return shared.WrapError("member", "Validate", shared.ErrValidation,
				"invalid profile: "+strings.Join(fields, ", "), err)
		}
		return shared.WrapError("member", "Validate", shared.ErrValidation, "invalid profile", err)
	}
	return nil
}

// ProfileUpdate is the set of cached fields rewritten after a recomputation.
// ExpectedVersion must match the stored version or the write is rejected with
// ErrProfileConflict.
type ProfileUpdate struct {
	Points          int
	Phase           string
	ConsecutiveDays int
	LastLoginDate   *time.Time
	ExpectedVersion int64
	At              time.Time
}

// Apply returns a copy of p with the update applied and the version bumped.
func (u ProfileUpdate) Apply(p Profile) Profile {
	p.Points = u.Points
	p.Phase = u.Phase
	p.ConsecutiveDays = u.ConsecutiveDays
	p.LastLoginDate = u.LastLoginDate
	p.Version = u.ExpectedVersion + 1
	p.UpdatedAt = u.At
	return p
}

// UpdateFrom starts a ProfileUpdate that keeps every field of p as is.
func UpdateFrom(p Profile, at time.Time) ProfileUpdate {
	return ProfileUpdate{
		Points:          p.Points,
		Phase:           p.Phase,
		ConsecutiveDays: p.ConsecutiveDays,
		LastLoginDate:   p.LastLoginDate,
		ExpectedVersion: p.Version,
		At:              at,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PHASE HISTORY & BADGES
// ══════════════════════════════════════════════════════════════════════════════

// PhaseChange records a member moving from one phase to another.
type PhaseChange struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	FromPhase    string    `json:"from_phase"`
	ToPhase      string    `json:"to_phase"`
	Points       int       `json:"points"`
	CompletionID string    `json:"completion_id,omitempty"`
	ChangedAt    time.Time `json:"changed_at"`
}

var phaseChangeNamespace = uuid.MustParse("6f1c1b52-3d7e-4b7a-9a53-2f0f5b6f1a10")

// NewPhaseChange builds a phase change whose ID is derived from its cause and
// from the profile version it was computed against. Retrying a rolled-back
// write yields the same ID; a later transition reusing the completion ID
// (after a revert) does not.
func NewPhaseChange(userID, from, to string, points int, completionID string, version int64, at time.Time) PhaseChange {
	key := strings.Join([]string{userID, completionID, from, to, strconv.FormatInt(version, 10)}, "|")
	if completionID == "" {
		key += "|" + at.UTC().Format(time.RFC3339Nano)
	}
	return PhaseChange{
		ID:           uuid.NewSHA1(phaseChangeNamespace, []byte(key)).String(),
		UserID:       userID,
		FromPhase:    from,
		ToPhase:      to,
		Points:       points,
		CompletionID: completionID,
		ChangedAt:    at,
	}
}

// EarnedBadge is the permanent record of a member holding a badge.
type EarnedBadge struct {
	UserID   string    `json:"user_id"`
	BadgeID  string    `json:"badge_id"`
	EarnedAt time.Time `json:"earned_at"`
}

// EarnedSet is the set of badge IDs a member holds.
type EarnedSet map[string]struct{}

// Has reports whether id is in the set.
func (s EarnedSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id into the set.
func (s EarnedSet) Add(id string) {
	s[id] = struct{}{}
}
