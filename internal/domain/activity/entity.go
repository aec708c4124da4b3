// Package activity contains completed activities and the cool-down rule that
// decides whether a recurring mission may be completed again.
package activity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jornada-hub/jornada/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY TYPE
// ══════════════════════════════════════════════════════════════════════════════

// Type is the category of a completed activity.
type Type string

const (
	TypeMission Type = "mission"
	TypeBook    Type = "book"
	TypeCourse  Type = "course"
)

// AllTypes lists every known activity type.
var AllTypes = []Type{TypeMission, TypeBook, TypeCourse}

// IsValid reports whether t is a known activity type.
func (t Type) IsValid() bool {
	switch t {
	case TypeMission, TypeBook, TypeCourse:
		return true
	default:
		return false
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION
// ══════════════════════════════════════════════════════════════════════════════

// Completion is one append-only record of a member completing an activity.
type Completion struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id" validate:"required,max=128"`
	ActivityID   string    `json:"activity_id" validate:"required,max=128"`
	ActivityType Type      `json:"activity_type" validate:"required"`
	Points       *int      `json:"points" validate:"required,min=0"`
	Period       Period    `json:"period,omitempty" validate:"max=32"`
	School       string    `json:"school,omitempty" validate:"max=256"`
	Comment      string    `json:"comment,omitempty" validate:"max=2000"`
	CompletedAt  time.Time `json:"completed_at" validate:"required"`
}

// PointsValue returns the awarded points, treating a missing value as zero.
func (c Completion) PointsValue() int {
	if c.Points == nil {
		return 0
	}
	return *c.Points
}

// IntPtr is a small helper for building completions.
func IntPtr(v int) *int {
	return &v
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects malformed completions before any state is touched.
func (c Completion) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return shared.WrapError("activity", "Validate", shared.ErrValidation,
				"invalid completion: "+strings.Join(fields, ", "), err)
		}
		return shared.WrapError("activity", "Validate", shared.ErrValidation, "invalid completion", err)
	}

	if !c.ActivityType.IsValid() {
		return shared.WrapError("activity", "Validate", shared.ErrValidation,
			fmt.Sprintf("unknown activity type %q", c.ActivityType), shared.ErrUnknownActivityType)
	}

	return nil
}

// MostRecent returns the latest completion of activityID in history.
// An empty activityID matches every completion.
func MostRecent(history []Completion, activityID string) (Completion, bool) {
	var (
		latest Completion
		found  bool
	)
	for _, c := range history {
		if activityID != "" && c.ActivityID != activityID {
			continue
		}
		if !found || c.CompletedAt.After(latest.CompletedAt) {
			latest = c
			found = true
		}
	}
	return latest, found
}

// Find returns the completion with the given ID.
func Find(history []Completion, completionID string) (Completion, bool) {
	for _, c := range history {
		if c.ID == completionID {
			return c, true
		}
	}
	return Completion{}, false
}
