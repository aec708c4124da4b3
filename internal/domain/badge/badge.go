// Package badge contains the badge catalog and the eligibility interpreter.
//
// Badges are data, not code: each one carries a requirement descriptor that is
// evaluated against a member.Stats snapshot. Compound badges combine other
// requirements with "all" or "any". Evaluation is pure and safe to run
// concurrently.
package badge

import (
	"fmt"

	"github.com/jornada-hub/jornada/internal/domain/member"
)

// RequirementType selects the stat a requirement compares against, or a
// combinator over nested requirements.
type RequirementType string

const (
	RequirementPoints          RequirementType = "points"
	RequirementMissions        RequirementType = "missions"
	RequirementBooks           RequirementType = "books"
	RequirementCourses         RequirementType = "courses"
	RequirementConsecutiveDays RequirementType = "consecutive_days"
	RequirementAll             RequirementType = "all"
	RequirementAny             RequirementType = "any"
)

// IsCombinator reports whether t combines nested requirements.
func (t RequirementType) IsCombinator() bool {
	return t == RequirementAll || t == RequirementAny
}

// Requirement is a threshold predicate or a combinator over nested ones.
type Requirement struct {
	Type  RequirementType `json:"type" toml:"type"`
	Count int             `json:"count,omitempty" toml:"count"`
	Of    []Requirement   `json:"of,omitempty" toml:"of"`
}

// Badge is a catalog entry.
type Badge struct {
	ID          string      `json:"id" toml:"id"`
	Name        string      `json:"name" toml:"name"`
	Icon        string      `json:"icon" toml:"icon"`
	Description string      `json:"description" toml:"description"`
	Requirement Requirement `json:"requirement" toml:"requirement"`
}

// IsCompound reports whether the badge combines several predicates.
func (b Badge) IsCompound() bool {
	return b.Requirement.Type.IsCombinator()
}

// Evaluate reports whether stats satisfy the badge requirement.
func Evaluate(b Badge, stats member.Stats) bool {
	return b.Requirement.Satisfied(stats)
}

// Satisfied interprets the requirement against stats. Unknown types are never
// satisfied; catalogs are validated at load time so this does not happen in
// practice.
func (r Requirement) Satisfied(stats member.Stats) bool {
	switch r.Type {
	case RequirementPoints:
		return stats.Points >= r.Count
	case RequirementMissions:
		return stats.MissionsCompleted >= r.Count
	case RequirementBooks:
		return stats.BooksCompleted >= r.Count
	case RequirementCourses:
		return stats.CoursesCompleted >= r.Count
	case RequirementConsecutiveDays:
		return stats.ConsecutiveDays >= r.Count
	case RequirementAll:
		for _, sub := range r.Of {
			if !sub.Satisfied(stats) {
				return false
			}
		}
		return len(r.Of) > 0
	case RequirementAny:
		for _, sub := range r.Of {
			if sub.Satisfied(stats) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func (r Requirement) validate(path string) error {
	switch r.Type {
	case RequirementPoints, RequirementMissions, RequirementBooks, RequirementCourses, RequirementConsecutiveDays:
		if r.Count < 0 {
			return fmt.Errorf("%s: negative count %d", path, r.Count)
		}
		if len(r.Of) > 0 {
			return fmt.Errorf("%s: %q does not take nested requirements", path, r.Type)
		}
	case RequirementAll, RequirementAny:
		if len(r.Of) == 0 {
			return fmt.Errorf("%s: %q needs at least one nested requirement", path, r.Type)
		}
		for i, sub := range r.Of {
			if err := sub.validate(fmt.Sprintf("%s.of[%d]", path, i)); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%s: unknown requirement type %q", path, r.Type)
	}
	return nil
}

// String renders the requirement as a short expression, e.g.
// "all(books>=5, courses>=3)".
func (r Requirement) String() string {
	if !r.Type.IsCombinator() {
		return fmt.Sprintf("%s>=%d", r.Type, r.Count)
	}
	s := string(r.Type) + "("
	for i, sub := range r.Of {
		if i > 0 {
			s += ", "
		}
		s += sub.String()
	}
	return s + ")"
}
