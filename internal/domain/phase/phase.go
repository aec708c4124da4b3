// Package phase contains the Phase Table: the ordered progression tiers a member
// moves through as points accumulate.
//
// The table is static configuration. It is validated once at construction so
// that every non-negative point total matches exactly one phase, which lets
// Resolve stay total and error-free.
package phase

import (
	"fmt"
	"math"
	"sort"
)

// Unbounded is the MaxPoints of the top tier.
const Unbounded = math.MaxInt

// Phase is a named progression tier with an inclusive point range.
type Phase struct {
	Name        string            `json:"name" toml:"name"`
	MinPoints   int               `json:"min_points" toml:"min_points"`
	MaxPoints   int               `json:"max_points" toml:"max_points"`
	Icon        string            `json:"icon" toml:"icon"`
	Phrase      string            `json:"phrase" toml:"phrase"`
	Description string            `json:"description" toml:"description"`
	ColorTokens map[string]string `json:"color_tokens,omitempty" toml:"color_tokens"`
}

// Contains reports whether points fall inside the phase range.
func (p Phase) Contains(points int) bool {
	return points >= p.MinPoints && points <= p.MaxPoints
}

// IsTop reports whether the phase has no upper bound.
func (p Phase) IsTop() bool {
	return p.MaxPoints == Unbounded
}

// Table is an immutable, validated list of phases ordered by MinPoints.
type Table struct {
	phases []Phase
	byName map[string]int
}

// NewTable validates phases and builds a Table.
// Phases may be given in any order. The last phase may leave MaxPoints at 0
// to mean "no upper bound".
func NewTable(phases []Phase) (*Table, error) {
	if len(phases) == 0 {
		return nil, fmt.Errorf("phase table: at least one phase is required")
	}

	sorted := make([]Phase, len(phases))
	copy(sorted, phases)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinPoints < sorted[j].MinPoints
	})

	last := len(sorted) - 1
	if sorted[last].MaxPoints == 0 || sorted[last].MaxPoints == Unbounded {
		sorted[last].MaxPoints = Unbounded
	} else {
		return nil, fmt.Errorf("phase table: top phase %q must be unbounded", sorted[last].Name)
	}

	if sorted[0].MinPoints != 0 {
		return nil, fmt.Errorf("phase table: first phase %q must start at 0, starts at %d", sorted[0].Name, sorted[0].MinPoints)
	}

	byName := make(map[string]int, len(sorted))
	for i, p := range sorted {
		if p.Name == "" {
			return nil, fmt.Errorf("phase table: phase #%d has no name", i)
		}
		if _, dup := byName[p.Name]; dup {
			return nil, fmt.Errorf("phase table: duplicate phase %q", p.Name)
		}
		byName[p.Name] = i

		if p.MaxPoints < p.MinPoints {
			return nil, fmt.Errorf("phase table: phase %q has max %d below min %d", p.Name, p.MaxPoints, p.MinPoints)
		}
		if i > 0 && p.MinPoints != sorted[i-1].MaxPoints+1 {
			return nil, fmt.Errorf("phase table: gap or overlap between %q and %q", sorted[i-1].Name, p.Name)
		}
	}

	return &Table{phases: sorted, byName: byName}, nil
}

// MustNewTable is like NewTable but panics on an invalid table.
func MustNewTable(phases []Phase) *Table {
	t, err := NewTable(phases)
	if err != nil {
		panic(err)
	}
	return t
}

// Resolve returns the phase containing points. Negative totals resolve to the
// lowest phase.
func (t *Table) Resolve(points int) Phase {
	if points < 0 {
		points = 0
	}
	// First phase whose upper bound reaches points.
	i := sort.Search(len(t.phases), func(i int) bool {
		return t.phases[i].MaxPoints >= points
	})
	return t.phases[i]
}

// Next returns the phase after name. It returns false at the top tier or when
// name is unknown.
func (t *Table) Next(name string) (Phase, bool) {
	i, ok := t.byName[name]
	if !ok || i+1 >= len(t.phases) {
		return Phase{}, false
	}
	return t.phases[i+1], true
}

// Lookup returns the phase with the given name.
func (t *Table) Lookup(name string) (Phase, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Phase{}, false
	}
	return t.phases[i], true
}

// PointsToNext returns how many points are missing to reach the next phase.
// It returns false at the top tier.
func (t *Table) PointsToNext(points int) (int, bool) {
	current := t.Resolve(points)
	next, ok := t.Next(current.Name)
	if !ok {
		return 0, false
	}
	if points < 0 {
		points = 0
	}
	return next.MinPoints - points, true
}

// Lowest returns the entry phase.
func (t *Table) Lowest() Phase {
	return t.phases[0]
}

// Phases returns a copy of all phases in ascending order.
func (t *Table) Phases() []Phase {
	out := make([]Phase, len(t.phases))
	copy(out, t.phases)
	return out
}
