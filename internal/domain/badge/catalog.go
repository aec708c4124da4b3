package badge

import (
	"fmt"
	"strings"

	"github.com/jornada-hub/jornada/internal/domain/member"
)

// Catalog is an immutable, validated list of badges in declaration order.
type Catalog struct {
	badges []Badge
	byID   map[string]int
}

// NewCatalog validates badges and builds a Catalog. Declaration order is kept.
func NewCatalog(badges []Badge) (*Catalog, error) {
	c := &Catalog{
		badges: make([]Badge, len(badges)),
		byID:   make(map[string]int, len(badges)),
	}
	copy(c.badges, badges)

	for i, b := range c.badges {
		if strings.TrimSpace(b.ID) == "" {
			return nil, fmt.Errorf("badge catalog: badge #%d has no id", i)
		}
		if _, dup := c.byID[b.ID]; dup {
			return nil, fmt.Errorf("badge catalog: duplicate badge id %q", b.ID)
		}
		if err := b.Requirement.validate("badge " + b.ID); err != nil {
			return nil, fmt.Errorf("badge catalog: %w", err)
		}
		c.byID[b.ID] = i
	}
	return c, nil
}

// MustNewCatalog is like NewCatalog but panics on an invalid catalog.
func MustNewCatalog(badges []Badge) *Catalog {
	c, err := NewCatalog(badges)
	if err != nil {
		panic(err)
	}
	return c
}

// FindNewlyEligible returns the badges not in earned whose requirement stats
// satisfy, in declaration order.
func (c *Catalog) FindNewlyEligible(stats member.Stats, earned member.EarnedSet) []Badge {
	var out []Badge
	for _, b := range c.badges {
		if earned.Has(b.ID) {
			continue
		}
		if Evaluate(b, stats) {
			out = append(out, b)
		}
	}
	return out
}

// Lookup returns the badge with the given id.
func (c *Catalog) Lookup(id string) (Badge, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Badge{}, false
	}
	return c.badges[i], true
}

// Badges returns a copy of the catalog in declaration order.
func (c *Catalog) Badges() []Badge {
	out := make([]Badge, len(c.badges))
	copy(out, c.badges)
	return out
}

// Len returns the number of badges.
func (c *Catalog) Len() int {
	return len(c.badges)
}
