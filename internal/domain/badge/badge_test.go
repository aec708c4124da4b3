package badge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jornada-hub/jornada/internal/domain/member"
)

func threshold(t RequirementType, n int) Requirement {
	return Requirement{Type: t, Count: n}
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog([]Badge{
		{ID: "first_mission", Requirement: threshold(RequirementMissions, 1)},
		{ID: "first_book", Requirement: threshold(RequirementBooks, 1)},
		{ID: "five_books", Requirement: threshold(RequirementBooks, 5)},
		{ID: "ten_books", Requirement: threshold(RequirementBooks, 10)},
		{ID: "three_courses", Requirement: threshold(RequirementCourses, 3)},
		{ID: "points_100", Requirement: threshold(RequirementPoints, 100)},
		{ID: "week_streak", Requirement: threshold(RequirementConsecutiveDays, 7)},
		{ID: "all_star", Requirement: Requirement{Type: RequirementAll, Of: []Requirement{
			threshold(RequirementBooks, 5),
			threshold(RequirementCourses, 3),
			threshold(RequirementConsecutiveDays, 30),
		}}},
	})
	require.NoError(t, err)
	return c
}

func ids(badges []Badge) []string {
	out := make([]string, 0, len(badges))
	for _, b := range badges {
		out = append(out, b.ID)
	}
	return out
}

func TestEvaluate_Thresholds(t *testing.T) {
	stats := member.Stats{Points: 100, MissionsCompleted: 2, BooksCompleted: 4, CoursesCompleted: 3, ConsecutiveDays: 6}

	tests := []struct {
		req  Requirement
		want bool
	}{
		{threshold(RequirementPoints, 100), true},
		{threshold(RequirementPoints, 101), false},
		{threshold(RequirementMissions, 2), true},
		{threshold(RequirementBooks, 5), false},
		{threshold(RequirementCourses, 3), true},
		{threshold(RequirementConsecutiveDays, 7), false},
		{threshold(RequirementConsecutiveDays, 0), true},
		{Requirement{Type: "stars", Count: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.req.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(Badge{Requirement: tt.req}, stats))
		})
	}
}

func TestEvaluate_Combinators(t *testing.T) {
	allStar := Requirement{Type: RequirementAll, Of: []Requirement{
		threshold(RequirementBooks, 5),
		threshold(RequirementCourses, 3),
		threshold(RequirementConsecutiveDays, 30),
	}}
	anyStart := Requirement{Type: RequirementAny, Of: []Requirement{
		threshold(RequirementBooks, 1),
		threshold(RequirementCourses, 1),
	}}

	almost := member.Stats{BooksCompleted: 5, CoursesCompleted: 3, ConsecutiveDays: 29}
	full := member.Stats{BooksCompleted: 5, CoursesCompleted: 3, ConsecutiveDays: 30}

	assert.False(t, allStar.Satisfied(almost))
	assert.True(t, allStar.Satisfied(full))
	assert.True(t, anyStart.Satisfied(member.Stats{CoursesCompleted: 1}))
	assert.False(t, anyStart.Satisfied(member.Stats{}))
	assert.Equal(t, "all(books>=5, courses>=3, consecutive_days>=30)", allStar.String())
}

func TestFindNewlyEligible_FifthBook(t *testing.T) {
	c := testCatalog(t)

	got := c.FindNewlyEligible(
		member.Stats{BooksCompleted: 5},
		member.EarnedSet{"first_book": {}},
	)

	assert.Equal(t, []string{"five_books"}, ids(got))
}

func TestFindNewlyEligible_DeclarationOrder(t *testing.T) {
	c := testCatalog(t)

	stats := member.Stats{Points: 150, MissionsCompleted: 1, BooksCompleted: 6, CoursesCompleted: 3, ConsecutiveDays: 30}
	got := c.FindNewlyEligible(stats, member.EarnedSet{})

	assert.Equal(t, []string{
		"first_mission", "first_book", "five_books", "three_courses", "points_100", "week_streak", "all_star",
	}, ids(got))
}

func TestFindNewlyEligible_IsPure(t *testing.T) {
	c := testCatalog(t)
	stats := member.Stats{BooksCompleted: 10}
	earned := member.EarnedSet{"first_book": {}}

	first := c.FindNewlyEligible(stats, earned)
	second := c.FindNewlyEligible(stats, earned)

	assert.Equal(t, first, second)
	assert.Len(t, earned, 1)
}

func TestFindNewlyEligible_NothingLeft(t *testing.T) {
	c := testCatalog(t)
	earned := member.EarnedSet{}
	for _, b := range c.Badges() {
		earned.Add(b.ID)
	}
	assert.Empty(t, c.FindNewlyEligible(member.Stats{Points: 1 << 20, BooksCompleted: 99}, earned))
}

func TestNewCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		badges []Badge
	}{
		{"missing id", []Badge{{Requirement: threshold(RequirementBooks, 1)}}},
		{"duplicate id", []Badge{
			{ID: "a", Requirement: threshold(RequirementBooks, 1)},
			{ID: "a", Requirement: threshold(RequirementBooks, 2)},
		}},
		{"unknown type", []Badge{{ID: "a", Requirement: Requirement{Type: "stars", Count: 1}}}},
		{"negative count", []Badge{{ID: "a", Requirement: threshold(RequirementPoints, -1)}}},
		{"empty combinator", []Badge{{ID: "a", Requirement: Requirement{Type: RequirementAll}}}},
		{"bad nested", []Badge{{ID: "a", Requirement: Requirement{Type: RequirementAny, Of: []Requirement{{Type: "x"}}}}}},
		{"threshold with children", []Badge{{ID: "a", Requirement: Requirement{Type: RequirementBooks, Count: 1, Of: []Requirement{threshold(RequirementBooks, 1)}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.badges)
			assert.Error(t, err)
		})
	}
}

func TestCatalog_Lookup(t *testing.T) {
	c := testCatalog(t)

	b, ok := c.Lookup("all_star")
	require.True(t, ok)
	assert.True(t, b.IsCompound())

	_, ok = c.Lookup("nope")
	assert.False(t, ok)
	assert.Equal(t, 8, c.Len())
}
