package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waterTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTable([]Phase{
		{Name: "Gota", MinPoints: 0, MaxPoints: 49},
		{Name: "Nascente", MinPoints: 50, MaxPoints: 149},
		{Name: "Riacho", MinPoints: 150, MaxPoints: 249},
		{Name: "Correnteza", MinPoints: 250, MaxPoints: 499},
		{Name: "Rio", MinPoints: 500, MaxPoints: 999},
		{Name: "Cachoeira", MinPoints: 1000, MaxPoints: 1999},
		{Name: "Oceano", MinPoints: 2000},
	})
	require.NoError(t, err)
	return table
}

func TestResolve(t *testing.T) {
	table := waterTable(t)

	tests := []struct {
		points int
		want   string
	}{
		{0, "Gota"},
		{49, "Gota"},
		{50, "Nascente"},
		{248, "Riacho"},
		{249, "Riacho"},
		{250, "Correnteza"},
		{253, "Correnteza"},
		{1999, "Cachoeira"},
		{2000, "Oceano"},
		{1_000_000, "Oceano"},
		{-7, "Gota"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, table.Resolve(tt.points).Name, "points=%d", tt.points)
	}
}

func TestResolve_ExactlyOneMatchAndMonotonic(t *testing.T) {
	table := waterTable(t)
	phases := table.Phases()

	prevMin := -1
	for points := 0; points <= 2500; points++ {
		matches := 0
		for _, p := range phases {
			if p.Contains(points) {
				matches++
			}
		}
		require.Equal(t, 1, matches, "points=%d", points)

		got := table.Resolve(points)
		require.True(t, got.Contains(points))
		require.GreaterOrEqual(t, got.MinPoints, prevMin)
		prevMin = got.MinPoints
	}
}

func TestNext(t *testing.T) {
	table := waterTable(t)

	next, ok := table.Next("Riacho")
	require.True(t, ok)
	assert.Equal(t, "Correnteza", next.Name)

	_, ok = table.Next("Oceano")
	assert.False(t, ok)

	_, ok = table.Next("Lago")
	assert.False(t, ok)
}

func TestPointsToNext(t *testing.T) {
	table := waterTable(t)

	missing, ok := table.PointsToNext(248)
	require.True(t, ok)
	assert.Equal(t, 2, missing)

	_, ok = table.PointsToNext(5000)
	assert.False(t, ok)
}

func TestNewTable_SortsInput(t *testing.T) {
	table, err := NewTable([]Phase{
		{Name: "B", MinPoints: 10},
		{Name: "A", MinPoints: 0, MaxPoints: 9},
	})
	require.NoError(t, err)
	assert.Equal(t, "A", table.Lowest().Name)
	assert.True(t, table.Resolve(10).IsTop())
}

func TestNewTable_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		phases []Phase
	}{
		{"empty", nil},
		{"not starting at zero", []Phase{{Name: "A", MinPoints: 1}}},
		{"gap", []Phase{{Name: "A", MinPoints: 0, MaxPoints: 9}, {Name: "B", MinPoints: 11}}},
		{"overlap", []Phase{{Name: "A", MinPoints: 0, MaxPoints: 10}, {Name: "B", MinPoints: 10}}},
		{"bounded top", []Phase{{Name: "A", MinPoints: 0, MaxPoints: 9}, {Name: "B", MinPoints: 10, MaxPoints: 20}}},
		{"duplicate name", []Phase{{Name: "A", MinPoints: 0, MaxPoints: 9}, {Name: "A", MinPoints: 10}}},
		{"unnamed", []Phase{{MinPoints: 0}}},
		{"inverted range", []Phase{{Name: "A", MinPoints: 0, MaxPoints: 9}, {Name: "B", MinPoints: 10, MaxPoints: 5}, {Name: "C", MinPoints: 6}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.phases)
			assert.Error(t, err)
		})
	}
}
