package member

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jornada-hub/jornada/internal/domain/activity"
	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/timeutil"
)

func ptr(t time.Time) *time.Time { return &t }

func TestUpdateStreak(t *testing.T) {
	monday := timeutil.DateTime(2024, 5, 20, 9, 0, 0)

	tests := []struct {
		name     string
		last     *time.Time
		previous int
		today    time.Time
		want     int
	}{
		{"first login", nil, 0, monday, 1},
		{"same day", ptr(monday), 4, monday.Add(10 * time.Hour), 4},
		{"next day", ptr(monday), 4, monday.AddDate(0, 0, 1), 5},
		{"next day just after midnight", ptr(timeutil.DateTime(2024, 5, 20, 23, 59, 0)), 2, timeutil.DateTime(2024, 5, 21, 0, 1, 0), 3},
		{"gap of two days", ptr(monday), 9, monday.AddDate(0, 0, 2), 1},
		{"clock went backwards", ptr(monday), 9, monday.AddDate(0, 0, -1), 1},
		{"47 hours apart on consecutive days", ptr(timeutil.DateTime(2024, 5, 20, 0, 30, 0)), 3, timeutil.DateTime(2024, 5, 21, 23, 30, 0), 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UpdateStreak(tt.last, tt.previous, tt.today))
		})
	}
}

func TestUpdateStreak_UsesReferenceZone(t *testing.T) {
	// 01:00 UTC on the 21st is still the 20th in the reference zone.
	last := time.Date(2024, 5, 20, 13, 0, 0, 0, time.UTC)
	today := time.Date(2024, 5, 21, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, 3, UpdateStreak(&last, 3, today))
}

func TestStreakBroken(t *testing.T) {
	day := timeutil.Date(2024, 5, 20)
	assert.False(t, StreakBroken(nil, day))
	assert.False(t, StreakBroken(&day, day.AddDate(0, 0, 1)))
	assert.True(t, StreakBroken(&day, day.AddDate(0, 0, 3)))
}

func completion(kind activity.Type, points int) activity.Completion {
	return activity.Completion{ActivityType: kind, Points: activity.IntPtr(points)}
}

func TestAggregate(t *testing.T) {
	history := []activity.Completion{
		completion(activity.TypeMission, 10),
		completion(activity.TypeMission, 5),
		completion(activity.TypeBook, 20),
		completion(activity.TypeCourse, 30),
		completion(activity.TypeBook, 0),
	}

	stats := Aggregate(history, Profile{ConsecutiveDays: 6, Points: 999})

	assert.Equal(t, Stats{
		Points:            65,
		MissionsCompleted: 2,
		BooksCompleted:    2,
		CoursesCompleted:  1,
		ConsecutiveDays:   6,
	}, stats)
}

func TestAggregate_EmptyHistory(t *testing.T) {
	assert.Equal(t, Stats{}, Aggregate(nil, Profile{}))
}

func TestApplyDelta(t *testing.T) {
	assert.Equal(t, 15, ApplyDelta(10, 5))
	assert.Equal(t, 0, ApplyDelta(6, -10))
	assert.Equal(t, 0, ApplyDelta(0, 0))
}

func TestNewProfile(t *testing.T) {
	at := timeutil.DateTime(2024, 5, 20, 9, 0, 0)

	p, err := NewProfile(NewProfileParams{ID: " u-1 ", DisplayName: "Ana", Phase: "Gota", At: at})
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.ID)
	assert.Zero(t, p.Points)
	assert.Equal(t, at, p.CreatedAt)

	_, err = NewProfile(NewProfileParams{ID: "  ", Phase: "Gota", At: at})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
	assert.True(t, shared.IsValidation(err))

	_, err = NewProfile(NewProfileParams{ID: "u-2", At: at})
	assert.True(t, shared.IsValidation(err))
}

func TestProfileUpdate_Apply(t *testing.T) {
	at := timeutil.DateTime(2024, 5, 20, 9, 0, 0)
	p := Profile{ID: "u-1", Points: 10, Phase: "Gota", Version: 3}

	u := UpdateFrom(p, at)
	u.Points = 60
	u.Phase = "Nascente"

	got := u.Apply(p)
	assert.Equal(t, 60, got.Points)
	assert.Equal(t, "Nascente", got.Phase)
	assert.Equal(t, int64(4), got.Version)
	assert.Equal(t, at, got.UpdatedAt)
}

func TestNewPhaseChange_DeterministicID(t *testing.T) {
	at := timeutil.DateTime(2024, 5, 20, 9, 0, 0)

	a := NewPhaseChange("u-1", "Riacho", "Correnteza", 253, "c-1", 7, at)
	b := NewPhaseChange("u-1", "Riacho", "Correnteza", 253, "c-1", 7, at.Add(time.Second))
	c := NewPhaseChange("u-1", "Riacho", "Correnteza", 253, "c-2", 7, at)
	d := NewPhaseChange("u-1", "Riacho", "Correnteza", 253, "c-1", 9, at)

	assert.Equal(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.NotEqual(t, a.ID, d.ID)
}

func TestEarnedSet(t *testing.T) {
	s := EarnedSet{}
	assert.False(t, s.Has("first_book"))
	s.Add("first_book")
	assert.True(t, s.Has("first_book"))
}
