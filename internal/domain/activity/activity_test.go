package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jornada-hub/jornada/internal/domain/shared"
	"github.com/jornada-hub/jornada/pkg/timeutil"
)

func mission(id string, period Period, at time.Time) Completion {
	return Completion{
		ID:           id + "@" + at.Format(time.RFC3339),
		UserID:       "u-1",
		ActivityID:   id,
		ActivityType: TypeMission,
		Points:       IntPtr(5),
		Period:       period,
		CompletedAt:  at,
	}
}

func TestCheckAvailability_Daily(t *testing.T) {
	now := timeutil.DateTime(2024, 5, 20, 10, 0, 0)

	today := []Completion{mission("oracao", PeriodDaily, now.Add(-2*time.Hour))}
	assert.False(t, CheckAvailability(today, "oracao", now).Available)
	assert.False(t, CheckAvailability(today, "oracao", timeutil.EndOfDay(now)).Available)

	yesterday := []Completion{mission("oracao", PeriodDaily, now.AddDate(0, 0, -1))}
	got := CheckAvailability(yesterday, "oracao", now)
	assert.True(t, got.Available)
	require.NotNil(t, got.UnlocksAt)
	assert.Equal(t, timeutil.StartOfDay(now), *got.UnlocksAt)

	// Late last night still unlocks at midnight, not 24h later.
	lateNight := []Completion{mission("oracao", PeriodDaily, timeutil.DateTime(2024, 5, 19, 23, 50, 0))}
	assert.True(t, CheckAvailability(lateNight, "oracao", timeutil.DateTime(2024, 5, 20, 0, 5, 0)).Available)
}

func TestCheckAvailability_FixedPeriods(t *testing.T) {
	done := timeutil.DateTime(2024, 1, 1, 9, 0, 0)

	tests := []struct {
		period Period
		days   int
	}{
		{PeriodWeekly, 6},
		{PeriodMonthly, 29},
		{PeriodSemestral, 179},
		{PeriodAnnual, 364},
	}

	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			history := []Completion{mission("m", tt.period, done)}
			unlock := done.Add(time.Duration(tt.days) * timeutil.Day)

			assert.False(t, CheckAvailability(history, "m", unlock.Add(-time.Minute)).Available)
			assert.True(t, CheckAvailability(history, "m", unlock).Available)
		})
	}
}

func TestCheckAvailability_LockedForever(t *testing.T) {
	done := timeutil.DateTime(2024, 1, 1, 9, 0, 0)
	farFuture := done.AddDate(10, 0, 0)

	for _, p := range []Period{PeriodNone, PeriodSpecial, "quinzenal"} {
		got := CheckAvailability([]Completion{mission("m", p, done)}, "m", farFuture)
		assert.False(t, got.Available, "period %q", p)
		assert.True(t, got.LockedForever, "period %q", p)
		assert.Nil(t, got.UnlocksAt)
	}
}

func TestCheckAvailability_MostRecentGoverns(t *testing.T) {
	now := timeutil.DateTime(2024, 5, 20, 10, 0, 0)

	history := []Completion{
		mission("m", PeriodWeekly, now.AddDate(0, 0, -1)),
		mission("m", PeriodWeekly, now.AddDate(0, 0, -30)),
		mission("other", PeriodDaily, now),
	}
	assert.False(t, CheckAvailability(history, "m", now).Available)

	history = []Completion{
		mission("m", PeriodWeekly, now.AddDate(0, 0, -10)),
		mission("m", PeriodWeekly, now.AddDate(0, 0, -30)),
	}
	assert.True(t, CheckAvailability(history, "m", now).Available)
}

func TestCheckAvailability_NeverCompleted(t *testing.T) {
	got := CheckAvailability(nil, "m", time.Now())
	assert.True(t, got.Available)
	assert.Nil(t, got.LastCompleted)
}

func TestPeriodNormalize(t *testing.T) {
	assert.True(t, Period(" Diário ").IsRepeatable())
	assert.True(t, Period("SEMANAL").IsRepeatable())
	assert.False(t, PeriodSpecial.IsRepeatable())
}

func TestCompletionValidate(t *testing.T) {
	valid := mission("m", PeriodDaily, time.Now())
	require.NoError(t, valid.Validate())

	missingPoints := valid
	missingPoints.Points = nil
	assert.True(t, shared.IsValidation(missingPoints.Validate()))

	negative := valid
	negative.Points = IntPtr(-1)
	assert.True(t, shared.IsValidation(negative.Validate()))

	unknownType := valid
	unknownType.ActivityType = "podcast"
	err := unknownType.Validate()
	assert.True(t, shared.IsValidation(err))
	assert.ErrorIs(t, err, shared.ErrUnknownActivityType)

	noUser := valid
	noUser.UserID = ""
	assert.True(t, shared.IsValidation(noUser.Validate()))

	noTime := valid
	noTime.CompletedAt = time.Time{}
	assert.True(t, shared.IsValidation(noTime.Validate()))
}
