package activity

import (
	"strings"
	"time"

	"github.com/jornada-hub/jornada/pkg/timeutil"
)

// Period is the declared repeatability of an activity.
type Period string

const (
	PeriodNone      Period = ""
	PeriodDaily     Period = "diário"
	PeriodWeekly    Period = "semanal"
	PeriodMonthly   Period = "mensal"
	PeriodSemestral Period = "semestral"
	PeriodAnnual    Period = "anual"
	PeriodSpecial   Period = "especial"
)

// cooldownDays holds the fixed-length cool-downs. Daily is calendar based and
// handled separately.
var cooldownDays = map[Period]int{
	PeriodWeekly:    6,
	PeriodMonthly:   29,
	PeriodSemestral: 179,
	PeriodAnnual:    364,
}

// Normalize trims and lower-cases a period string.
func (p Period) Normalize() Period {
	return Period(strings.ToLower(strings.TrimSpace(string(p))))
}

// IsRepeatable reports whether the period ever allows re-completion.
func (p Period) IsRepeatable() bool {
	p = p.Normalize()
	if p == PeriodDaily {
		return true
	}
	_, ok := cooldownDays[p]
	return ok
}

// UnlocksAt returns when an activity completed at `completedAt` with the given
// period becomes available again. It returns false when the activity stays
// locked forever (no period, "especial" or an unrecognized value).
func UnlocksAt(period Period, completedAt time.Time) (time.Time, bool) {
	p := period.Normalize()
	if p == PeriodDaily {
		return timeutil.StartOfDay(completedAt).AddDate(0, 0, 1), true
	}
	days, ok := cooldownDays[p]
	if !ok {
		return time.Time{}, false
	}
	return completedAt.Add(time.Duration(days) * timeutil.Day), true
}

// Availability describes whether an activity can be completed right now.
type Availability struct {
	ActivityID    string     `json:"activity_id"`
	Available     bool       `json:"available"`
	LockedForever bool       `json:"locked_forever"`
	UnlocksAt     *time.Time `json:"unlocks_at,omitempty"`
	LastCompleted *time.Time `json:"last_completed_at,omitempty"`
}

// CheckAvailability applies the cool-down rule to a member's history.
// Only the most recent completion of activityID governs the lock, and its own
// recorded period is the one that applies.
func CheckAvailability(history []Completion, activityID string, now time.Time) Availability {
	result := Availability{ActivityID: activityID}

	last, found := MostRecent(history, activityID)
	if !found {
		result.Available = true
		return result
	}

	completedAt := last.CompletedAt
	result.LastCompleted = &completedAt

	unlock, repeatable := UnlocksAt(last.Period, last.CompletedAt)
	if !repeatable {
		result.LockedForever = true
		return result
	}

	result.UnlocksAt = &unlock
	result.Available = !now.Before(unlock)
	return result
}
