package member

import (
	"time"

	"github.com/jornada-hub/jornada/pkg/timeutil"
)

// UpdateStreak returns the consecutive-day count after a login on today.
//
//   - first login ever: 1
//   - same calendar day as the last login: unchanged
//   - the next calendar day: previous + 1
//   - anything else, including a clock that went backwards: 1
//
// Days are calendar days in timeutil.ReferenceTZ.
func UpdateStreak(lastLogin *time.Time, previous int, today time.Time) int {
	if lastLogin == nil {
		return 1
	}
	switch timeutil.DaysBetween(*lastLogin, today) {
	case 0:
		return previous
	case 1:
		return previous + 1
	default:
		return 1
	}
}

// StreakBroken reports whether a login on today restarts the count.
func StreakBroken(lastLogin *time.Time, today time.Time) bool {
	if lastLogin == nil {
		return false
	}
	d := timeutil.DaysBetween(*lastLogin, today)
	return d != 0 && d != 1
}
