// Package timeutil provides calendar helpers pinned to the program's reference
// timezone (America/Sao_Paulo, UTC-3). Streaks and daily cool-downs are computed
// in calendar days of this zone, never in elapsed hours.
package timeutil

import (
	"time"
)

// ReferenceTZ is the fixed reference timezone (UTC-3, no DST since 2019).
var ReferenceTZ = time.FixedZone("America/Sao_Paulo", -3*60*60)

// Day is one calendar day.
const Day = 24 * time.Hour

// Now returns the current time in the reference timezone.
func Now() time.Time {
	return time.Now().In(ReferenceTZ)
}

// ToReference converts a time to the reference timezone.
func ToReference(t time.Time) time.Time {
	return t.In(ReferenceTZ)
}

// Date creates midnight of the given date in the reference timezone.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, ReferenceTZ)
}

// DateTime creates a time in the reference timezone.
func DateTime(year, month, day, hour, min, sec int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, ReferenceTZ)
}

// StartOfDay returns 00:00:00 of t's calendar day in the reference timezone.
func StartOfDay(t time.Time) time.Time {
	r := ToReference(t)
	return time.Date(r.Year(), r.Month(), r.Day(), 0, 0, 0, 0, ReferenceTZ)
}

// EndOfDay returns 23:59:59.999999999 of t's calendar day in the reference timezone.
func EndOfDay(t time.Time) time.Time {
	r := ToReference(t)
	return time.Date(r.Year(), r.Month(), r.Day(), 23, 59, 59, 999999999, ReferenceTZ)
}

// IsSameDay checks if two times fall on the same reference calendar day.
func IsSameDay(t1, t2 time.Time) bool {
	return DaysBetween(t1, t2) == 0
}

// DaysBetween returns the signed number of calendar days from `from` to `to`.
// It is negative when `to` lies on an earlier day.
func DaysBetween(from, to time.Time) int {
	a, b := ToReference(from), ToReference(to)
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da) / Day)
}

// FormatDate formats t as YYYY-MM-DD in the reference timezone.
func FormatDate(t time.Time) string {
	return ToReference(t).Format(time.DateOnly)
}

// ParseDate parses a YYYY-MM-DD date as midnight in the reference timezone.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, value, ReferenceTZ)
}
