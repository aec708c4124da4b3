package member

import (
	"github.com/jornada-hub/jornada/internal/domain/activity"
)

// Stats is the snapshot badges and phases are evaluated against.
type Stats struct {
	Points            int `json:"points"`
	MissionsCompleted int `json:"missions_completed"`
	BooksCompleted    int `json:"books_completed"`
	CoursesCompleted  int `json:"courses_completed"`
	ConsecutiveDays   int `json:"consecutive_days"`
}

// Aggregate computes stats from a member's completion history.
// Points are the sum of awarded points, never negative. The streak is not
// derivable from completions and is taken from the profile.
func Aggregate(history []activity.Completion, profile Profile) Stats {
	stats := Stats{ConsecutiveDays: profile.ConsecutiveDays}

	sum := 0
	for _, c := range history {
		sum += c.PointsValue()
		switch c.ActivityType {
		case activity.TypeMission:
			stats.MissionsCompleted++
		case activity.TypeBook:
			stats.BooksCompleted++
		case activity.TypeCourse:
			stats.CoursesCompleted++
		}
	}
	stats.Points = ApplyDelta(0, sum)
	return stats
}

// ApplyDelta adds delta to points, clamping the result at zero.
func ApplyDelta(points, delta int) int {
	if next := points + delta; next > 0 {
		return next
	}
	return 0
}
