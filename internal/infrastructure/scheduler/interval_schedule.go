package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}

// ParseSchedule accepts "@every <duration>", "@hourly", "@daily" or a
// five-field cron expression.
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "@every "):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, "@every ")))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", expr, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid interval %q: must be positive", expr)
		}
		return NewIntervalSchedule(d), nil
	case expr == "@hourly":
		return ParseCronExpression("0 * * * *")
	case expr == "@daily":
		return ParseCronExpression("0 0 * * *")
	}
	return ParseCronExpression(expr)
}
