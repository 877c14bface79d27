package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// IntervalSchedule runs a job at a fixed interval. The worker uses it when
// the check is configured with an interval instead of a cron expression.
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

// ParseSchedule accepts either a cron expression or "@every <duration>".
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(strings.ToLower(expr), "@every ") {
		rest := strings.TrimSpace(expr[len("@every "):])
		d, err := time.ParseDuration(rest)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid interval %q", rest)
		}
		return NewIntervalSchedule(d), nil
	}

	ce, err := ParseCronExpression(expr)
	if err != nil {
		return nil, err
	}
	return ce, nil
}
