package scheduler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DailyMidnight is the default intervention check schedule.
const DailyMidnight = "0 0 * * *"

// CronExpression is a parsed five-field cron expression:
// minute hour day-of-month month day-of-week.
//
// Fields accept *, */n, n, n-m, n-m/s and comma lists of those. As in
// classic cron, when both day fields are restricted a time matches if
// either one does. The descriptors @daily, @midnight, @hourly and @weekly
// are also understood.
//
// Examples:
//   - "0 0 * * *"    - every day at midnight
//   - "30 6 * * 1-5" - weekdays at 06:30
//   - "*/15 * * * *" - every 15 minutes
type CronExpression struct {
	raw      string
	minutes  []int // 0-59
	hours    []int // 0-23
	days     []int // 1-31
	months   []int // 1-12
	weekdays []int // 0-6 (0 = Sunday)

	daysRestricted     bool
	weekdaysRestricted bool
}

var cronDescriptors = map[string]string{
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
	"@weekly":   "0 0 * * 0",
}

// ParseCronExpression parses a cron expression string.
func ParseCronExpression(expr string) (*CronExpression, error) {
	raw := strings.TrimSpace(expr)
	spec := raw
	if d, ok := cronDescriptors[strings.ToLower(raw)]; ok {
		spec = d
	}

	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	ce := &CronExpression{
		raw:                raw,
		daysRestricted:     fields[2] != "*",
		weekdaysRestricted: fields[4] != "*",
	}

	parts := []struct {
		name     string
		dst      *[]int
		min, max int
	}{
		{"minute", &ce.minutes, 0, 59},
		{"hour", &ce.hours, 0, 23},
		{"day", &ce.days, 1, 31},
		{"month", &ce.months, 1, 12},
		{"weekday", &ce.weekdays, 0, 6},
	}
	for i, p := range parts {
		values, err := parseField(fields[i], p.min, p.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", p.name, err)
		}
		*p.dst = values
	}

	return ce, nil
}

// MustParseCronExpression parses a cron expression or panics.
// Use only for compile-time constants.
func MustParseCronExpression(expr string) *CronExpression {
	ce, err := ParseCronExpression(expr)
	if err != nil {
		panic(fmt.Sprintf("invalid cron expression %q: %v", expr, err))
	}
	return ce
}

// parseField parses a single cron field into its sorted set of values.
func parseField(field string, min, max int) ([]int, error) {
	seen := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		if err := parseFieldPart(strings.TrimSpace(part), min, max, seen); err != nil {
			return nil, err
		}
	}

	result := make([]int, 0, len(seen))
	for v := range seen {
		result = append(result, v)
	}
	slices.Sort(result)
	return result, nil
}

func parseFieldPart(part string, min, max int, out map[int]bool) error {
	if part == "" {
		return fmt.Errorf("empty value")
	}

	step := 1
	if base, s, ok := strings.Cut(part, "/"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step value: %s", s)
		}
		step = n
		part = base
	}

	start, end := min, max
	switch {
	case part == "*":
	case strings.Contains(part, "-"):
		lo, hi, _ := strings.Cut(part, "-")
		var err error
		if start, err = atoiInRange(lo, min, max); err != nil {
			return err
		}
		if end, err = atoiInRange(hi, min, max); err != nil {
			return err
		}
		if start > end {
			return fmt.Errorf("invalid range: %s", part)
		}
	default:
		v, err := atoiInRange(part, min, max)
		if err != nil {
			return err
		}
		start = v
		if step == 1 {
			end = v
		}
	}

	for i := start; i <= end; i += step {
		out[i] = true
	}
	return nil
}

func atoiInRange(s string, min, max int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value: %s", s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("value out of range [%d-%d]: %d", min, max, v)
	}
	return v, nil
}

// String returns the original cron expression.
func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute strictly after the given time, in
// the given time's location. It returns the zero time if nothing matches
// within a year.
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)

	const maxIterations = 366 * 24 * 60
	for i := 0; i < maxIterations; i++ {
		if ce.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (ce *CronExpression) matches(t time.Time) bool {
	if !slices.Contains(ce.minutes, t.Minute()) ||
		!slices.Contains(ce.hours, t.Hour()) ||
		!slices.Contains(ce.months, int(t.Month())) {
		return false
	}

	dayOK := slices.Contains(ce.days, t.Day())
	weekdayOK := slices.Contains(ce.weekdays, int(t.Weekday()))
	if ce.daysRestricted && ce.weekdaysRestricted {
		return dayOK || weekdayOK
	}
	return dayOK && weekdayOK
}

var _ Schedule = (*CronExpression)(nil)
