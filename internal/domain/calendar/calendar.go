// Package calendar maps dates to academic week numbers.
//
// A Calendar is an immutable value: it never reads the wall clock and holds no
// shared state, so a single instance can be passed to any number of goroutines.
// Callers supply "now" explicitly, which keeps check runs reproducible in tests.
package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/Timmutegi/ae-tuition-backend/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEFAULTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultWeekLength is the number of days between consecutive week starts.
	DefaultWeekLength = 6

	// DefaultTotalWeeks is the number of weeks in one academic year.
	DefaultTotalWeeks = 40
)

// DefaultAnchor is the first day of week 1 for the 2025/26 academic year.
var DefaultAnchor = timeutil.Date(2025, 9, 5, timeutil.LondonTZ)

// DefaultBreaks are the 2025/26 school holidays.
func DefaultBreaks() []BreakPeriod {
	loc := timeutil.LondonTZ
	return []BreakPeriod{
		{Name: "Christmas", Start: timeutil.Date(2025, 12, 12, loc), End: timeutil.Date(2026, 1, 2, loc)},
		{Name: "Easter", Start: timeutil.Date(2026, 4, 10, loc), End: timeutil.Date(2026, 4, 24, loc)},
		{Name: "Summer", Start: timeutil.Date(2026, 7, 3, loc), End: timeutil.Date(2026, 7, 24, loc)},
	}
}

var (
	// ErrAnchorNotFriday is returned when the configured anchor is not a Friday.
	ErrAnchorNotFriday = errors.New("calendar: anchor must be a Friday")

	// ErrInvalidWeekLength is returned for a non-positive week length.
	ErrInvalidWeekLength = errors.New("calendar: week length must be positive")

	// ErrInvalidTotalWeeks is returned for a non-positive week count.
	ErrInvalidTotalWeeks = errors.New("calendar: total weeks must be positive")

	// ErrInvalidBreak is returned for a break whose end precedes its start.
	ErrInvalidBreak = errors.New("calendar: break ends before it starts")
)

// ══════════════════════════════════════════════════════════════════════════════
// CALENDAR
// ══════════════════════════════════════════════════════════════════════════════

// Config holds the parameters of an academic year.
type Config struct {
	// Anchor is the first day of week 1. Only its civil date in Location matters.
	Anchor time.Time

	// WeekLength is the stride in days between week starts.
	WeekLength int

	// TotalWeeks bounds the year; dates past the last week map to week 0.
	TotalWeeks int

	// Breaks marks holiday periods (inclusive on both ends).
	Breaks []BreakPeriod

	// Location is the zone in which dates are interpreted.
	Location *time.Location
}

// DefaultConfig returns the 2025/26 Europe/London calendar.
func DefaultConfig() Config {
	return Config{
		Anchor:     DefaultAnchor,
		WeekLength: DefaultWeekLength,
		TotalWeeks: DefaultTotalWeeks,
		Breaks:     DefaultBreaks(),
		Location:   timeutil.LondonTZ,
	}
}

// Calendar answers week-number questions for one academic year.
type Calendar struct {
	anchor     time.Time // civil date encoded as UTC midnight
	weekLength int
	totalWeeks int
	breaks     []civilBreak
	loc        *time.Location
}

type civilBreak struct {
	period     BreakPeriod
	start, end time.Time
}

// New validates cfg and builds a Calendar.
func New(cfg Config) (Calendar, error) {
	loc := cfg.Location
	if loc == nil {
		loc = timeutil.LondonTZ
	}
	if cfg.WeekLength <= 0 {
		return Calendar{}, ErrInvalidWeekLength
	}
	if cfg.TotalWeeks <= 0 {
		return Calendar{}, ErrInvalidTotalWeeks
	}

	anchor := timeutil.CivilDay(cfg.Anchor, loc)
	if anchor.Weekday() != time.Friday {
		return Calendar{}, fmt.Errorf("%w: %s is a %s",
			ErrAnchorNotFriday, anchor.Format(timeutil.FormatDate), anchor.Weekday())
	}

	breaks := make([]civilBreak, 0, len(cfg.Breaks))
	for _, b := range cfg.Breaks {
		start, end := timeutil.CivilDay(b.Start, loc), timeutil.CivilDay(b.End, loc)
		if end.Before(start) {
			return Calendar{}, fmt.Errorf("%w: %s", ErrInvalidBreak, b.Name)
		}
		breaks = append(breaks, civilBreak{
			period: BreakPeriod{
				Name:  b.Name,
				Start: timeutil.StartOfDay(b.Start, loc),
				End:   timeutil.StartOfDay(b.End, loc),
			},
			start: start,
			end:   end,
		})
	}

	return Calendar{
		anchor:     anchor,
		weekLength: cfg.WeekLength,
		totalWeeks: cfg.TotalWeeks,
		breaks:     breaks,
		loc:        loc,
	}, nil
}

// MustNew is New for configurations known to be valid.
func MustNew(cfg Config) Calendar {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns the calendar built from DefaultConfig.
func Default() Calendar {
	return MustNew(DefaultConfig())
}

// Anchor returns the first day of week 1 as midnight in the calendar zone.
func (c Calendar) Anchor() time.Time { return c.toLocal(c.anchor) }

// WeekLength returns the stride between week starts in days.
func (c Calendar) WeekLength() int { return c.weekLength }

// TotalWeeks returns the number of weeks in the year.
func (c Calendar) TotalWeeks() int { return c.totalWeeks }

// Location returns the calendar zone.
func (c Calendar) Location() *time.Location { return c.loc }

// Breaks returns a copy of the configured holiday periods.
func (c Calendar) Breaks() []BreakPeriod {
	out := make([]BreakPeriod, len(c.breaks))
	for i, b := range c.breaks {
		out[i] = b.period
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEK ARITHMETIC
// ══════════════════════════════════════════════════════════════════════════════

// CurrentWeek returns the 1-based week index containing now, or 0 when now is
// before the anchor or past the last week.
func (c Calendar) CurrentWeek(now time.Time) int {
	days := int(timeutil.CivilDay(now, c.loc).Sub(c.anchor).Hours() / 24)
	if days < 0 {
		return 0
	}
	index := days/c.weekLength + 1
	if index > c.totalWeeks {
		return 0
	}
	return index
}

// WeekInfo returns the span of week n. ok is false for n outside [1, TotalWeeks].
func (c Calendar) WeekInfo(n int) (AcademicWeek, bool) {
	if n < 1 || n > c.totalWeeks {
		return AcademicWeek{}, false
	}
	start := c.anchor.AddDate(0, 0, (n-1)*c.weekLength)
	end := start.AddDate(0, 0, c.weekLength-1)

	w := AcademicWeek{
		Number: n,
		Start:  c.toLocal(start),
		End:    c.toLocal(end),
	}
	if b, ok := c.breakAt(start); ok {
		w.IsBreak = true
		w.BreakName = b.Name
	}
	return w, true
}

// WeekFor returns the week enclosing d. The zero AcademicWeek (Number 0) is
// returned for dates outside the academic year.
func (c Calendar) WeekFor(d time.Time) AcademicWeek {
	w, _ := c.WeekInfo(c.CurrentWeek(d))
	return w
}

// Weeks lists every week of the year in order.
func (c Calendar) Weeks() []AcademicWeek {
	weeks := make([]AcademicWeek, 0, c.totalWeeks)
	for n := 1; n <= c.totalWeeks; n++ {
		w, _ := c.WeekInfo(n)
		weeks = append(weeks, w)
	}
	return weeks
}

// IsBreak reports whether d falls inside a holiday period.
func (c Calendar) IsBreak(d time.Time) (BreakPeriod, bool) {
	return c.breakAt(timeutil.CivilDay(d, c.loc))
}

// Label renders the display name of week n ("Week 14").
func (c Calendar) Label(n int) string {
	return Label(n)
}

// Window returns the inclusive review range of size weeks ending at current,
// clipped below at week 1. Both bounds are 0 when current is 0.
func (c Calendar) Window(current, size int) (lo, hi int) {
	if current < 1 {
		return 0, 0
	}
	if size < 1 {
		size = 1
	}
	lo = current - size + 1
	if lo < 1 {
		lo = 1
	}
	return lo, current
}

func (c Calendar) breakAt(civil time.Time) (BreakPeriod, bool) {
	for _, b := range c.breaks {
		if !civil.Before(b.start) && !civil.After(b.end) {
			return b.period, true
		}
	}
	return BreakPeriod{}, false
}

func (c Calendar) toLocal(civil time.Time) time.Time {
	return time.Date(civil.Year(), civil.Month(), civil.Day(), 0, 0, 0, 0, c.loc)
}

// Label renders the display name of week n.
func Label(n int) string {
	return fmt.Sprintf("Week %d", n)
}
