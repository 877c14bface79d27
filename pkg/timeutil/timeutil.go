// Package timeutil provides timezone utilities for the school's home timezone
// (Europe/London). The academic calendar, the daily check schedule and every
// date rendered to staff use this zone.
package timeutil

import (
	"fmt"
	"time"
)

// LondonTZName is the IANA name of the school timezone.
const LondonTZName = "Europe/London"

// LondonTZ is the school timezone. Falls back to UTC when the tz database is
// not available in the runtime image (GMT is UTC for half the year).
var LondonTZ = loadLocation(LondonTZName)

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Location resolves an IANA zone name. An empty name yields LondonTZ.
func Location(name string) (*time.Location, error) {
	if name == "" {
		return LondonTZ, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// Date creates a midnight time in loc for the given civil date.
func Date(year, month, day int, loc *time.Location) time.Time {
	if loc == nil {
		loc = LondonTZ
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
}

// StartOfDay returns 00:00:00 of t's civil day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = LondonTZ
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, loc)
}

// CivilDay maps t to UTC midnight of its civil date in loc. Subtracting two
// civil days always gives a whole number of 24h periods, which DST
// transitions would otherwise break.
func CivilDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = LondonTZ
	}
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate is the date format used in configuration and the API.
const FormatDate = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date as midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = LondonTZ
	}
	return time.ParseInLocation(FormatDate, value, loc)
}
