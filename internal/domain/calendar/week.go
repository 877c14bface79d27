package calendar

import (
	"time"

	"github.com/Timmutegi/ae-tuition-backend/pkg/timeutil"
)

// AcademicWeek is a derived view of one week. It is computed, never stored.
type AcademicWeek struct {
	Number    int       `json:"week_number"`
	Start     time.Time `json:"start_date"`
	End       time.Time `json:"end_date"`
	IsBreak   bool      `json:"is_break"`
	BreakName string    `json:"break_name,omitempty"`
}

// IsZero reports whether w lies outside the academic year.
func (w AcademicWeek) IsZero() bool {
	return w.Number == 0
}

// Label returns the display name ("Week 14"), or "" outside the year.
func (w AcademicWeek) Label() string {
	if w.IsZero() {
		return ""
	}
	return Label(w.Number)
}

// Contains reports whether d falls within the week's civil days.
func (w AcademicWeek) Contains(d time.Time) bool {
	if w.IsZero() {
		return false
	}
	loc := w.Start.Location()
	day := timeutil.CivilDay(d, loc)
	return !day.Before(timeutil.CivilDay(w.Start, loc)) && !day.After(timeutil.CivilDay(w.End, loc))
}

// BreakPeriod is a named holiday span, inclusive on both ends.
type BreakPeriod struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}
