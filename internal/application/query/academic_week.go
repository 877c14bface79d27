package query

import (
	"time"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/calendar"
	"github.com/Timmutegi/ae-tuition-backend/pkg/timeutil"
)

// AcademicWeekView describes the week containing a date.
type AcademicWeekView struct {
	Date       string                 `json:"date"`
	InYear     bool                   `json:"in_academic_year"`
	Week       *calendar.AcademicWeek `json:"week,omitempty"`
	Label      string                 `json:"label,omitempty"`
	TotalWeeks int                    `json:"total_weeks"`
	Break      *calendar.BreakPeriod  `json:"break,omitempty"`
}

// GetAcademicWeekHandler answers calendar questions.
type GetAcademicWeekHandler struct {
	calendar calendar.Calendar
}

// NewGetAcademicWeekHandler creates a new GetAcademicWeekHandler.
func NewGetAcademicWeekHandler(cal calendar.Calendar) *GetAcademicWeekHandler {
	return &GetAcademicWeekHandler{calendar: cal}
}

// Handle describes the week containing at.
func (h *GetAcademicWeekHandler) Handle(at time.Time) AcademicWeekView {
	view := AcademicWeekView{
		Date:       at.In(h.calendar.Location()).Format(timeutil.FormatDate),
		TotalWeeks: h.calendar.TotalWeeks(),
	}
	if w := h.calendar.WeekFor(at); !w.IsZero() {
		view.InYear = true
		view.Week = &w
		view.Label = w.Label()
	}
	if b, ok := h.calendar.IsBreak(at); ok {
		view.Break = &b
	}
	return view
}

// Weeks lists the whole academic year.
func (h *GetAcademicWeekHandler) Weeks() []calendar.AcademicWeek {
	return h.calendar.Weeks()
}
