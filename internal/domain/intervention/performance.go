package intervention

import (
	"time"

	"github.com/google/uuid"
)

// SubjectScore is one subject's aggregate for a week. A nil Average means the
// aggregator had no usable data for that subject.
type SubjectScore struct {
	Average     *float64 `json:"average"`
	SampleCount int      `json:"count"`
	SourceTests []string `json:"tests,omitempty"`
}

// WeeklyPerformance is a read-only row produced by the score aggregator.
type WeeklyPerformance struct {
	StudentID     uuid.UUID               `json:"student_id"`
	WeekStart     time.Time               `json:"week_start"`
	WeekEnd       time.Time               `json:"week_end"`
	WeekNumber    int                     `json:"week_number"`
	Year          int                     `json:"year"`
	AverageScore  *float64                `json:"average_score,omitempty"`
	SubjectScores map[string]SubjectScore `json:"subject_scores"`
}

// SubjectAverage returns the average for subject, or ok=false when absent.
func (p WeeklyPerformance) SubjectAverage(subject string) (float64, bool) {
	s, ok := p.SubjectScores[subject]
	if !ok || s.Average == nil {
		return 0, false
	}
	return *s.Average, true
}

// WeekRange selects weekly rows by academic week number and by the civil
// dates those weeks span. The date bound keeps rows written for another
// academic year, which reuse the same week numbers, out of the window. Zero
// dates leave that side unbounded.
type WeekRange struct {
	From, To   int
	Start, End time.Time
}

// Contains reports whether p falls inside r.
func (r WeekRange) Contains(p WeeklyPerformance) bool {
	if p.WeekNumber < r.From || p.WeekNumber > r.To {
		return false
	}
	day := civilDate(p.WeekStart)
	if !r.Start.IsZero() && day.Before(civilDate(r.Start)) {
		return false
	}
	if !r.End.IsZero() && day.After(civilDate(r.End)) {
		return false
	}
	return true
}

// civilDate drops the clock and zone, keeping the date as written.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StudentRef is the roster's view of a student.
type StudentRef struct {
	ID       uuid.UUID  `json:"id"`
	Code     string     `json:"student_code"`
	FullName string     `json:"full_name"`
	ClassID  *uuid.UUID `json:"class_id,omitempty"`
}
