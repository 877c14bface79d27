package intervention

import (
	"sort"
)

// Finding is a (student, subject) pair that met a threshold within a window.
type Finding struct {
	Subject         string
	WeeksFailing    int
	CurrentAverage  *float64
	PreviousAverage *float64
	WeeklyScores    []WeeklyScore
	WindowStart     int
	WindowEnd       int
}

// Evaluate applies t to one student's weekly rows for the window [lo, hi].
// Rows outside the window are ignored, as are weeks without data for a
// subject. A week fails when its average is strictly below the minimum.
// Each week number counts once; when several rows share one, the row with
// the latest week start wins.
func Evaluate(t Threshold, lo, hi int, perfs []WeeklyPerformance) []Finding {
	if lo < 1 || hi < lo {
		return nil
	}

	rows := latestPerWeek(perfs, lo, hi)
	if len(rows) == 0 {
		return nil
	}

	var findings []Finding
	for _, subject := range t.Subjects() {
		var (
			failing int
			scores  []WeeklyScore
		)
		for _, row := range rows {
			avg, ok := row.SubjectAverage(subject)
			if !ok {
				continue
			}
			scores = append(scores, WeeklyScore{Week: row.WeekNumber, Subject: subject, Score: avg})
			if avg < t.MinScorePercent {
				failing++
			}
		}

		if failing < t.FailuresRequired {
			continue
		}

		first, last := scores[0].Score, scores[len(scores)-1].Score
		findings = append(findings, Finding{
			Subject:         subject,
			WeeksFailing:    failing,
			CurrentAverage:  &last,
			PreviousAverage: &first,
			WeeklyScores:    scores,
			WindowStart:     lo,
			WindowEnd:       hi,
		})
	}
	return findings
}

// latestPerWeek keeps one row per week number in [lo, hi], sorted by week.
func latestPerWeek(perfs []WeeklyPerformance, lo, hi int) []WeeklyPerformance {
	byWeek := make(map[int]WeeklyPerformance, hi-lo+1)
	for _, p := range perfs {
		if p.WeekNumber < lo || p.WeekNumber > hi {
			continue
		}
		if seen, ok := byWeek[p.WeekNumber]; ok && p.WeekStart.Before(seen.WeekStart) {
			continue
		}
		byWeek[p.WeekNumber] = p
	}

	rows := make([]WeeklyPerformance, 0, len(byWeek))
	for _, p := range byWeek {
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].WeekNumber < rows[j].WeekNumber
	})
	return rows
}
