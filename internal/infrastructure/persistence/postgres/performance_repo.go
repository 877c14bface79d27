package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/pkg/timeutil"
)

// PerformanceReader implements intervention.PerformanceReader over the
// weekly_performance table maintained by the score aggregator.
type PerformanceReader struct {
	conn *Connection
}

// NewPerformanceReader creates a new PerformanceReader.
func NewPerformanceReader(conn *Connection) *PerformanceReader {
	return &PerformanceReader{conn: conn}
}

// subjectScoreRow mirrors one entry of the subject_scores JSONB column.
// The aggregator has written averages as numbers and, historically, as
// strings; anything that is not a number is treated as missing.
type subjectScoreRow struct {
	Average json.RawMessage `json:"average"`
	Count   int             `json:"count"`
	Tests   []string        `json:"tests"`
}

// ListWeekly returns rows inside wr for the given students, ordered by
// student then week. week_start is a DATE, so the bounds are passed as
// civil dates in the calendar's zone.
func (r *PerformanceReader) ListWeekly(ctx context.Context, studentIDs []uuid.UUID, wr intervention.WeekRange) ([]intervention.WeeklyPerformance, error) {
	if len(studentIDs) == 0 || wr.From > wr.To {
		return nil, nil
	}

	query := `
		SELECT student_id, week_start, week_end, week_number, year, average_score, subject_scores
		FROM weekly_performance
		WHERE student_id = ANY($1) AND week_number BETWEEN $2 AND $3`
	args := []any{studentIDs, wr.From, wr.To}
	if !wr.Start.IsZero() {
		args = append(args, wr.Start.Format(timeutil.FormatDate))
		query += fmt.Sprintf(" AND week_start >= $%d::date", len(args))
	}
	if !wr.End.IsZero() {
		args = append(args, wr.End.Format(timeutil.FormatDate))
		query += fmt.Sprintf(" AND week_start <= $%d::date", len(args))
	}
	query += " ORDER BY student_id, week_number, week_start"

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list weekly performance: %w", err)
	}
	defer rows.Close()

	var out []intervention.WeeklyPerformance
	for rows.Next() {
		var (
			p   intervention.WeeklyPerformance
			raw []byte
		)
		if err := rows.Scan(&p.StudentID, &p.WeekStart, &p.WeekEnd, &p.WeekNumber, &p.Year, &p.AverageScore, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan weekly performance: %w", err)
		}
		p.SubjectScores = decodeSubjectScores(raw)
		out = append(out, p)
	}
	return out, rows.Err()
}

// decodeSubjectScores tolerates malformed entries: a subject whose value
// cannot be decoded is dropped, and a null or non-numeric average becomes nil.
func decodeSubjectScores(raw []byte) map[string]intervention.SubjectScore {
	scores := make(map[string]intervention.SubjectScore)
	if len(raw) == 0 {
		return scores
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return scores
	}

	for subject, entry := range entries {
		var row subjectScoreRow
		if err := json.Unmarshal(entry, &row); err != nil {
			continue
		}
		score := intervention.SubjectScore{SampleCount: row.Count, SourceTests: row.Tests}
		var avg *float64
		if len(row.Average) > 0 && json.Unmarshal(row.Average, &avg) == nil {
			score.Average = avg
		}
		scores[subject] = score
	}
	return scores
}

var _ intervention.PerformanceReader = (*PerformanceReader)(nil)
