package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ALERT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AlertRepository implements intervention.AlertRepository.
type AlertRepository struct {
	conn *Connection
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(conn *Connection) *AlertRepository {
	return &AlertRepository{conn: conn}
}

const alertColumns = `
	id, student_id, student_name, class_id, threshold_id, alert_type, subject,
	priority, status, title, description, recommended_actions,
	current_average, previous_average, weeks_failing, weekly_scores, teacher_notes,
	approved_by, approved_at, dismissed_by, dismissed_at, dismiss_reason,
	resolved_at, parent_notified, parent_notified_at, created_at, updated_at`

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// CreateIfNoActive inserts the alert and its creation audit entry in one
// transaction. The partial unique index on active alerts turns a concurrent
// duplicate into a no-op.
func (r *AlertRepository) CreateIfNoActive(ctx context.Context, a intervention.Alert, entry intervention.AuditEntry) (bool, error) {
	scores, err := json.Marshal(weeklyScoresOrEmpty(a.WeeklyScores))
	if err != nil {
		return false, fmt.Errorf("failed to marshal weekly scores: %w", err)
	}

	created := false
	err = r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO intervention_alerts (`+alertColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
			ON CONFLICT (student_id, subject, threshold_id)
				WHERE status IN ('pending', 'in_progress')
				DO NOTHING
		`,
			a.ID, a.StudentID, a.StudentName, a.ClassID, nullableUUID(a.ThresholdID), a.AlertType, a.Subject,
			a.Priority.String(), string(a.Status), a.Title, a.Description, a.RecommendedActions,
			a.CurrentAverage, a.PreviousAverage, a.WeeksFailing, scores, a.TeacherNotes,
			a.ApprovedBy, a.ApprovedAt, a.DismissedBy, a.DismissedAt, a.DismissReason,
			a.ResolvedAt, a.ParentNotified, a.ParentNotifiedAt, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		created = true

		if entry.IsZero() {
			return nil
		}
		return insertAudit(ctx, tx, entry)
	})
	if err != nil {
		// A racing insert can still surface as a unique violation when the
		// conflicting row commits between our snapshot and the index check.
		if IsUniqueViolation(err) && violatedConstraint(err) == constraintActiveAlertIndex {
			return false, nil
		}
		return false, err
	}
	return created, nil
}

// Transition locks the alert row, applies fn and persists the result with
// the returned audit entry.
func (r *AlertRepository) Transition(ctx context.Context, id uuid.UUID, fn intervention.TransitionFunc) (intervention.Alert, error) {
	var result intervention.Alert

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		current, err := scanAlert(tx.QueryRow(ctx,
			`SELECT `+alertColumns+` FROM intervention_alerts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if IsNoRows(err) {
				return shared.ErrAlertNotFound
			}
			return err
		}

		next, entry, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE intervention_alerts SET
				status = $2, teacher_notes = $3,
				approved_by = $4, approved_at = $5,
				dismissed_by = $6, dismissed_at = $7, dismiss_reason = $8,
				resolved_at = $9, parent_notified = $10, parent_notified_at = $11,
				updated_at = $12
			WHERE id = $1
		`,
			next.ID, string(next.Status), next.TeacherNotes,
			next.ApprovedBy, next.ApprovedAt,
			next.DismissedBy, next.DismissedAt, next.DismissReason,
			next.ResolvedAt, next.ParentNotified, next.ParentNotifiedAt,
			next.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update alert: %w", err)
		}

		if !entry.IsZero() {
			if err := insertAudit(ctx, tx, entry); err != nil {
				return err
			}
		}
		result = next
		return nil
	})
	if err != nil {
		return intervention.Alert{}, err
	}
	return result, nil
}

func insertAudit(ctx context.Context, q Querier, e intervention.AuditEntry) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO alert_audit_log (id, alert_id, actor_id, action, occurred_at, details)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.AlertID, e.ActorID, string(e.Action), e.Timestamp, payload)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// HasActive reports whether a PENDING or IN_PROGRESS alert exists.
func (r *AlertRepository) HasActive(ctx context.Context, studentID uuid.UUID, subject string, thresholdID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM intervention_alerts
			WHERE student_id = $1 AND subject = $2 AND threshold_id = $3
			  AND status IN ('pending', 'in_progress')
		)
	`, studentID, subject, thresholdID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active alert: %w", err)
	}
	return exists, nil
}

// Get returns an alert by ID.
func (r *AlertRepository) Get(ctx context.Context, id uuid.UUID) (intervention.Alert, error) {
	a, err := scanAlert(r.conn.QueryRow(ctx, `SELECT `+alertColumns+` FROM intervention_alerts WHERE id = $1`, id))
	if err != nil {
		if IsNoRows(err) {
			return intervention.Alert{}, shared.ErrAlertNotFound
		}
		return intervention.Alert{}, err
	}
	return a, nil
}

// List returns one page of alerts, newest first, with the total match count.
func (r *AlertRepository) List(ctx context.Context, f intervention.AlertFilter) ([]intervention.Alert, int, error) {
	where, args := alertWhere(f)

	var total int
	if err := r.conn.QueryRow(ctx, `SELECT count(*) FROM intervention_alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := `SELECT ` + alertColumns + ` FROM intervention_alerts` + where + ` ORDER BY created_at DESC, id`
	query, args = withPaging(query, args, f.Limit, f.Offset)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []intervention.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// CountByStatus groups alerts by status.
func (r *AlertRepository) CountByStatus(ctx context.Context, classIDs []uuid.UUID) (map[intervention.Status]int, error) {
	where, args := alertWhere(intervention.AlertFilter{ClassIDs: classIDs})

	rows, err := r.conn.Query(ctx, `SELECT status, count(*) FROM intervention_alerts`+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[intervention.Status]int, 4)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[intervention.Status(status)] = n
	}
	return counts, rows.Err()
}

// CountStudentsAtRisk counts distinct students with an active alert.
func (r *AlertRepository) CountStudentsAtRisk(ctx context.Context, classIDs []uuid.UUID) (int, error) {
	where, args := activeWhere(classIDs)

	var n int
	if err := r.conn.QueryRow(ctx, `SELECT count(DISTINCT student_id) FROM intervention_alerts`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count students at risk: %w", err)
	}
	return n, nil
}

// ListAudit returns an alert's audit trail in chronological order.
func (r *AlertRepository) ListAudit(ctx context.Context, alertID uuid.UUID) ([]intervention.AuditEntry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, alert_id, actor_id, action, occurred_at, details
		FROM alert_audit_log
		WHERE alert_id = $1
		ORDER BY occurred_at, id
	`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []intervention.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SearchAudit returns one page of audit entries, newest first, with the total
// match count.
func (r *AlertRepository) SearchAudit(ctx context.Context, f intervention.AuditFilter) ([]intervention.AuditEntry, int, error) {
	where, args := auditWhere(f)

	var total int
	if err := r.conn.QueryRow(ctx, `SELECT count(*) FROM alert_audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := `SELECT id, alert_id, actor_id, action, occurred_at, details FROM alert_audit_log` +
		where + ` ORDER BY occurred_at DESC, id`
	query, args = withPaging(query, args, f.Limit, f.Offset)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	var out []intervention.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListFlagged groups active alerts per student. The class is taken from the
// student's newest active alert.
func (r *AlertRepository) ListFlagged(ctx context.Context, f intervention.FlaggedFilter) ([]intervention.FlaggedStudent, int, error) {
	total, err := r.CountStudentsAtRisk(ctx, f.ClassIDs)
	if err != nil {
		return nil, 0, err
	}

	where, args := activeWhere(f.ClassIDs)
	query := `
		SELECT student_id,
		       max(student_name),
		       (array_agg(class_id ORDER BY created_at DESC))[1],
		       count(*),
		       max(CASE priority WHEN 'LOW' THEN 1 WHEN 'MEDIUM' THEN 2 WHEN 'HIGH' THEN 3 WHEN 'CRITICAL' THEN 4 END),
		       array_agg(DISTINCT subject ORDER BY subject),
		       max(created_at)
		FROM intervention_alerts` + where + `
		GROUP BY student_id
		ORDER BY max(created_at) DESC, student_id`
	query, args = withPaging(query, args, f.Limit, f.Offset)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list flagged students: %w", err)
	}
	defer rows.Close()

	var out []intervention.FlaggedStudent
	for rows.Next() {
		var (
			s    intervention.FlaggedStudent
			rank int
		)
		if err := rows.Scan(&s.StudentID, &s.StudentName, &s.ClassID, &s.ActiveAlerts, &rank, &s.Subjects, &s.LatestAlertAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan flagged student: %w", err)
		}
		s.HighestPriority = intervention.Priority(rank)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// alertWhere renders the filter (without paging) as a WHERE clause.
func alertWhere(f intervention.AlertFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.StudentIDs != nil {
		add("student_id = ANY($%d)", f.StudentIDs)
	}
	if f.ClassIDs != nil {
		add("class_id = ANY($%d)", f.ClassIDs)
	}
	if f.ThresholdID != nil {
		add("threshold_id = $%d", *f.ThresholdID)
	}
	if f.Subject != "" {
		add("subject = $%d", f.Subject)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// activeWhere restricts to PENDING and IN_PROGRESS alerts, optionally within
// classIDs.
func activeWhere(classIDs []uuid.UUID) (string, []any) {
	where, args := alertWhere(intervention.AlertFilter{ClassIDs: classIDs})
	if where == "" {
		return " WHERE status IN ('pending', 'in_progress')", args
	}
	return where + " AND status IN ('pending', 'in_progress')", args
}

// auditWhere renders the filter (without paging) as a WHERE clause.
func auditWhere(f intervention.AuditFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.ActorID != nil {
		add("actor_id = $%d", *f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.AlertID != nil {
		add("alert_id = $%d", *f.AlertID)
	}
	if !f.Since.IsZero() {
		add("occurred_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("occurred_at <= $%d", f.Until)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func withPaging(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

func scanAudit(row pgx.Row) (intervention.AuditEntry, error) {
	var (
		e       intervention.AuditEntry
		action  string
		details []byte
	)
	if err := row.Scan(&e.ID, &e.AlertID, &e.ActorID, &action, &e.Timestamp, &details); err != nil {
		return e, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	e.Action = intervention.Action(action)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return e, fmt.Errorf("failed to decode audit details: %w", err)
		}
	}
	return e, nil
}

func scanAlert(row pgx.Row) (intervention.Alert, error) {
	var (
		a           intervention.Alert
		thresholdID *uuid.UUID
		priority    string
		status      string
		scores      []byte
	)
	err := row.Scan(
		&a.ID, &a.StudentID, &a.StudentName, &a.ClassID, &thresholdID, &a.AlertType, &a.Subject,
		&priority, &status, &a.Title, &a.Description, &a.RecommendedActions,
		&a.CurrentAverage, &a.PreviousAverage, &a.WeeksFailing, &scores, &a.TeacherNotes,
		&a.ApprovedBy, &a.ApprovedAt, &a.DismissedBy, &a.DismissedAt, &a.DismissReason,
		&a.ResolvedAt, &a.ParentNotified, &a.ParentNotifiedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan alert: %w", err)
	}

	if thresholdID != nil {
		a.ThresholdID = *thresholdID
	}
	a.Status = intervention.Status(status)
	if a.Priority, err = intervention.ParsePriority(priority); err != nil {
		return a, fmt.Errorf("alert %s: %w", a.ID, err)
	}
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &a.WeeklyScores); err != nil {
			return a, fmt.Errorf("alert %s: failed to decode weekly scores: %w", a.ID, err)
		}
	}
	return a, nil
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func weeklyScoresOrEmpty(s []intervention.WeeklyScore) []intervention.WeeklyScore {
	if s == nil {
		return []intervention.WeeklyScore{}
	}
	return s
}

var _ intervention.AlertRepository = (*AlertRepository)(nil)
