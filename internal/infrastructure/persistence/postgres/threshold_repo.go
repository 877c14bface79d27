package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLD REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ThresholdRepository implements intervention.ThresholdRepository.
type ThresholdRepository struct {
	conn *Connection
}

// NewThresholdRepository creates a new ThresholdRepository.
func NewThresholdRepository(conn *Connection) *ThresholdRepository {
	return &ThresholdRepository{conn: conn}
}

const thresholdColumns = `
	id, name, description, subject, min_score_percent, max_score_percent,
	weeks_to_review, failures_required, alert_priority,
	notify_teacher, notify_parent, notify_supervisor, is_active,
	created_by, created_at, updated_at`

// Create inserts a threshold.
func (r *ThresholdRepository) Create(ctx context.Context, t intervention.Threshold) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO intervention_thresholds (`+thresholdColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		t.ID, t.Name, t.Description, t.Scope.Nullable(), t.MinScorePercent, t.MaxScorePercent,
		t.WeeksToReview, t.FailuresRequired, t.AlertPriority.String(),
		t.NotifyTeacher, t.NotifyParent, t.NotifySupervisor, t.IsActive,
		t.CreatedBy, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) && violatedConstraint(err) == constraintThresholdName {
			return shared.ErrThresholdAlreadyExists
		}
		return fmt.Errorf("failed to create threshold: %w", err)
	}
	return nil
}

// Update overwrites every mutable column of a threshold.
func (r *ThresholdRepository) Update(ctx context.Context, t intervention.Threshold) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE intervention_thresholds SET
			name = $2, description = $3, subject = $4,
			min_score_percent = $5, max_score_percent = $6,
			weeks_to_review = $7, failures_required = $8, alert_priority = $9,
			notify_teacher = $10, notify_parent = $11, notify_supervisor = $12,
			is_active = $13, updated_at = $14
		WHERE id = $1
	`,
		t.ID, t.Name, t.Description, t.Scope.Nullable(),
		t.MinScorePercent, t.MaxScorePercent,
		t.WeeksToReview, t.FailuresRequired, t.AlertPriority.String(),
		t.NotifyTeacher, t.NotifyParent, t.NotifySupervisor,
		t.IsActive, t.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrThresholdAlreadyExists
		}
		return fmt.Errorf("failed to update threshold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrThresholdNotFound
	}
	return nil
}

// Delete removes a threshold. Alerts raised under it keep their history with
// a NULL threshold reference.
func (r *ThresholdRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM intervention_thresholds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete threshold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrThresholdNotFound
	}
	return nil
}

// GetByID returns a threshold by ID.
func (r *ThresholdRepository) GetByID(ctx context.Context, id uuid.UUID) (intervention.Threshold, error) {
	return r.getOne(ctx, `SELECT `+thresholdColumns+` FROM intervention_thresholds WHERE id = $1`, id)
}

// GetByName returns a threshold by its unique name.
func (r *ThresholdRepository) GetByName(ctx context.Context, name string) (intervention.Threshold, error) {
	return r.getOne(ctx, `SELECT `+thresholdColumns+` FROM intervention_thresholds WHERE name = $1`, name)
}

// List returns thresholds ordered by creation time.
func (r *ThresholdRepository) List(ctx context.Context, activeOnly bool) ([]intervention.Threshold, error) {
	query := `SELECT ` + thresholdColumns + ` FROM intervention_thresholds`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY created_at, name`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list thresholds: %w", err)
	}
	defer rows.Close()

	var out []intervention.Threshold
	for rows.Next() {
		t, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *ThresholdRepository) getOne(ctx context.Context, query string, arg any) (intervention.Threshold, error) {
	t, err := scanThreshold(r.conn.QueryRow(ctx, query, arg))
	if err != nil {
		if IsNoRows(err) {
			return intervention.Threshold{}, shared.ErrThresholdNotFound
		}
		return intervention.Threshold{}, err
	}
	return t, nil
}

func scanThreshold(row pgx.Row) (intervention.Threshold, error) {
	var (
		t        intervention.Threshold
		subject  *string
		priority string
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &subject, &t.MinScorePercent, &t.MaxScorePercent,
		&t.WeeksToReview, &t.FailuresRequired, &priority,
		&t.NotifyTeacher, &t.NotifyParent, &t.NotifySupervisor, &t.IsActive,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return t, err
		}
		return t, fmt.Errorf("failed to scan threshold: %w", err)
	}

	t.Scope = intervention.ScopeFromNullable(subject)
	if t.AlertPriority, err = intervention.ParsePriority(priority); err != nil {
		return t, fmt.Errorf("threshold %s: %w", t.ID, err)
	}
	return t, nil
}

var _ intervention.ThresholdRepository = (*ThresholdRepository)(nil)
