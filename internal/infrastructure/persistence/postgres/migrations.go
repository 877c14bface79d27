package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is one embedded schema change.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies embedded migrations and tracks them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator for the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return NewMigratorWithMigrations(conn, Migrations())
}

// NewMigratorWithMigrations creates a migrator with custom migrations.
func NewMigratorWithMigrations(conn *Connection, migrations []Migration) *Migrator {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	return &Migrator{
		conn:       conn,
		migrations: sorted,
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// AppliedMigrations returns applied versions and when they were applied.
func (m *Migrator) AppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			version   int
			appliedAt time.Time
		)
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
// It returns the number of migrations applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, done := applied[mig.Version]; done {
			continue
		}
		if mig.UpSQL == "" {
			return count, fmt.Errorf("%w: missing up SQL for migration %d", ErrMigrationFailed, mig.Version)
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName),
				mig.Version, mig.Name,
			)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		count++
	}
	return count, nil
}

// Rollback reverts the most recently applied migration. It is a no-op when
// nothing has been applied.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var target *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			target = &m.migrations[i]
			break
		}
	}
	if target == nil || target.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, target.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Migrations returns all embedded migrations in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_reference_tables", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_intervention_thresholds", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_intervention_alerts", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "index_audit_log_search", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

// Migration 001 creates the tables owned by the wider platform when they are
// missing, so a standalone deployment and the integration tests have
// something to read from. Existing tables are left alone.
const migration001Up = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    username VARCHAR(100) NOT NULL UNIQUE,
    email VARCHAR(255),
    full_name VARCHAR(200) NOT NULL DEFAULT '',
    role VARCHAR(20) NOT NULL DEFAULT 'teacher',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS classes (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name VARCHAR(100) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS students (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id UUID REFERENCES users(id) ON DELETE SET NULL,
    student_code VARCHAR(50) NOT NULL UNIQUE,
    full_name VARCHAR(200) NOT NULL,
    class_id UUID REFERENCES classes(id) ON DELETE SET NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'active',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_students_class_id ON students(class_id);
CREATE INDEX IF NOT EXISTS idx_students_status ON students(status);

CREATE TABLE IF NOT EXISTS teacher_class_assignments (
    teacher_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    class_id UUID NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
    assigned_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (teacher_id, class_id)
);

CREATE TABLE IF NOT EXISTS weekly_performance (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    week_start DATE NOT NULL,
    week_end DATE NOT NULL,
    week_number INTEGER NOT NULL,
    year INTEGER NOT NULL,
    average_score DOUBLE PRECISION,
    subject_scores JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT uq_weekly_performance_student_week UNIQUE (student_id, year, week_number)
);

CREATE INDEX IF NOT EXISTS idx_weekly_performance_week ON weekly_performance(week_number);
`

const migration001Down = `
DROP TABLE IF EXISTS weekly_performance;
DROP TABLE IF EXISTS teacher_class_assignments;
DROP TABLE IF EXISTS students;
DROP TABLE IF EXISTS classes;
DROP TABLE IF EXISTS users;
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS intervention_thresholds (
    id UUID PRIMARY KEY,
    name VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    subject VARCHAR(50),
    min_score_percent DOUBLE PRECISION NOT NULL,
    max_score_percent DOUBLE PRECISION NOT NULL,
    weeks_to_review INTEGER NOT NULL DEFAULT 5,
    failures_required INTEGER NOT NULL DEFAULT 3,
    alert_priority VARCHAR(20) NOT NULL DEFAULT 'MEDIUM',
    notify_teacher BOOLEAN NOT NULL DEFAULT TRUE,
    notify_parent BOOLEAN NOT NULL DEFAULT TRUE,
    notify_supervisor BOOLEAN NOT NULL DEFAULT FALSE,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_by UUID REFERENCES users(id) ON DELETE SET NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT intervention_thresholds_name_key UNIQUE (name),
    CONSTRAINT valid_score_range CHECK (
        min_score_percent >= 0 AND min_score_percent <= max_score_percent AND max_score_percent <= 100
    ),
    CONSTRAINT valid_review_window CHECK (failures_required >= 1 AND weeks_to_review >= failures_required),
    CONSTRAINT valid_priority CHECK (alert_priority IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL'))
);

CREATE INDEX IF NOT EXISTS idx_intervention_thresholds_active
    ON intervention_thresholds(created_at) WHERE is_active;
`

const migration002Down = `
DROP TABLE IF EXISTS intervention_thresholds;
`

const migration003Up = `
CREATE TABLE IF NOT EXISTS intervention_alerts (
    id UUID PRIMARY KEY,
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    student_name VARCHAR(200) NOT NULL DEFAULT '',
    class_id UUID,
    threshold_id UUID REFERENCES intervention_thresholds(id) ON DELETE SET NULL,
    alert_type VARCHAR(50) NOT NULL DEFAULT 'performance_decline',
    subject VARCHAR(50) NOT NULL,
    priority VARCHAR(20) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    title VARCHAR(300) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    recommended_actions TEXT NOT NULL DEFAULT '',
    current_average DOUBLE PRECISION,
    previous_average DOUBLE PRECISION,
    weeks_failing INTEGER NOT NULL DEFAULT 0,
    weekly_scores JSONB NOT NULL DEFAULT '[]'::jsonb,
    teacher_notes TEXT NOT NULL DEFAULT '',
    approved_by UUID,
    approved_at TIMESTAMP WITH TIME ZONE,
    dismissed_by UUID,
    dismissed_at TIMESTAMP WITH TIME ZONE,
    dismiss_reason TEXT NOT NULL DEFAULT '',
    resolved_at TIMESTAMP WITH TIME ZONE,
    parent_notified BOOLEAN NOT NULL DEFAULT FALSE,
    parent_notified_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_alert_status CHECK (status IN ('pending', 'in_progress', 'resolved', 'dismissed')),
    CONSTRAINT valid_alert_priority CHECK (priority IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL'))
);

-- At most one active alert per (student, subject, threshold).
CREATE UNIQUE INDEX IF NOT EXISTS uq_intervention_alerts_active
    ON intervention_alerts(student_id, subject, threshold_id)
    WHERE status IN ('pending', 'in_progress');

CREATE INDEX IF NOT EXISTS idx_intervention_alerts_status ON intervention_alerts(status);
CREATE INDEX IF NOT EXISTS idx_intervention_alerts_class ON intervention_alerts(class_id);
CREATE INDEX IF NOT EXISTS idx_intervention_alerts_created ON intervention_alerts(created_at DESC);

CREATE TABLE IF NOT EXISTS alert_audit_log (
    id UUID PRIMARY KEY,
    alert_id UUID NOT NULL REFERENCES intervention_alerts(id) ON DELETE CASCADE,
    actor_id UUID,
    action VARCHAR(30) NOT NULL,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    details JSONB NOT NULL DEFAULT '{}'::jsonb,

    CONSTRAINT valid_audit_action CHECK (action IN ('create', 'approve', 'dismiss', 'resolve', 'notify_failed'))
);

CREATE INDEX IF NOT EXISTS idx_alert_audit_log_alert ON alert_audit_log(alert_id, occurred_at);
`

const migration003Down = `
DROP TABLE IF EXISTS alert_audit_log;
DROP TABLE IF EXISTS intervention_alerts;
`

// Migration 004 backs the audit log search and the flagged-student listing.
const migration004Up = `
CREATE INDEX IF NOT EXISTS idx_alert_audit_log_occurred ON alert_audit_log(occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_alert_audit_log_actor ON alert_audit_log(actor_id, occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_intervention_alerts_active_student
    ON intervention_alerts(student_id)
    WHERE status IN ('pending', 'in_progress');
`

const migration004Down = `
DROP INDEX IF EXISTS idx_intervention_alerts_active_student;
DROP INDEX IF EXISTS idx_alert_audit_log_actor;
DROP INDEX IF EXISTS idx_alert_audit_log_occurred;
`
