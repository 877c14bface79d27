package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// Roster implements intervention.Roster over the platform's students, users
// and teacher_class_assignments tables.
type Roster struct {
	conn *Connection
}

// NewRoster creates a new Roster.
func NewRoster(conn *Connection) *Roster {
	return &Roster{conn: conn}
}

// ActiveStudents lists every active student ordered by name.
func (r *Roster) ActiveStudents(ctx context.Context) ([]intervention.StudentRef, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, student_code, full_name, class_id
		FROM students
		WHERE status = 'active'
		ORDER BY full_name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active students: %w", err)
	}
	defer rows.Close()

	var out []intervention.StudentRef
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetStudent returns a student by ID.
func (r *Roster) GetStudent(ctx context.Context, id uuid.UUID) (intervention.StudentRef, error) {
	s, err := scanStudent(r.conn.QueryRow(ctx, `
		SELECT id, student_code, full_name, class_id FROM students WHERE id = $1
	`, id))
	if err != nil {
		if IsNoRows(err) {
			return intervention.StudentRef{}, shared.ErrStudentNotFound
		}
		return intervention.StudentRef{}, err
	}
	return s, nil
}

// ResolveUser finds an active user by username. Returns nil when absent.
func (r *Roster) ResolveUser(ctx context.Context, username string) (*uuid.UUID, error) {
	var id uuid.UUID
	err := r.conn.QueryRow(ctx, `SELECT id FROM users WHERE username = $1 AND is_active`, username).Scan(&id)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve user %q: %w", username, err)
	}
	return &id, nil
}

// TeacherClassIDs lists the classes assigned to a teacher.
func (r *Roster) TeacherClassIDs(ctx context.Context, teacherID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT class_id FROM teacher_class_assignments WHERE teacher_id = $1 ORDER BY class_id
	`, teacherID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teacher classes: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan class id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanStudent(row pgx.Row) (intervention.StudentRef, error) {
	var s intervention.StudentRef
	if err := row.Scan(&s.ID, &s.Code, &s.FullName, &s.ClassID); err != nil {
		if IsNoRows(err) {
			return s, err
		}
		return s, fmt.Errorf("failed to scan student: %w", err)
	}
	return s, nil
}

var _ intervention.Roster = (*Roster)(nil)
