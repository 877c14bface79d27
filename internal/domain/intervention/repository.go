package intervention

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLDS
// ══════════════════════════════════════════════════════════════════════════════

// ThresholdRepository persists alerting rules.
type ThresholdRepository interface {
	// Create inserts a threshold. Returns shared.ErrThresholdAlreadyExists when
	// the name is taken.
	Create(ctx context.Context, t Threshold) error

	// Update overwrites a threshold. Returns shared.ErrThresholdNotFound if absent.
	Update(ctx context.Context, t Threshold) error

	// Delete removes a threshold. Returns shared.ErrThresholdNotFound if absent.
	Delete(ctx context.Context, id uuid.UUID) error

	// GetByID returns shared.ErrThresholdNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (Threshold, error)

	// GetByName returns shared.ErrThresholdNotFound if absent.
	GetByName(ctx context.Context, name string) (Threshold, error)

	// List returns thresholds ordered by creation time.
	List(ctx context.Context, activeOnly bool) ([]Threshold, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERTS
// ══════════════════════════════════════════════════════════════════════════════

// AlertFilter narrows alert listings. Zero fields do not filter.
type AlertFilter struct {
	Status      Status
	StudentIDs  []uuid.UUID
	ClassIDs    []uuid.UUID
	ThresholdID *uuid.UUID
	Subject     string
	Limit       int
	Offset      int
}

// FlaggedFilter pages the flagged-student listing. A nil ClassIDs slice
// covers every class.
type FlaggedFilter struct {
	ClassIDs []uuid.UUID
	Limit    int
	Offset   int
}

// AuditFilter narrows the audit log search. Zero fields do not filter.
type AuditFilter struct {
	ActorID *uuid.UUID
	Action  Action
	AlertID *uuid.UUID
	Since   time.Time
	Until   time.Time
	Limit   int
	Offset  int
}

// TransitionFunc computes the next alert value from the locked current one.
type TransitionFunc func(current Alert) (Alert, AuditEntry, error)

// AlertRepository persists alerts and their audit trail.
type AlertRepository interface {
	// CreateIfNoActive stores a new alert together with its creation audit
	// entry unless an active alert already exists for the same
	// (student, subject, threshold). created is false on conflict.
	CreateIfNoActive(ctx context.Context, a Alert, entry AuditEntry) (created bool, err error)

	// HasActive reports whether a PENDING or IN_PROGRESS alert exists.
	HasActive(ctx context.Context, studentID uuid.UUID, subject string, thresholdID uuid.UUID) (bool, error)

	// Get returns shared.ErrAlertNotFound if absent.
	Get(ctx context.Context, id uuid.UUID) (Alert, error)

	// List returns one page of alerts (newest first) and the total match count.
	List(ctx context.Context, filter AlertFilter) ([]Alert, int, error)

	// CountByStatus groups alerts by status. A nil classIDs slice counts all.
	CountByStatus(ctx context.Context, classIDs []uuid.UUID) (map[Status]int, error)

	// CountStudentsAtRisk returns the number of distinct students with an
	// active alert.
	CountStudentsAtRisk(ctx context.Context, classIDs []uuid.UUID) (int, error)

	// Transition locks the alert row, applies fn and commits the new value
	// together with the returned audit entry. Errors from fn abort the
	// transaction and are returned unchanged.
	Transition(ctx context.Context, id uuid.UUID, fn TransitionFunc) (Alert, error)

	// ListAudit returns an alert's audit trail in chronological order.
	ListAudit(ctx context.Context, alertID uuid.UUID) ([]AuditEntry, error)

	// SearchAudit returns one page of audit entries across all alerts (newest
	// first) and the total match count.
	SearchAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, int, error)

	// ListFlagged returns one page of students with active alerts, most
	// recently flagged first, and the total number of such students.
	ListFlagged(ctx context.Context, filter FlaggedFilter) ([]FlaggedStudent, int, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// EXTERNAL COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// PerformanceReader reads aggregated weekly scores.
type PerformanceReader interface {
	// ListWeekly returns the rows inside r for the given students, ordered
	// by student then week.
	ListWeekly(ctx context.Context, studentIDs []uuid.UUID, r WeekRange) ([]WeeklyPerformance, error)
}

// Roster exposes the student and staff directory.
type Roster interface {
	// ActiveStudents lists every active student.
	ActiveStudents(ctx context.Context) ([]StudentRef, error)

	// GetStudent returns shared.ErrStudentNotFound if absent.
	GetStudent(ctx context.Context, id uuid.UUID) (StudentRef, error)

	// ResolveUser finds a staff user by username. Nil when absent.
	ResolveUser(ctx context.Context, username string) (*uuid.UUID, error)

	// TeacherClassIDs lists the classes assigned to a teacher.
	TeacherClassIDs(ctx context.Context, teacherID uuid.UUID) ([]uuid.UUID, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ══════════════════════════════════════════════════════════════════════════════

// RecipientRole selects who receives a notification.
type RecipientRole string

const (
	RecipientTeacher RecipientRole = "TEACHER"
	RecipientParent  RecipientRole = "PARENT"
)

// IsValid reports whether r is a known role.
func (r RecipientRole) IsValid() bool {
	return r == RecipientTeacher || r == RecipientParent
}

// DispatchRequest is the payload handed to the delivery channel.
type DispatchRequest struct {
	RecipientRole  RecipientRole `json:"recipient_role"`
	AlertID        uuid.UUID     `json:"alert_id"`
	StudentID      uuid.UUID     `json:"student_id"`
	StudentName    string        `json:"student_name"`
	ClassID        *uuid.UUID    `json:"class_id,omitempty"`
	Subject        string        `json:"subject"`
	CurrentAverage *float64      `json:"current_average,omitempty"`
	WeeksFailing   int           `json:"weeks_failing"`
	Priority       string        `json:"priority"`
	TeacherNotes   string        `json:"teacher_notes,omitempty"`
}

// Validate checks the request before sending.
func (r DispatchRequest) Validate() error {
	if !r.RecipientRole.IsValid() {
		return fmt.Errorf("%w: %q", shared.ErrInvalidRecipient, r.RecipientRole)
	}
	if r.AlertID == uuid.Nil {
		return fmt.Errorf("%w: alert id is required", shared.ErrValidation)
	}
	return nil
}

// DispatchRequestFor builds the request describing a for role.
func DispatchRequestFor(a Alert, role RecipientRole) DispatchRequest {
	req := DispatchRequest{
		RecipientRole:  role,
		AlertID:        a.ID,
		StudentID:      a.StudentID,
		StudentName:    a.StudentName,
		ClassID:        a.ClassID,
		Subject:        a.Subject,
		CurrentAverage: a.CurrentAverage,
		WeeksFailing:   a.WeeksFailing,
		Priority:       a.Priority.String(),
	}
	if role == RecipientParent {
		req.TeacherNotes = a.TeacherNotes
	}
	return req
}

// NotificationDispatcher delivers alert notifications. Failures wrap
// shared.ErrExternalService.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}
