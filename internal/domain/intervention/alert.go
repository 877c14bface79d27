package intervention

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the lifecycle state of an alert.
//
//	PENDING ──approve──► IN_PROGRESS ──resolve──► RESOLVED
//	   │
//	   └────dismiss────► DISMISSED
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusDismissed  Status = "dismissed"
)

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusInProgress, StatusResolved, StatusDismissed}
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved, StatusDismissed:
		return true
	default:
		return false
	}
}

// IsActive reports whether the alert still blocks a new alert for the same
// (student, subject, threshold).
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusInProgress
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusDismissed
}

// ParseStatus parses a status name, accepting upper or lower case.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: unknown alert status %q", shared.ErrValidation, v)
	}
	return s, nil
}

// AlertTypePerformanceDecline is the only alert type raised by the check engine.
const AlertTypePerformanceDecline = "performance_decline"

// Resolution modes recorded in audit details.
const (
	ResolveModeAuto   = "auto"
	ResolveModeManual = "manual"
)

// ══════════════════════════════════════════════════════════════════════════════
// ALERT
// ══════════════════════════════════════════════════════════════════════════════

// WeeklyScore is one week of the score history frozen into an alert.
type WeeklyScore struct {
	Week    int     `json:"week"`
	Subject string  `json:"subject"`
	Score   float64 `json:"score"`
}

// Alert records that a student crossed a threshold in one subject.
// Alerts are never deleted.
type Alert struct {
	ID                 uuid.UUID     `json:"id"`
	StudentID          uuid.UUID     `json:"student_id"`
	StudentName        string        `json:"student_name"`
	ClassID            *uuid.UUID    `json:"class_id,omitempty"`
	ThresholdID        uuid.UUID     `json:"threshold_id"`
	AlertType          string        `json:"alert_type"`
	Subject            string        `json:"subject"`
	Priority           Priority      `json:"priority"`
	Status             Status        `json:"status"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	RecommendedActions string        `json:"recommended_actions"`
	CurrentAverage     *float64      `json:"current_average,omitempty"`
	PreviousAverage    *float64      `json:"previous_average,omitempty"`
	WeeksFailing       int           `json:"weeks_failing"`
	WeeklyScores       []WeeklyScore `json:"weekly_scores"`
	TeacherNotes       string        `json:"teacher_notes,omitempty"`
	ApprovedBy         *uuid.UUID    `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time    `json:"approved_at,omitempty"`
	DismissedBy        *uuid.UUID    `json:"dismissed_by,omitempty"`
	DismissedAt        *time.Time    `json:"dismissed_at,omitempty"`
	DismissReason      string        `json:"dismiss_reason,omitempty"`
	ResolvedAt         *time.Time    `json:"resolved_at,omitempty"`
	ParentNotified     bool          `json:"parent_notified"`
	ParentNotifiedAt   *time.Time    `json:"parent_notified_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// NewAlert builds a PENDING alert from an evaluation finding, together with
// the system audit entry that records its creation.
func NewAlert(student StudentRef, t Threshold, f Finding, now time.Time) (Alert, AuditEntry) {
	a := Alert{
		ID:          uuid.New(),
		StudentID:   student.ID,
		StudentName: student.FullName,
		ClassID:     student.ClassID,
		ThresholdID: t.ID,
		AlertType:   AlertTypePerformanceDecline,
		Subject:     f.Subject,
		Priority:    t.AlertPriority,
		Status:      StatusPending,
		Title:       fmt.Sprintf("Performance Alert: %s - %s", student.FullName, f.Subject),
		Description: fmt.Sprintf(
			"Student's %s performance has fallen below %.1f%% for %d out of the last %d weeks.",
			f.Subject, t.MinScorePercent, f.WeeksFailing, t.WeeksToReview,
		),
		RecommendedActions: fmt.Sprintf(
			"Review %s study habits and provide targeted support. "+
				"Schedule a meeting with the student and guardian to discuss improvement strategies.",
			f.Subject,
		),
		CurrentAverage:  f.CurrentAverage,
		PreviousAverage: f.PreviousAverage,
		WeeksFailing:    f.WeeksFailing,
		WeeklyScores:    f.WeeklyScores,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	entry := NewAuditEntry(a.ID, nil, ActionCreate, now, map[string]any{
		"threshold_id":  t.ID.String(),
		"subject":       f.Subject,
		"weeks_failing": f.WeeksFailing,
		"window_start":  f.WindowStart,
		"window_end":    f.WindowEnd,
	})
	return a, entry
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════
//
// Transition methods are pure: they return the next alert value and the audit
// entry describing the change, leaving the receiver untouched. Persistence
// commits both atomically.

// Approve moves a PENDING alert to IN_PROGRESS.
func (a Alert) Approve(approver uuid.UUID, notes string, now time.Time) (Alert, AuditEntry, error) {
	if a.Status != StatusPending {
		return a, AuditEntry{}, &TransitionError{AlertID: a.ID, From: a.Status, Action: ActionApprove}
	}

	next := a
	next.Status = StatusInProgress
	next.ApprovedBy = &approver
	next.ApprovedAt = &now
	if notes = strings.TrimSpace(notes); notes != "" {
		next.TeacherNotes = notes
	}
	next.UpdatedAt = now

	details := map[string]any{"from": string(a.Status), "to": string(next.Status)}
	if notes != "" {
		details["notes"] = notes
	}
	return next, NewAuditEntry(a.ID, &approver, ActionApprove, now, details), nil
}

// Dismiss moves a PENDING alert to DISMISSED. The reason is mandatory.
func (a Alert) Dismiss(dismisser uuid.UUID, reason string, now time.Time) (Alert, AuditEntry, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return a, AuditEntry{}, shared.ErrDismissReasonMissing
	}
	if a.Status != StatusPending {
		return a, AuditEntry{}, &TransitionError{AlertID: a.ID, From: a.Status, Action: ActionDismiss}
	}

	next := a
	next.Status = StatusDismissed
	next.DismissedBy = &dismisser
	next.DismissedAt = &now
	next.DismissReason = reason
	next.UpdatedAt = now

	return next, NewAuditEntry(a.ID, &dismisser, ActionDismiss, now, map[string]any{
		"from":   string(a.Status),
		"to":     string(next.Status),
		"reason": reason,
	}), nil
}

// Resolve closes an IN_PROGRESS alert. A nil actor means the system closed it
// after the parent was notified; mode records which path was taken.
func (a Alert) Resolve(actor *uuid.UUID, mode string, now time.Time) (Alert, AuditEntry, error) {
	if a.Status != StatusInProgress {
		return a, AuditEntry{}, &TransitionError{AlertID: a.ID, From: a.Status, Action: ActionResolve}
	}

	next := a
	next.Status = StatusResolved
	next.ResolvedAt = &now
	next.UpdatedAt = now
	if mode == ResolveModeAuto {
		next.ParentNotified = true
		next.ParentNotifiedAt = &now
	}

	return next, NewAuditEntry(a.ID, actor, ActionResolve, now, map[string]any{
		"from": string(a.Status),
		"to":   string(next.Status),
		"mode": mode,
	}), nil
}

// RecordNotificationFailure leaves the alert unchanged and returns the audit
// entry for a failed dispatch.
func (a Alert) RecordNotificationFailure(role RecipientRole, reason string, now time.Time) (Alert, AuditEntry, error) {
	return a, NewAuditEntry(a.ID, nil, ActionNotifyFailed, now, map[string]any{
		"recipient_role": string(role),
		"reason":         reason,
		"status":         string(a.Status),
	}), nil
}

// TransitionError reports an action attempted from a status that does not
// allow it. It carries the current status so callers can show it.
type TransitionError struct {
	AlertID uuid.UUID
	From    Status
	Action  Action
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("alert %s: cannot %s from status %s", e.AlertID, e.Action, e.From)
}

// Is matches shared.ErrStateTransition.
func (e *TransitionError) Is(target error) bool {
	return target == shared.ErrStateTransition
}

// Unwrap exposes the base kind.
func (e *TransitionError) Unwrap() error {
	return shared.ErrStateTransition
}
