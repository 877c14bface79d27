package intervention

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

var fixedNow = time.Date(2026, 1, 9, 9, 0, 0, 0, time.UTC)

func pendingAlert(t *testing.T) Alert {
	t.Helper()
	classID := uuid.New()
	student := StudentRef{ID: uuid.New(), Code: "AE001", FullName: "Ada Lovelace", ClassID: &classID}
	th := mathsThreshold(t)
	avg := 42.5
	f := Finding{
		Subject:        SubjectMathematics,
		WeeksFailing:   3,
		CurrentAverage: &avg,
		WeeklyScores:   []WeeklyScore{{Week: 14, Subject: SubjectMathematics, Score: avg}},
		WindowStart:    14,
		WindowEnd:      18,
	}
	a, entry := NewAlert(student, th, f, fixedNow)
	require.Equal(t, ActionCreate, entry.Action)
	require.Nil(t, entry.ActorID)
	return a
}

func TestNewAlert(t *testing.T) {
	a := pendingAlert(t)

	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, AlertTypePerformanceDecline, a.AlertType)
	assert.Equal(t, "Performance Alert: Ada Lovelace - Mathematics", a.Title)
	assert.Equal(t,
		"Student's Mathematics performance has fallen below 50.0% for 3 out of the last 5 weeks.",
		a.Description)
	assert.Contains(t, a.RecommendedActions, "Review Mathematics study habits")
	assert.Equal(t, PriorityMedium, a.Priority)
	assert.True(t, a.Status.IsActive())
}

func TestAlert_Approve(t *testing.T) {
	a := pendingAlert(t)
	teacher := uuid.New()

	next, entry, err := a.Approve(teacher, "  spoke with student  ", fixedNow.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, StatusInProgress, next.Status)
	assert.Equal(t, "spoke with student", next.TeacherNotes)
	require.NotNil(t, next.ApprovedBy)
	assert.Equal(t, teacher, *next.ApprovedBy)
	assert.Equal(t, StatusPending, a.Status, "receiver must be left untouched")

	assert.Equal(t, ActionApprove, entry.Action)
	assert.Equal(t, a.ID, entry.AlertID)
	assert.Equal(t, "spoke with student", entry.Details["notes"])
}

func TestAlert_ApproveDismissedFails(t *testing.T) {
	a := pendingAlert(t)
	dismissed, _, err := a.Dismiss(uuid.New(), "already handled", fixedNow)
	require.NoError(t, err)

	unchanged, _, err := dismissed.Approve(uuid.New(), "", fixedNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrStateTransition))

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusDismissed, te.From)
	assert.Equal(t, ActionApprove, te.Action)
	assert.Equal(t, dismissed, unchanged)
}

func TestAlert_DismissRequiresReason(t *testing.T) {
	a := pendingAlert(t)

	_, _, err := a.Dismiss(uuid.New(), "   ", fixedNow)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.False(t, shared.IsStateTransition(err))
}

func TestAlert_DismissOnlyFromPending(t *testing.T) {
	a := pendingAlert(t)
	approved, _, err := a.Approve(uuid.New(), "", fixedNow)
	require.NoError(t, err)

	_, _, err = approved.Dismiss(uuid.New(), "no longer relevant", fixedNow)
	assert.True(t, shared.IsStateTransition(err))
}

func TestAlert_Resolve(t *testing.T) {
	a := pendingAlert(t)

	_, _, err := a.Resolve(nil, ResolveModeAuto, fixedNow)
	assert.True(t, shared.IsStateTransition(err), "pending alerts cannot be resolved")

	approved, _, err := a.Approve(uuid.New(), "", fixedNow)
	require.NoError(t, err)

	resolved, entry, err := approved.Resolve(nil, ResolveModeAuto, fixedNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.True(t, resolved.ParentNotified)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, ResolveModeAuto, entry.Details["mode"])
	assert.Nil(t, entry.ActorID)

	_, _, err = resolved.Resolve(nil, ResolveModeManual, fixedNow)
	assert.True(t, shared.IsStateTransition(err))
}

func TestStatus_Parse(t *testing.T) {
	s, err := ParseStatus("IN_PROGRESS")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, s)

	_, err = ParseStatus("archived")
	assert.True(t, shared.IsValidation(err))
}

func TestAction_Parse(t *testing.T) {
	a, err := ParseAction(" Notify_Failed ")
	require.NoError(t, err)
	assert.Equal(t, ActionNotifyFailed, a)

	_, err = ParseAction("delete")
	assert.True(t, shared.IsValidation(err))
	assert.False(t, Action("").IsValid())
}
