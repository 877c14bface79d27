package query

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/calendar"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

type stubAlerts struct {
	intervention.AlertRepository // unused methods panic

	alerts     []intervention.Alert
	countCalls int
	lastFilter intervention.AlertFilter
	auditByID  map[uuid.UUID][]intervention.AuditEntry

	lastAudit   intervention.AuditFilter
	lastFlagged intervention.FlaggedFilter
}

func inClasses(a intervention.Alert, classIDs []uuid.UUID) bool {
	if classIDs == nil {
		return true
	}
	for _, id := range classIDs {
		if a.ClassID != nil && *a.ClassID == id {
			return true
		}
	}
	return false
}

func (s *stubAlerts) Get(_ context.Context, id uuid.UUID) (intervention.Alert, error) {
	for _, a := range s.alerts {
		if a.ID == id {
			return a, nil
		}
	}
	return intervention.Alert{}, shared.ErrAlertNotFound
}

func (s *stubAlerts) List(_ context.Context, f intervention.AlertFilter) ([]intervention.Alert, int, error) {
	s.lastFilter = f
	var out []intervention.Alert
	for _, a := range s.alerts {
		if inClasses(a, f.ClassIDs) && (f.Status == "" || a.Status == f.Status) {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

func (s *stubAlerts) CountByStatus(_ context.Context, classIDs []uuid.UUID) (map[intervention.Status]int, error) {
	s.countCalls++
	counts := map[intervention.Status]int{}
	for _, a := range s.alerts {
		if inClasses(a, classIDs) {
			counts[a.Status]++
		}
	}
	return counts, nil
}

func (s *stubAlerts) CountStudentsAtRisk(_ context.Context, classIDs []uuid.UUID) (int, error) {
	seen := map[uuid.UUID]bool{}
	for _, a := range s.alerts {
		if inClasses(a, classIDs) && a.Status.IsActive() {
			seen[a.StudentID] = true
		}
	}
	return len(seen), nil
}

func (s *stubAlerts) ListAudit(_ context.Context, id uuid.UUID) ([]intervention.AuditEntry, error) {
	return s.auditByID[id], nil
}

func (s *stubAlerts) SearchAudit(_ context.Context, f intervention.AuditFilter) ([]intervention.AuditEntry, int, error) {
	s.lastAudit = f
	var out []intervention.AuditEntry
	for _, entries := range s.auditByID {
		for _, e := range entries {
			if f.Action == "" || e.Action == f.Action {
				out = append(out, e)
			}
		}
	}
	return out, len(out), nil
}

func (s *stubAlerts) ListFlagged(_ context.Context, f intervention.FlaggedFilter) ([]intervention.FlaggedStudent, int, error) {
	s.lastFlagged = f
	index := map[uuid.UUID]int{}
	var out []intervention.FlaggedStudent
	for _, a := range s.alerts {
		if !a.Status.IsActive() || !inClasses(a, f.ClassIDs) {
			continue
		}
		if i, ok := index[a.StudentID]; ok {
			out[i].ActiveAlerts++
			continue
		}
		index[a.StudentID] = len(out)
		out = append(out, intervention.FlaggedStudent{StudentID: a.StudentID, ClassID: a.ClassID, ActiveAlerts: 1})
	}
	return out, len(out), nil
}

type stubRoster struct {
	intervention.Roster
	classes map[uuid.UUID][]uuid.UUID
}

func (r *stubRoster) TeacherClassIDs(_ context.Context, teacherID uuid.UUID) ([]uuid.UUID, error) {
	return r.classes[teacherID], nil
}

type mapStatsCache struct {
	items map[string]AlertStats
}

func (c *mapStatsCache) GetAlertStats(_ context.Context, scope string, dest *AlertStats) (bool, error) {
	v, ok := c.items[scope]
	if ok {
		*dest = v
	}
	return ok, nil
}

func (c *mapStatsCache) SetAlertStats(_ context.Context, scope string, stats AlertStats, _ time.Duration) error {
	c.items[scope] = stats
	return nil
}

type scopeFixture struct {
	alerts  *stubAlerts
	access  *intervention.AccessPolicy
	teacher intervention.Actor
	admin   intervention.Actor
	mine    intervention.Alert
	other   intervention.Alert
}

func newScopeFixture() *scopeFixture {
	myClass, otherClass := uuid.New(), uuid.New()
	teacher := intervention.Actor{UserID: uuid.New(), Role: intervention.RoleTeacher}

	mine := intervention.Alert{ID: uuid.New(), StudentID: uuid.New(), ClassID: &myClass, Status: intervention.StatusPending}
	other := intervention.Alert{ID: uuid.New(), StudentID: uuid.New(), ClassID: &otherClass, Status: intervention.StatusDismissed}

	return &scopeFixture{
		alerts: &stubAlerts{
			alerts:    []intervention.Alert{mine, other},
			auditByID: map[uuid.UUID][]intervention.AuditEntry{},
		},
		access:  intervention.NewAccessPolicy(&stubRoster{classes: map[uuid.UUID][]uuid.UUID{teacher.UserID: {myClass}}}),
		teacher: teacher,
		admin:   intervention.Actor{UserID: uuid.New(), Role: intervention.RoleAdmin},
		mine:    mine,
		other:   other,
	}
}

func TestListAlerts_TeacherSeesOwnClasses(t *testing.T) {
	f := newScopeFixture()
	h := NewListAlertsHandler(f.alerts, f.access)

	page, err := h.Handle(context.Background(), ListAlertsQuery{Actor: f.teacher})
	require.NoError(t, err)
	require.Len(t, page.Alerts, 1)
	assert.Equal(t, f.mine.ID, page.Alerts[0].ID)
	assert.Equal(t, 20, page.PageSize)

	page, err = h.Handle(context.Background(), ListAlertsQuery{Actor: f.admin, Page: 2, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 100, f.alerts.lastFilter.Limit)
	assert.Equal(t, 100, f.alerts.lastFilter.Offset)
}

func TestListAlerts_TeacherWithoutClasses(t *testing.T) {
	f := newScopeFixture()
	h := NewListAlertsHandler(f.alerts, f.access)

	page, err := h.Handle(context.Background(), ListAlertsQuery{
		Actor: intervention.Actor{UserID: uuid.New(), Role: intervention.RoleTeacher},
	})
	require.NoError(t, err)
	assert.Empty(t, page.Alerts)
	assert.Equal(t, 0, page.Total)
}

func TestGetAlert_Scoped(t *testing.T) {
	f := newScopeFixture()
	h := NewGetAlertHandler(f.alerts, f.access)

	detail, err := h.Handle(context.Background(), f.teacher, f.mine.ID)
	require.NoError(t, err)
	assert.Equal(t, f.mine.ID, detail.Alert.ID)
	assert.NotNil(t, detail.Audit)

	_, err = h.Handle(context.Background(), f.teacher, f.other.ID)
	assert.True(t, shared.IsForbidden(err))

	_, err = h.Handle(context.Background(), f.admin, uuid.New())
	assert.True(t, shared.IsNotFound(err))
}

func TestGetAlertStats_CachesPerScope(t *testing.T) {
	f := newScopeFixture()
	cache := &mapStatsCache{items: map[string]AlertStats{}}
	h := NewGetAlertStatsHandler(f.alerts, f.access, cache, time.Minute, nil)

	stats, err := h.Handle(context.Background(), f.admin)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Dismissed)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.StudentsAtRisk)

	_, err = h.Handle(context.Background(), f.admin)
	require.NoError(t, err)
	assert.Equal(t, 1, f.alerts.countCalls, "second call served from cache")

	teacherStats, err := h.Handle(context.Background(), f.teacher)
	require.NoError(t, err)
	assert.Equal(t, 1, teacherStats.Total)
	assert.Contains(t, cache.items, "teacher:"+f.teacher.UserID.String())
}

func TestGetAcademicWeek(t *testing.T) {
	h := NewGetAcademicWeekHandler(calendar.Default())

	view := h.Handle(time.Date(2025, 12, 17, 12, 0, 0, 0, time.UTC))
	assert.True(t, view.InYear)
	require.NotNil(t, view.Week)
	assert.Equal(t, 18, view.Week.Number)
	assert.Equal(t, "Week 18", view.Label)
	require.NotNil(t, view.Break)
	assert.Equal(t, "Christmas", view.Break.Name)

	view = h.Handle(time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC))
	assert.False(t, view.InYear)
	assert.Nil(t, view.Week)
	assert.Len(t, h.Weeks(), 40)
}

func TestListFlaggedStudents_Scoped(t *testing.T) {
	f := newScopeFixture()
	h := NewListFlaggedStudentsHandler(f.alerts, f.access)

	page, err := h.Handle(context.Background(), ListFlaggedStudentsQuery{Actor: f.admin})
	require.NoError(t, err)
	require.Len(t, page.Students, 1, "dismissed alerts do not flag a student")
	assert.Equal(t, f.mine.StudentID, page.Students[0].StudentID)
	assert.Nil(t, f.alerts.lastFlagged.ClassIDs)
	assert.Equal(t, 20, f.alerts.lastFlagged.Limit)

	page, err = h.Handle(context.Background(), ListFlaggedStudentsQuery{Actor: f.teacher, Page: 3, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{*f.mine.ClassID}, f.alerts.lastFlagged.ClassIDs)
	assert.Equal(t, 20, f.alerts.lastFlagged.Offset)
	assert.Equal(t, 1, page.Total)

	page, err = h.Handle(context.Background(), ListFlaggedStudentsQuery{
		Actor: intervention.Actor{UserID: uuid.New(), Role: intervention.RoleTeacher},
	})
	require.NoError(t, err)
	assert.NotNil(t, page.Students)
	assert.Empty(t, page.Students)
}

func TestListAudit(t *testing.T) {
	f := newScopeFixture()
	now := time.Date(2025, 12, 8, 9, 0, 0, 0, time.UTC)
	f.alerts.auditByID[f.mine.ID] = []intervention.AuditEntry{
		intervention.NewAuditEntry(f.mine.ID, nil, intervention.ActionCreate, now, nil),
		intervention.NewAuditEntry(f.mine.ID, &f.teacher.UserID, intervention.ActionApprove, now.Add(time.Hour), nil),
	}
	h := NewListAuditHandler(f.alerts)

	page, err := h.Handle(context.Background(), ListAuditQuery{
		Actor:   f.admin,
		ActorID: &f.teacher.UserID,
		Action:  intervention.ActionApprove,
	})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, intervention.ActionApprove, page.Entries[0].Action)
	assert.Equal(t, &f.teacher.UserID, f.alerts.lastAudit.ActorID)
	assert.Equal(t, 50, f.alerts.lastAudit.Limit)

	_, err = h.Handle(context.Background(), ListAuditQuery{Actor: f.teacher})
	assert.True(t, shared.IsForbidden(err))

	_, err = h.Handle(context.Background(), ListAuditQuery{Actor: f.admin, Action: "delete"})
	assert.True(t, shared.IsValidation(err))

	_, err = h.Handle(context.Background(), ListAuditQuery{Actor: f.admin, Since: now, Until: now.Add(-time.Hour)})
	assert.True(t, shared.IsValidation(err))
}

func TestListAudit_Recent(t *testing.T) {
	f := newScopeFixture()
	h := NewListAuditHandler(f.alerts)

	entries, err := h.Recent(context.Background(), f.admin, 0)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Equal(t, 20, f.alerts.lastAudit.Limit)
	assert.Zero(t, f.alerts.lastAudit.Offset)

	_, err = h.Recent(context.Background(), f.admin, 1000)
	require.NoError(t, err)
	assert.Equal(t, 100, f.alerts.lastAudit.Limit)
}
