//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Timmutegi/ae-tuition-backend/internal/application/command"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/calendar"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// startPostgres runs a throwaway Postgres 16 and returns a migrated connection.
func startPostgres(t *testing.T) *Connection {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "review",
			"POSTGRES_PASSWORD": "review",
			"POSTGRES_DB":       "review",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://review:review@%s:%s/review?sslmode=disable", host, port.Port())
	conn, err := Connect(ctx, url, PoolSettings{MaxConns: 8})
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	applied, err := NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, len(Migrations()), applied)
	return conn
}

type seed struct {
	teacher uuid.UUID
	class   uuid.UUID
	student intervention.StudentRef
}

func seedRoster(t *testing.T, conn *Connection) seed {
	t.Helper()
	ctx := context.Background()
	s := seed{teacher: uuid.New(), class: uuid.New()}
	s.student = intervention.StudentRef{ID: uuid.New(), Code: "AE-001", FullName: "Ada Byron", ClassID: &s.class}

	_, err := conn.Exec(ctx, `INSERT INTO users (id, username, role) VALUES ($1, 'system', 'admin'), ($2, 'ms.hale', 'teacher')`,
		uuid.New(), s.teacher)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `INSERT INTO classes (id, name) VALUES ($1, '11+ Group A')`, s.class)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `INSERT INTO teacher_class_assignments (teacher_id, class_id) VALUES ($1, $2)`, s.teacher, s.class)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `INSERT INTO students (id, student_code, full_name, class_id) VALUES ($1, $2, $3, $4)`,
		s.student.ID, s.student.Code, s.student.FullName, s.class)
	require.NoError(t, err)
	return s
}

func newDefaultThreshold(t *testing.T) intervention.Threshold {
	t.Helper()
	th, err := intervention.NewThreshold(intervention.DefaultThresholdSpec(), nil, time.Now().UTC())
	require.NoError(t, err)
	return th
}

func TestIntegration_ThresholdRoundTrip(t *testing.T) {
	conn := startPostgres(t)
	repo := NewThresholdRepository(conn)
	ctx := context.Background()

	th := newDefaultThreshold(t)
	require.NoError(t, repo.Create(ctx, th))
	assert.ErrorIs(t, repo.Create(ctx, th), shared.ErrThresholdAlreadyExists)

	got, err := repo.GetByName(ctx, th.Name)
	require.NoError(t, err)
	assert.Equal(t, th.ID, got.ID)
	assert.True(t, got.Scope.IsAll())
	assert.Equal(t, intervention.PriorityMedium, got.AlertPriority)

	got.Scope = intervention.SubjectScope(intervention.SubjectMathematics)
	got.IsActive = false
	require.NoError(t, repo.Update(ctx, got))

	active, err := repo.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, repo.Delete(ctx, got.ID))
	_, err = repo.GetByID(ctx, got.ID)
	assert.ErrorIs(t, err, shared.ErrThresholdNotFound)
}

func TestIntegration_EnsureDefaultRace(t *testing.T) {
	conn := startPostgres(t)
	seedRoster(t, conn)
	h := command.NewEnsureDefaultThresholdHandler(NewThresholdRepository(conn), NewRoster(conn), nil)

	var (
		wg  sync.WaitGroup
		ids sync.Map
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.Handle(context.Background(), command.EnsureDefaultThresholdCommand{
				Spec:            intervention.DefaultThresholdSpec(),
				ProvisionerName: "system",
			})
			if assert.NoError(t, err) {
				ids.Store(res.Threshold.ID, true)
				assert.NotNil(t, res.Threshold.CreatedBy)
			}
		}()
	}
	wg.Wait()

	count := 0
	ids.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, 1, count, "all callers observe the same threshold")
}

func TestIntegration_ActiveAlertUniqueness(t *testing.T) {
	conn := startPostgres(t)
	s := seedRoster(t, conn)
	ctx := context.Background()

	th := newDefaultThreshold(t)
	require.NoError(t, NewThresholdRepository(conn).Create(ctx, th))
	alerts := NewAlertRepository(conn)

	finding := intervention.Finding{Subject: intervention.SubjectEnglish, WeeksFailing: 3}
	now := time.Now().UTC().Truncate(time.Microsecond)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, entry := intervention.NewAlert(s.student, th, finding, now)
			ok, err := alerts.CreateIfNoActive(ctx, a, entry)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, created)

	active, err := alerts.HasActive(ctx, s.student.ID, intervention.SubjectEnglish, th.ID)
	require.NoError(t, err)
	assert.True(t, active)

	page, total, err := alerts.List(ctx, intervention.AlertFilter{ClassIDs: []uuid.UUID{s.class}, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	alert := page[0]
	assert.Equal(t, s.student.FullName, alert.StudentName)

	// Dismissing frees the slot for a new alert.
	_, err = alerts.Transition(ctx, alert.ID, func(a intervention.Alert) (intervention.Alert, intervention.AuditEntry, error) {
		return a.Dismiss(s.teacher, "Known absence", now)
	})
	require.NoError(t, err)

	a, entry := intervention.NewAlert(s.student, th, finding, now)
	ok, err := alerts.CreateIfNoActive(ctx, a, entry)
	require.NoError(t, err)
	assert.True(t, ok)

	audit, err := alerts.ListAudit(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, intervention.ActionCreate, audit[0].Action)
	assert.Equal(t, intervention.ActionDismiss, audit[1].Action)

	counts, err := alerts.CountByStatus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[intervention.StatusPending])
	assert.Equal(t, 1, counts[intervention.StatusDismissed])

	byTeacher, total, err := alerts.SearchAudit(ctx, intervention.AuditFilter{ActorID: &s.teacher, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, intervention.ActionDismiss, byTeacher[0].Action)

	creates, total, err := alerts.SearchAudit(ctx, intervention.AuditFilter{Action: intervention.ActionCreate, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, creates, 1)
	assert.Equal(t, intervention.ActionCreate, creates[0].Action)

	flagged, total, err := alerts.ListFlagged(ctx, intervention.FlaggedFilter{ClassIDs: []uuid.UUID{s.class}, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, flagged, 1)
	assert.Equal(t, s.student.ID, flagged[0].StudentID)
	assert.Equal(t, 1, flagged[0].ActiveAlerts)
	assert.Equal(t, th.AlertPriority, flagged[0].HighestPriority)
	assert.Equal(t, []string{intervention.SubjectEnglish}, flagged[0].Subjects)

	_, total, err = alerts.ListFlagged(ctx, intervention.FlaggedFilter{ClassIDs: []uuid.UUID{uuid.New()}})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestIntegration_RacingTransitions(t *testing.T) {
	conn := startPostgres(t)
	s := seedRoster(t, conn)
	ctx := context.Background()

	th := newDefaultThreshold(t)
	require.NoError(t, NewThresholdRepository(conn).Create(ctx, th))
	alerts := NewAlertRepository(conn)

	a, entry := intervention.NewAlert(s.student, th, intervention.Finding{Subject: intervention.SubjectMathematics, WeeksFailing: 4}, time.Now().UTC())
	ok, err := alerts.CreateIfNoActive(ctx, a, entry)
	require.NoError(t, err)
	require.True(t, ok)

	var wg sync.WaitGroup
	var approveErr, disErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, approveErr = alerts.Transition(ctx, a.ID, func(cur intervention.Alert) (intervention.Alert, intervention.AuditEntry, error) {
			return cur.Approve(s.teacher, "Call home", time.Now().UTC())
		})
	}()
	go func() {
		defer wg.Done()
		_, disErr = alerts.Transition(ctx, a.ID, func(cur intervention.Alert) (intervention.Alert, intervention.AuditEntry, error) {
			return cur.Dismiss(s.teacher, "Duplicate", time.Now().UTC())
		})
	}()
	wg.Wait()

	assert.True(t, (approveErr == nil) != (disErr == nil), "exactly one transition wins")
	loser := approveErr
	if loser == nil {
		loser = disErr
	}
	assert.ErrorIs(t, loser, shared.ErrStateTransition)
}

func TestIntegration_PerformanceAndRoster(t *testing.T) {
	conn := startPostgres(t)
	s := seedRoster(t, conn)
	ctx := context.Background()

	_, err := conn.Exec(ctx, `
		INSERT INTO weekly_performance (student_id, week_start, week_end, week_number, year, subject_scores)
		VALUES ($1, '2025-09-05', '2025-09-10', 1, 2025, '{"English": {"average": 41.5, "count": 2}, "Mathematics": {"average": "n/a"}, "Verbal Reasoning": {"average": null}}'),
		       ($1, '2025-09-11', '2025-09-16', 2, 2025, '{}'),
		       ($1, '2024-09-06', '2024-09-11', 1, 2024, '{"English": {"average": 12, "count": 1}}')
	`, s.student.ID)
	require.NoError(t, err)

	cal := calendar.Default()
	first, _ := cal.WeekInfo(1)
	fifth, _ := cal.WeekInfo(5)
	reader := NewPerformanceReader(conn)

	rows, err := reader.ListWeekly(ctx, []uuid.UUID{s.student.ID}, intervention.WeekRange{
		From: 1, To: 5, Start: first.Start, End: fifth.End,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2, "last year's week 1 is outside the window")
	assert.Equal(t, 2025, rows[0].Year)
	avg, ok := rows[0].SubjectAverage(intervention.SubjectEnglish)
	assert.True(t, ok)
	assert.InDelta(t, 41.5, avg, 1e-9)
	_, ok = rows[0].SubjectAverage(intervention.SubjectMathematics)
	assert.False(t, ok)
	_, ok = rows[0].SubjectAverage(intervention.SubjectVerbalReasoning)
	assert.False(t, ok)

	all, err := reader.ListWeekly(ctx, []uuid.UUID{s.student.ID}, intervention.WeekRange{From: 1, To: 5})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	roster := NewRoster(conn)
	students, err := roster.ActiveStudents(ctx)
	require.NoError(t, err)
	require.Len(t, students, 1)

	classes, err := roster.TeacherClassIDs(ctx, s.teacher)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{s.class}, classes)

	missing, err := roster.ResolveUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
