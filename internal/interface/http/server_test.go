package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Timmutegi/ae-tuition-backend/internal/application/command"
	"github.com/Timmutegi/ae-tuition-backend/internal/application/query"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
	"github.com/Timmutegi/ae-tuition-backend/internal/interface/http/handlers"
	"github.com/Timmutegi/ae-tuition-backend/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

const testSecret = "0123456789abcdef0123456789abcdef"

var fixedNow = time.Date(2025, 10, 13, 9, 30, 0, 0, time.UTC)

type createThresholdFunc func(context.Context, command.CreateThresholdCommand) (*intervention.Threshold, error)

func (f createThresholdFunc) Handle(ctx context.Context, cmd command.CreateThresholdCommand) (*intervention.Threshold, error) {
	return f(ctx, cmd)
}

type updateThresholdFunc func(context.Context, command.UpdateThresholdCommand) (*intervention.Threshold, error)

func (f updateThresholdFunc) Handle(ctx context.Context, cmd command.UpdateThresholdCommand) (*intervention.Threshold, error) {
	return f(ctx, cmd)
}

type getThresholdFunc func(context.Context, uuid.UUID) (*intervention.Threshold, error)

func (f getThresholdFunc) Handle(ctx context.Context, id uuid.UUID) (*intervention.Threshold, error) {
	return f(ctx, id)
}

type listAlertsFunc func(context.Context, query.ListAlertsQuery) (*query.AlertPage, error)

func (f listAlertsFunc) Handle(ctx context.Context, q query.ListAlertsQuery) (*query.AlertPage, error) {
	return f(ctx, q)
}

type approveFunc func(context.Context, command.ApproveAlertCommand) (*intervention.Alert, error)

func (f approveFunc) Handle(ctx context.Context, cmd command.ApproveAlertCommand) (*intervention.Alert, error) {
	return f(ctx, cmd)
}

type dismissFunc func(context.Context, command.DismissAlertCommand) (*intervention.Alert, error)

func (f dismissFunc) Handle(ctx context.Context, cmd command.DismissAlertCommand) (*intervention.Alert, error) {
	return f(ctx, cmd)
}

type runCheckFunc func(context.Context, command.RunInterventionCheckCommand) (*command.RunInterventionCheckResult, error)

func (f runCheckFunc) Handle(ctx context.Context, cmd command.RunInterventionCheckCommand) (*command.RunInterventionCheckResult, error) {
	return f(ctx, cmd)
}

type listFlaggedFunc func(context.Context, query.ListFlaggedStudentsQuery) (*query.FlaggedStudentPage, error)

func (f listFlaggedFunc) Handle(ctx context.Context, q query.ListFlaggedStudentsQuery) (*query.FlaggedStudentPage, error) {
	return f(ctx, q)
}

type stubAuditLister struct {
	got         query.ListAuditQuery
	recentLimit int
	err         error
}

func (s *stubAuditLister) Handle(_ context.Context, q query.ListAuditQuery) (*query.AuditPage, error) {
	s.got = q
	if s.err != nil {
		return nil, s.err
	}
	entry := intervention.NewAuditEntry(uuid.New(), q.ActorID, intervention.ActionApprove, fixedNow, nil)
	return &query.AuditPage{Entries: []intervention.AuditEntry{entry}, Total: 1, Page: 1, PageSize: 50}, nil
}

func (s *stubAuditLister) Recent(_ context.Context, _ intervention.Actor, limit int) ([]intervention.AuditEntry, error) {
	s.recentLimit = limit
	return []intervention.AuditEntry{}, nil
}

type weekFunc func(time.Time) query.AcademicWeekView

func (f weekFunc) Handle(at time.Time) query.AcademicWeekView { return f(at) }

type observation struct {
	route, method string
	status        int
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []observation
}

func (o *recordingObserver) ObserveHTTP(route, method string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.obs = append(o.obs, observation{route, method, status})
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
	Meta *ResponseMeta `json:"meta"`
}

type harness struct {
	t       *testing.T
	server  *Server
	auth    *Authenticator
	admin   intervention.Actor
	teacher intervention.Actor
}

func newHarness(t *testing.T, deps Dependencies, serviceHashes ...string) *harness {
	t.Helper()
	auth := NewAuthenticator(AuthConfig{JWTSecret: testSecret, Issuer: "ae-tuition", ServiceKeyHashes: serviceHashes})
	deps.Auth = auth
	deps.Logger = logger.New(logger.Options{Output: io.Discard})
	deps.Clock = func() time.Time { return fixedNow }

	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	return &harness{
		t:       t,
		server:  NewServer(cfg, deps),
		auth:    auth,
		admin:   intervention.Actor{UserID: uuid.New(), Role: intervention.RoleAdmin},
		teacher: intervention.Actor{UserID: uuid.New(), Role: intervention.RoleTeacher},
	}
}

func (h *harness) token(a intervention.Actor) string {
	h.t.Helper()
	tok, err := h.auth.IssueToken(a, time.Hour, time.Now())
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	h.t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (h *harness) as(a intervention.Actor) map[string]string {
	return map[string]string{"Authorization": "Bearer " + h.token(a)}
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func TestHealth_DegradedStaysReady(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("postgres", func(context.Context) error { return nil })
	checker.AddOptionalCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	h := newHarness(t, Dependencies{HealthChecker: checker})

	rec, env := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.False(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "Degraded: redis", status.Message)

	rec, _ = h.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_CriticalFailureNotReady(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("postgres", func(context.Context) error { return errors.New("timeout") })

	h := newHarness(t, Dependencies{HealthChecker: checker})

	rec, env := h.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_ready", env.Error.Code)

	rec, _ = h.do(http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTH
// ══════════════════════════════════════════════════════════════════════════════

func TestAuth_RoleEnforcement(t *testing.T) {
	h := newHarness(t, Dependencies{
		GetThreshold: getThresholdFunc(func(context.Context, uuid.UUID) (*intervention.Threshold, error) {
			return &intervention.Threshold{Name: "x"}, nil
		}),
	})
	path := adminPrefix + "/thresholds/" + uuid.NewString()

	rec, env := h.do(http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeUnauthorized, env.Error.Code)

	rec, env = h.do(http.MethodGet, path, "", h.as(h.teacher))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, codeForbidden, env.Error.Code)

	rec, _ = h.do(http.MethodGet, path, "", h.as(h.admin))
	assert.Equal(t, http.StatusOK, rec.Code)

	other := NewAuthenticator(AuthConfig{JWTSecret: strings.Repeat("z", 32), Issuer: "ae-tuition"})
	forged, err := other.IssueToken(h.admin, time.Hour, time.Now())
	require.NoError(t, err)
	rec, _ = h.do(http.MethodGet, path, "", map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticator_ParseToken(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{JWTSecret: testSecret, Issuer: "ae-tuition"})
	teacher := intervention.Actor{UserID: uuid.New(), Role: intervention.RoleTeacher}

	tok, err := auth.IssueToken(teacher, time.Hour, time.Now())
	require.NoError(t, err)
	got, err := auth.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, teacher, got)

	expired, err := auth.IssueToken(teacher, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(expired)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	otherIssuer := NewAuthenticator(AuthConfig{JWTSecret: testSecret, Issuer: "someone-else"})
	tok, err = otherIssuer.IssueToken(teacher, time.Hour, time.Now())
	require.NoError(t, err)
	_, err = auth.ParseToken(tok)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	student := intervention.Actor{UserID: uuid.New(), Role: intervention.Role("student")}
	tok, err = auth.IssueToken(student, time.Hour, time.Now())
	require.NoError(t, err)
	_, err = auth.ParseToken(tok)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLDS
// ══════════════════════════════════════════════════════════════════════════════

func TestCreateThreshold_AppliesDefaults(t *testing.T) {
	var got command.CreateThresholdCommand
	h := newHarness(t, Dependencies{
		CreateThreshold: createThresholdFunc(func(_ context.Context, cmd command.CreateThresholdCommand) (*intervention.Threshold, error) {
			got = cmd
			th, err := intervention.NewThreshold(cmd.Spec, cmd.CreatedBy, cmd.Now)
			return &th, err
		}),
	})

	rec, env := h.do(http.MethodPost, adminPrefix+"/thresholds",
		`{"name": "Maths watch", "subject": "Mathematics", "min_score_percent": 45, "alert_priority": "high"}`,
		h.as(h.admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)

	assert.Equal(t, "Maths watch", got.Spec.Name)
	subject, ok := got.Spec.Scope.Subject()
	assert.True(t, ok)
	assert.Equal(t, intervention.SubjectMathematics, subject)
	assert.Equal(t, 45.0, got.Spec.MinScorePercent)
	assert.Equal(t, 60.0, got.Spec.MaxScorePercent)
	assert.Equal(t, intervention.PriorityHigh, got.Spec.AlertPriority)
	assert.True(t, got.Spec.NotifySupervisor)
	assert.True(t, got.Spec.IsActive)
	require.NotNil(t, got.CreatedBy)
	assert.Equal(t, h.admin.UserID, *got.CreatedBy)
	assert.Equal(t, fixedNow, got.Now)

	var th intervention.Threshold
	require.NoError(t, json.Unmarshal(env.Data, &th))
	assert.Equal(t, intervention.DefaultWeeksToReview, th.WeeksToReview)
}

func TestCreateThreshold_Validation(t *testing.T) {
	called := false
	h := newHarness(t, Dependencies{
		CreateThreshold: createThresholdFunc(func(context.Context, command.CreateThresholdCommand) (*intervention.Threshold, error) {
			called = true
			return nil, nil
		}),
	})

	cases := map[string]struct {
		body string
		want string
	}{
		"missing name":     {`{"min_score_percent": 40}`, "name is required"},
		"score too high":   {`{"name": "x", "min_score_percent": 120}`, "min_score_percent must be at most 100"},
		"unknown subject":  {`{"name": "x", "subject": "Chemistry"}`, "subject must be one of"},
		"bad priority":     {`{"name": "x", "alert_priority": "URGENT"}`, "alert_priority must be"},
		"unknown field":    {`{"name": "x", "colour": "red"}`, "malformed JSON body"},
		"not json":         {`name=x`, "malformed JSON body"},
		"weeks too long":   {`{"name": "x", "weeks_to_review": 60}`, "weeks_to_review must be at most 52"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec, env := h.do(http.MethodPost, adminPrefix+"/thresholds", tc.body, h.as(h.admin))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, codeValidation, env.Error.Code)
			assert.Contains(t, env.Error.Message, tc.want)
		})
	}
	assert.False(t, called)
}

func TestUpdateThreshold_SubjectPresence(t *testing.T) {
	var got command.UpdateThresholdCommand
	h := newHarness(t, Dependencies{
		UpdateThreshold: updateThresholdFunc(func(_ context.Context, cmd command.UpdateThresholdCommand) (*intervention.Threshold, error) {
			got = cmd
			return &intervention.Threshold{ID: cmd.ID}, nil
		}),
	})
	id := uuid.New()
	path := adminPrefix + "/thresholds/" + id.String()

	rec, _ := h.do(http.MethodPut, path, `{"subject": null, "is_active": false}`, h.as(h.admin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, id, got.ID)
	require.NotNil(t, got.Patch.Scope)
	assert.True(t, got.Patch.Scope.IsAll())
	require.NotNil(t, got.Patch.IsActive)
	assert.False(t, *got.Patch.IsActive)

	rec, _ = h.do(http.MethodPut, path, `{"min_score_percent": 35.5}`, h.as(h.admin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, got.Patch.Scope)
	require.NotNil(t, got.Patch.MinScorePercent)
	assert.Equal(t, 35.5, *got.Patch.MinScorePercent)

	rec, env := h.do(http.MethodPut, adminPrefix+"/thresholds/not-a-uuid", `{}`, h.as(h.admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeValidation, env.Error.Code)
}

func TestGetThreshold_NotFound(t *testing.T) {
	h := newHarness(t, Dependencies{
		GetThreshold: getThresholdFunc(func(context.Context, uuid.UUID) (*intervention.Threshold, error) {
			return nil, fmt.Errorf("get_threshold: %w", shared.ErrThresholdNotFound)
		}),
	})
	rec, env := h.do(http.MethodGet, adminPrefix+"/thresholds/"+uuid.NewString(), "", h.as(h.admin))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, env.Error.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERTS
// ══════════════════════════════════════════════════════════════════════════════

func TestListAlerts_QueryParameters(t *testing.T) {
	var got query.ListAlertsQuery
	h := newHarness(t, Dependencies{
		ListAlerts: listAlertsFunc(func(_ context.Context, q query.ListAlertsQuery) (*query.AlertPage, error) {
			got = q
			return &query.AlertPage{Alerts: []intervention.Alert{{ID: uuid.New()}}, Total: 41, Page: 2, PageSize: 20}, nil
		}),
	})
	thresholdID := uuid.New()

	rec, env := h.do(http.MethodGet,
		teacherPrefix+"/alerts?status=PENDING&subject=English&page=2&threshold_id="+thresholdID.String(),
		"", h.as(h.teacher))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, h.teacher, got.Actor)
	assert.Equal(t, intervention.StatusPending, got.Status)
	assert.Equal(t, intervention.SubjectEnglish, got.Subject)
	assert.Equal(t, 2, got.Page)
	require.NotNil(t, got.ThresholdID)
	assert.Equal(t, thresholdID, *got.ThresholdID)

	require.NotNil(t, env.Meta)
	assert.Equal(t, 41, env.Meta.TotalCount)
	assert.True(t, env.Meta.HasMore)

	rec, env = h.do(http.MethodGet, teacherPrefix+"/alerts?status=closed", "", h.as(h.teacher))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeValidation, env.Error.Code)
}

func TestListFlagged_BothPrefixes(t *testing.T) {
	var got []query.ListFlaggedStudentsQuery
	h := newHarness(t, Dependencies{
		ListFlagged: listFlaggedFunc(func(_ context.Context, q query.ListFlaggedStudentsQuery) (*query.FlaggedStudentPage, error) {
			got = append(got, q)
			return &query.FlaggedStudentPage{
				Students: []intervention.FlaggedStudent{{StudentID: uuid.New(), ActiveAlerts: 2, HighestPriority: intervention.PriorityHigh}},
				Total:    1, Page: 1, PageSize: 20,
			}, nil
		}),
	})

	rec, env := h.do(http.MethodGet, adminPrefix+"/flagged-students?page_size=5", "", h.as(h.admin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var students []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &students))
	require.Len(t, students, 1)
	assert.Equal(t, "HIGH", students[0]["highest_priority"])
	assert.Equal(t, 1, env.Meta.TotalCount)

	rec, _ = h.do(http.MethodGet, teacherPrefix+"/flagged-students", "", h.as(h.teacher))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, got, 2)
	assert.Equal(t, h.admin, got[0].Actor)
	assert.Equal(t, 5, got[0].PageSize)
	assert.Equal(t, h.teacher, got[1].Actor)
}

func TestListAudit_Filters(t *testing.T) {
	lister := &stubAuditLister{}
	h := newHarness(t, Dependencies{ListAudit: lister})
	actorID := uuid.New()

	rec, env := h.do(http.MethodGet,
		adminPrefix+"/audit-logs?action=APPROVE&since=2025-12-01&until=2025-12-07&actor_id="+actorID.String(),
		"", h.as(h.admin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, intervention.ActionApprove, lister.got.Action)
	require.NotNil(t, lister.got.ActorID)
	assert.Equal(t, actorID, *lister.got.ActorID)
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), lister.got.Since)
	assert.Equal(t, time.Date(2025, 12, 8, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond), lister.got.Until)
	assert.Equal(t, 1, env.Meta.TotalCount)

	rec, env = h.do(http.MethodGet, adminPrefix+"/audit-logs?action=delete", "", h.as(h.admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeValidation, env.Error.Code)

	rec, _ = h.do(http.MethodGet, adminPrefix+"/audit-logs?alert_id=nope", "", h.as(h.admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(http.MethodGet, adminPrefix+"/audit-logs?since=yesterday", "", h.as(h.admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(http.MethodGet, adminPrefix+"/audit-logs", "", h.as(h.teacher))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecentAudit(t *testing.T) {
	lister := &stubAuditLister{}
	h := newHarness(t, Dependencies{ListAudit: lister})

	rec, env := h.do(http.MethodGet, adminPrefix+"/audit-logs/recent?limit=7", "", h.as(h.admin))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 7, lister.recentLimit)
	assert.JSONEq(t, "[]", string(env.Data))
}

func TestApproveAlert_ConflictCarriesCurrentStatus(t *testing.T) {
	alertID := uuid.New()
	h := newHarness(t, Dependencies{
		ApproveAlert: approveFunc(func(context.Context, command.ApproveAlertCommand) (*intervention.Alert, error) {
			return nil, fmt.Errorf("approve_alert: %w", &intervention.TransitionError{
				AlertID: alertID, From: intervention.StatusDismissed, Action: intervention.ActionApprove,
			})
		}),
	})

	rec, env := h.do(http.MethodPost, teacherPrefix+"/alerts/"+alertID.String()+"/approve", "", h.as(h.teacher))
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, codeInvalidState, env.Error.Code)
	assert.Equal(t, "dismissed", env.Error.Details["current_status"])
	assert.Equal(t, alertID.String(), env.Error.Details["alert_id"])
}

func TestApproveAlert_NotificationFailureReturnsAlert(t *testing.T) {
	var got command.ApproveAlertCommand
	h := newHarness(t, Dependencies{
		ApproveAlert: approveFunc(func(_ context.Context, cmd command.ApproveAlertCommand) (*intervention.Alert, error) {
			got = cmd
			a := &intervention.Alert{ID: cmd.AlertID, Status: intervention.StatusInProgress, Priority: intervention.PriorityMedium}
			return a, fmt.Errorf("approve_alert: %w: parent unreachable", shared.ErrExternalService)
		}),
	})
	alertID := uuid.New()

	rec, env := h.do(http.MethodPost, teacherPrefix+"/alerts/"+alertID.String()+"/approve",
		`{"notes": "Call home on Monday"}`, h.as(h.teacher))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, codeExternal, env.Error.Code)

	var a intervention.Alert
	require.NoError(t, json.Unmarshal(env.Data, &a))
	assert.Equal(t, alertID, a.ID)
	assert.Equal(t, intervention.StatusInProgress, a.Status)

	assert.Equal(t, "Call home on Monday", got.Notes)
	assert.Equal(t, h.teacher, got.Actor)
	assert.Equal(t, fixedNow, got.Now)
}

func TestApproveAlert_AdminCannotUseTeacherRoute(t *testing.T) {
	h := newHarness(t, Dependencies{
		ApproveAlert: approveFunc(func(context.Context, command.ApproveAlertCommand) (*intervention.Alert, error) {
			t.Fatal("must not be called")
			return nil, nil
		}),
	})
	rec, _ := h.do(http.MethodPost, teacherPrefix+"/alerts/"+uuid.NewString()+"/approve", "", h.as(h.admin))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDismissAlert(t *testing.T) {
	h := newHarness(t, Dependencies{
		DismissAlert: dismissFunc(func(_ context.Context, cmd command.DismissAlertCommand) (*intervention.Alert, error) {
			if cmd.Reason == "outside" {
				return nil, fmt.Errorf("dismiss_alert: %w", shared.ErrAlertNotInScope)
			}
			return &intervention.Alert{
				ID:            cmd.AlertID,
				Status:        intervention.StatusDismissed,
				Priority:      intervention.PriorityLow,
				DismissReason: cmd.Reason,
			}, nil
		}),
	})
	path := teacherPrefix + "/alerts/" + uuid.NewString() + "/dismiss"

	rec, env := h.do(http.MethodPost, path, `{}`, h.as(h.teacher))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error.Message, "reason is required")

	rec, _ = h.do(http.MethodPost, path, `{"reason": "outside"}`, h.as(h.teacher))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = h.do(http.MethodPost, path, `{"reason": "Known absence"}`, h.as(h.teacher))
	require.Equal(t, http.StatusOK, rec.Code)
	var a intervention.Alert
	require.NoError(t, json.Unmarshal(env.Data, &a))
	assert.Equal(t, "Known absence", a.DismissReason)
}

// ══════════════════════════════════════════════════════════════════════════════
// RUN CHECK
// ══════════════════════════════════════════════════════════════════════════════

func TestRunCheck_ServiceKeyAndAdmin(t *testing.T) {
	hash, err := HashServiceKey("nightly-cron-key", bcrypt.MinCost)
	require.NoError(t, err)

	var calls []command.RunInterventionCheckCommand
	h := newHarness(t, Dependencies{
		RunCheck: runCheckFunc(func(_ context.Context, cmd command.RunInterventionCheckCommand) (*command.RunInterventionCheckResult, error) {
			calls = append(calls, cmd)
			return &command.RunInterventionCheckResult{
				Week:      6,
				Evaluated: 12,
				Alerts:    []intervention.Alert{{ID: uuid.New(), Priority: intervention.PriorityHigh}},
				Errors:    []command.StudentCheckError{{StudentID: uuid.New(), Err: errors.New("boom")}},
				StartedAt: cmd.Now,
			}, nil
		}),
	}, hash)
	path := adminPrefix + "/run-check"

	rec, env := h.do(http.MethodPost, path, "", map[string]string{ServiceKeyHeader: "nightly-cron-key"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out RunCheckResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 6, out.Week)
	assert.Equal(t, 1, out.AlertsCreated)
	assert.Len(t, out.Failed, 1)
	assert.NotEmpty(t, out.CorrelationID)

	rec, _ = h.do(http.MethodPost, path, "", map[string]string{ServiceKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	studentID := uuid.New()
	rec, _ = h.do(http.MethodPost, path, `{"student_id": "`+studentID.String()+`"}`, h.as(h.admin))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(http.MethodPost, path, "", h.as(h.teacher))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.Len(t, calls, 2)
	assert.Nil(t, calls[0].StudentID)
	require.NotNil(t, calls[1].StudentID)
	assert.Equal(t, studentID, *calls[1].StudentID)
}

func TestRunCheck_SkippedIsAccepted(t *testing.T) {
	h := newHarness(t, Dependencies{
		RunCheck: runCheckFunc(func(context.Context, command.RunInterventionCheckCommand) (*command.RunInterventionCheckResult, error) {
			return &command.RunInterventionCheckResult{Skipped: true}, nil
		}),
	})
	rec, _ := h.do(http.MethodPost, adminPrefix+"/run-check", "", h.as(h.admin))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// CALENDAR, METRICS, MISC
// ══════════════════════════════════════════════════════════════════════════════

func TestCurrentWeek_DateParameter(t *testing.T) {
	var seen time.Time
	h := newHarness(t, Dependencies{
		GetAcademicWeek: weekFunc(func(at time.Time) query.AcademicWeekView {
			seen = at
			return query.AcademicWeekView{Date: at.Format("2006-01-02"), TotalWeeks: 40}
		}),
	})

	rec, _ := h.do(http.MethodGet, "/api/v1/academic-calendar/current", "", h.as(h.admin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fixedNow, seen)

	rec, _ = h.do(http.MethodGet, "/api/v1/academic-calendar/current?date=2025-09-12", "", h.as(h.admin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-09-12", seen.Format("2006-01-02"))

	rec, _ = h.do(http.MethodGet, "/api/v1/academic-calendar/current?date=12/09/2025", "", h.as(h.admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsObserveRoutePattern(t *testing.T) {
	obs := &recordingObserver{}
	h := newHarness(t, Dependencies{
		Metrics: obs,
		GetThreshold: getThresholdFunc(func(context.Context, uuid.UUID) (*intervention.Threshold, error) {
			return &intervention.Threshold{}, nil
		}),
	})

	h.do(http.MethodGet, adminPrefix+"/thresholds/"+uuid.NewString(), "", h.as(h.admin))
	h.do(http.MethodGet, "/nowhere", "", nil)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.obs, 2)
	assert.Equal(t, observation{adminPrefix + "/thresholds/{id}", http.MethodGet, http.StatusOK}, obs.obs[0])
	assert.Equal(t, "unmatched", obs.obs[1].route)
	assert.Equal(t, http.StatusNotFound, obs.obs[1].status)
}

func TestUnwiredRouteIsUnavailable(t *testing.T) {
	h := newHarness(t, Dependencies{})
	rec, env := h.do(http.MethodGet, adminPrefix+"/stats", "", h.as(h.admin))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, codeUnavailable, env.Error.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	h := newHarness(t, Dependencies{})
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"request_id":"req-42"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{shared.ErrAlertNotFound, http.StatusNotFound},
		{shared.ErrDismissReasonMissing, http.StatusBadRequest},
		{shared.ErrThresholdAlreadyExists, http.StatusConflict},
		{shared.ErrNotificationFailed, http.StatusBadGateway},
		{fmt.Errorf("x: %w", shared.ErrUnauthorized), http.StatusUnauthorized},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := errorStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}
