package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/application/query"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
	"github.com/Timmutegi/ae-tuition-backend/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLAGGED STUDENTS (admin + teacher)
// ══════════════════════════════════════════════════════════════════════════════

// handleListFlagged handles GET /flagged-students?page=&page_size=.
func (s *Server) handleListFlagged(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListFlagged == nil {
		s.notConfigured(w, r)
		return
	}

	page, err := s.deps.ListFlagged.Handle(r.Context(), query.ListFlaggedStudentsQuery{
		Actor:    actor(r),
		Page:     getQueryParamInt(r, "page", 1),
		PageSize: getQueryParamInt(r, "page_size", 0),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, page.Students, &ResponseMeta{
		TotalCount: page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		HasMore:    page.Page*page.PageSize < page.Total,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT LOG (admin)
// ══════════════════════════════════════════════════════════════════════════════

// handleListAudit handles
// GET /audit-logs?actor_id=&action=&alert_id=&since=&until=&page=&page_size=.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListAudit == nil {
		s.notConfigured(w, r)
		return
	}

	q, err := listAuditQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.deps.ListAudit.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, page.Entries, &ResponseMeta{
		TotalCount: page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		HasMore:    page.Page*page.PageSize < page.Total,
	})
}

// handleRecentAudit handles GET /audit-logs/recent?limit=.
func (s *Server) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListAudit == nil {
		s.notConfigured(w, r)
		return
	}

	entries, err := s.deps.ListAudit.Recent(r.Context(), actor(r), getQueryParamInt(r, "limit", 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

func listAuditQuery(r *http.Request) (query.ListAuditQuery, error) {
	params := r.URL.Query()
	q := query.ListAuditQuery{
		Actor:    actor(r),
		Page:     getQueryParamInt(r, "page", 1),
		PageSize: getQueryParamInt(r, "page_size", 0),
	}

	var err error
	if q.ActorID, err = optionalUUID(params.Get("actor_id"), "actor_id"); err != nil {
		return q, err
	}
	if q.AlertID, err = optionalUUID(params.Get("alert_id"), "alert_id"); err != nil {
		return q, err
	}
	if raw := params.Get("action"); raw != "" {
		if q.Action, err = intervention.ParseAction(raw); err != nil {
			return q, err
		}
	}
	if q.Since, err = timeParam(params.Get("since"), "since", false); err != nil {
		return q, err
	}
	if q.Until, err = timeParam(params.Get("until"), "until", true); err != nil {
		return q, err
	}
	return q, nil
}

func optionalUUID(raw, name string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q", shared.ErrInvalidID, name, raw)
	}
	return &id, nil
}

// timeParam accepts RFC 3339 or a plain date. A plain date bound covers the
// whole UTC day when endOfDay is set.
func timeParam(raw, name string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := timeutil.ParseDate(raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD or RFC 3339", shared.ErrValidation, name)
	}
	if endOfDay {
		d = d.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return d, nil
}
