package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/application/command"
	"github.com/Timmutegi/ae-tuition-backend/internal/application/query"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
	"github.com/Timmutegi/ae-tuition-backend/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ALERT QUERIES (admin + teacher)
// The same handlers serve both prefixes; scoping follows the actor's role.
// ══════════════════════════════════════════════════════════════════════════════

// handleListAlerts handles GET /alerts?status=&threshold_id=&subject=&page=&page_size=.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListAlerts == nil {
		s.notConfigured(w, r)
		return
	}

	q, err := listAlertsQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := s.deps.ListAlerts.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, page.Alerts, &ResponseMeta{
		TotalCount: page.Total,
		Page:       page.Page,
		PageSize:   page.PageSize,
		HasMore:    page.Page*page.PageSize < page.Total,
	})
}

func listAlertsQuery(r *http.Request) (query.ListAlertsQuery, error) {
	params := r.URL.Query()
	q := query.ListAlertsQuery{
		Actor:    actor(r),
		Subject:  strings.TrimSpace(params.Get("subject")),
		Page:     getQueryParamInt(r, "page", 1),
		PageSize: getQueryParamInt(r, "page_size", 0),
	}
	if raw := params.Get("status"); raw != "" {
		status, err := intervention.ParseStatus(raw)
		if err != nil {
			return q, err
		}
		q.Status = status
	}
	if raw := params.Get("threshold_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return q, fmt.Errorf("%w: threshold_id %q", shared.ErrInvalidID, raw)
		}
		q.ThresholdID = &id
	}
	if q.Subject != "" && !intervention.IsTrackedSubject(q.Subject) {
		return q, fmt.Errorf("%w: subject %q is not tracked", shared.ErrValidation, q.Subject)
	}
	return q, nil
}

// handleGetAlert handles GET /alerts/{id}.
func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetAlert == nil {
		s.notConfigured(w, r)
		return
	}

	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.deps.GetAlert.Handle(r.Context(), actor(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// handleAlertStats handles GET /stats.
func (s *Server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetAlertStats == nil {
		s.notConfigured(w, r)
		return
	}

	stats, err := s.deps.GetAlertStats.Handle(r.Context(), actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERT LIFECYCLE (teacher)
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) alertCommand(r *http.Request) (command.AlertCommand, error) {
	id, err := pathID(r)
	if err != nil {
		return command.AlertCommand{}, err
	}
	return command.AlertCommand{AlertID: id, Actor: actor(r), Now: s.now().UTC()}, nil
}

// handleApproveAlert handles POST /alerts/{id}/approve.
//
// The approval is committed before the parent is notified. When notification
// fails the response is 502 and still carries the approved alert.
func (s *Server) handleApproveAlert(w http.ResponseWriter, r *http.Request) {
	if s.deps.ApproveAlert == nil {
		s.notConfigured(w, r)
		return
	}

	base, err := s.alertCommand(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ApproveAlertRequest
	if err := s.decodeAndValidate(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	alert, err := s.deps.ApproveAlert.Handle(r.Context(), command.ApproveAlertCommand{AlertCommand: base, Notes: req.Notes})
	if err != nil {
		if alert != nil && shared.IsExternalService(err) {
			s.writeErrorWithData(w, r, err, alert)
			return
		}
		s.writeError(w, r, err)
		return
	}

	s.logTransition(r, "alert approved", alert)
	writeJSON(w, r, http.StatusOK, alert)
}

// handleDismissAlert handles POST /alerts/{id}/dismiss.
func (s *Server) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	if s.deps.DismissAlert == nil {
		s.notConfigured(w, r)
		return
	}

	base, err := s.alertCommand(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req DismissAlertRequest
	if err := s.decodeAndValidate(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	alert, err := s.deps.DismissAlert.Handle(r.Context(), command.DismissAlertCommand{AlertCommand: base, Reason: req.Reason})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logTransition(r, "alert dismissed", alert)
	writeJSON(w, r, http.StatusOK, alert)
}

// handleResolveAlert handles POST /alerts/{id}/resolve.
func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	if s.deps.ResolveAlert == nil {
		s.notConfigured(w, r)
		return
	}

	base, err := s.alertCommand(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	alert, err := s.deps.ResolveAlert.Handle(r.Context(), command.ResolveAlertCommand{AlertCommand: base})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logTransition(r, "alert resolved", alert)
	writeJSON(w, r, http.StatusOK, alert)
}

func (s *Server) logTransition(r *http.Request, msg string, a *intervention.Alert) {
	s.logger.Info(msg,
		logger.AlertID(a.ID.String()),
		logger.String("status", string(a.Status)),
		logger.UserID(actor(r).UserID.String()),
		logger.String("request_id", getRequestID(r.Context())),
	)
}
