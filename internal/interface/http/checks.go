package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/application/command"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/pkg/logger"
	"github.com/Timmutegi/ae-tuition-backend/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MANUAL CHECK RUNS
// ══════════════════════════════════════════════════════════════════════════════

// RunCheckResponse summarises a manual run.
type RunCheckResponse struct {
	CorrelationID string               `json:"correlation_id"`
	Week          int                  `json:"week"`
	Skipped       bool                 `json:"skipped"`
	Evaluated     int                  `json:"students_evaluated"`
	Thresholds    int                  `json:"thresholds_applied"`
	AlertsCreated int                  `json:"alerts_created"`
	Failed        []string             `json:"failed_students,omitempty"`
	Alerts        []intervention.Alert `json:"alerts"`
	StartedAt     time.Time            `json:"started_at"`
	DurationMS    int64                `json:"duration_ms"`
}

// handleRunCheck handles POST /run-check. With {"student_id": ...} only that
// student is checked; otherwise a full sweep runs (skipped if one is already
// in progress).
func (s *Server) handleRunCheck(w http.ResponseWriter, r *http.Request) {
	if s.deps.RunCheck == nil {
		s.notConfigured(w, r)
		return
	}

	var req RunCheckRequest
	if err := s.decodeAndValidate(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	cmd := command.RunInterventionCheckCommand{
		Now:           s.now().UTC(),
		CorrelationID: getRequestID(r.Context()),
	}
	if cmd.CorrelationID == "" {
		cmd.CorrelationID = uuid.NewString()
	}
	if req.StudentID != "" {
		// Format already checked by the uuid validator.
		id := uuid.MustParse(req.StudentID)
		cmd.StudentID = &id
	}

	res, err := s.deps.RunCheck.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := RunCheckResponse{
		CorrelationID: cmd.CorrelationID,
		Week:          res.Week,
		Skipped:       res.Skipped,
		Evaluated:     res.Evaluated,
		Thresholds:    res.Thresholds,
		AlertsCreated: len(res.Alerts),
		Alerts:        res.Alerts,
		StartedAt:     res.StartedAt,
		DurationMS:    res.Duration.Milliseconds(),
	}
	for _, e := range res.Errors {
		out.Failed = append(out.Failed, e.StudentID.String())
	}

	trigger := "admin"
	if isServiceCall(r.Context()) {
		trigger = "service_key"
	}
	s.logger.Info("manual intervention check finished",
		logger.String("correlation_id", cmd.CorrelationID),
		logger.String("trigger", trigger),
		logger.Int("week", res.Week),
		logger.Int("alerts_created", len(res.Alerts)),
		logger.Int("failed", len(res.Errors)),
		logger.Bool("skipped", res.Skipped),
	)

	status := http.StatusOK
	if res.Skipped {
		status = http.StatusAccepted
	}
	writeJSON(w, r, status, out)
}

// ══════════════════════════════════════════════════════════════════════════════
// ACADEMIC CALENDAR
// ══════════════════════════════════════════════════════════════════════════════

// handleCurrentWeek handles GET /academic-calendar/current[?date=YYYY-MM-DD].
func (s *Server) handleCurrentWeek(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetAcademicWeek == nil {
		s.notConfigured(w, r)
		return
	}

	at := s.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := timeutil.ParseDate(raw, time.UTC)
		if err != nil {
			writeJSONError(w, r, http.StatusBadRequest, codeValidation, "date must be YYYY-MM-DD")
			return
		}
		// Noon avoids the date shifting when viewed in the calendar's zone.
		at = d.Add(12 * time.Hour)
	}
	writeJSON(w, r, http.StatusOK, s.deps.GetAcademicWeek.Handle(at))
}
