package http

import (
	"net/http"

	"github.com/Timmutegi/ae-tuition-backend/internal/application/command"
	"github.com/Timmutegi/ae-tuition-backend/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLD HANDLERS (admin)
// ══════════════════════════════════════════════════════════════════════════════

// handleCreateThreshold handles POST /thresholds.
func (s *Server) handleCreateThreshold(w http.ResponseWriter, r *http.Request) {
	if s.deps.CreateThreshold == nil {
		s.notConfigured(w, r)
		return
	}

	var req CreateThresholdRequest
	if err := s.decodeAndValidate(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	admin := actor(r)
	t, err := s.deps.CreateThreshold.Handle(r.Context(), command.CreateThresholdCommand{
		Spec:      req.Spec(),
		CreatedBy: &admin.UserID,
		Now:       s.now().UTC(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("threshold created",
		logger.ThresholdID(t.ID.String()),
		logger.UserID(admin.UserID.String()),
	)
	writeJSON(w, r, http.StatusCreated, t)
}

// handleListThresholds handles GET /thresholds[?active=true].
func (s *Server) handleListThresholds(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListThresholds == nil {
		s.notConfigured(w, r)
		return
	}

	items, err := s.deps.ListThresholds.Handle(r.Context(), getQueryParamBool(r, "active"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, items, &ResponseMeta{TotalCount: len(items)})
}

// handleGetThreshold handles GET /thresholds/{id}.
func (s *Server) handleGetThreshold(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetThreshold == nil {
		s.notConfigured(w, r)
		return
	}

	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.deps.GetThreshold.Handle(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, t)
}

// handleUpdateThreshold handles PUT /thresholds/{id}.
func (s *Server) handleUpdateThreshold(w http.ResponseWriter, r *http.Request) {
	if s.deps.UpdateThreshold == nil {
		s.notConfigured(w, r)
		return
	}

	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req UpdateThresholdRequest
	if err := s.decodeAndValidate(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	t, err := s.deps.UpdateThreshold.Handle(r.Context(), command.UpdateThresholdCommand{
		ID:    id,
		Patch: req.Patch(),
		Now:   s.now().UTC(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("threshold updated",
		logger.ThresholdID(id.String()),
		logger.UserID(actor(r).UserID.String()),
	)
	writeJSON(w, r, http.StatusOK, t)
}

// handleDeleteThreshold handles DELETE /thresholds/{id}. Existing alerts keep
// their history; their threshold reference is cleared.
func (s *Server) handleDeleteThreshold(w http.ResponseWriter, r *http.Request) {
	if s.deps.DeleteThreshold == nil {
		s.notConfigured(w, r)
		return
	}

	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.DeleteThreshold.Handle(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("threshold deleted",
		logger.ThresholdID(id.String()),
		logger.UserID(actor(r).UserID.String()),
	)
	writeJSON(w, r, http.StatusOK, map[string]string{"id": id.String(), "status": "deleted"})
}
