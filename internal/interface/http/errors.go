package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
	"github.com/Timmutegi/ae-tuition-backend/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// Error codes returned in APIError.Code.
const (
	codeValidation     = "validation_error"
	codeUnauthorized   = "unauthorized"
	codeForbidden      = "forbidden"
	codeNotFound       = "not_found"
	codeConflict       = "conflict"
	codeInvalidState   = "invalid_state_transition"
	codeExternal       = "external_service_error"
	codeUnavailable    = "service_unavailable"
	codeInternal       = "internal_server_error"
	codeRateLimited    = "rate_limit_exceeded"
	codeRequestTimeout = "request_timeout"
)

// errorStatus maps an error kind to an HTTP status and code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, codeUnauthorized
	case shared.IsForbidden(err):
		return http.StatusForbidden, codeForbidden
	case shared.IsNotFound(err):
		return http.StatusNotFound, codeNotFound
	case shared.IsValidation(err):
		return http.StatusBadRequest, codeValidation
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, codeConflict
	case shared.IsStateTransition(err):
		return http.StatusConflict, codeInvalidState
	case errors.Is(err, shared.ErrLockHeld):
		return http.StatusConflict, codeConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeRequestTimeout
	case errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, codeUnavailable
	case shared.IsExternalService(err):
		return http.StatusBadGateway, codeExternal
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// transitionDetails exposes the alert's current status on a rejected transition.
type transitionDetails struct {
	AlertID       string `json:"alert_id"`
	CurrentStatus string `json:"current_status"`
	Action        string `json:"action"`
}

// writeError renders err with the standard envelope. Internal errors are
// logged and their message is not returned to the caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeErrorWithData(w, r, err, nil)
}

// writeErrorWithData is writeError carrying a data payload, used when an
// operation committed but a follow-up step failed.
func (s *Server) writeErrorWithData(w http.ResponseWriter, r *http.Request, err error, data any) {
	status, code := errorStatus(err)

	apiErr := &APIError{Code: code, Message: err.Error()}
	var te *intervention.TransitionError
	if errors.As(err, &te) {
		apiErr.Details = transitionDetails{
			AlertID:       te.AlertID.String(),
			CurrentStatus: string(te.From),
			Action:        string(te.Action),
		}
	}

	fields := []logger.Field{
		logger.String("method", r.Method),
		logger.String("path", r.URL.Path),
		logger.StatusCode(status),
		logger.String("request_id", getRequestID(r.Context())),
		logger.Err(err),
	}
	switch {
	case status >= http.StatusInternalServerError:
		s.logger.Error("request failed", fields...)
		if status == http.StatusInternalServerError {
			apiErr.Message = "An unexpected error occurred"
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		s.logger.Warn("request rejected", fields...)
	default:
		s.logger.Debug("request rejected", fields...)
	}

	writeEnvelope(w, r, status, JSONResponse{Data: data, Error: apiErr})
}
