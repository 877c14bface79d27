package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST ALERTS QUERY
// Admins see every alert, teachers only those of their classes.
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListAlertsQuery contains the listing parameters.
type ListAlertsQuery struct {
	Actor       intervention.Actor
	Status      intervention.Status
	ThresholdID *uuid.UUID
	Subject     string
	Page        int
	PageSize    int
}

// Normalize fills defaults and clamps paging.
func (q *ListAlertsQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
}

// AlertPage is one page of alerts.
type AlertPage struct {
	Alerts   []intervention.Alert `json:"alerts"`
	Total    int                  `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// ListAlertsHandler handles the ListAlertsQuery.
type ListAlertsHandler struct {
	alerts intervention.AlertRepository
	access *intervention.AccessPolicy
}

// NewListAlertsHandler creates a new ListAlertsHandler.
func NewListAlertsHandler(alerts intervention.AlertRepository, access *intervention.AccessPolicy) *ListAlertsHandler {
	return &ListAlertsHandler{alerts: alerts, access: access}
}

// Handle executes the query.
func (h *ListAlertsHandler) Handle(ctx context.Context, q ListAlertsQuery) (*AlertPage, error) {
	q.Normalize()
	if q.Status != "" && !q.Status.IsValid() {
		return nil, fmt.Errorf("list_alerts: %w: unknown status %q", shared.ErrValidation, q.Status)
	}

	classIDs, all, err := h.access.ClassScope(ctx, q.Actor)
	if err != nil {
		return nil, fmt.Errorf("list_alerts: %w", err)
	}
	page := &AlertPage{Alerts: []intervention.Alert{}, Page: q.Page, PageSize: q.PageSize}
	if !all && len(classIDs) == 0 {
		return page, nil
	}

	alerts, total, err := h.alerts.List(ctx, intervention.AlertFilter{
		Status:      q.Status,
		ClassIDs:    classIDs,
		ThresholdID: q.ThresholdID,
		Subject:     q.Subject,
		Limit:       q.PageSize,
		Offset:      (q.Page - 1) * q.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list_alerts: %w", err)
	}
	if alerts != nil {
		page.Alerts = alerts
	}
	page.Total = total
	return page, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET ALERT QUERY
// ══════════════════════════════════════════════════════════════════════════════

// AlertDetail is an alert together with its audit trail.
type AlertDetail struct {
	Alert intervention.Alert        `json:"alert"`
	Audit []intervention.AuditEntry `json:"audit"`
}

// GetAlertHandler returns one alert.
type GetAlertHandler struct {
	alerts intervention.AlertRepository
	access *intervention.AccessPolicy
}

// NewGetAlertHandler creates a new GetAlertHandler.
func NewGetAlertHandler(alerts intervention.AlertRepository, access *intervention.AccessPolicy) *GetAlertHandler {
	return &GetAlertHandler{alerts: alerts, access: access}
}

// Handle returns the alert if the actor may see it.
func (h *GetAlertHandler) Handle(ctx context.Context, actor intervention.Actor, id uuid.UUID) (*AlertDetail, error) {
	alert, err := h.alerts.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get_alert: %w", err)
	}
	if err := h.access.Authorize(ctx, actor, alert); err != nil {
		return nil, fmt.Errorf("get_alert: %w", err)
	}

	audit, err := h.alerts.ListAudit(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get_alert: audit: %w", err)
	}
	if audit == nil {
		audit = []intervention.AuditEntry{}
	}
	return &AlertDetail{Alert: alert, Audit: audit}, nil
}
