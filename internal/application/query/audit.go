package query

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT LOG QUERIES (admin only)
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
	defaultRecentLimit   = 20
)

// ListAuditQuery filters the audit log. Zero fields do not filter.
type ListAuditQuery struct {
	Actor    intervention.Actor
	ActorID  *uuid.UUID
	Action   intervention.Action
	AlertID  *uuid.UUID
	Since    time.Time
	Until    time.Time
	Page     int
	PageSize int
}

// Normalize fills defaults and clamps paging.
func (q *ListAuditQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultAuditPageSize
	}
	if q.PageSize > maxAuditPageSize {
		q.PageSize = maxAuditPageSize
	}
}

// AuditPage is one page of audit entries.
type AuditPage struct {
	Entries  []intervention.AuditEntry `json:"entries"`
	Total    int                       `json:"total"`
	Page     int                       `json:"page"`
	PageSize int                       `json:"page_size"`
}

// ListAuditHandler searches the audit trail across alerts.
type ListAuditHandler struct {
	alerts intervention.AlertRepository
}

// NewListAuditHandler creates a new ListAuditHandler.
func NewListAuditHandler(alerts intervention.AlertRepository) *ListAuditHandler {
	return &ListAuditHandler{alerts: alerts}
}

// Handle executes the query.
func (h *ListAuditHandler) Handle(ctx context.Context, q ListAuditQuery) (*AuditPage, error) {
	q.Normalize()
	if !q.Actor.IsAdmin() {
		return nil, fmt.Errorf("list_audit: %w: admin role required", shared.ErrForbidden)
	}
	if q.Action != "" && !q.Action.IsValid() {
		return nil, fmt.Errorf("list_audit: %w: unknown action %q", shared.ErrValidation, q.Action)
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return nil, fmt.Errorf("list_audit: %w: until is before since", shared.ErrValidation)
	}

	entries, total, err := h.alerts.SearchAudit(ctx, intervention.AuditFilter{
		ActorID: q.ActorID,
		Action:  q.Action,
		AlertID: q.AlertID,
		Since:   q.Since,
		Until:   q.Until,
		Limit:   q.PageSize,
		Offset:  (q.Page - 1) * q.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list_audit: %w", err)
	}
	page := &AuditPage{Entries: []intervention.AuditEntry{}, Total: total, Page: q.Page, PageSize: q.PageSize}
	if entries != nil {
		page.Entries = entries
	}
	return page, nil
}

// Recent returns the newest entries across all alerts. limit is clamped to
// [1, 100].
func (h *ListAuditHandler) Recent(ctx context.Context, actor intervention.Actor, limit int) ([]intervention.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	page, err := h.Handle(ctx, ListAuditQuery{Actor: actor, PageSize: min(limit, maxPageSize)})
	if err != nil {
		return nil, err
	}
	return page.Entries, nil
}
