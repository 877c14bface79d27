package query

import (
	"context"
	"fmt"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST FLAGGED STUDENTS QUERY
// Students with at least one PENDING or IN_PROGRESS alert.
// ══════════════════════════════════════════════════════════════════════════════

// ListFlaggedStudentsQuery contains the listing parameters.
type ListFlaggedStudentsQuery struct {
	Actor    intervention.Actor
	Page     int
	PageSize int
}

// FlaggedStudentPage is one page of flagged students.
type FlaggedStudentPage struct {
	Students []intervention.FlaggedStudent `json:"students"`
	Total    int                           `json:"total"`
	Page     int                           `json:"page"`
	PageSize int                           `json:"page_size"`
}

// ListFlaggedStudentsHandler handles the ListFlaggedStudentsQuery.
type ListFlaggedStudentsHandler struct {
	alerts intervention.AlertRepository
	access *intervention.AccessPolicy
}

// NewListFlaggedStudentsHandler creates a new ListFlaggedStudentsHandler.
func NewListFlaggedStudentsHandler(alerts intervention.AlertRepository, access *intervention.AccessPolicy) *ListFlaggedStudentsHandler {
	return &ListFlaggedStudentsHandler{alerts: alerts, access: access}
}

// Handle executes the query. Teachers only see students of their classes.
func (h *ListFlaggedStudentsHandler) Handle(ctx context.Context, q ListFlaggedStudentsQuery) (*FlaggedStudentPage, error) {
	paging := ListAlertsQuery{Page: q.Page, PageSize: q.PageSize}
	paging.Normalize()

	classIDs, all, err := h.access.ClassScope(ctx, q.Actor)
	if err != nil {
		return nil, fmt.Errorf("list_flagged_students: %w", err)
	}
	page := &FlaggedStudentPage{Students: []intervention.FlaggedStudent{}, Page: paging.Page, PageSize: paging.PageSize}
	if !all && len(classIDs) == 0 {
		return page, nil
	}

	students, total, err := h.alerts.ListFlagged(ctx, intervention.FlaggedFilter{
		ClassIDs: classIDs,
		Limit:    paging.PageSize,
		Offset:   (paging.Page - 1) * paging.PageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("list_flagged_students: %w", err)
	}
	if students != nil {
		page.Students = students
	}
	page.Total = total
	return page, nil
}
