// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
)

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLD QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// ListThresholdsHandler returns configured thresholds.
type ListThresholdsHandler struct {
	thresholds intervention.ThresholdRepository
}

// NewListThresholdsHandler creates a new ListThresholdsHandler.
func NewListThresholdsHandler(thresholds intervention.ThresholdRepository) *ListThresholdsHandler {
	return &ListThresholdsHandler{thresholds: thresholds}
}

// Handle lists thresholds, optionally only the active ones.
func (h *ListThresholdsHandler) Handle(ctx context.Context, activeOnly bool) ([]intervention.Threshold, error) {
	list, err := h.thresholds.List(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list_thresholds: %w", err)
	}
	if list == nil {
		list = []intervention.Threshold{}
	}
	return list, nil
}

// GetThresholdHandler returns one threshold.
type GetThresholdHandler struct {
	thresholds intervention.ThresholdRepository
}

// NewGetThresholdHandler creates a new GetThresholdHandler.
func NewGetThresholdHandler(thresholds intervention.ThresholdRepository) *GetThresholdHandler {
	return &GetThresholdHandler{thresholds: thresholds}
}

// Handle returns the threshold or an error matching shared.ErrNotFound.
func (h *GetThresholdHandler) Handle(ctx context.Context, id uuid.UUID) (*intervention.Threshold, error) {
	t, err := h.thresholds.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get_threshold: %w", err)
	}
	return &t, nil
}
