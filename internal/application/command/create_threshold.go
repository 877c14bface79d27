// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE THRESHOLD COMMAND
// Registers a new alerting rule.
// ══════════════════════════════════════════════════════════════════════════════

// CreateThresholdCommand contains the data needed to create a threshold.
type CreateThresholdCommand struct {
	Spec      intervention.ThresholdSpec
	CreatedBy *uuid.UUID
	Now       time.Time
}

// Validate validates the command.
func (c CreateThresholdCommand) Validate() error {
	if c.Now.IsZero() {
		return fmt.Errorf("create_threshold: %w: now is required", shared.ErrValidation)
	}
	return nil
}

// CreateThresholdHandler handles the CreateThresholdCommand.
type CreateThresholdHandler struct {
	thresholds intervention.ThresholdRepository
	logger     *slog.Logger
}

// NewCreateThresholdHandler creates a new CreateThresholdHandler.
func NewCreateThresholdHandler(thresholds intervention.ThresholdRepository, logger *slog.Logger) *CreateThresholdHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateThresholdHandler{thresholds: thresholds, logger: logger}
}

// Handle executes the create threshold command.
func (h *CreateThresholdHandler) Handle(ctx context.Context, cmd CreateThresholdCommand) (*intervention.Threshold, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	t, err := intervention.NewThreshold(cmd.Spec, cmd.CreatedBy, cmd.Now)
	if err != nil {
		return nil, fmt.Errorf("create_threshold: %w", err)
	}

	if err := h.thresholds.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create_threshold: %w", err)
	}

	h.logger.Info("threshold created",
		"threshold_id", t.ID,
		"name", t.Name,
		"scope", t.Scope.String(),
	)
	return &t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE THRESHOLD COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// UpdateThresholdCommand applies a partial update to a threshold.
type UpdateThresholdCommand struct {
	ID    uuid.UUID
	Patch intervention.ThresholdPatch
	Now   time.Time
}

// Validate validates the command.
func (c UpdateThresholdCommand) Validate() error {
	if c.ID == uuid.Nil {
		return fmt.Errorf("update_threshold: %w: id is required", shared.ErrValidation)
	}
	if c.Now.IsZero() {
		return fmt.Errorf("update_threshold: %w: now is required", shared.ErrValidation)
	}
	return nil
}

// UpdateThresholdHandler handles the UpdateThresholdCommand.
type UpdateThresholdHandler struct {
	thresholds intervention.ThresholdRepository
	logger     *slog.Logger
}

// NewUpdateThresholdHandler creates a new UpdateThresholdHandler.
func NewUpdateThresholdHandler(thresholds intervention.ThresholdRepository, logger *slog.Logger) *UpdateThresholdHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateThresholdHandler{thresholds: thresholds, logger: logger}
}

// Handle executes the update threshold command. The merged threshold is
// re-validated before it is written.
func (h *UpdateThresholdHandler) Handle(ctx context.Context, cmd UpdateThresholdCommand) (*intervention.Threshold, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	current, err := h.thresholds.GetByID(ctx, cmd.ID)
	if err != nil {
		return nil, fmt.Errorf("update_threshold: %w", err)
	}
	if cmd.Patch.IsEmpty() {
		return &current, nil
	}

	updated, err := cmd.Patch.Apply(current, cmd.Now)
	if err != nil {
		return nil, fmt.Errorf("update_threshold: %w", err)
	}

	if err := h.thresholds.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("update_threshold: %w", err)
	}

	h.logger.Info("threshold updated", "threshold_id", updated.ID, "is_active", updated.IsActive)
	return &updated, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DELETE THRESHOLD COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// DeleteThresholdHandler removes a threshold.
type DeleteThresholdHandler struct {
	thresholds intervention.ThresholdRepository
	logger     *slog.Logger
}

// NewDeleteThresholdHandler creates a new DeleteThresholdHandler.
func NewDeleteThresholdHandler(thresholds intervention.ThresholdRepository, logger *slog.Logger) *DeleteThresholdHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeleteThresholdHandler{thresholds: thresholds, logger: logger}
}

// Handle deletes the threshold with the given id.
func (h *DeleteThresholdHandler) Handle(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("delete_threshold: %w: id is required", shared.ErrValidation)
	}
	if err := h.thresholds.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete_threshold: %w", err)
	}
	h.logger.Info("threshold deleted", "threshold_id", id)
	return nil
}
