package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENSURE DEFAULT THRESHOLD COMMAND
// Provisions the default rule at startup. Safe to run from several instances
// at once: the unique name constraint decides the winner and losers read back.
// ══════════════════════════════════════════════════════════════════════════════

// EnsureDefaultThresholdCommand describes the rule to provision.
type EnsureDefaultThresholdCommand struct {
	Spec intervention.ThresholdSpec

	// ProvisionerName is the username recorded as CreatedBy when it resolves.
	ProvisionerName string

	Now time.Time
}

// EnsureDefaultThresholdResult reports what happened.
type EnsureDefaultThresholdResult struct {
	Threshold intervention.Threshold
	Created   bool
}

// EnsureDefaultThresholdHandler handles the EnsureDefaultThresholdCommand.
type EnsureDefaultThresholdHandler struct {
	thresholds intervention.ThresholdRepository
	roster     intervention.Roster
	logger     *slog.Logger
}

// NewEnsureDefaultThresholdHandler creates a new EnsureDefaultThresholdHandler.
func NewEnsureDefaultThresholdHandler(
	thresholds intervention.ThresholdRepository,
	roster intervention.Roster,
	logger *slog.Logger,
) *EnsureDefaultThresholdHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnsureDefaultThresholdHandler{thresholds: thresholds, roster: roster, logger: logger}
}

// Handle returns the existing threshold with the spec's name unchanged, or
// creates it.
func (h *EnsureDefaultThresholdHandler) Handle(ctx context.Context, cmd EnsureDefaultThresholdCommand) (*EnsureDefaultThresholdResult, error) {
	name := strings.TrimSpace(cmd.Spec.Name)
	if name == "" {
		return nil, fmt.Errorf("ensure_default_threshold: %w: name is required", shared.ErrValidation)
	}

	existing, err := h.thresholds.GetByName(ctx, name)
	if err == nil {
		return &EnsureDefaultThresholdResult{Threshold: existing}, nil
	}
	if !shared.IsNotFound(err) {
		return nil, fmt.Errorf("ensure_default_threshold: lookup: %w", err)
	}

	t, err := intervention.NewThreshold(cmd.Spec, h.resolveProvisioner(ctx, cmd.ProvisionerName), cmd.Now)
	if err != nil {
		return nil, fmt.Errorf("ensure_default_threshold: %w", err)
	}

	if err := h.thresholds.Create(ctx, t); err != nil {
		if !shared.IsAlreadyExists(err) {
			return nil, fmt.Errorf("ensure_default_threshold: create: %w", err)
		}
		// Lost the race to another instance.
		winner, err := h.thresholds.GetByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("ensure_default_threshold: read back: %w", err)
		}
		return &EnsureDefaultThresholdResult{Threshold: winner}, nil
	}

	h.logger.Info("default threshold provisioned",
		"threshold_id", t.ID,
		"name", t.Name,
	)
	return &EnsureDefaultThresholdResult{Threshold: t, Created: true}, nil
}

// resolveProvisioner never fails: an unknown or unreachable user leaves
// CreatedBy empty.
func (h *EnsureDefaultThresholdHandler) resolveProvisioner(ctx context.Context, username string) *uuid.UUID {
	if username == "" || h.roster == nil {
		return nil
	}
	id, err := h.roster.ResolveUser(ctx, username)
	if err != nil {
		h.logger.Warn("could not resolve provisioner", "username", username, "error", err)
		return nil
	}
	return id
}
