package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ALERT LIFECYCLE
// Approve, dismiss and resolve. Every transition locks the alert row,
// re-checks its status and writes the audit entry in the same transaction,
// so of two racing callers exactly one wins.
// ══════════════════════════════════════════════════════════════════════════════

// LifecycleDeps groups the collaborators shared by the lifecycle handlers.
type LifecycleDeps struct {
	Alerts     intervention.AlertRepository
	Thresholds intervention.ThresholdRepository
	Access     *intervention.AccessPolicy
	Dispatcher intervention.NotificationDispatcher
	Publisher  shared.EventPublisher // optional
	Stats      StatsInvalidator      // optional
	Logger     *slog.Logger
}

type lifecycle struct {
	LifecycleDeps
	logger *slog.Logger
}

func newLifecycle(deps LifecycleDeps, component string) lifecycle {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return lifecycle{LifecycleDeps: deps, logger: logger.With("component", component)}
}

// authorize loads the alert and checks the actor may act on it.
func (l lifecycle) authorize(ctx context.Context, actor intervention.Actor, id uuid.UUID) error {
	current, err := l.Alerts.Get(ctx, id)
	if err != nil {
		return err
	}
	return l.Access.Authorize(ctx, actor, current)
}

// afterTransition runs the post-commit side effects of a transition.
func (l lifecycle) afterTransition(ctx context.Context, from intervention.Status, a intervention.Alert, actor *uuid.UUID, at time.Time, eventType shared.EventType) {
	if l.Stats != nil {
		if err := l.Stats.InvalidateAlertStats(ctx); err != nil {
			l.logger.Warn("failed to invalidate alert stats", "error", err)
		}
	}
	if l.Publisher == nil {
		return
	}
	event := shared.AlertTransitionedEvent{
		BaseEvent:  shared.NewBaseEvent(eventType, a.ID.String(), at),
		ActorID:    uuidString(actor),
		FromStatus: string(from),
		ToStatus:   string(a.Status),
		Subject:    a.Subject,
	}
	if err := l.Publisher.Publish(event); err != nil {
		l.logger.Warn("failed to publish event", "event_type", eventType, "error", err)
	}
}

// AlertCommand is the common shape of lifecycle commands.
type AlertCommand struct {
	AlertID uuid.UUID
	Actor   intervention.Actor
	Now     time.Time
}

func (c AlertCommand) validate(op string) error {
	if c.AlertID == uuid.Nil {
		return fmt.Errorf("%s: %w: alert id is required", op, shared.ErrValidation)
	}
	if c.Actor.UserID == uuid.Nil {
		return fmt.Errorf("%s: %w: actor is required", op, shared.ErrUnauthorized)
	}
	if c.Now.IsZero() {
		return fmt.Errorf("%s: %w: now is required", op, shared.ErrValidation)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// APPROVE
// ══════════════════════════════════════════════════════════════════════════════

// ApproveAlertCommand approves a PENDING alert.
type ApproveAlertCommand struct {
	AlertCommand
	Notes string
}

// ApproveAlertHandler handles the ApproveAlertCommand.
type ApproveAlertHandler struct {
	lifecycle
}

// NewApproveAlertHandler creates a new ApproveAlertHandler.
func NewApproveAlertHandler(deps LifecycleDeps) *ApproveAlertHandler {
	return &ApproveAlertHandler{lifecycle: newLifecycle(deps, "approve_alert")}
}

// Handle approves the alert and notifies the parent.
//
// The approval is committed before dispatch. When the parent notification
// succeeds the alert is resolved automatically. When it fails the approved
// alert is returned together with an error wrapping shared.ErrExternalService.
// Without a delivery endpoint the alert stays IN_PROGRESS.
func (h *ApproveAlertHandler) Handle(ctx context.Context, cmd ApproveAlertCommand) (*intervention.Alert, error) {
	if err := cmd.validate("approve_alert"); err != nil {
		return nil, err
	}
	if err := h.authorize(ctx, cmd.Actor, cmd.AlertID); err != nil {
		return nil, fmt.Errorf("approve_alert: %w", err)
	}

	approver := cmd.Actor.UserID
	approved, err := h.Alerts.Transition(ctx, cmd.AlertID, func(a intervention.Alert) (intervention.Alert, intervention.AuditEntry, error) {
		return a.Approve(approver, cmd.Notes, cmd.Now)
	})
	if err != nil {
		return nil, fmt.Errorf("approve_alert: %w", err)
	}
	h.afterTransition(ctx, intervention.StatusPending, approved, &approver, cmd.Now, shared.EventAlertApproved)
	h.logger.Info("alert approved", "alert_id", approved.ID, "approved_by", approver)

	if !h.notifiesParent(ctx, approved) {
		return &approved, nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Parent notification (outside the approval transaction)
	// ─────────────────────────────────────────────────────────────────────────
	req := intervention.DispatchRequestFor(approved, intervention.RecipientParent)
	if dispatchErr := h.Dispatcher.Dispatch(ctx, req); dispatchErr != nil {
		if errors.Is(dispatchErr, shared.ErrNotificationNotSent) {
			// Nobody was told; staff resolve it once the parent is contacted.
			h.logger.Warn("parent not notified, alert stays in progress", "alert_id", approved.ID)
			return &approved, nil
		}
		h.recordDispatchFailure(ctx, approved, dispatchErr, cmd.Now)
		return &approved, fmt.Errorf("approve_alert: parent notification: %w", asExternal(dispatchErr))
	}

	resolved, err := h.Alerts.Transition(ctx, approved.ID, func(a intervention.Alert) (intervention.Alert, intervention.AuditEntry, error) {
		return a.Resolve(nil, intervention.ResolveModeAuto, cmd.Now)
	})
	if err != nil {
		// The parent was notified; a concurrent manual resolve is the only
		// way to get here and leaves the alert resolved anyway.
		h.logger.Warn("auto-resolve failed", "alert_id", approved.ID, "error", err)
		return &approved, nil
	}
	h.afterTransition(ctx, intervention.StatusInProgress, resolved, nil, cmd.Now, shared.EventAlertResolved)
	return &resolved, nil
}

// notifiesParent defaults to true when the threshold has since been deleted.
func (h *ApproveAlertHandler) notifiesParent(ctx context.Context, a intervention.Alert) bool {
	if a.ThresholdID == uuid.Nil {
		return true
	}
	t, err := h.Thresholds.GetByID(ctx, a.ThresholdID)
	if err != nil {
		if !shared.IsNotFound(err) {
			h.logger.Warn("could not load threshold, notifying parent", "threshold_id", a.ThresholdID, "error", err)
		}
		return true
	}
	return t.NotifyParent
}

func (h *ApproveAlertHandler) recordDispatchFailure(ctx context.Context, a intervention.Alert, cause error, now time.Time) {
	h.logger.Error("parent notification failed", "alert_id", a.ID, "error", cause)

	_, err := h.Alerts.Transition(context.WithoutCancel(ctx), a.ID, func(cur intervention.Alert) (intervention.Alert, intervention.AuditEntry, error) {
		return cur.RecordNotificationFailure(intervention.RecipientParent, cause.Error(), now)
	})
	if err != nil {
		h.logger.Warn("failed to audit notification failure", "alert_id", a.ID, "error", err)
	}

	if h.Publisher != nil {
		_ = h.Publisher.Publish(shared.NotificationFailedEvent{
			BaseEvent:     shared.NewBaseEvent(shared.EventNotificationFailed, a.ID.String(), now),
			RecipientRole: string(intervention.RecipientParent),
			Reason:        cause.Error(),
		})
	}
}

func asExternal(err error) error {
	if shared.IsExternalService(err) {
		return err
	}
	return fmt.Errorf("%w: %v", shared.ErrExternalService, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// DISMISS
// ══════════════════════════════════════════════════════════════════════════════

// DismissAlertCommand dismisses a PENDING alert.
type DismissAlertCommand struct {
	AlertCommand
	Reason string
}

// DismissAlertHandler handles the DismissAlertCommand.
type DismissAlertHandler struct {
	lifecycle
}

// NewDismissAlertHandler creates a new DismissAlertHandler.
func NewDismissAlertHandler(deps LifecycleDeps) *DismissAlertHandler {
	return &DismissAlertHandler{lifecycle: newLifecycle(deps, "dismiss_alert")}
}

// Handle dismisses the alert. A blank reason is rejected before any read.
func (h *DismissAlertHandler) Handle(ctx context.Context, cmd DismissAlertCommand) (*intervention.Alert, error) {
	if err := cmd.validate("dismiss_alert"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		return nil, fmt.Errorf("dismiss_alert: %w", shared.ErrDismissReasonMissing)
	}
	if err := h.authorize(ctx, cmd.Actor, cmd.AlertID); err != nil {
		return nil, fmt.Errorf("dismiss_alert: %w", err)
	}

	dismisser := cmd.Actor.UserID
	dismissed, err := h.Alerts.Transition(ctx, cmd.AlertID, func(a intervention.Alert) (intervention.Alert, intervention.AuditEntry, error) {
		return a.Dismiss(dismisser, cmd.Reason, cmd.Now)
	})
	if err != nil {
		return nil, fmt.Errorf("dismiss_alert: %w", err)
	}

	h.afterTransition(ctx, intervention.StatusPending, dismissed, &dismisser, cmd.Now, shared.EventAlertDismissed)
	h.logger.Info("alert dismissed", "alert_id", dismissed.ID, "dismissed_by", dismisser)
	return &dismissed, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVE
// ══════════════════════════════════════════════════════════════════════════════

// ResolveAlertCommand manually closes an IN_PROGRESS alert.
type ResolveAlertCommand struct {
	AlertCommand
}

// ResolveAlertHandler handles the ResolveAlertCommand.
type ResolveAlertHandler struct {
	lifecycle
}

// NewResolveAlertHandler creates a new ResolveAlertHandler.
func NewResolveAlertHandler(deps LifecycleDeps) *ResolveAlertHandler {
	return &ResolveAlertHandler{lifecycle: newLifecycle(deps, "resolve_alert")}
}

// Handle resolves the alert.
func (h *ResolveAlertHandler) Handle(ctx context.Context, cmd ResolveAlertCommand) (*intervention.Alert, error) {
	if err := cmd.validate("resolve_alert"); err != nil {
		return nil, err
	}
	if err := h.authorize(ctx, cmd.Actor, cmd.AlertID); err != nil {
		return nil, fmt.Errorf("resolve_alert: %w", err)
	}

	actor := cmd.Actor.UserID
	resolved, err := h.Alerts.Transition(ctx, cmd.AlertID, func(a intervention.Alert) (intervention.Alert, intervention.AuditEntry, error) {
		return a.Resolve(&actor, intervention.ResolveModeManual, cmd.Now)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve_alert: %w", err)
	}

	h.afterTransition(ctx, intervention.StatusInProgress, resolved, &actor, cmd.Now, shared.EventAlertResolved)
	h.logger.Info("alert resolved", "alert_id", resolved.ID, "resolved_by", actor)
	return &resolved, nil
}
