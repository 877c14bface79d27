// Package eventhandler contains domain event handlers. They run the side
// effects of committed state changes: teacher notifications and metrics.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ALERT CREATED HANDLER
// Notifies the class teacher that a new alert awaits approval.
// ═══════════════════════════════════════════════════════════════════════════

// OnAlertCreatedConfig contains handler configuration.
type OnAlertCreatedConfig struct {
	// Timeout bounds a single dispatch.
	Timeout time.Duration
}

// DefaultOnAlertCreatedConfig returns default configuration.
func DefaultOnAlertCreatedConfig() OnAlertCreatedConfig {
	return OnAlertCreatedConfig{Timeout: 30 * time.Second}
}

// OnAlertCreatedHandler dispatches TEACHER notifications.
type OnAlertCreatedHandler struct {
	dispatcher intervention.NotificationDispatcher
	alerts     intervention.AlertRepository
	publisher  shared.EventPublisher
	logger     *slog.Logger
	config     OnAlertCreatedConfig
}

// NewOnAlertCreatedHandler creates a new OnAlertCreatedHandler.
func NewOnAlertCreatedHandler(
	dispatcher intervention.NotificationDispatcher,
	alerts intervention.AlertRepository,
	publisher shared.EventPublisher,
	logger *slog.Logger,
	config OnAlertCreatedConfig,
) *OnAlertCreatedHandler {
	if config.Timeout <= 0 {
		config = DefaultOnAlertCreatedConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OnAlertCreatedHandler{
		dispatcher: dispatcher,
		alerts:     alerts,
		publisher:  publisher,
		logger:     logger.With("handler", "on_alert_created"),
		config:     config,
	}
}

// Handle implements shared.EventHandler.
func (h *OnAlertCreatedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.AlertCreatedEvent)
	if !ok {
		return fmt.Errorf("on_alert_created: unexpected event %T", event)
	}
	if !e.NotifyTeacher {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	req, err := dispatchRequest(e)
	if err != nil {
		return fmt.Errorf("on_alert_created: %w", err)
	}

	if err := h.dispatcher.Dispatch(ctx, req); err != nil {
		if errors.Is(err, shared.ErrNotificationNotSent) {
			return nil
		}
		h.logger.Error("teacher notification failed", "alert_id", e.AggregateID(), "error", err)
		h.recordFailure(ctx, req.AlertID, err, e.OccurredAt())
		return fmt.Errorf("on_alert_created: %w", err)
	}

	h.logger.Debug("teacher notified", "alert_id", e.AggregateID(), "subject", e.Subject)
	return nil
}

func (h *OnAlertCreatedHandler) recordFailure(ctx context.Context, alertID uuid.UUID, cause error, at time.Time) {
	if h.alerts != nil {
		_, err := h.alerts.Transition(ctx, alertID, func(a intervention.Alert) (intervention.Alert, intervention.AuditEntry, error) {
			return a.RecordNotificationFailure(intervention.RecipientTeacher, cause.Error(), at)
		})
		if err != nil {
			h.logger.Warn("failed to audit notification failure", "alert_id", alertID, "error", err)
		}
	}
	if h.publisher != nil {
		_ = h.publisher.Publish(shared.NotificationFailedEvent{
			BaseEvent:     shared.NewBaseEvent(shared.EventNotificationFailed, alertID.String(), at),
			RecipientRole: string(intervention.RecipientTeacher),
			Reason:        cause.Error(),
		})
	}
}

func dispatchRequest(e shared.AlertCreatedEvent) (intervention.DispatchRequest, error) {
	alertID, err := uuid.Parse(e.AggregateID())
	if err != nil {
		return intervention.DispatchRequest{}, fmt.Errorf("alert id: %w", err)
	}
	studentID, err := uuid.Parse(e.StudentID)
	if err != nil {
		return intervention.DispatchRequest{}, fmt.Errorf("student id: %w", err)
	}

	req := intervention.DispatchRequest{
		RecipientRole:  intervention.RecipientTeacher,
		AlertID:        alertID,
		StudentID:      studentID,
		StudentName:    e.StudentName,
		Subject:        e.Subject,
		CurrentAverage: e.CurrentAverage,
		WeeksFailing:   e.WeeksFailing,
		Priority:       e.Priority,
	}
	if e.ClassID != "" {
		if classID, err := uuid.Parse(e.ClassID); err == nil {
			req.ClassID = &classID
		}
	}
	return req, nil
}
