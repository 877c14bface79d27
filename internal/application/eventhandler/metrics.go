package eventhandler

import (
	"time"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// InterventionMetrics records review-agent measurements.
type InterventionMetrics interface {
	AlertCreated(subject, priority string)
	AlertTransitioned(toStatus string)
	NotificationFailed(role string)
	CheckCompleted(alerts, failed int, duration time.Duration)
}

// MetricsHandler feeds domain events into InterventionMetrics.
type MetricsHandler struct {
	metrics InterventionMetrics
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(metrics InterventionMetrics) *MetricsHandler {
	return &MetricsHandler{metrics: metrics}
}

// Handle implements shared.EventHandler.
func (h *MetricsHandler) Handle(event shared.Event) error {
	switch e := event.(type) {
	case shared.AlertCreatedEvent:
		h.metrics.AlertCreated(e.Subject, e.Priority)
	case shared.AlertTransitionedEvent:
		h.metrics.AlertTransitioned(e.ToStatus)
	case shared.NotificationFailedEvent:
		h.metrics.NotificationFailed(e.RecipientRole)
	case shared.CheckCompletedEvent:
		h.metrics.CheckCompleted(e.AlertsCreated, e.Failed, e.Duration)
	}
	return nil
}

// Subscribe wires the handlers into a bus. Nil handlers are skipped.
func Subscribe(bus shared.EventSubscriber, alertCreated *OnAlertCreatedHandler, metrics *MetricsHandler) error {
	if alertCreated != nil {
		if err := bus.Subscribe(shared.EventAlertCreated, alertCreated.Handle); err != nil {
			return err
		}
	}
	if metrics != nil {
		if err := bus.SubscribeAll(metrics.Handle); err != nil {
			return err
		}
	}
	return nil
}
