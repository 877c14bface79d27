// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types emitted by the review agent.
const (
	// Alert lifecycle events
	EventAlertCreated   EventType = "alert.created"
	EventAlertApproved  EventType = "alert.approved"
	EventAlertDismissed EventType = "alert.dismissed"
	EventAlertResolved  EventType = "alert.resolved"

	// Notification events
	EventNotificationFailed EventType = "notification.failed"

	// System events
	EventCheckCompleted EventType = "system.check_completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped at the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Alert Events
// ═══════════════════════════════════════════════════════════════════════════

// AlertCreatedEvent is emitted by the check engine for every newly stored alert.
type AlertCreatedEvent struct {
	BaseEvent
	StudentID      string   `json:"student_id"`
	StudentName    string   `json:"student_name"`
	ClassID        string   `json:"class_id,omitempty"`
	ThresholdID    string   `json:"threshold_id"`
	Subject        string   `json:"subject"`
	Priority       string   `json:"priority"`
	CurrentAverage *float64 `json:"current_average,omitempty"`
	WeeksFailing   int      `json:"weeks_failing"`
	NotifyTeacher  bool     `json:"notify_teacher"`
}

// Payload implements Event interface.
func (e AlertCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":      e.StudentID,
		"student_name":    e.StudentName,
		"class_id":        e.ClassID,
		"threshold_id":    e.ThresholdID,
		"subject":         e.Subject,
		"priority":        e.Priority,
		"current_average": e.CurrentAverage,
		"weeks_failing":   e.WeeksFailing,
		"notify_teacher":  e.NotifyTeacher,
	}
}

// AlertTransitionedEvent is emitted after a committed lifecycle transition.
type AlertTransitionedEvent struct {
	BaseEvent
	ActorID    string `json:"actor_id,omitempty"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Subject    string `json:"subject"`
}

// Payload implements Event interface.
func (e AlertTransitionedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"actor_id":    e.ActorID,
		"from_status": e.FromStatus,
		"to_status":   e.ToStatus,
		"subject":     e.Subject,
	}
}

// NotificationFailedEvent is emitted when a dispatch to a recipient fails.
type NotificationFailedEvent struct {
	BaseEvent
	RecipientRole string `json:"recipient_role"`
	Reason        string `json:"reason"`
}

// Payload implements Event interface.
func (e NotificationFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"recipient_role": e.RecipientRole,
		"reason":         e.Reason,
	}
}

// CheckCompletedEvent summarises a finished intervention check run.
type CheckCompletedEvent struct {
	BaseEvent
	Week          int           `json:"week"`
	AlertsCreated int           `json:"alerts_created"`
	Evaluated     int           `json:"evaluated"`
	Failed        int           `json:"failed"`
	Duration      time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e CheckCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"week":           e.Week,
		"alerts_created": e.AlertsCreated,
		"evaluated":      e.Evaluated,
		"failed":         e.Failed,
		"duration_ms":    e.Duration.Milliseconds(),
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
