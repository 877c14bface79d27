package intervention

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// Action names an audited lifecycle event.
type Action string

const (
	ActionCreate       Action = "create"
	ActionApprove      Action = "approve"
	ActionDismiss      Action = "dismiss"
	ActionResolve      Action = "resolve"
	ActionNotifyFailed Action = "notify_failed"
)

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionApprove, ActionDismiss, ActionResolve, ActionNotifyFailed:
		return true
	}
	return false
}

// ParseAction accepts the action names case-insensitively.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("%w: unknown audit action %q", shared.ErrValidation, s)
	}
	return a, nil
}

// AuditEntry is an append-only record of a state change. A nil ActorID means
// the system acted.
type AuditEntry struct {
	ID        uuid.UUID      `json:"id"`
	AlertID   uuid.UUID      `json:"alert_id"`
	ActorID   *uuid.UUID     `json:"actor_id,omitempty"`
	Action    Action         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewAuditEntry stamps a new entry.
func NewAuditEntry(alertID uuid.UUID, actor *uuid.UUID, action Action, at time.Time, details map[string]any) AuditEntry {
	return AuditEntry{
		ID:        uuid.New(),
		AlertID:   alertID,
		ActorID:   actor,
		Action:    action,
		Timestamp: at,
		Details:   details,
	}
}

// IsZero reports whether the entry is empty (no change to audit).
func (e AuditEntry) IsZero() bool {
	return e.ID == uuid.Nil
}
