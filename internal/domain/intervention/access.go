package intervention

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// Role is the caller's authority level.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
)

// Actor identifies who is performing an operation.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// IsAdmin reports whether the actor sees every class.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// AccessPolicy restricts teachers to alerts for students in their classes.
type AccessPolicy struct {
	roster Roster
}

// NewAccessPolicy creates an AccessPolicy backed by the roster.
func NewAccessPolicy(roster Roster) *AccessPolicy {
	return &AccessPolicy{roster: roster}
}

// ClassScope returns the classes the actor may see. all is true for admins.
func (p *AccessPolicy) ClassScope(ctx context.Context, actor Actor) (classIDs []uuid.UUID, all bool, err error) {
	switch actor.Role {
	case RoleAdmin:
		return nil, true, nil
	case RoleTeacher:
		ids, err := p.roster.TeacherClassIDs(ctx, actor.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("load teacher classes: %w", err)
		}
		return ids, false, nil
	default:
		return nil, false, fmt.Errorf("%w: role %q", shared.ErrForbidden, actor.Role)
	}
}

// Authorize returns shared.ErrAlertNotInScope when a teacher acts on an alert
// outside their classes.
func (p *AccessPolicy) Authorize(ctx context.Context, actor Actor, a Alert) error {
	classIDs, all, err := p.ClassScope(ctx, actor)
	if err != nil {
		return err
	}
	if all {
		return nil
	}
	if a.ClassID == nil {
		return shared.ErrAlertNotInScope
	}
	for _, id := range classIDs {
		if id == *a.ClassID {
			return nil
		}
	}
	return shared.ErrAlertNotInScope
}
