package intervention

import (
	"time"

	"github.com/google/uuid"
)

// FlaggedStudent summarises one student with at least one active alert.
type FlaggedStudent struct {
	StudentID       uuid.UUID  `json:"student_id"`
	StudentName     string     `json:"student_name"`
	ClassID         *uuid.UUID `json:"class_id,omitempty"`
	ActiveAlerts    int        `json:"active_alerts"`
	HighestPriority Priority   `json:"highest_priority"`
	Subjects        []string   `json:"subjects"`
	LatestAlertAt   time.Time  `json:"latest_alert_at"`
}
