package intervention

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Tracked subject names as they appear in weekly performance rows.
const (
	SubjectVerbalReasoning    = "Verbal Reasoning"
	SubjectNonVerbalReasoning = "Non-Verbal Reasoning"
	SubjectEnglish            = "English"
	SubjectMathematics        = "Mathematics"
)

// TrackedSubjects returns the subjects evaluated by all-subject thresholds.
func TrackedSubjects() []string {
	return []string{
		SubjectVerbalReasoning,
		SubjectNonVerbalReasoning,
		SubjectEnglish,
		SubjectMathematics,
	}
}

// IsTrackedSubject reports whether name is one of TrackedSubjects.
func IsTrackedSubject(name string) bool {
	for _, s := range TrackedSubjects() {
		if s == name {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// SCOPE
// ══════════════════════════════════════════════════════════════════════════════

// Scope selects the subjects a threshold applies to: either every tracked
// subject or exactly one. The zero value is AllSubjects.
type Scope struct {
	subject string
}

// AllSubjects scopes a threshold to every tracked subject.
func AllSubjects() Scope { return Scope{} }

// SubjectScope scopes a threshold to a single subject.
func SubjectScope(name string) Scope { return Scope{subject: name} }

// ScopeFromNullable maps the storage representation (nil = all) to a Scope.
func ScopeFromNullable(subject *string) Scope {
	if subject == nil || *subject == "" {
		return AllSubjects()
	}
	return SubjectScope(*subject)
}

// Subject returns the scoped subject, or ok=false for AllSubjects.
func (s Scope) Subject() (string, bool) {
	return s.subject, s.subject != ""
}

// IsAll reports whether the scope covers every tracked subject.
func (s Scope) IsAll() bool { return s.subject == "" }

// Subjects lists the subjects to evaluate.
func (s Scope) Subjects() []string {
	if s.IsAll() {
		return TrackedSubjects()
	}
	return []string{s.subject}
}

// Nullable returns the storage representation.
func (s Scope) Nullable() *string {
	if s.IsAll() {
		return nil
	}
	v := s.subject
	return &v
}

// String returns the subject or "all subjects".
func (s Scope) String() string {
	if s.IsAll() {
		return "all subjects"
	}
	return s.subject
}

// MarshalJSON encodes the scope as a subject name or null.
func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Nullable())
}

// UnmarshalJSON decodes a subject name or null.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var subject *string
	if err := json.Unmarshal(data, &subject); err != nil {
		return err
	}
	*s = ScopeFromNullable(subject)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PRIORITY
// ══════════════════════════════════════════════════════════════════════════════

// Priority orders alerts by urgency. LOW < MEDIUM < HIGH < CRITICAL.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns the canonical upper-case name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority accepts the canonical names case-insensitively.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return PriorityLow, nil
	case "MEDIUM":
		return PriorityMedium, nil
	case "HIGH":
		return PriorityHigh, nil
	case "CRITICAL":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("%w: unknown priority %q", shared.ErrValidation, s)
	}
}

// MarshalJSON encodes the priority by name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLD
// ══════════════════════════════════════════════════════════════════════════════

const (
	// DefaultWeeksToReview is the size of the review window.
	DefaultWeeksToReview = 5
	// DefaultFailuresRequired is the number of failing weeks that triggers an alert.
	DefaultFailuresRequired = 3
	// DefaultThresholdName identifies the provisioned default rule.
	DefaultThresholdName = "Default Performance Alert"
)

// Threshold is a configurable alerting rule.
type Threshold struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	Scope            Scope      `json:"subject"`
	MinScorePercent  float64    `json:"min_score_percent"`
	MaxScorePercent  float64    `json:"max_score_percent"`
	WeeksToReview    int        `json:"weeks_to_review"`
	FailuresRequired int        `json:"failures_required"`
	AlertPriority    Priority   `json:"alert_priority"`
	NotifyTeacher    bool       `json:"notify_teacher"`
	NotifyParent     bool       `json:"notify_parent"`
	NotifySupervisor bool       `json:"notify_supervisor"`
	IsActive         bool       `json:"is_active"`
	CreatedBy        *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Validate checks the rule's configuration. All violations are reported at once.
func (t Threshold) Validate() error {
	var problems []string

	if strings.TrimSpace(t.Name) == "" {
		problems = append(problems, "name is required")
	}
	if t.FailuresRequired < 1 {
		problems = append(problems, "failures_required must be at least 1")
	}
	if t.WeeksToReview < t.FailuresRequired {
		problems = append(problems, "weeks_to_review must be >= failures_required")
	}
	if t.MinScorePercent < 0 || t.MinScorePercent > 100 {
		problems = append(problems, "min_score_percent must be within [0, 100]")
	}
	if t.MaxScorePercent < 0 || t.MaxScorePercent > 100 {
		problems = append(problems, "max_score_percent must be within [0, 100]")
	}
	if t.MinScorePercent > t.MaxScorePercent {
		problems = append(problems, "min_score_percent must be <= max_score_percent")
	}
	if !t.AlertPriority.IsValid() {
		problems = append(problems, "alert_priority is invalid")
	}
	if subject, ok := t.Scope.Subject(); ok && !IsTrackedSubject(subject) {
		problems = append(problems, fmt.Sprintf("subject %q is not tracked", subject))
	}

	if len(problems) > 0 {
		return shared.NewDomainError("threshold", "Validate", shared.ErrValidation,
			strings.Join(problems, "; "))
	}
	return nil
}

// Subjects lists the subjects this threshold evaluates.
func (t Threshold) Subjects() []string {
	return t.Scope.Subjects()
}

// ThresholdSpec carries the user-supplied fields of a new threshold.
type ThresholdSpec struct {
	Name             string
	Description      string
	Scope            Scope
	MinScorePercent  float64
	MaxScorePercent  float64
	WeeksToReview    int
	FailuresRequired int
	AlertPriority    Priority
	NotifyTeacher    bool
	NotifyParent     bool
	NotifySupervisor bool
	IsActive         bool
}

// DefaultThresholdSpec is the rule provisioned on first start.
func DefaultThresholdSpec() ThresholdSpec {
	return ThresholdSpec{
		Name:             DefaultThresholdName,
		Description:      "Alerts when a student scores below 50% in 3 of the last 5 weeks.",
		Scope:            AllSubjects(),
		MinScorePercent:  50.0,
		MaxScorePercent:  60.0,
		WeeksToReview:    DefaultWeeksToReview,
		FailuresRequired: DefaultFailuresRequired,
		AlertPriority:    PriorityMedium,
		NotifyTeacher:    true,
		NotifyParent:     true,
		NotifySupervisor: false,
		IsActive:         true,
	}
}

// NewThreshold builds and validates a threshold from spec.
func NewThreshold(spec ThresholdSpec, createdBy *uuid.UUID, now time.Time) (Threshold, error) {
	t := Threshold{
		ID:               uuid.New(),
		Name:             strings.TrimSpace(spec.Name),
		Description:      spec.Description,
		Scope:            spec.Scope,
		MinScorePercent:  spec.MinScorePercent,
		MaxScorePercent:  spec.MaxScorePercent,
		WeeksToReview:    spec.WeeksToReview,
		FailuresRequired: spec.FailuresRequired,
		AlertPriority:    spec.AlertPriority,
		NotifyTeacher:    spec.NotifyTeacher,
		NotifyParent:     spec.NotifyParent,
		NotifySupervisor: spec.NotifySupervisor,
		IsActive:         spec.IsActive,
		CreatedBy:        createdBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if t.WeeksToReview == 0 {
		t.WeeksToReview = DefaultWeeksToReview
	}
	if t.FailuresRequired == 0 {
		t.FailuresRequired = DefaultFailuresRequired
	}
	if t.AlertPriority == 0 {
		t.AlertPriority = PriorityMedium
	}
	if err := t.Validate(); err != nil {
		return Threshold{}, err
	}
	return t, nil
}

// ThresholdPatch is a partial update. Nil fields are left unchanged.
type ThresholdPatch struct {
	Name             *string
	Description      *string
	Scope            *Scope
	MinScorePercent  *float64
	MaxScorePercent  *float64
	WeeksToReview    *int
	FailuresRequired *int
	AlertPriority    *Priority
	NotifyTeacher    *bool
	NotifyParent     *bool
	NotifySupervisor *bool
	IsActive         *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p ThresholdPatch) IsEmpty() bool {
	return p == ThresholdPatch{}
}

// Apply merges the patch into t and re-validates the result. Values are never
// clamped: an invalid merge is rejected as a whole.
func (p ThresholdPatch) Apply(t Threshold, now time.Time) (Threshold, error) {
	if p.Name != nil {
		t.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Scope != nil {
		t.Scope = *p.Scope
	}
	if p.MinScorePercent != nil {
		t.MinScorePercent = *p.MinScorePercent
	}
	if p.MaxScorePercent != nil {
		t.MaxScorePercent = *p.MaxScorePercent
	}
	if p.WeeksToReview != nil {
		t.WeeksToReview = *p.WeeksToReview
	}
	if p.FailuresRequired != nil {
		t.FailuresRequired = *p.FailuresRequired
	}
	if p.AlertPriority != nil {
		t.AlertPriority = *p.AlertPriority
	}
	if p.NotifyTeacher != nil {
		t.NotifyTeacher = *p.NotifyTeacher
	}
	if p.NotifyParent != nil {
		t.NotifyParent = *p.NotifyParent
	}
	if p.NotifySupervisor != nil {
		t.NotifySupervisor = *p.NotifySupervisor
	}
	if p.IsActive != nil {
		t.IsActive = *p.IsActive
	}
	if err := t.Validate(); err != nil {
		return Threshold{}, err
	}
	t.UpdatedAt = now
	return t, nil
}
