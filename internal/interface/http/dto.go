package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DTOs
// Field rules live in validate tags; cross-field rules (min <= max,
// weeks >= failures) are enforced by the domain after merging.
// ══════════════════════════════════════════════════════════════════════════════

// Defaults applied to omitted create fields.
const (
	defaultMinScorePercent = 50.0
	defaultMaxScorePercent = 60.0
)

// CreateThresholdRequest is the body of POST .../thresholds.
type CreateThresholdRequest struct {
	Name             string   `json:"name" validate:"required,max=100"`
	Description      string   `json:"description" validate:"max=2000"`
	Subject          *string  `json:"subject" validate:"omitempty,tracked_subject"`
	MinScorePercent  *float64 `json:"min_score_percent" validate:"omitempty,gte=0,lte=100"`
	MaxScorePercent  *float64 `json:"max_score_percent" validate:"omitempty,gte=0,lte=100"`
	WeeksToReview    int      `json:"weeks_to_review" validate:"omitempty,min=1,max=52"`
	FailuresRequired int      `json:"failures_required" validate:"omitempty,min=1,max=52"`
	AlertPriority    string   `json:"alert_priority" validate:"omitempty,priority"`
	NotifyTeacher    *bool    `json:"notify_teacher"`
	NotifyParent     *bool    `json:"notify_parent"`
	NotifySupervisor *bool    `json:"notify_supervisor"`
	IsActive         *bool    `json:"is_active"`
}

// Spec converts the request into a domain spec, applying the API defaults.
// Without an explicit upper bound the concern band is [min, max(min, 60)].
func (r CreateThresholdRequest) Spec() intervention.ThresholdSpec {
	spec := intervention.ThresholdSpec{
		Name:             r.Name,
		Description:      r.Description,
		Scope:            intervention.ScopeFromNullable(r.Subject),
		MinScorePercent:  defaultMinScorePercent,
		MaxScorePercent:  defaultMaxScorePercent,
		WeeksToReview:    r.WeeksToReview,
		FailuresRequired: r.FailuresRequired,
		NotifyTeacher:    boolOr(r.NotifyTeacher, true),
		NotifyParent:     boolOr(r.NotifyParent, true),
		NotifySupervisor: boolOr(r.NotifySupervisor, true),
		IsActive:         boolOr(r.IsActive, true),
	}
	if r.MinScorePercent != nil {
		spec.MinScorePercent = *r.MinScorePercent
	}
	switch {
	case r.MaxScorePercent != nil:
		spec.MaxScorePercent = *r.MaxScorePercent
	case spec.MinScorePercent > spec.MaxScorePercent:
		spec.MaxScorePercent = spec.MinScorePercent
	}
	if r.AlertPriority != "" {
		// Already checked by the priority validator.
		spec.AlertPriority, _ = intervention.ParsePriority(r.AlertPriority)
	}
	return spec
}

// UpdateThresholdRequest is the body of PUT .../thresholds/{id}. Absent fields
// are left unchanged. "subject": null switches the rule to all subjects.
type UpdateThresholdRequest struct {
	Name             *string         `json:"name" validate:"omitempty,min=1,max=100"`
	Description      *string         `json:"description" validate:"omitempty,max=2000"`
	Subject          optionalSubject `json:"subject"`
	MinScorePercent  *float64        `json:"min_score_percent" validate:"omitempty,gte=0,lte=100"`
	MaxScorePercent  *float64        `json:"max_score_percent" validate:"omitempty,gte=0,lte=100"`
	WeeksToReview    *int            `json:"weeks_to_review" validate:"omitempty,min=1,max=52"`
	FailuresRequired *int            `json:"failures_required" validate:"omitempty,min=1,max=52"`
	AlertPriority    *string         `json:"alert_priority" validate:"omitempty,priority"`
	NotifyTeacher    *bool           `json:"notify_teacher"`
	NotifyParent     *bool           `json:"notify_parent"`
	NotifySupervisor *bool           `json:"notify_supervisor"`
	IsActive         *bool           `json:"is_active"`
}

// Patch converts the request into a domain patch.
func (r UpdateThresholdRequest) Patch() intervention.ThresholdPatch {
	p := intervention.ThresholdPatch{
		Name:             r.Name,
		Description:      r.Description,
		MinScorePercent:  r.MinScorePercent,
		MaxScorePercent:  r.MaxScorePercent,
		WeeksToReview:    r.WeeksToReview,
		FailuresRequired: r.FailuresRequired,
		NotifyTeacher:    r.NotifyTeacher,
		NotifyParent:     r.NotifyParent,
		NotifySupervisor: r.NotifySupervisor,
		IsActive:         r.IsActive,
	}
	if r.Subject.Set {
		scope := intervention.ScopeFromNullable(r.Subject.Value)
		p.Scope = &scope
	}
	if r.AlertPriority != nil {
		prio, _ := intervention.ParsePriority(*r.AlertPriority)
		p.AlertPriority = &prio
	}
	return p
}

// optionalSubject tells an absent "subject" apart from an explicit null.
type optionalSubject struct {
	Set   bool
	Value *string
}

// UnmarshalJSON implements json.Unmarshaler. It only runs for present keys.
func (o *optionalSubject) UnmarshalJSON(data []byte) error {
	o.Set = true
	return json.Unmarshal(data, &o.Value)
}

// ApproveAlertRequest is the body of POST .../approve.
type ApproveAlertRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// DismissAlertRequest is the body of POST .../dismiss.
type DismissAlertRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// RunCheckRequest is the optional body of POST .../run-check.
type RunCheckRequest struct {
	StudentID string `json:"student_id" validate:"omitempty,uuid"`
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("tracked_subject", func(fl validator.FieldLevel) bool {
		return intervention.IsTrackedSubject(fl.Field().String())
	})
	_ = v.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		_, err := intervention.ParsePriority(fl.Field().String())
		return err == nil
	})
	return v
}

// decodeAndValidate reads a JSON body into dst and validates it. An empty body
// is allowed when allowEmpty is set.
func (s *Server) decodeAndValidate(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return fmt.Errorf("%w: malformed JSON body: %v", shared.ErrValidation, err)
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError flattens validator output into one ErrValidation message.
func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	problems := make([]string, 0, len(ve))
	for _, fe := range ve {
		problems = append(problems, fieldProblem(fe))
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", shared.ErrValidation, strings.Join(problems, "; "))
}

func fieldProblem(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "tracked_subject":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), strings.Join(intervention.TrackedSubjects(), ", "))
	case "priority":
		return fe.Field() + " must be LOW, MEDIUM, HIGH or CRITICAL"
	case "uuid":
		return fe.Field() + " must be a UUID"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
