package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/calendar"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
	"github.com/Timmutegi/ae-tuition-backend/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN INTERVENTION CHECK COMMAND
// Scans weekly performance against every active threshold and raises alerts.
// Covers both the full sweep and the single-student check.
// ══════════════════════════════════════════════════════════════════════════════

// RunInterventionCheckCommand triggers a check run.
type RunInterventionCheckCommand struct {
	// Now is the reference instant used to pick the current academic week.
	Now time.Time

	// StudentID limits the run to one student. Nil checks every active student.
	StudentID *uuid.UUID

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c RunInterventionCheckCommand) Validate() error {
	if c.Now.IsZero() {
		return fmt.Errorf("run_intervention_check: %w: now is required", shared.ErrValidation)
	}
	if c.StudentID != nil && *c.StudentID == uuid.Nil {
		return fmt.Errorf("run_intervention_check: %w: student id is empty", shared.ErrValidation)
	}
	return nil
}

// StudentCheckError records a per-student failure that did not abort the run.
type StudentCheckError struct {
	StudentID uuid.UUID
	Err       error
}

// RunInterventionCheckResult summarises a check run.
type RunInterventionCheckResult struct {
	// Week is the academic week evaluated. 0 means outside the year.
	Week int

	// Alerts lists the alerts created by this run.
	Alerts []intervention.Alert

	// Evaluated is the number of students checked successfully.
	Evaluated int

	// Thresholds is the number of active thresholds applied.
	Thresholds int

	// Skipped is true when another run held the lock.
	Skipped bool

	// Errors lists students whose evaluation failed.
	Errors []StudentCheckError

	StartedAt time.Time
	Duration  time.Duration
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// RunLock serializes full check runs across instances.
type RunLock interface {
	// TryAcquire returns acquired=false without error when the lock is held
	// elsewhere. release must be called once when acquired.
	TryAcquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// StatsInvalidator drops cached alert statistics after writes.
type StatsInvalidator interface {
	InvalidateAlertStats(ctx context.Context) error
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RunInterventionCheckConfig contains configuration for the handler.
type RunInterventionCheckConfig struct {
	// Concurrency bounds the number of students evaluated in parallel.
	Concurrency int

	// LockTTL is how long the run lock survives a crashed holder.
	LockTTL time.Duration
}

// DefaultRunInterventionCheckConfig returns default configuration.
func DefaultRunInterventionCheckConfig() RunInterventionCheckConfig {
	return RunInterventionCheckConfig{
		Concurrency: 8,
		LockTTL:     15 * time.Minute,
	}
}

// RunInterventionCheckHandler handles the RunInterventionCheckCommand.
type RunInterventionCheckHandler struct {
	thresholds   intervention.ThresholdRepository
	alerts       intervention.AlertRepository
	performances intervention.PerformanceReader
	roster       intervention.Roster
	calendar     calendar.Calendar
	publisher    shared.EventPublisher
	lock         RunLock
	stats        StatsInvalidator
	logger       *slog.Logger
	config       RunInterventionCheckConfig
}

// RunInterventionCheckDeps groups the handler's collaborators.
type RunInterventionCheckDeps struct {
	Thresholds   intervention.ThresholdRepository
	Alerts       intervention.AlertRepository
	Performances intervention.PerformanceReader
	Roster       intervention.Roster
	Calendar     calendar.Calendar
	Publisher    shared.EventPublisher // optional
	Lock         RunLock               // optional
	Stats        StatsInvalidator      // optional
	Logger       *slog.Logger
}

// NewRunInterventionCheckHandler creates a new RunInterventionCheckHandler.
func NewRunInterventionCheckHandler(deps RunInterventionCheckDeps, config RunInterventionCheckConfig) *RunInterventionCheckHandler {
	defaults := DefaultRunInterventionCheckConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.LockTTL <= 0 {
		config.LockTTL = defaults.LockTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RunInterventionCheckHandler{
		thresholds:   deps.Thresholds,
		alerts:       deps.Alerts,
		performances: deps.Performances,
		roster:       deps.Roster,
		calendar:     deps.Calendar,
		publisher:    deps.Publisher,
		lock:         deps.Lock,
		stats:        deps.Stats,
		logger:       logger.With("component", "intervention_check"),
		config:       config,
	}
}

// thresholdWindow pairs a threshold snapshot with its review window.
type thresholdWindow struct {
	threshold intervention.Threshold
	lo, hi    int
}

// Handle executes a check run.
func (h *RunInterventionCheckHandler) Handle(ctx context.Context, cmd RunInterventionCheckCommand) (*RunInterventionCheckResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &RunInterventionCheckResult{StartedAt: start}
	defer func() { result.Duration = time.Since(start) }()

	// ─────────────────────────────────────────────────────────────────────────
	// Serialize full sweeps across instances
	// ─────────────────────────────────────────────────────────────────────────
	if cmd.StudentID == nil && h.lock != nil {
		release, acquired, err := h.lock.TryAcquire(ctx, h.config.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("run_intervention_check: acquire lock: %w", err)
		}
		if !acquired {
			h.logger.Info("check run skipped, another run in progress")
			result.Skipped = true
			return result, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				h.logger.Warn("failed to release run lock", "error", err)
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Snapshot thresholds and resolve the week
	// ─────────────────────────────────────────────────────────────────────────
	thresholds, err := h.thresholds.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("run_intervention_check: load thresholds: %w", err)
	}
	result.Thresholds = len(thresholds)

	result.Week = h.calendar.CurrentWeek(cmd.Now)
	if result.Week == 0 {
		h.logger.Info("outside academic year, nothing to check", "now", cmd.Now)
		return result, nil
	}
	if len(thresholds) == 0 {
		h.logger.Info("no active thresholds")
		return result, nil
	}

	windows := make([]thresholdWindow, 0, len(thresholds))
	widest := result.Week
	for _, t := range thresholds {
		lo, hi := h.calendar.Window(result.Week, t.WeeksToReview)
		windows = append(windows, thresholdWindow{threshold: t, lo: lo, hi: hi})
		if lo < widest {
			widest = lo
		}
	}

	students, err := h.students(ctx, cmd.StudentID)
	if err != nil {
		return nil, fmt.Errorf("run_intervention_check: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Evaluate students on a bounded pool
	// ─────────────────────────────────────────────────────────────────────────
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Concurrency)

	for _, s := range students {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			created, err := h.checkStudent(gctx, cmd, s, windows, widest, result.Week)

			mu.Lock()
			defer mu.Unlock()
			result.Alerts = append(result.Alerts, created...)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				h.logger.Error("student check failed", "student_id", s.ID, "error", err)
				result.Errors = append(result.Errors, StudentCheckError{StudentID: s.ID, Err: err})
				return nil
			}
			result.Evaluated++
			return nil
		})
	}

	waitErr := g.Wait()

	if len(result.Alerts) > 0 && h.stats != nil {
		if err := h.stats.InvalidateAlertStats(context.WithoutCancel(ctx)); err != nil {
			h.logger.Warn("failed to invalidate alert stats", "error", err)
		}
	}

	h.publish(shared.CheckCompletedEvent{
		BaseEvent:     shared.NewBaseEvent(shared.EventCheckCompleted, "intervention_check", cmd.Now).WithCorrelationID(cmd.CorrelationID),
		Week:          result.Week,
		AlertsCreated: len(result.Alerts),
		Evaluated:     result.Evaluated,
		Failed:        len(result.Errors),
		Duration:      time.Since(start),
	})

	h.logger.Info("check run completed",
		"week", result.Week,
		"students", len(students),
		"evaluated", result.Evaluated,
		"failed", len(result.Errors),
		"alerts_created", len(result.Alerts),
	)

	if waitErr != nil {
		return result, fmt.Errorf("run_intervention_check: %w", waitErr)
	}
	return result, nil
}

func (h *RunInterventionCheckHandler) students(ctx context.Context, id *uuid.UUID) ([]intervention.StudentRef, error) {
	if id != nil {
		s, err := h.roster.GetStudent(ctx, *id)
		if err != nil {
			return nil, fmt.Errorf("load student: %w", err)
		}
		return []intervention.StudentRef{s}, nil
	}
	students, err := h.roster.ActiveStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("load students: %w", err)
	}
	return students, nil
}

// checkStudent evaluates one student against every threshold. Alerts created
// before an error are still returned.
func (h *RunInterventionCheckHandler) checkStudent(
	ctx context.Context,
	cmd RunInterventionCheckCommand,
	s intervention.StudentRef,
	windows []thresholdWindow,
	lo, hi int,
) ([]intervention.Alert, error) {
	perfs, err := h.performances.ListWeekly(ctx, []uuid.UUID{s.ID}, h.weekRange(lo, hi))
	if err != nil {
		return nil, fmt.Errorf("load weekly performance: %w", err)
	}
	if len(perfs) == 0 {
		return nil, nil
	}

	var created []intervention.Alert
	for _, w := range windows {
		for _, f := range intervention.Evaluate(w.threshold, w.lo, w.hi, perfs) {
			active, err := h.alerts.HasActive(ctx, s.ID, f.Subject, w.threshold.ID)
			if err != nil {
				return created, fmt.Errorf("dedup gate: %w", err)
			}
			if active {
				continue
			}

			alert, entry := intervention.NewAlert(s, w.threshold, f, cmd.Now)
			ok, err := h.alerts.CreateIfNoActive(ctx, alert, entry)
			if err != nil {
				return created, fmt.Errorf("store alert: %w", err)
			}
			if !ok {
				// A concurrent writer created the same alert first.
				continue
			}

			created = append(created, alert)
			h.logger.Info("alert created",
				"alert_id", alert.ID,
				"student_code", s.Code,
				"subject", alert.Subject,
				"weeks_failing", alert.WeeksFailing,
			)
			h.publish(shared.AlertCreatedEvent{
				BaseEvent:      shared.NewBaseEvent(shared.EventAlertCreated, alert.ID.String(), cmd.Now).WithCorrelationID(cmd.CorrelationID),
				StudentID:      s.ID.String(),
				StudentName:    s.FullName,
				ClassID:        uuidString(s.ClassID),
				ThresholdID:    w.threshold.ID.String(),
				Subject:        alert.Subject,
				Priority:       alert.Priority.String(),
				CurrentAverage: alert.CurrentAverage,
				WeeksFailing:   alert.WeeksFailing,
				NotifyTeacher:  w.threshold.NotifyTeacher,
			})
		}
	}
	return created, nil
}

// weekRange bounds [lo, hi] by the dates of this academic year.
func (h *RunInterventionCheckHandler) weekRange(lo, hi int) intervention.WeekRange {
	r := intervention.WeekRange{From: lo, To: hi}
	if w, ok := h.calendar.WeekInfo(lo); ok {
		r.Start = w.Start
	}
	if w, ok := h.calendar.WeekInfo(hi); ok {
		r.End = w.End
	}
	return r
}

func (h *RunInterventionCheckHandler) publish(event shared.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(event); err != nil {
		h.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
