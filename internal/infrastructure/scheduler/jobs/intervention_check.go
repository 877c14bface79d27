// Package jobs contains the worker's scheduled jobs.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Timmutegi/ae-tuition-backend/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTERVENTION CHECK JOB
// ══════════════════════════════════════════════════════════════════════════════

// InterventionCheckJobName is the scheduler name of the nightly check.
const InterventionCheckJobName = "intervention_check"

// CheckRunner is satisfied by *command.RunInterventionCheckHandler.
type CheckRunner interface {
	Handle(ctx context.Context, cmd command.RunInterventionCheckCommand) (*command.RunInterventionCheckResult, error)
}

// InterventionCheckConfig contains configuration for the check job.
type InterventionCheckConfig struct {
	// Timeout is the maximum duration of one sweep.
	Timeout time.Duration

	// Clock supplies the reference instant. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultInterventionCheckConfig returns sensible defaults.
func DefaultInterventionCheckConfig() InterventionCheckConfig {
	return InterventionCheckConfig{
		Timeout: 10 * time.Minute,
		Clock:   time.Now,
	}
}

// CheckRunStats summarises the most recent sweep.
type CheckRunStats struct {
	CorrelationID string        `json:"correlation_id"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Week          int           `json:"week"`
	Evaluated     int           `json:"evaluated"`
	Thresholds    int           `json:"thresholds"`
	AlertsCreated int           `json:"alerts_created"`
	Failed        int           `json:"failed"`
	Skipped       bool          `json:"skipped"`
	Error         string        `json:"error,omitempty"`
}

// InterventionCheckJob runs the full intervention sweep.
type InterventionCheckJob struct {
	runner CheckRunner
	logger *slog.Logger
	config InterventionCheckConfig

	lastStats atomic.Pointer[CheckRunStats]
}

// NewInterventionCheckJob creates a new intervention check job.
func NewInterventionCheckJob(runner CheckRunner, logger *slog.Logger, config InterventionCheckConfig) *InterventionCheckJob {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultInterventionCheckConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}

	return &InterventionCheckJob{
		runner: runner,
		logger: logger.With("job", InterventionCheckJobName),
		config: config,
	}
}

// Name returns the job name.
func (j *InterventionCheckJob) Name() string {
	return InterventionCheckJobName
}

// Description returns a human-readable description.
func (j *InterventionCheckJob) Description() string {
	return "Evaluates the five-week review window for every active student and raises intervention alerts"
}

// Run executes one sweep. Per-student failures are logged and counted but do
// not fail the job.
func (j *InterventionCheckJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	stats := &CheckRunStats{
		CorrelationID: uuid.NewString(),
		StartedAt:     j.config.Clock(),
	}
	defer func() { j.lastStats.Store(stats) }()

	result, err := j.runner.Handle(ctx, command.RunInterventionCheckCommand{
		Now:           stats.StartedAt,
		CorrelationID: stats.CorrelationID,
	})
	if err != nil {
		stats.Error = err.Error()
		return fmt.Errorf("intervention check: %w", err)
	}

	stats.Duration = result.Duration
	stats.Week = result.Week
	stats.Evaluated = result.Evaluated
	stats.Thresholds = result.Thresholds
	stats.AlertsCreated = len(result.Alerts)
	stats.Failed = len(result.Errors)
	stats.Skipped = result.Skipped

	if result.Skipped {
		j.logger.Info("intervention check skipped: another run holds the lock",
			"correlation_id", stats.CorrelationID)
		return nil
	}

	for _, se := range result.Errors {
		j.logger.Warn("student check failed",
			"correlation_id", stats.CorrelationID,
			"student_id", se.StudentID,
			"error", se.Err,
		)
	}

	j.logger.Info("intervention check finished",
		"correlation_id", stats.CorrelationID,
		"week", stats.Week,
		"evaluated", stats.Evaluated,
		"thresholds", stats.Thresholds,
		"alerts_created", stats.AlertsCreated,
		"failed", stats.Failed,
		"duration", stats.Duration.String(),
	)
	return nil
}

// LastRunStats returns statistics from the latest run, or nil before the
// first run.
func (j *InterventionCheckJob) LastRunStats() *CheckRunStats {
	return j.lastStats.Load()
}
