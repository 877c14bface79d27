package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Timmutegi/ae-tuition-backend/internal/domain/intervention"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ALERT STATS QUERY
// Counts alerts by status for the actor's visible classes. Results are cached
// briefly; write paths invalidate the cache.
// ══════════════════════════════════════════════════════════════════════════════

// AlertStats is the dashboard summary.
type AlertStats struct {
	Pending        int `json:"pending"`
	InProgress     int `json:"in_progress"`
	Resolved       int `json:"resolved"`
	Dismissed      int `json:"dismissed"`
	Total          int `json:"total"`
	StudentsAtRisk int `json:"students_at_risk"`
}

// StatsCache stores computed stats by scope key.
type StatsCache interface {
	GetAlertStats(ctx context.Context, scope string, dest *AlertStats) (bool, error)
	SetAlertStats(ctx context.Context, scope string, stats AlertStats, ttl time.Duration) error
}

// GetAlertStatsHandler handles stats requests.
type GetAlertStatsHandler struct {
	alerts intervention.AlertRepository
	access *intervention.AccessPolicy
	cache  StatsCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewGetAlertStatsHandler creates a new GetAlertStatsHandler. cache may be nil.
func NewGetAlertStatsHandler(
	alerts intervention.AlertRepository,
	access *intervention.AccessPolicy,
	cache StatsCache,
	ttl time.Duration,
	logger *slog.Logger,
) *GetAlertStatsHandler {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GetAlertStatsHandler{alerts: alerts, access: access, cache: cache, ttl: ttl, logger: logger}
}

// Handle returns stats for the actor's scope.
func (h *GetAlertStatsHandler) Handle(ctx context.Context, actor intervention.Actor) (*AlertStats, error) {
	classIDs, all, err := h.access.ClassScope(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("get_alert_stats: %w", err)
	}
	if !all && len(classIDs) == 0 {
		return &AlertStats{}, nil
	}

	scope := "all"
	if !all {
		scope = "teacher:" + actor.UserID.String()
	}

	if h.cache != nil {
		var cached AlertStats
		hit, err := h.cache.GetAlertStats(ctx, scope, &cached)
		if err != nil {
			h.logger.Warn("stats cache read failed", "scope", scope, "error", err)
		} else if hit {
			return &cached, nil
		}
	}

	counts, err := h.alerts.CountByStatus(ctx, classIDs)
	if err != nil {
		return nil, fmt.Errorf("get_alert_stats: %w", err)
	}
	atRisk, err := h.alerts.CountStudentsAtRisk(ctx, classIDs)
	if err != nil {
		return nil, fmt.Errorf("get_alert_stats: %w", err)
	}

	stats := AlertStats{
		Pending:        counts[intervention.StatusPending],
		InProgress:     counts[intervention.StatusInProgress],
		Resolved:       counts[intervention.StatusResolved],
		Dismissed:      counts[intervention.StatusDismissed],
		StudentsAtRisk: atRisk,
	}
	stats.Total = stats.Pending + stats.InProgress + stats.Resolved + stats.Dismissed

	if h.cache != nil {
		if err := h.cache.SetAlertStats(ctx, scope, stats, h.ttl); err != nil {
			h.logger.Warn("stats cache write failed", "scope", scope, "error", err)
		}
	}
	return &stats, nil
}
