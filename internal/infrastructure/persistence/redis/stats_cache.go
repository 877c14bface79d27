package redis

import (
	"context"
	"errors"
	"time"

	"github.com/Timmutegi/ae-tuition-backend/internal/application/query"
)

// StatsCache keeps computed alert statistics per access scope.
type StatsCache struct {
	cache *Cache
}

// NewStatsCache creates a new StatsCache.
func NewStatsCache(cache *Cache) *StatsCache {
	return &StatsCache{cache: cache}
}

// GetAlertStats loads cached stats for scope into dest. hit is false on a miss.
func (s *StatsCache) GetAlertStats(ctx context.Context, scope string, dest *query.AlertStats) (bool, error) {
	err := s.cache.Get(ctx, StatsKey(scope), dest)
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetAlertStats stores stats for scope.
func (s *StatsCache) SetAlertStats(ctx context.Context, scope string, stats query.AlertStats, ttl time.Duration) error {
	return s.cache.Set(ctx, StatsKey(scope), stats, ttl)
}

// InvalidateAlertStats drops every cached scope.
func (s *StatsCache) InvalidateAlertStats(ctx context.Context) error {
	return s.cache.DeleteByPattern(ctx, PrefixStats+"*")
}
