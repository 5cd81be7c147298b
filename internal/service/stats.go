package service

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"example.com/depot/services/bagtrack/internal/cache"
	"example.com/depot/services/bagtrack/internal/metrics"
	"example.com/depot/services/bagtrack/internal/model"
	"example.com/depot/services/bagtrack/internal/repository"
)

// StatisticsService maintains the single materialized statistics row and
// serves dashboard reads through a Redis layer.
type StatisticsService struct {
	db    *gorm.DB
	cache cache.CacheClient
}

// NewStatisticsService creates a new statistics service
func NewStatisticsService(db *gorm.DB, cacheClient cache.CacheClient) *StatisticsService {
	return &StatisticsService{
		db:    db,
		cache: cacheClient,
	}
}

// recentWindowStart returns the start of the current UTC day, the window
// used for the "today's scans" count.
func recentWindowStart() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

// Refresh recomputes the statistics row from aggregate queries and
// overwrites it in its own transaction, then drops the Redis snapshot.
func (s *StatisticsService) Refresh(ctx context.Context) error {
	startTime := time.Now()
	collector := metrics.GetMetricsCollector()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.RefreshTx(ctx, tx)
	})
	if err != nil {
		collector.Increment(metrics.CounterStatsRefreshErrors)
		return err
	}

	if err := s.cache.InvalidateStatistics(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to invalidate cached statistics")
	}

	collector.RecordOperation(metrics.OperationRefresh, time.Since(startTime))
	return nil
}

// RefreshTx recomputes and overwrites the statistics row inside the
// caller's transaction, so the refresh commits atomically with it.
func (s *StatisticsService) RefreshTx(ctx context.Context, tx *gorm.DB) error {
	statsRepo := repository.NewStatisticsRepository(tx)

	stats, err := statsRepo.Recompute(ctx, recentWindowStart())
	if err != nil {
		return err
	}

	if err := statsRepo.Upsert(ctx, stats); err != nil {
		return err
	}

	metrics.GetMetricsCollector().SetGauge(metrics.GaugeOpenBills, float64(stats.OpenBills))
	return nil
}

// RefreshAfterMutation runs a best-effort refresh after a committed
// mutation. A refresh failure must never fail the mutation that triggered
// it, so errors are retried once and then only logged.
func (s *StatisticsService) RefreshAfterMutation(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		logrus.WithError(err).Warn("Statistics refresh failed, retrying once")
		if err := s.Refresh(ctx); err != nil {
			logrus.WithError(err).Error("Statistics refresh failed after retry")
		}
	}
}

// Get returns the statistics snapshot, Redis first, cache row on miss.
// A missing row (fresh database) triggers one synchronous refresh.
func (s *StatisticsService) Get(ctx context.Context) (*model.StatisticsCache, error) {
	stats, err := s.cache.GetStatistics(ctx)
	if err == nil {
		return stats, nil
	}
	if err != redis.Nil {
		logrus.WithError(err).Warn("Failed to get statistics from cache")
	}

	statsRepo := repository.NewStatisticsRepository(s.db)
	stats, err = statsRepo.Get(ctx)
	if err == repository.ErrNotFound {
		if err := s.Refresh(ctx); err != nil {
			return nil, err
		}
		stats, err = statsRepo.Get(ctx)
	}
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetStatistics(ctx, stats); err != nil {
		logrus.WithError(err).Warn("Failed to cache statistics")
	}

	return stats, nil
}
