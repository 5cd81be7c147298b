package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/depot/services/bagtrack/internal/db"
	"example.com/depot/services/bagtrack/internal/model"
)

// StatisticsRepository defines the interface for the statistics cache row
type StatisticsRepository interface {
	Recompute(ctx context.Context, recentSince time.Time) (*model.StatisticsCache, error)
	Upsert(ctx context.Context, stats *model.StatisticsCache) error
	Get(ctx context.Context) (*model.StatisticsCache, error)
}

// statisticsRepository implements StatisticsRepository
type statisticsRepository struct {
	db *gorm.DB
}

// NewStatisticsRepository creates a new statistics repository
func NewStatisticsRepository(db *gorm.DB) StatisticsRepository {
	return &statisticsRepository{db: db}
}

// Recompute derives fresh aggregate counts from the entity tables
func (r *statisticsRepository) Recompute(ctx context.Context, recentSince time.Time) (*model.StatisticsCache, error) {
	tx := r.db.WithContext(ctx)
	stats := &model.StatisticsCache{
		ID:          model.StatisticsCacheID,
		RefreshedAt: time.Now(),
	}

	if err := tx.Model(&model.Bag{}).Count(&stats.TotalBags).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&model.Bag{}).Where("kind = ?", model.ParentBag).Count(&stats.ParentBags).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&model.Bag{}).Where("kind = ?", model.ChildBag).Count(&stats.ChildBags).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&model.Bill{}).Count(&stats.TotalBills).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&model.Bill{}).Where("status = ?", model.BillStatusOpen).Count(&stats.OpenBills).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&model.MutationRecord{}).Where("created_at >= ?", recentSince).Count(&stats.RecentScans).Error; err != nil {
		return nil, err
	}

	return stats, nil
}

// Upsert overwrites the single cache row
func (r *statisticsRepository) Upsert(ctx context.Context, stats *model.StatisticsCache) error {
	stats.ID = model.StatisticsCacheID
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(stats).Error
}

// Get reads the cache row
func (r *statisticsRepository) Get(ctx context.Context) (*model.StatisticsCache, error) {
	var stats model.StatisticsCache
	err := r.db.WithContext(ctx).Where("id = ?", model.StatisticsCacheID).First(&stats).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &stats, nil
}
