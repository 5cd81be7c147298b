package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/depot/services/bagtrack/internal/db"
	"example.com/depot/services/bagtrack/internal/model"
)

// MutationHistoryRepository defines the interface for the append-only
// mutation history consumed by the undo window and the audit publisher.
type MutationHistoryRepository interface {
	Append(ctx context.Context, record *model.MutationRecord) error
	LatestLinkByActor(ctx context.Context, actor string, since time.Time) (*model.MutationRecord, error)
	MarkUndone(ctx context.Context, id string) error
	FindUnpublished(ctx context.Context, limit int) ([]*model.MutationRecord, error)
	MarkPublished(ctx context.Context, id string) error
	FindByTimeRange(ctx context.Context, start, end time.Time) ([]*model.MutationRecord, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// mutationHistoryRepository implements MutationHistoryRepository
type mutationHistoryRepository struct {
	db *gorm.DB
}

// NewMutationHistoryRepository creates a new mutation history repository
func NewMutationHistoryRepository(db *gorm.DB) MutationHistoryRepository {
	return &mutationHistoryRepository{db: db}
}

// Append writes a history entry. Entries are never updated except for the
// undone and published flags.
func (r *mutationHistoryRepository) Append(ctx context.Context, record *model.MutationRecord) error {
	if record.UUID == "" {
		record.UUID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(record).Error
}

// LatestLinkByActor finds the actor's most recent link entry inside the
// window, regardless of its undone flag. The undo service decides whether
// an undone entry means "already reversed".
func (r *mutationHistoryRepository) LatestLinkByActor(ctx context.Context, actor string, since time.Time) (*model.MutationRecord, error) {
	var record model.MutationRecord
	err := r.db.WithContext(ctx).
		Where("actor = ? AND action = ? AND created_at >= ?", actor, model.LinkAction, since).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// MarkUndone flags a history entry as undone so it cannot be undone twice
func (r *mutationHistoryRepository) MarkUndone(ctx context.Context, id string) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.MutationRecord{}).
		Where("uuid = ?", id).
		Updates(map[string]interface{}{"undone": true, "undone_at": now}).Error
}

// FindUnpublished returns history entries not yet handed to the audit collaborator
func (r *mutationHistoryRepository) FindUnpublished(ctx context.Context, limit int) ([]*model.MutationRecord, error) {
	var records []*model.MutationRecord
	err := r.db.WithContext(ctx).
		Where("published = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// MarkPublished marks a history entry as published
func (r *mutationHistoryRepository) MarkPublished(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&model.MutationRecord{}).
		Where("uuid = ?", id).
		Update("published", true).Error
}

// FindByTimeRange returns history entries inside a time range
func (r *mutationHistoryRepository) FindByTimeRange(ctx context.Context, start, end time.Time) ([]*model.MutationRecord, error) {
	var records []*model.MutationRecord
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at <= ?", start, end).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CountSince counts history entries created after the given instant
func (r *mutationHistoryRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.MutationRecord{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}
