package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/depot/services/bagtrack/internal/db"
	"example.com/depot/services/bagtrack/internal/model"
)

// LinkRepository defines the interface for link repository
type LinkRepository interface {
	FindActiveByChildID(ctx context.Context, childBagID string) (*model.Link, error)
	FindActiveByParentID(ctx context.Context, parentBagID string) ([]*model.Link, error)
	CountActiveByParentID(ctx context.Context, parentBagID string) (int64, error)
	CountActiveByParentIDs(ctx context.Context, parentBagIDs []string) (int64, error)
	Create(ctx context.Context, link *model.Link) error
	DeleteByID(ctx context.Context, id string) error
}

// linkRepository implements LinkRepository
type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

// FindActiveByChildID finds the active link for a child bag, if any
func (r *linkRepository) FindActiveByChildID(ctx context.Context, childBagID string) (*model.Link, error) {
	var link model.Link
	err := r.db.WithContext(ctx).Where("child_bag_id = ?", childBagID).First(&link).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}

// FindActiveByParentID returns an immutable snapshot of the parent's active links
func (r *linkRepository) FindActiveByParentID(ctx context.Context, parentBagID string) ([]*model.Link, error) {
	var links []*model.Link
	err := r.db.WithContext(ctx).
		Where("parent_bag_id = ?", parentBagID).
		Order("created_at").
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	return links, nil
}

// CountActiveByParentID counts the active links of a parent bag
func (r *linkRepository) CountActiveByParentID(ctx context.Context, parentBagID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("parent_bag_id = ?", parentBagID).
		Count(&count).Error
	return count, err
}

// CountActiveByParentIDs counts active links across a set of parent bags
func (r *linkRepository) CountActiveByParentIDs(ctx context.Context, parentBagIDs []string) (int64, error) {
	if len(parentBagIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Link{}).
		Where("parent_bag_id IN ?", parentBagIDs).
		Count(&count).Error
	return count, err
}

// Create creates a new link
func (r *linkRepository) Create(ctx context.Context, link *model.Link) error {
	if link.UUID == "" {
		link.UUID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(link).Error
}

// DeleteByID deletes a link row, ending the active relationship
func (r *linkRepository) DeleteByID(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("uuid = ?", id).Delete(&model.Link{}).Error
}
