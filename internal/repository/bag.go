package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/depot/services/bagtrack/internal/db"
	"example.com/depot/services/bagtrack/internal/model"
)

// BagRepository defines the interface for bag repository
type BagRepository interface {
	FindByQR(ctx context.Context, qr string) (*model.Bag, error)
	FindByID(ctx context.Context, id string) (*model.Bag, error)
	LockByQR(ctx context.Context, qr string) (*model.Bag, error)
	Create(ctx context.Context, bag *model.Bag) error
}

// bagRepository implements BagRepository. It operates on whatever handle it
// was constructed with, so services pass their transaction to scope queries.
type bagRepository struct {
	db *gorm.DB
}

// NewBagRepository creates a new bag repository
func NewBagRepository(db *gorm.DB) BagRepository {
	return &bagRepository{db: db}
}

// FindByQR finds a bag by QR code
func (r *bagRepository) FindByQR(ctx context.Context, qr string) (*model.Bag, error) {
	var bag model.Bag
	err := r.db.WithContext(ctx).Where("qr_code = ?", qr).First(&bag).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &bag, nil
}

// FindByID finds a bag by UUID
func (r *bagRepository) FindByID(ctx context.Context, id string) (*model.Bag, error) {
	var bag model.Bag
	err := r.db.WithContext(ctx).Where("uuid = ?", id).First(&bag).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &bag, nil
}

// LockByQR loads a bag row under an exclusive row lock. Callers lock
// multiple bags in lexicographic QR order to keep lock acquisition
// deterministic across transactions.
func (r *bagRepository) LockByQR(ctx context.Context, qr string) (*model.Bag, error) {
	var bag model.Bag
	err := forUpdate(r.db.WithContext(ctx)).Where("qr_code = ?", qr).First(&bag).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &bag, nil
}

// Create creates a new bag. A concurrent insert of the same QR code is
// reported as ErrDuplicateKey; the insert skips on conflict rather than
// erroring so the surrounding transaction stays usable for a re-read.
func (r *bagRepository) Create(ctx context.Context, bag *model.Bag) error {
	if bag.UUID == "" {
		bag.UUID = uuid.New().String()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "qr_code"}},
			DoNothing: true,
		}).
		Create(bag)
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return ErrDuplicateKey
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateKey
	}
	return nil
}
