package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/depot/services/bagtrack/internal/db"
	"example.com/depot/services/bagtrack/internal/model"
)

// BillRepository defines the interface for bill repository
type BillRepository interface {
	FindByNumber(ctx context.Context, number string) (*model.Bill, error)
	LockByNumber(ctx context.Context, number string) (*model.Bill, error)
	Create(ctx context.Context, bill *model.Bill) error
	Save(ctx context.Context, bill *model.Bill) error

	IsAttached(ctx context.Context, billID, bagID string) (bool, error)
	AttachedBagIDs(ctx context.Context, billID string) ([]string, error)
	FindOpenBillForBag(ctx context.Context, bagID string) (*model.Bill, error)
	Attach(ctx context.Context, billBag *model.BillBag) error
	Detach(ctx context.Context, billID, bagID string) (bool, error)
}

// billRepository implements BillRepository
type billRepository struct {
	db *gorm.DB
}

// NewBillRepository creates a new bill repository
func NewBillRepository(db *gorm.DB) BillRepository {
	return &billRepository{db: db}
}

// FindByNumber finds a bill by its number
func (r *billRepository) FindByNumber(ctx context.Context, number string) (*model.Bill, error) {
	var bill model.Bill
	err := r.db.WithContext(ctx).Where("number = ?", number).First(&bill).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &bill, nil
}

// LockByNumber loads a bill row under an exclusive row lock. Bill locks are
// always taken before bag locks so transactions never cycle across tables.
func (r *billRepository) LockByNumber(ctx context.Context, number string) (*model.Bill, error) {
	var bill model.Bill
	err := forUpdate(r.db.WithContext(ctx)).Where("number = ?", number).First(&bill).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &bill, nil
}

// Create creates a new bill. A race on the unique bill number surfaces as
// ErrDuplicateKey so the service can report it as an existing bill.
func (r *billRepository) Create(ctx context.Context, bill *model.Bill) error {
	if bill.UUID == "" {
		bill.UUID = uuid.New().String()
	}
	err := r.db.WithContext(ctx).Create(bill).Error
	if err != nil && isDuplicateKey(err) {
		return ErrDuplicateKey
	}
	return err
}

// Save persists bill fields, including recomputed derived totals
func (r *billRepository) Save(ctx context.Context, bill *model.Bill) error {
	return r.db.WithContext(ctx).Save(bill).Error
}

// IsAttached checks whether a bag is attached to a bill
func (r *billRepository) IsAttached(ctx context.Context, billID, bagID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.BillBag{}).
		Where("bill_id = ? AND bag_id = ?", billID, bagID).
		Count(&count).Error
	return count > 0, err
}

// AttachedBagIDs returns the IDs of all parent bags attached to a bill
func (r *billRepository) AttachedBagIDs(ctx context.Context, billID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.BillBag{}).
		Where("bill_id = ?", billID).
		Order("created_at").
		Pluck("bag_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FindOpenBillForBag finds the open bill a bag is currently attached to,
// if any. Closed bills keep their attachments and are ignored here.
func (r *billRepository) FindOpenBillForBag(ctx context.Context, bagID string) (*model.Bill, error) {
	var bill model.Bill
	err := r.db.WithContext(ctx).
		Joins("JOIN bill_bags ON bill_bags.bill_id = bills.uuid").
		Where("bill_bags.bag_id = ? AND bills.status = ?", bagID, model.BillStatusOpen).
		First(&bill).Error
	if err != nil {
		if db.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &bill, nil
}

// Attach creates a bill-bag association
func (r *billRepository) Attach(ctx context.Context, billBag *model.BillBag) error {
	if billBag.UUID == "" {
		billBag.UUID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(billBag).Error
}

// Detach removes a bill-bag association and reports whether a row existed
func (r *billRepository) Detach(ctx context.Context, billID, bagID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("bill_id = ? AND bag_id = ?", billID, bagID).
		Delete(&model.BillBag{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
