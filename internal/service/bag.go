package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/depot/services/bagtrack/internal/model"
	"example.com/depot/services/bagtrack/internal/repository"
)

// BagService registers bags on first scan of an unseen QR code
type BagService struct {
	db          *gorm.DB
	stats       *StatisticsService
	lockTimeout time.Duration
}

// NewBagService creates a new bag service
func NewBagService(db *gorm.DB, stats *StatisticsService, lockTimeout time.Duration) *BagService {
	return &BagService{
		db:          db,
		stats:       stats,
		lockTimeout: lockTimeout,
	}
}

// CreateOrGet finds a bag by QR code or creates it with the given kind.
// A QR code already registered under the other kind is a kind mismatch;
// QR codes are immutable once assigned.
func (s *BagService) CreateOrGet(ctx context.Context, qr string, kind model.BagKind, actor string) (*model.Bag, bool, error) {
	qr, err := normalizeQR(qr)
	if err != nil {
		return nil, false, err
	}
	if err := validateActor(actor); err != nil {
		return nil, false, err
	}
	if kind != model.ParentBag && kind != model.ChildBag {
		return nil, false, ErrKindMismatch
	}

	var bag *model.Bag
	created := false

	err = runInTx(ctx, s.db, s.lockTimeout, func(tx *gorm.DB) error {
		var err error
		bag, created, err = resolveOrCreateBag(ctx, tx, qr, kind, actor)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.stats.RefreshAfterMutation(ctx)
	}

	return bag, created, nil
}

// resolveOrCreateBag loads a bag by QR or creates it inside the caller's
// transaction, enforcing kind consistency for existing codes.
func resolveOrCreateBag(ctx context.Context, tx *gorm.DB, qr string, kind model.BagKind, actor string) (*model.Bag, bool, error) {
	bags := repository.NewBagRepository(tx)

	bag, err := bags.FindByQR(ctx, qr)
	if err == nil {
		if bag.Kind != kind {
			return nil, false, ErrKindMismatch
		}
		return bag, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	bag = &model.Bag{
		QRCode:    qr,
		Kind:      kind,
		CreatedBy: actor,
	}
	if err := bags.Create(ctx, bag); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			// Another scan registered this code between the miss above and
			// the insert; adopt the winning row.
			existing, findErr := bags.FindByQR(ctx, qr)
			if findErr != nil {
				return nil, false, findErr
			}
			if existing.Kind != kind {
				return nil, false, ErrKindMismatch
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return bag, true, nil
}
