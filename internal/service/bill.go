package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"example.com/depot/services/bagtrack/internal/cache"
	"example.com/depot/services/bagtrack/internal/metrics"
	"example.com/depot/services/bagtrack/internal/model"
	"example.com/depot/services/bagtrack/internal/repository"
)

// BillService aggregates parent bags onto bills and keeps the bills'
// derived totals consistent with the link table. Aggregator transactions
// take the bill lock before bag locks; the linker reaches the bill lock
// after its bag locks, and a cycle between the two orders is broken by the
// database's deadlock detector and surfaces as a retryable ErrBusy.
type BillService struct {
	db             *gorm.DB
	stats          *StatisticsService
	cache          cache.CacheClient
	unitWeight     float64
	parentCapacity int
	lockTimeout    time.Duration
}

// NewBillService creates a new bill service
func NewBillService(
	db *gorm.DB,
	stats *StatisticsService,
	cacheClient cache.CacheClient,
	unitWeight float64,
	parentCapacity int,
	lockTimeout time.Duration,
) *BillService {
	return &BillService{
		db:             db,
		stats:          stats,
		cache:          cacheClient,
		unitWeight:     unitWeight,
		parentCapacity: parentCapacity,
		lockTimeout:    lockTimeout,
	}
}

// Create opens a new bill with a target parent-bag count
func (s *BillService) Create(ctx context.Context, number string, targetBagCount int, actor string) (*model.Bill, error) {
	number = strings.TrimSpace(number)
	if number == "" || targetBagCount <= 0 {
		return nil, ErrInvalidBill
	}
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	bill := &model.Bill{
		Number:         number,
		TargetBagCount: targetBagCount,
		Status:         model.BillStatusOpen,
		CreatedBy:      actor,
		// Expected weight is fixed by the target count, not by how many
		// parents are attached so far.
		ExpectedWeight: float64(targetBagCount) * float64(s.parentCapacity) * s.unitWeight,
	}

	err := runInTx(ctx, s.db, s.lockTimeout, func(tx *gorm.DB) error {
		bills := repository.NewBillRepository(tx)
		if _, err := bills.FindByNumber(ctx, number); err == nil {
			return ErrBillExists
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err := bills.Create(ctx, bill); err != nil {
			if errors.Is(err, repository.ErrDuplicateKey) {
				return ErrBillExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.stats.RefreshAfterMutation(ctx)
	return bill, nil
}

// Get returns a bill by number, Redis first
func (s *BillService) Get(ctx context.Context, number string) (*model.Bill, error) {
	bill, err := s.cache.GetBill(ctx, number)
	if err == nil {
		return bill, nil
	}
	if err != redis.Nil {
		logrus.WithError(err).Warn("Failed to get bill from cache")
	}

	bill, err = repository.NewBillRepository(s.db).FindByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBillNotFound
		}
		return nil, err
	}

	if err := s.cache.SetBill(ctx, bill); err != nil {
		logrus.WithError(err).Warn("Failed to cache bill")
	}

	return bill, nil
}

// AttachParentToBill attaches a parent bag to an open bill and recomputes
// the bill's derived totals in the same transaction. Attaching the same
// bag to the same bill twice is an idempotent success.
func (s *BillService) AttachParentToBill(ctx context.Context, billNumber, parentQR, actor string) (*AttachResult, error) {
	parentQR, err := normalizeQR(parentQR)
	if err != nil {
		return nil, err
	}
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	startTime := time.Now()
	collector := metrics.GetMetricsCollector()

	result := &AttachResult{}
	err = runInTx(ctx, s.db, s.lockTimeout, func(tx *gorm.DB) error {
		bills := repository.NewBillRepository(tx)
		bags := repository.NewBagRepository(tx)

		bill, err := bills.LockByNumber(ctx, billNumber)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrBillNotFound
			}
			return err
		}
		result.Bill = bill

		if !bill.Open() {
			return ErrBillClosed
		}

		bag, err := bags.FindByQR(ctx, parentQR)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrBagNotFound
			}
			return err
		}
		if bag.Kind != model.ParentBag {
			return ErrKindMismatch
		}
		if _, err := bags.LockByQR(ctx, parentQR); err != nil {
			return err
		}

		attached, err := bills.IsAttached(ctx, bill.UUID, bag.UUID)
		if err != nil {
			return err
		}
		if attached {
			result.AlreadyAttached = true
			return nil
		}

		other, err := bills.FindOpenBillForBag(ctx, bag.UUID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if other != nil {
			return &ParentOnOtherBillError{BillNumber: other.Number}
		}

		attachedIDs, err := bills.AttachedBagIDs(ctx, bill.UUID)
		if err != nil {
			return err
		}
		if len(attachedIDs) >= bill.TargetBagCount {
			return ErrBillAtCapacity
		}

		if err := bills.Attach(ctx, &model.BillBag{BillID: bill.UUID, BagID: bag.UUID}); err != nil {
			return err
		}

		detail, _ := json.Marshal(billDetail{
			BillID:       bill.UUID,
			BagID:        bag.UUID,
			BagCountPrev: len(attachedIDs),
			BagCountNext: len(attachedIDs) + 1,
		})
		history := repository.NewMutationHistoryRepository(tx)
		if err := history.Append(ctx, &model.MutationRecord{
			Actor:      actor,
			Action:     model.AttachAction,
			ParentQR:   bag.QRCode,
			BillNumber: bill.Number,
			Detail:     detail,
		}); err != nil {
			return err
		}

		return recomputeBillTotals(ctx, tx, bill, s.unitWeight, s.parentCapacity)
	})
	if err != nil {
		if errors.Is(err, ErrBusy) {
			collector.Increment(metrics.CounterBusyRejections)
		} else if IsConflict(err) {
			collector.Increment(metrics.CounterConflicts)
		}
		return nil, err
	}

	if !result.AlreadyAttached {
		collector.Increment(metrics.CounterBillAttaches)
		s.invalidateBill(ctx, billNumber)
		s.stats.RefreshAfterMutation(ctx)
	}
	collector.RecordOperation(metrics.OperationAttach, time.Since(startTime))

	return result, nil
}

// DetachParentFromBill removes a parent bag from an open bill and
// recomputes the bill's derived totals. Detaching a bag that is not
// attached is a no-op result, not an error.
func (s *BillService) DetachParentFromBill(ctx context.Context, billNumber, parentQR, actor string) (*DetachResult, error) {
	parentQR, err := normalizeQR(parentQR)
	if err != nil {
		return nil, err
	}
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	startTime := time.Now()
	collector := metrics.GetMetricsCollector()

	result := &DetachResult{}
	err = runInTx(ctx, s.db, s.lockTimeout, func(tx *gorm.DB) error {
		bills := repository.NewBillRepository(tx)
		bags := repository.NewBagRepository(tx)

		bill, err := bills.LockByNumber(ctx, billNumber)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrBillNotFound
			}
			return err
		}
		result.Bill = bill

		if !bill.Open() {
			return ErrBillClosed
		}

		bag, err := bags.FindByQR(ctx, parentQR)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil // unknown bag, nothing attached
			}
			return err
		}
		if _, err := bags.LockByQR(ctx, parentQR); err != nil {
			return err
		}

		attachedIDs, err := bills.AttachedBagIDs(ctx, bill.UUID)
		if err != nil {
			return err
		}

		removed, err := bills.Detach(ctx, bill.UUID, bag.UUID)
		if err != nil {
			return err
		}
		if !removed {
			return nil
		}
		result.Detached = true

		detail, _ := json.Marshal(billDetail{
			BillID:       bill.UUID,
			BagID:        bag.UUID,
			BagCountPrev: len(attachedIDs),
			BagCountNext: len(attachedIDs) - 1,
		})
		history := repository.NewMutationHistoryRepository(tx)
		if err := history.Append(ctx, &model.MutationRecord{
			Actor:      actor,
			Action:     model.DetachAction,
			ParentQR:   bag.QRCode,
			BillNumber: bill.Number,
			Detail:     detail,
		}); err != nil {
			return err
		}

		return recomputeBillTotals(ctx, tx, bill, s.unitWeight, s.parentCapacity)
	})
	if err != nil {
		if errors.Is(err, ErrBusy) {
			collector.Increment(metrics.CounterBusyRejections)
		} else if IsConflict(err) {
			collector.Increment(metrics.CounterConflicts)
		}
		return nil, err
	}

	if result.Detached {
		collector.Increment(metrics.CounterBillDetaches)
		s.invalidateBill(ctx, billNumber)
		s.stats.RefreshAfterMutation(ctx)
	}
	collector.RecordOperation(metrics.OperationDetach, time.Since(startTime))

	return result, nil
}

// CloseBill finalizes a bill. Derived totals are recomputed one last time
// and then freeze; further attach/detach calls fail with ErrBillClosed.
func (s *BillService) CloseBill(ctx context.Context, billNumber string) (*model.Bill, error) {
	var bill *model.Bill
	err := runInTx(ctx, s.db, s.lockTimeout, func(tx *gorm.DB) error {
		bills := repository.NewBillRepository(tx)

		var err error
		bill, err = bills.LockByNumber(ctx, billNumber)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrBillNotFound
			}
			return err
		}

		if !bill.Open() {
			return ErrBillAlreadyClosed
		}

		if err := recomputeBillTotals(ctx, tx, bill, s.unitWeight, s.parentCapacity); err != nil {
			return err
		}

		now := time.Now()
		bill.Status = model.BillStatusClosed
		bill.ClosedAt = &now
		return bills.Save(ctx, bill)
	})
	if err != nil {
		return nil, err
	}

	metrics.GetMetricsCollector().Increment(metrics.CounterBillsClosed)
	s.invalidateBill(ctx, billNumber)
	s.stats.RefreshAfterMutation(ctx)

	return bill, nil
}

// invalidateBill drops the cached bill after a mutation
func (s *BillService) invalidateBill(ctx context.Context, number string) {
	if err := s.cache.InvalidateBill(ctx, number); err != nil {
		logrus.WithError(err).Warn("Failed to invalidate cached bill")
	}
}

// recomputeBillTotals rederives a bill's counts and weights from the
// BillBag and Link tables inside the caller's transaction. Actual weight
// counts live links; expected weight always multiplies the TARGET parent
// count by the full per-parent capacity, never the live attached count.
func recomputeBillTotals(ctx context.Context, tx *gorm.DB, bill *model.Bill, unitWeight float64, parentCapacity int) error {
	bills := repository.NewBillRepository(tx)
	links := repository.NewLinkRepository(tx)

	attachedIDs, err := bills.AttachedBagIDs(ctx, bill.UUID)
	if err != nil {
		return err
	}

	childCount, err := links.CountActiveByParentIDs(ctx, attachedIDs)
	if err != nil {
		return err
	}

	bill.LinkedBagCount = len(attachedIDs)
	bill.ChildBagCount = int(childCount)
	bill.ActualWeight = float64(childCount) * unitWeight
	bill.ExpectedWeight = float64(bill.TargetBagCount) * float64(parentCapacity) * unitWeight

	return bills.Save(ctx, bill)
}

// recomputeOpenBillForParent refreshes the derived totals of the open bill
// a parent bag is attached to, if any. Called by the linker so link and
// unlink mutations keep bill totals transactionally consistent.
func recomputeOpenBillForParent(ctx context.Context, tx *gorm.DB, parentBagID string, unitWeight float64, parentCapacity int) error {
	bills := repository.NewBillRepository(tx)

	bill, err := bills.FindOpenBillForBag(ctx, parentBagID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	// Re-read under the bill row lock before counting links. Two linkers
	// working sibling parents of the same bill must serialize here or the
	// later Save would overwrite the earlier one's totals.
	bill, err = bills.LockByNumber(ctx, bill.Number)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if !bill.Open() {
		return nil
	}

	return recomputeBillTotals(ctx, tx, bill, unitWeight, parentCapacity)
}
