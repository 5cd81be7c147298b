package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"

	"example.com/depot/services/bagtrack/internal/metrics"
	"example.com/depot/services/bagtrack/internal/model"
	"example.com/depot/services/bagtrack/internal/repository"
)

// LinkerService enforces child uniqueness and parent capacity when linking
// bags. Every mutation runs in one transaction under row locks acquired in
// lexicographic QR order, so concurrent scans against the same bags
// serialize instead of deadlocking.
type LinkerService struct {
	db             *gorm.DB
	stats          *StatisticsService
	parentCapacity int
	unitWeight     float64
	lockTimeout    time.Duration
}

// NewLinkerService creates a new linker service
func NewLinkerService(
	db *gorm.DB,
	stats *StatisticsService,
	parentCapacity int,
	unitWeight float64,
	lockTimeout time.Duration,
) *LinkerService {
	return &LinkerService{
		db:             db,
		stats:          stats,
		parentCapacity: parentCapacity,
		unitWeight:     unitWeight,
		lockTimeout:    lockTimeout,
	}
}

// lockBagPair locks two bag rows in lexicographic QR order and returns
// them keyed by QR. Deterministic ordering prevents deadlock between two
// transactions touching the same pair in opposite roles.
func lockBagPair(ctx context.Context, tx *gorm.DB, qrA, qrB string) (map[string]*model.Bag, error) {
	bags := repository.NewBagRepository(tx)
	qrs := []string{qrA, qrB}
	sort.Strings(qrs)

	locked := make(map[string]*model.Bag, 2)
	for _, qr := range qrs {
		bag, err := bags.LockByQR(ctx, qr)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrBagNotFound
			}
			return nil, err
		}
		locked[qr] = bag
	}
	return locked, nil
}

// LinkChild links a child bag to a parent bag. Scanning the same pair
// twice is an idempotent success; a child on a different parent or a full
// parent is a conflict and nothing is written.
func (s *LinkerService) LinkChild(ctx context.Context, parentQR, childQR, actor string) (*LinkResult, error) {
	parentQR, err := normalizeQR(parentQR)
	if err != nil {
		return nil, err
	}
	childQR, err = normalizeQR(childQR)
	if err != nil {
		return nil, err
	}
	if parentQR == childQR {
		return nil, ErrKindMismatch
	}
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	startTime := time.Now()
	collector := metrics.GetMetricsCollector()

	result := &LinkResult{}
	err = runInTx(ctx, s.db, s.lockTimeout, func(tx *gorm.DB) error {
		// Bags are created on first scan of an unseen QR code. Fresh rows
		// are invisible to other transactions until commit, so creation and
		// the subsequent pair lock are race free.
		parent, _, err := resolveOrCreateBag(ctx, tx, parentQR, model.ParentBag, actor)
		if err != nil {
			return err
		}
		child, _, err := resolveOrCreateBag(ctx, tx, childQR, model.ChildBag, actor)
		if err != nil {
			return err
		}

		locked, err := lockBagPair(ctx, tx, parentQR, childQR)
		if err != nil {
			return err
		}
		parent, child = locked[parentQR], locked[childQR]
		result.Parent, result.Child = parent, child

		links := repository.NewLinkRepository(tx)
		bags := repository.NewBagRepository(tx)

		existing, err := links.FindActiveByChildID(ctx, child.UUID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if existing != nil {
			if existing.ParentBagID == parent.UUID {
				// Duplicate scan of the same pair
				result.Link = existing
				result.AlreadyLinked = true
				return nil
			}
			current, err := bags.FindByID(ctx, existing.ParentBagID)
			if err != nil {
				return err
			}
			return &ChildAlreadyLinkedError{ExistingParentQR: current.QRCode}
		}

		count, err := links.CountActiveByParentID(ctx, parent.UUID)
		if err != nil {
			return err
		}
		if count >= int64(s.parentCapacity) {
			return &ParentAtCapacityError{Capacity: s.parentCapacity}
		}

		link := &model.Link{
			ChildBagID:  child.UUID,
			ParentBagID: parent.UUID,
			CreatedBy:   actor,
		}
		if err := links.Create(ctx, link); err != nil {
			return err
		}
		result.Link = link

		detail, _ := json.Marshal(linkDetail{
			LinkID:          link.UUID,
			ParentBagID:     parent.UUID,
			ChildBagID:      child.UUID,
			ParentCountPrev: count,
			ParentCountNext: count + 1,
		})
		history := repository.NewMutationHistoryRepository(tx)
		if err := history.Append(ctx, &model.MutationRecord{
			Actor:    actor,
			Action:   model.LinkAction,
			ChildQR:  child.QRCode,
			ParentQR: parent.QRCode,
			Detail:   detail,
		}); err != nil {
			return err
		}

		// Keep derived totals of the parent's open bill in step with the
		// link table inside the same transaction.
		return recomputeOpenBillForParent(ctx, tx, parent.UUID, s.unitWeight, s.parentCapacity)
	})
	if err != nil {
		recordLinkFailure(collector, err)
		return nil, err
	}

	if result.AlreadyLinked {
		collector.Increment(metrics.CounterDuplicateScans)
	} else {
		collector.Increment(metrics.CounterLinksCreated)
		s.stats.RefreshAfterMutation(ctx)
	}
	collector.RecordOperation(metrics.OperationLink, time.Since(startTime))

	return result, nil
}

// UnlinkChild removes a child's active link. A child without an active
// link is a no-op success so retried requests stay safe.
func (s *LinkerService) UnlinkChild(ctx context.Context, childQR, actor string) (*UnlinkResult, error) {
	childQR, err := normalizeQR(childQR)
	if err != nil {
		return nil, err
	}
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	startTime := time.Now()
	collector := metrics.GetMetricsCollector()

	result := &UnlinkResult{}
	err = runInTx(ctx, s.db, s.lockTimeout, func(tx *gorm.DB) error {
		bags := repository.NewBagRepository(tx)

		child, err := bags.FindByQR(ctx, childQR)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil // unknown QR, nothing to unlink
			}
			return err
		}
		if child.Kind != model.ChildBag {
			return ErrKindMismatch
		}

		removed, link, err := unlinkLocked(ctx, tx, child, actor, "", s.unitWeight, s.parentCapacity)
		if err != nil {
			return err
		}
		result.Unlinked = removed
		result.Link = link
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBusy) {
			collector.Increment(metrics.CounterBusyRejections)
		}
		return nil, err
	}

	if result.Unlinked {
		collector.Increment(metrics.CounterLinksRemoved)
		s.stats.RefreshAfterMutation(ctx)
	}
	collector.RecordOperation(metrics.OperationUnlink, time.Since(startTime))

	return result, nil
}

// unlinkLocked removes the child's active link under the bag pair lock and
// records the mutation. undoOf tags the history entry when the removal
// reverses an earlier link. Returns false when no active link exists.
func unlinkLocked(ctx context.Context, tx *gorm.DB, child *model.Bag, actor, undoOf string, unitWeight float64, parentCapacity int) (bool, *model.Link, error) {
	links := repository.NewLinkRepository(tx)
	bags := repository.NewBagRepository(tx)

	// Peek at the current link to learn the parent, then lock the pair in
	// QR order and re-check under the lock.
	link, err := links.FindActiveByChildID(ctx, child.UUID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}

	parent, err := bags.FindByID(ctx, link.ParentBagID)
	if err != nil {
		return false, nil, err
	}

	if _, err := lockBagPair(ctx, tx, parent.QRCode, child.QRCode); err != nil {
		return false, nil, err
	}

	link, err = links.FindActiveByChildID(ctx, child.UUID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if link.ParentBagID != parent.UUID {
		// The link moved between the peek and the lock; let the caller retry
		return false, nil, ErrBusy
	}

	count, err := links.CountActiveByParentID(ctx, parent.UUID)
	if err != nil {
		return false, nil, err
	}

	if err := links.DeleteByID(ctx, link.UUID); err != nil {
		return false, nil, err
	}

	detail, _ := json.Marshal(linkDetail{
		LinkID:          link.UUID,
		ParentBagID:     parent.UUID,
		ChildBagID:      child.UUID,
		ParentCountPrev: count,
		ParentCountNext: count - 1,
		UndoOf:          undoOf,
	})
	history := repository.NewMutationHistoryRepository(tx)
	if err := history.Append(ctx, &model.MutationRecord{
		Actor:    actor,
		Action:   model.UnlinkAction,
		ChildQR:  child.QRCode,
		ParentQR: parent.QRCode,
		Detail:   detail,
	}); err != nil {
		return false, nil, err
	}

	if err := recomputeOpenBillForParent(ctx, tx, parent.UUID, unitWeight, parentCapacity); err != nil {
		return false, nil, err
	}

	return true, link, nil
}

// recordLinkFailure bumps the right failure counter for a link error
func recordLinkFailure(collector *metrics.MetricsCollector, err error) {
	switch {
	case errors.Is(err, ErrBusy):
		collector.Increment(metrics.CounterBusyRejections)
	case IsConflict(err):
		collector.Increment(metrics.CounterConflicts)
	}
}
