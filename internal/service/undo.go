package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/depot/services/bagtrack/internal/metrics"
	"example.com/depot/services/bagtrack/internal/repository"
)

// UndoService reverses an actor's most recent link scan within a bounded
// window. Only link actions are undoable; the reversal runs through the
// same unlink path as a regular unlink scan.
type UndoService struct {
	db             *gorm.DB
	stats          *StatisticsService
	window         time.Duration
	unitWeight     float64
	parentCapacity int
	lockTimeout    time.Duration
}

// NewUndoService creates a new undo service
func NewUndoService(
	db *gorm.DB,
	stats *StatisticsService,
	window time.Duration,
	unitWeight float64,
	parentCapacity int,
	lockTimeout time.Duration,
) *UndoService {
	return &UndoService{
		db:             db,
		stats:          stats,
		window:         window,
		unitWeight:     unitWeight,
		parentCapacity: parentCapacity,
		lockTimeout:    lockTimeout,
	}
}

// UndoLastScan finds the actor's most recent link inside the window and
// reverses it. An entry already undone, or whose link has since been
// removed or replaced, reports ErrAlreadyReversed; no eligible entry at
// all reports ErrNothingToUndo.
func (s *UndoService) UndoLastScan(ctx context.Context, actor string) (*UndoResult, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	startTime := time.Now()
	collector := metrics.GetMetricsCollector()

	result := &UndoResult{}
	undone := false
	err := runInTx(ctx, s.db, s.lockTimeout, func(tx *gorm.DB) error {
		history := repository.NewMutationHistoryRepository(tx)
		bags := repository.NewBagRepository(tx)
		links := repository.NewLinkRepository(tx)

		record, err := history.LatestLinkByActor(ctx, actor, time.Now().Add(-s.window))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNothingToUndo
			}
			return err
		}
		result.Record = record

		if record.Undone {
			return ErrAlreadyReversed
		}

		var detail linkDetail
		if err := json.Unmarshal(record.Detail, &detail); err != nil {
			return err
		}

		child, err := bags.FindByQR(ctx, record.ChildQR)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrAlreadyReversed
			}
			return err
		}

		link, err := links.FindActiveByChildID(ctx, child.UUID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrAlreadyReversed
			}
			return err
		}
		if link.UUID != detail.LinkID {
			// The recorded link was removed and the child relinked since
			return ErrAlreadyReversed
		}

		removed, _, err := unlinkLocked(ctx, tx, child, actor, record.UUID, s.unitWeight, s.parentCapacity)
		if err != nil {
			return err
		}
		if !removed {
			return ErrAlreadyReversed
		}

		if err := history.MarkUndone(ctx, record.UUID); err != nil {
			return err
		}
		undone = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrBusy) {
			collector.Increment(metrics.CounterBusyRejections)
		}
		return nil, err
	}

	if undone {
		collector.Increment(metrics.CounterUndos)
		s.stats.RefreshAfterMutation(ctx)
	}
	collector.RecordOperation(metrics.OperationUndo, time.Since(startTime))

	return result, nil
}
