package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/depot/services/bagtrack/internal/model"
)

func TestLinkChildCreatesBagsAndLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.linker.LinkChild(ctx, "P-001", "C-001", "alice")
	require.NoError(t, err)
	require.False(t, result.AlreadyLinked)
	require.Equal(t, model.ParentBag, result.Parent.Kind)
	require.Equal(t, model.ChildBag, result.Child.Kind)
	require.Equal(t, result.Parent.UUID, result.Link.ParentBagID)
	require.Equal(t, result.Child.UUID, result.Link.ChildBagID)

	var linkCount int64
	require.NoError(t, f.db.Model(&model.Link{}).Count(&linkCount).Error)
	require.EqualValues(t, 1, linkCount)

	// The mutation is recorded in the same transaction
	var record model.MutationRecord
	require.NoError(t, f.db.Where("action = ?", model.LinkAction).First(&record).Error)
	require.Equal(t, "alice", record.Actor)
	require.Equal(t, "C-001", record.ChildQR)
	require.Equal(t, "P-001", record.ParentQR)
	require.False(t, record.Published)
}

func TestLinkChildIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.linker.LinkChild(ctx, "P-001", "C-001", "alice")
	require.NoError(t, err)
	require.False(t, first.AlreadyLinked)

	second, err := f.linker.LinkChild(ctx, "P-001", "C-001", "alice")
	require.NoError(t, err)
	require.True(t, second.AlreadyLinked)
	require.Equal(t, first.Link.UUID, second.Link.UUID)

	var linkCount int64
	require.NoError(t, f.db.Model(&model.Link{}).Count(&linkCount).Error)
	require.EqualValues(t, 1, linkCount)

	// The duplicate scan leaves no second history entry
	var recordCount int64
	require.NoError(t, f.db.Model(&model.MutationRecord{}).Where("action = ?", model.LinkAction).Count(&recordCount).Error)
	require.EqualValues(t, 1, recordCount)
}

func TestLinkChildUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.linker.LinkChild(ctx, "P-001", "C-001", "alice")
	require.NoError(t, err)

	// The child cannot move to a second parent while linked
	_, err = f.linker.LinkChild(ctx, "P-002", "C-001", "alice")
	var linked *ChildAlreadyLinkedError
	require.ErrorAs(t, err, &linked)
	require.Equal(t, "P-001", linked.ExistingParentQR)

	// After an explicit unlink the move succeeds
	unlinkResult, err := f.linker.UnlinkChild(ctx, "C-001", "alice")
	require.NoError(t, err)
	require.True(t, unlinkResult.Unlinked)

	result, err := f.linker.LinkChild(ctx, "P-002", "C-001", "alice")
	require.NoError(t, err)
	require.False(t, result.AlreadyLinked)
	require.Equal(t, "P-002", result.Parent.QRCode)
}

func TestLinkChildParentCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= testCapacity; i++ {
		_, err := f.linker.LinkChild(ctx, "P-001", fmt.Sprintf("C-%03d", i), "alice")
		require.NoError(t, err)
	}

	_, err := f.linker.LinkChild(ctx, "P-001", "C-overflow", "alice")
	var capacity *ParentAtCapacityError
	require.ErrorAs(t, err, &capacity)
	require.Equal(t, testCapacity, capacity.Capacity)

	// The rejected scan wrote nothing
	var linkCount int64
	require.NoError(t, f.db.Model(&model.Link{}).Count(&linkCount).Error)
	require.EqualValues(t, testCapacity, linkCount)

	// Unlinking one child frees a slot
	_, err = f.linker.UnlinkChild(ctx, "C-001", "alice")
	require.NoError(t, err)
	_, err = f.linker.LinkChild(ctx, "P-001", "C-overflow", "alice")
	require.NoError(t, err)
}

func TestLinkChildNormalizesScannerPadding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Scanners pad codes with whitespace; the canonical form is stored
	result, err := f.linker.LinkChild(ctx, "P-001  ", " C-001", "alice")
	require.NoError(t, err)
	require.Equal(t, "P-001", result.Parent.QRCode)
	require.Equal(t, "C-001", result.Child.QRCode)

	// The clean form resolves to the same pair
	second, err := f.linker.LinkChild(ctx, "P-001", "C-001", "alice")
	require.NoError(t, err)
	require.True(t, second.AlreadyLinked)

	var bagCount int64
	require.NoError(t, f.db.Model(&model.Bag{}).Count(&bagCount).Error)
	require.EqualValues(t, 2, bagCount)
}

func TestLinkChildConcurrentCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	attempts := testCapacity + 10
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.linker.LinkChild(ctx, "P-001", fmt.Sprintf("C-%03d", i), "alice")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrBusy):
		default:
			var capacity *ParentAtCapacityError
			require.ErrorAs(t, err, &capacity)
		}
	}

	// Whatever the interleaving, the parent never exceeds its capacity and
	// the link table matches the successful calls
	var linkCount int64
	require.NoError(t, f.db.Model(&model.Link{}).Count(&linkCount).Error)
	require.EqualValues(t, successes, linkCount)
	require.LessOrEqual(t, linkCount, int64(testCapacity))
}

func TestLinkChildConcurrentChildUniqueness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parents := []string{"P-001", "P-002", "P-003", "P-004"}
	errs := make([]error, len(parents))
	var wg sync.WaitGroup
	for i, parent := range parents {
		wg.Add(1)
		go func(i int, parent string) {
			defer wg.Done()
			_, errs[i] = f.linker.LinkChild(ctx, parent, "C-001", "alice")
		}(i, parent)
	}
	wg.Wait()

	for _, err := range errs {
		if err == nil || errors.Is(err, ErrBusy) {
			continue
		}
		var linked *ChildAlreadyLinkedError
		require.ErrorAs(t, err, &linked)
	}

	// Exactly one parent ends up holding the child
	var linkCount int64
	require.NoError(t, f.db.Model(&model.Link{}).Count(&linkCount).Error)
	require.EqualValues(t, 1, linkCount)
}

func TestLinkChildKindEnforcement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A bag cannot be both sides of a link
	_, err := f.linker.LinkChild(ctx, "X-001", "X-001", "alice")
	require.ErrorIs(t, err, ErrKindMismatch)

	// A QR registered as a parent cannot be scanned as a child
	_, err = f.linker.LinkChild(ctx, "P-001", "C-001", "alice")
	require.NoError(t, err)
	_, err = f.linker.LinkChild(ctx, "P-002", "P-001", "alice")
	require.ErrorIs(t, err, ErrKindMismatch)
}

func TestLinkChildValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.linker.LinkChild(ctx, "", "C-001", "alice")
	require.ErrorIs(t, err, ErrInvalidQR)

	_, err = f.linker.LinkChild(ctx, "P-001", "   ", "alice")
	require.ErrorIs(t, err, ErrInvalidQR)

	_, err = f.linker.LinkChild(ctx, "P-001", "C-001", "")
	require.ErrorIs(t, err, ErrInvalidActor)
}

func TestUnlinkChildIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Unknown QR is a no-op success
	result, err := f.linker.UnlinkChild(ctx, "C-unknown", "alice")
	require.NoError(t, err)
	require.False(t, result.Unlinked)

	_, err = f.linker.LinkChild(ctx, "P-001", "C-001", "alice")
	require.NoError(t, err)

	result, err = f.linker.UnlinkChild(ctx, "C-001", "alice")
	require.NoError(t, err)
	require.True(t, result.Unlinked)

	// A second unlink finds nothing and stays a success
	result, err = f.linker.UnlinkChild(ctx, "C-001", "alice")
	require.NoError(t, err)
	require.False(t, result.Unlinked)

	var linkCount int64
	require.NoError(t, f.db.Model(&model.Link{}).Count(&linkCount).Error)
	require.EqualValues(t, 0, linkCount)
}

func TestUnlinkChildRejectsParentQR(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.linker.LinkChild(ctx, "P-001", "C-001", "alice")
	require.NoError(t, err)

	_, err = f.linker.UnlinkChild(ctx, "P-001", "alice")
	require.ErrorIs(t, err, ErrKindMismatch)
}
