package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/depot/services/bagtrack/internal/model"
)

func TestUndoLastScanReversesLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.linker.LinkChild(ctx, "P-001", "C-001", "alice")
	require.NoError(t, err)

	result, err := f.undo.UndoLastScan(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, model.LinkAction, result.Record.Action)
	require.Equal(t, "C-001", result.Record.ChildQR)

	var linkCount int64
	require.NoError(t, f.db.Model(&model.Link{}).Count(&linkCount).Error)
	require.EqualValues(t, 0, linkCount)

	// The history entry is flagged, not deleted, and the reversal itself
	// is recorded as an unlink
	var record model.MutationRecord
	require.NoError(t, f.db.Where("uuid = ?", result.Record.UUID).First(&record).Error)
	require.True(t, record.Undone)
	require.NotNil(t, record.UndoneAt)

	var unlinkCount int64
	require.NoError(t, f.db.Model(&model.MutationRecord{}).Where("action = ?", model.UnlinkAction).Count(&unlinkCount).Error)
	require.EqualValues(t, 1, unlinkCount)
}

func TestUndoLastScanTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.linker.LinkChild(ctx, "P-001", "C-001", "alice")
	require.NoError(t, err)

	_, err = f.undo.UndoLastScan(ctx, "alice")
	require.NoError(t, err)

	// The same entry cannot be reversed again
	_, err = f.undo.UndoLastScan(ctx, "alice")
	require.ErrorIs(t, err, ErrAlreadyReversed)
}

func TestUndoLastScanNothingToUndo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.undo.UndoLastScan(ctx, "alice")
	require.ErrorIs(t, err, ErrNothingToUndo)

	// Another actor's scan is not undoable by alice
	_, err = f.linker.LinkChild(ctx, "P-001", "C-001", "bob")
	require.NoError(t, err)
	_, err = f.undo.UndoLastScan(ctx, "alice")
	require.ErrorIs(t, err, ErrNothingToUndo)
}

func TestUndoLastScanAfterManualUnlink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.linker.LinkChild(ctx, "P-001", "C-001", "alice")
	require.NoError(t, err)
	_, err = f.linker.UnlinkChild(ctx, "C-001", "alice")
	require.NoError(t, err)

	// The recorded link no longer exists
	_, err = f.undo.UndoLastScan(ctx, "alice")
	require.ErrorIs(t, err, ErrAlreadyReversed)
}

func TestUndoLastScanAfterRelink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.linker.LinkChild(ctx, "P-001", "C-001", "alice")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = f.linker.UnlinkChild(ctx, "C-001", "alice")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = f.linker.LinkChild(ctx, "P-002", "C-001", "alice")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	// The most recent link scan is the one that gets reversed
	result, err := f.undo.UndoLastScan(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "P-002", result.Record.ParentQR)

	var linkCount int64
	require.NoError(t, f.db.Model(&model.Link{}).Count(&linkCount).Error)
	require.EqualValues(t, 0, linkCount)
}

func TestUndoLastScanWindowExpiry(t *testing.T) {
	f := newFixtureWithWindow(t, 10*time.Millisecond)
	ctx := context.Background()

	_, err := f.linker.LinkChild(ctx, "P-001", "C-001", "alice")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = f.undo.UndoLastScan(ctx, "alice")
	require.ErrorIs(t, err, ErrNothingToUndo)

	// The expired link stays in place
	var linkCount int64
	require.NoError(t, f.db.Model(&model.Link{}).Count(&linkCount).Error)
	require.EqualValues(t, 1, linkCount)
}
