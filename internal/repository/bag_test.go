package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/depot/services/bagtrack/internal/model"
)

func TestBagCreateDuplicateQR(t *testing.T) {
	gdb := newTestDB(t)
	ctx := context.Background()
	bags := NewBagRepository(gdb)

	first := &model.Bag{QRCode: "P-001", Kind: model.ParentBag, CreatedBy: "alice"}
	require.NoError(t, bags.Create(ctx, first))

	// A second insert of the same code reports the duplicate and leaves
	// the first row untouched
	dup := &model.Bag{QRCode: "P-001", Kind: model.ParentBag, CreatedBy: "bob"}
	require.ErrorIs(t, bags.Create(ctx, dup), ErrDuplicateKey)

	found, err := bags.FindByQR(ctx, "P-001")
	require.NoError(t, err)
	require.Equal(t, first.UUID, found.UUID)
	require.Equal(t, "alice", found.CreatedBy)
}
