package history

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"otcledger/native/otc"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	return store
}

func sampleOrder(id uint64) *otc.Order {
	return &otc.Order{
		ID:          id,
		MakerID:     "mm-1",
		Maker:       [20]byte{0x0A},
		Taker:       [20]byte{0x0B},
		Qty:         big.NewInt(5_000_000),
		AmountUSD:   5_000_000,
		CreatedAt:   1_000,
		CompletedAt: 2_000,
		State:       otc.StateReleased,
	}
}

func TestArchiveOrderPersistsCompactFacts(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.ArchiveOrder(sampleOrder(7)))

	row, err := store.OrderByID(7)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "mm-1", row.MakerID)
	require.Equal(t, "released", row.FinalState)
	require.Equal(t, "5000000", row.Qty)
	require.Equal(t, int64(2_000), row.CompletedAt)
	require.NotEmpty(t, row.ID)
}

func TestOrderByIDMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	row, err := store.OrderByID(404)
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	for id := uint64(1); id <= 5; id++ {
		require.NoError(t, store.ArchiveOrder(sampleOrder(id)))
	}

	rows, err := store.Recent(3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestArchiveOrderRejectsNil(t *testing.T) {
	store := newTestStore(t)
	require.Error(t, store.ArchiveOrder(nil))
}
