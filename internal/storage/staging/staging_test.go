package staging

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/storage"
)

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(Options{Dir: dir, ChunkSize: 3, BlockCacheSize: 8 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rawTxs(from, n int) []*domain.RawTransaction {
	txs := make([]*domain.RawTransaction, 0, n)
	for i := from; i < from+n; i++ {
		txs = append(txs, &domain.RawTransaction{
			FeePayer:  "Dist1",
			Signature: fmt.Sprintf("sig%03d", i),
			Slot:      int64(1000 - i),
			Timestamp: int64(1700000000 - i),
			NativeTransfers: []domain.NativeTransfer{
				{ToAccount: "W1", AmountLamports: 1_000_000_000},
			},
		})
	}
	return txs
}

func record(wallet, sig, amount string) *domain.TransferRecord {
	return &domain.TransferRecord{
		Signature:     sig,
		Slot:          10,
		Timestamp:     1700000000,
		Amount:        decimal.RequireFromString(amount),
		Token:         domain.NativeSymbol,
		WalletAddress: wallet,
		Distributor:   "Dist1",
	}
}

func TestStore_RawBatchesArePagedInInsertionOrder(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.InsertRawBatch(ctx, rawTxs(0, 7)))
	require.NoError(t, s.InsertRawBatch(ctx, rawTxs(7, 2)))

	n, err := s.CountRaw(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	page, err := s.GetRawBatch(ctx, 4, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "sig004", page[0].Signature)
	assert.Equal(t, "sig006", page[2].Signature)
	assert.Equal(t, int64(1_000_000_000), page[0].NativeTransfers[0].AmountLamports)

	tail, err := s.GetRawBatch(ctx, 8, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "sig008", tail[0].Signature)

	past, err := s.GetRawBatch(ctx, 9, 10)
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestStore_SequencesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, s.InsertRawBatch(ctx, rawTxs(0, 5)))
	_, err = s.InsertTransfers(ctx, []*domain.TransferRecord{record("W1", "sig000", "1")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openTestStore(t, dir)
	require.NoError(t, s.InsertRawBatch(ctx, rawTxs(5, 1)))

	n, err := s.CountRaw(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	page, err := s.GetRawBatch(ctx, 5, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "sig005", page[0].Signature)

	count, err := s.CountTransfers(ctx, "Dist1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_Checkpoint(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	ctx := context.Background()

	_, err := s.GetCheckpoint(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	cp := &domain.Checkpoint{
		BeforeCursor:    "sig099",
		NewestSignature: "sig000",
		ProcessedOffset: 40,
		Phase:           domain.PhaseProcessing,
	}
	require.NoError(t, s.SetCheckpoint(ctx, cp))

	got, err := s.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, *cp, *got)
}

func TestStore_DeleteDuplicateTransfersKeepsFirstAndIsIdempotent(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	ctx := context.Background()

	_, err := s.InsertTransfers(ctx, []*domain.TransferRecord{
		record("W1", "sig1", "1"),
		record("W2", "sig1", "1"),
		record("W1", "sig1", "1.0"),
		record("W1", "sig2", "1"),
		record("W2", "sig1", "1"),
	})
	require.NoError(t, err)

	removed, err := s.DeleteDuplicateTransfers(ctx, "Dist1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	countOnce, err := s.CountTransfers(ctx, "Dist1")
	require.NoError(t, err)

	removed, err = s.DeleteDuplicateTransfers(ctx, "Dist1")
	require.NoError(t, err)
	assert.Zero(t, removed)

	countTwice, err := s.CountTransfers(ctx, "Dist1")
	require.NoError(t, err)
	assert.Equal(t, 3, countOnce)
	assert.Equal(t, countOnce, countTwice)

	rows, err := s.GetTransfers(ctx, "Dist1", 1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "W2", rows[0].WalletAddress)
	assert.Equal(t, "sig2", rows[1].Signature)
}

func TestStore_GetTransfersFromSeeksPastGaps(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	ctx := context.Background()

	other := record("W9", "sig9", "1")
	other.Distributor = "Dist2"
	_, err := s.InsertTransfers(ctx, []*domain.TransferRecord{
		record("W1", "sig1", "1"),
		record("W2", "sig1", "1"),
		record("W1", "sig1", "1"),
		other,
		record("W1", "sig2", "1"),
		record("W1", "sig2", "1"),
	})
	require.NoError(t, err)
	removed, err := s.DeleteDuplicateTransfers(ctx, "Dist1")
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	rows, next, err := s.GetTransfersFrom(ctx, "Dist1", 0, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "W1", rows[0].WalletAddress)
	assert.Equal(t, "W2", rows[1].WalletAddress)
	assert.Equal(t, uint64(2), next)

	// sequence 2 was deleted and 3 belongs to another distributor
	rows, next, err = s.GetTransfersFrom(ctx, "Dist1", next, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "sig2", rows[0].Signature)
	assert.Equal(t, uint64(5), next)

	rows, next, err = s.GetTransfersFrom(ctx, "Dist1", next, 2)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, uint64(5), next)
}

func TestStore_DropStagingTablesRemovesDirectory(t *testing.T) {
	root := t.TempDir()
	dir := DirFor(root, "Dist1")
	s := openTestStore(t, dir)
	ctx := context.Background()

	require.NoError(t, s.InsertRawBatch(ctx, rawTxs(0, 2)))
	require.NoError(t, s.SetCheckpoint(ctx, &domain.Checkpoint{Phase: domain.PhaseMigrating}))
	assert.True(t, Exists(root, "Dist1"))

	require.NoError(t, s.DropStagingTables(ctx))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, Exists(root, "Dist1"))

	_, err = s.CountRaw(ctx)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.NoError(t, s.Close())
}
