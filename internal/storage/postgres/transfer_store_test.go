package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-rewards-indexer/internal/domain"
)

func TestTransferStore_InsertSkipsNaturalKeyDuplicates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTransferStore(pool)

	records := []*domain.TransferRecord{
		transfer("W1", "sig1", "5"),
		transfer("W2", "sig1", "5"),
		transfer("W1", "sig1", "5.000"), // same value as the first row
	}

	n, err := store.InsertTransfers(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.InsertTransfers(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := store.CountTransfers(ctx, "Dist1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestTransferStore_GetTransfersPaged(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTransferStore(pool)

	_, err := store.InsertTransfers(ctx, []*domain.TransferRecord{
		transfer("W1", "sig1", "1"),
		transfer("W2", "sig2", "2.5"),
		transfer("W3", "sig3", "0.000000001"),
	})
	require.NoError(t, err)

	page, err := store.GetTransfers(ctx, "Dist1", 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "W2", page[0].WalletAddress)
	assert.Equal(t, "2.5", page[0].Amount.String())
	assert.Equal(t, "0.000000001", page[1].Amount.String())

	empty, err := store.GetTransfers(ctx, "Other", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTransferStore_DeleteDuplicatesIsIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTransferStore(pool)

	_, err := store.InsertTransfers(ctx, []*domain.TransferRecord{transfer("W1", "sig1", "1")})
	require.NoError(t, err)

	first, err := store.DeleteDuplicateTransfers(ctx, "Dist1")
	require.NoError(t, err)
	second, err := store.DeleteDuplicateTransfers(ctx, "Dist1")
	require.NoError(t, err)

	assert.Equal(t, 0, first)
	assert.Equal(t, 0, second)

	count, err := store.CountTransfers(ctx, "Dist1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
