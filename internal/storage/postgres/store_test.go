package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/storage"
)

func sumFold(records []*domain.TransferRecord) []domain.WalletDelta {
	var out []domain.WalletDelta
	for _, r := range records {
		out = append(out, domain.WalletDelta{
			WalletAddress: r.WalletAddress, Distributor: r.Distributor, Token: r.Token, Amount: r.Amount,
		})
	}
	return out
}

func TestStore_CommitIncrementFoldsOnlyNewRows(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)
	seedDistributor(t, store.DistributorStore, domain.StatusActive)

	records := []*domain.TransferRecord{transfer("W1", "sig2", "2"), transfer("W1", "sig3", "3")}

	inserted, err := store.CommitIncrement(ctx, "Dist1", records, "sig3", sumFold)
	require.NoError(t, err)
	assert.Len(t, inserted, 2)

	// Replaying the same tail inserts and folds nothing.
	inserted, err = store.CommitIncrement(ctx, "Dist1", records, "sig3", sumFold)
	require.NoError(t, err)
	assert.Empty(t, inserted)

	rewards, err := store.GetWalletRewards(ctx, "W1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(5).Equal(rewards.Total("Dist1", "sol")))

	d, err := store.GetDistributor(ctx, "Dist1")
	require.NoError(t, err)
	assert.Equal(t, "sig3", d.LastSignature)
}

func TestStore_CommitIncrementUnknownDistributorRollsBack(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	_, err := store.CommitIncrement(ctx, "Dist1", []*domain.TransferRecord{transfer("W1", "sig1", "1")}, "sig1", sumFold)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	count, err := store.CountTransfers(ctx, "Dist1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_ApplyAggregation(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)
	seedDistributor(t, store.DistributorStore, domain.StatusAggregating)

	err := store.ApplyAggregation(ctx, "Dist1", []domain.WalletDelta{delta("W1", "sol", "4")}, 1000)
	require.NoError(t, err)

	d, err := store.GetDistributor(ctx, "Dist1")
	require.NoError(t, err)
	assert.Equal(t, 1000, d.AggregatedOffset)

	rewards, err := store.GetWalletRewards(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, "4", rewards.Total("Dist1", "sol").String())
}
