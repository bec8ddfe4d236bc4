package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/storage"
)

func delta(wallet, token, amount string) domain.WalletDelta {
	return domain.WalletDelta{
		WalletAddress: wallet,
		Distributor:   "Dist1",
		Token:         token,
		Amount:        decimal.RequireFromString(amount),
	}
}

func TestChunkByWallet(t *testing.T) {
	deltas := []domain.WalletDelta{
		delta("W1", "sol", "1"),
		delta("W1", "BONK", "1"),
		delta("W2", "sol", "1"),
		delta("W3", "sol", "1"),
	}

	chunks := chunkByWallet(deltas, 2)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[1], 1)
	assert.Equal(t, "W3", chunks[1][0].WalletAddress)

	assert.Nil(t, chunkByWallet(nil, 2))
	assert.Len(t, chunkByWallet(deltas, 10), 1)
}

func TestWalletStore_IncrementCreatesAndAdds(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWalletStore(pool)

	_, err := store.GetWalletRewards(ctx, "W1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.IncrementWallets(ctx, []domain.WalletDelta{delta("W1", "sol", "1.5")}))
	require.NoError(t, store.IncrementWallets(ctx, []domain.WalletDelta{
		delta("W1", "BONK", "100"),
		delta("W1", "sol", "2"),
	}))

	rewards, err := store.GetWalletRewards(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, "3.5", rewards.Total("Dist1", "sol").String())
	assert.Equal(t, "100", rewards.Total("Dist1", "BONK").String())
}

func TestWalletStore_ConcurrentIncrementsDoNotLoseUpdates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewWalletStore(pool)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.IncrementWallets(ctx, []domain.WalletDelta{delta("W1", "sol", "1")}))
		}()
	}
	wg.Wait()

	rewards, err := store.GetWalletRewards(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, "10", rewards.Total("Dist1", "sol").String())
}
