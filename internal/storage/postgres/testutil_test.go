package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/storage/migrations"
)

// setupTestDB creates a PostgreSQL container for testing and applies migrations.
// Returns a cleanup function that must be called after tests complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	require.NoError(t, migrations.RunPostgresMigrations(ctx, pool), "failed to apply migrations")

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

func transfer(wallet, sig string, amount string) *domain.TransferRecord {
	return &domain.TransferRecord{
		Signature:     sig,
		Slot:          100,
		Timestamp:     1700000000,
		Amount:        decimal.RequireFromString(amount),
		Token:         domain.NativeSymbol,
		WalletAddress: wallet,
		Distributor:   "Dist1",
	}
}

func seedDistributor(t *testing.T, store *DistributorStore, status domain.DistributorStatus) {
	t.Helper()
	err := store.UpsertDistributor(context.Background(), &domain.SupportedDistributor{
		Name:          "Project",
		Address:       "Dist1",
		TokenMint:     "Mint1",
		DevWallet:     "Dev1",
		LastSignature: "sig-newest",
		Status:        status,
	})
	require.NoError(t, err)
}
