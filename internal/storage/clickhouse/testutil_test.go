package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"solana-rewards-indexer/internal/storage/migrations"
)

const clickhouseImage = "clickhouse/clickhouse-server:24.1-alpine"

// newTestLedger starts a ClickHouse container, creates the rewards database
// and returns a migrated ledger. The container is removed when t finishes.
func newTestLedger(t *testing.T) *TransferLedger {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        clickhouseImage,
			ExposedPorts: []string{"9000/tcp"},
			Env:          map[string]string{"CLICKHOUSE_SKIP_USER_SETUP": "1"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(90*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "start clickhouse container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate clickhouse container: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)
	dsn := fmt.Sprintf("clickhouse://default@%s/rewards", endpoint)

	require.NoError(t, EnsureDatabase(ctx, dsn), "create database")
	conn, err := NewConn(ctx, dsn)
	require.NoError(t, err, "connect")
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, migrations.RunClickhouseMigrations(ctx, conn), "apply migrations")
	return NewTransferLedger(conn)
}
