package storage

import (
	"context"

	"solana-rewards-indexer/internal/domain"
)

// TransferStore is the transfer-record contract shared by staging and production.
type TransferStore interface {
	// InsertTransfers appends records and returns how many were stored.
	// Stores that enforce the natural key skip existing rows instead of failing.
	InsertTransfers(ctx context.Context, records []*domain.TransferRecord) (int, error)

	// GetTransfers returns up to limit records for a distributor in a stable order, starting at offset.
	GetTransfers(ctx context.Context, distributor string, offset, limit int) ([]*domain.TransferRecord, error)

	// CountTransfers returns the number of stored records for a distributor.
	CountTransfers(ctx context.Context, distributor string) (int, error)

	// DeleteDuplicateTransfers removes rows sharing a natural key, keeping the oldest row.
	// Returns the number of rows removed. Running it twice removes nothing the second time.
	DeleteDuplicateTransfers(ctx context.Context, distributor string) (int, error)
}

// StagingStore is the disposable per-distributor store used during bootstrap.
type StagingStore interface {
	TransferStore
	CheckpointStore

	// InsertRawBatch appends raw transactions in chunks, one write transaction per chunk.
	InsertRawBatch(ctx context.Context, txs []*domain.RawTransaction) error

	// GetRawBatch returns up to limit raw transactions in insertion order, starting at offset.
	GetRawBatch(ctx context.Context, offset, limit int) ([]*domain.RawTransaction, error)

	// CountRaw returns the number of staged raw transactions.
	CountRaw(ctx context.Context) (int, error)

	// GetTransfersFrom returns up to limit staged transfers of distributor whose
	// sequence is at least from, and the sequence that follows the last one read.
	GetTransfersFrom(ctx context.Context, distributor string, from uint64, limit int) ([]*domain.TransferRecord, uint64, error)

	// DropStagingTables removes every staged row and the checkpoint.
	DropStagingTables(ctx context.Context) error

	// Close releases the underlying store.
	Close() error
}

// KnownTokenStore provides access to known_tokens storage.
type KnownTokenStore interface {
	// InsertKnownToken adds a token. Returns ErrDuplicateKey if mint exists.
	InsertKnownToken(ctx context.Context, t *domain.KnownToken) error

	// GetKnownTokens returns every known token.
	GetKnownTokens(ctx context.Context) ([]*domain.KnownToken, error)
}

// DistributorStore provides access to supported_distributors storage.
type DistributorStore interface {
	// UpsertDistributor creates or replaces the distributor configuration.
	UpsertDistributor(ctx context.Context, d *domain.SupportedDistributor) error

	// GetDistributor retrieves a distributor by address. Returns ErrNotFound if not exists.
	GetDistributor(ctx context.Context, address string) (*domain.SupportedDistributor, error)

	// ListDistributors returns distributors with the given status, all when status is empty.
	ListDistributors(ctx context.Context, status domain.DistributorStatus) ([]*domain.SupportedDistributor, error)
}

// WalletStore provides access to wallet reward totals.
type WalletStore interface {
	// IncrementWallets adds each delta to its total, creating missing totals.
	// Every increment is atomic per row, so concurrent callers never lose updates.
	IncrementWallets(ctx context.Context, deltas []domain.WalletDelta) error

	// GetWalletRewards returns all totals for a wallet. Returns ErrNotFound if the wallet has none.
	GetWalletRewards(ctx context.Context, wallet string) (*domain.WalletRewards, error)
}

// FoldFunc turns newly inserted transfers into wallet deltas.
type FoldFunc func(records []*domain.TransferRecord) []domain.WalletDelta

// ProductionStore is the durable store queried by the API.
type ProductionStore interface {
	TransferStore
	KnownTokenStore
	DistributorStore
	WalletStore

	// ApplyAggregation increments wallet totals and records the bootstrap aggregation
	// offset of a distributor in one transaction.
	ApplyAggregation(ctx context.Context, distributor string, deltas []domain.WalletDelta, aggregatedOffset int) error

	// CommitIncrement inserts records, folds the rows that were actually new into wallet
	// totals, and advances the distributor's last signature in one transaction.
	// Returns the newly inserted records.
	CommitIncrement(ctx context.Context, distributor string, records []*domain.TransferRecord, lastSignature string, fold FoldFunc) ([]*domain.TransferRecord, error)
}
