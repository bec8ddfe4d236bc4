package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/storage"
)

// Store is the production store: every table plus the multi-table transactions.
type Store struct {
	*TransferStore
	*KnownTokenStore
	*DistributorStore
	*WalletStore

	pool *Pool
}

// NewStore creates a production store over pool.
func NewStore(pool *Pool) *Store {
	return &Store{
		TransferStore:    NewTransferStore(pool),
		KnownTokenStore:  NewKnownTokenStore(pool),
		DistributorStore: NewDistributorStore(pool),
		WalletStore:      NewWalletStore(pool),
		pool:             pool,
	}
}

// Compile-time interface check.
var _ storage.ProductionStore = (*Store)(nil)

// ApplyAggregation increments totals and records aggregated_offset atomically,
// so a crash between the two can never double count a batch.
func (s *Store) ApplyAggregation(ctx context.Context, distributor string, deltas []domain.WalletDelta, aggregatedOffset int) error {
	return s.pool.inTx(ctx, func(tx pgx.Tx) error {
		if err := incrementWallets(ctx, tx, deltas); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE supported_distributors
			SET aggregated_offset = $2, updated_at = $3
			WHERE address = $1
		`, distributor, aggregatedOffset, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("update aggregated offset: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// CommitIncrement inserts records, folds the newly inserted ones into wallet totals
// and moves last_signature forward, all in one transaction.
func (s *Store) CommitIncrement(
	ctx context.Context,
	distributor string,
	records []*domain.TransferRecord,
	lastSignature string,
	fold storage.FoldFunc,
) ([]*domain.TransferRecord, error) {
	var inserted []*domain.TransferRecord

	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		inserted, err = insertTransfers(ctx, tx, records)
		if err != nil {
			return err
		}

		if len(inserted) > 0 && fold != nil {
			if err := incrementWallets(ctx, tx, fold(inserted)); err != nil {
				return err
			}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE supported_distributors
			SET last_signature = $2, updated_at = $3
			WHERE address = $1
		`, distributor, lastSignature, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("update last signature: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return inserted, nil
}
