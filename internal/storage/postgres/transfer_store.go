package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/storage"
)

// TransferStore implements storage.TransferStore using PostgreSQL.
// The natural key is enforced by idx_transfers_unique, so inserts skip existing rows.
type TransferStore struct {
	pool *Pool
}

// NewTransferStore creates a new TransferStore.
func NewTransferStore(pool *Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransferStore = (*TransferStore)(nil)

const insertTransferSQL = `
	INSERT INTO transfers (
		wallet_address, distributor, signature, slot, block_time, token, amount
	) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric)
	ON CONFLICT (wallet_address, distributor, signature, slot, block_time, token, amount) DO NOTHING
`

// InsertTransfers adds records, skipping those whose natural key already exists.
func (s *TransferStore) InsertTransfers(ctx context.Context, records []*domain.TransferRecord) (int, error) {
	inserted, err := insertTransfers(ctx, s.pool, records)
	if err != nil {
		return 0, err
	}
	return len(inserted), nil
}

// insertTransfers pipelines the inserts and returns the records that were new.
func insertTransfers(ctx context.Context, q querier, records []*domain.TransferRecord) ([]*domain.TransferRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(insertTransferSQL,
			r.WalletAddress, r.Distributor, r.Signature, r.Slot, r.Timestamp, r.Token, r.Amount.String(),
		)
	}

	br := q.SendBatch(ctx, batch)
	inserted := make([]*domain.TransferRecord, 0, len(records))
	for _, r := range records {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return nil, fmt.Errorf("insert transfer %s: %w", r.Signature, err)
		}
		if tag.RowsAffected() == 1 {
			inserted = append(inserted, r)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("close insert batch: %w", err)
	}

	return inserted, nil
}

// GetTransfers returns a page of a distributor's transfers ordered by row id.
func (s *TransferStore) GetTransfers(ctx context.Context, distributor string, offset, limit int) ([]*domain.TransferRecord, error) {
	query := `
		SELECT wallet_address, distributor, signature, slot, block_time, token, amount::text
		FROM transfers
		WHERE distributor = $1
		ORDER BY id ASC
		OFFSET $2 LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, distributor, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// CountTransfers returns the number of transfers stored for a distributor.
func (s *TransferStore) CountTransfers(ctx context.Context, distributor string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers WHERE distributor = $1`, distributor).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return n, nil
}

// DeleteDuplicateTransfers keeps the lowest id of every natural key.
// With idx_transfers_unique in place this normally removes nothing.
func (s *TransferStore) DeleteDuplicateTransfers(ctx context.Context, distributor string) (int, error) {
	query := `
		DELETE FROM transfers
		WHERE distributor = $1
		  AND id NOT IN (
			SELECT MIN(id)
			FROM transfers
			WHERE distributor = $1
			GROUP BY wallet_address, distributor, signature, slot, block_time, token, amount
		  )
	`

	tag, err := s.pool.Exec(ctx, query, distributor)
	if err != nil {
		return 0, fmt.Errorf("delete duplicate transfers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanTransfers(rows pgx.Rows) ([]*domain.TransferRecord, error) {
	var result []*domain.TransferRecord
	for rows.Next() {
		var (
			r      domain.TransferRecord
			amount string
		)
		err := rows.Scan(
			&r.WalletAddress, &r.Distributor, &r.Signature, &r.Slot, &r.Timestamp, &r.Token, &amount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		if r.Amount, err = parseNumeric(amount); err != nil {
			return nil, err
		}
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}
