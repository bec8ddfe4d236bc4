package clickhouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/storage"
)

// TransferLedger implements storage.TransferStore on a ReplacingMergeTree table.
// It mirrors production transfers for analytics; uniqueness is only guaranteed
// after merges, so reads use FINAL.
type TransferLedger struct {
	conn *Conn
}

// NewTransferLedger creates a new TransferLedger.
func NewTransferLedger(conn *Conn) *TransferLedger {
	return &TransferLedger{conn: conn}
}

// Compile-time interface check.
var _ storage.TransferStore = (*TransferLedger)(nil)

// InsertTransfers appends records in one native batch.
func (l *TransferLedger) InsertTransfers(ctx context.Context, records []*domain.TransferRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch, err := l.conn.PrepareBatch(ctx, `
		INSERT INTO transfers (
			wallet_address, distributor, signature, slot, block_time, token, amount
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.WalletAddress, r.Distributor, r.Signature, r.Slot, r.Timestamp, r.Token, r.Amount,
		)
		if err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send batch: %w", err)
	}

	return len(records), nil
}

// GetTransfers returns a page of deduplicated transfers ordered by slot then key.
func (l *TransferLedger) GetTransfers(ctx context.Context, distributor string, offset, limit int) ([]*domain.TransferRecord, error) {
	query := `
		SELECT wallet_address, distributor, signature, slot, block_time, token, amount
		FROM transfers FINAL
		WHERE distributor = ?
		ORDER BY slot, signature, wallet_address, token, amount
		LIMIT ? OFFSET ?
	`

	rows, err := l.conn.Query(ctx, query, distributor, uint64(limit), uint64(offset))
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	var result []*domain.TransferRecord
	for rows.Next() {
		var (
			r      domain.TransferRecord
			amount decimal.Decimal
		)
		if err := rows.Scan(
			&r.WalletAddress, &r.Distributor, &r.Signature, &r.Slot, &r.Timestamp, &r.Token, &amount,
		); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		r.Amount = amount
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}

// CountTransfers returns the number of distinct transfers of a distributor.
func (l *TransferLedger) CountTransfers(ctx context.Context, distributor string) (int, error) {
	return l.count(ctx, distributor, true)
}

// DeleteDuplicateTransfers forces the merge that collapses rows sharing a natural key.
// Returns how many physical rows of the distributor disappeared.
func (l *TransferLedger) DeleteDuplicateTransfers(ctx context.Context, distributor string) (int, error) {
	before, err := l.count(ctx, distributor, false)
	if err != nil {
		return 0, err
	}

	if err := l.conn.Exec(ctx, `OPTIMIZE TABLE transfers FINAL DEDUPLICATE`); err != nil {
		return 0, fmt.Errorf("optimize transfers: %w", err)
	}

	after, err := l.count(ctx, distributor, false)
	if err != nil {
		return 0, err
	}
	return before - after, nil
}

func (l *TransferLedger) count(ctx context.Context, distributor string, final bool) (int, error) {
	query := `SELECT count() FROM transfers WHERE distributor = ?`
	if final {
		query = `SELECT count() FROM transfers FINAL WHERE distributor = ?`
	}

	var n uint64
	if err := l.conn.QueryRow(ctx, query, distributor).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return int(n), nil
}
