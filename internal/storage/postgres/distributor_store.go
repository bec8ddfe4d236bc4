package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/storage"
)

// DistributorStore implements storage.DistributorStore using PostgreSQL.
type DistributorStore struct {
	pool *Pool
}

// NewDistributorStore creates a new DistributorStore.
func NewDistributorStore(pool *Pool) *DistributorStore {
	return &DistributorStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DistributorStore = (*DistributorStore)(nil)

const selectDistributorColumns = `
	SELECT address, name, token_mint, dev_wallet, last_signature, status, aggregated_offset, updated_at
	FROM supported_distributors
`

// UpsertDistributor creates or replaces a distributor row.
func (s *DistributorStore) UpsertDistributor(ctx context.Context, d *domain.SupportedDistributor) error {
	if d == nil || d.Address == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO supported_distributors (
			address, name, token_mint, dev_wallet, last_signature, status, aggregated_offset, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET
			name = EXCLUDED.name,
			token_mint = EXCLUDED.token_mint,
			dev_wallet = EXCLUDED.dev_wallet,
			last_signature = EXCLUDED.last_signature,
			status = EXCLUDED.status,
			aggregated_offset = EXCLUDED.aggregated_offset,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		d.Address, d.Name, d.TokenMint, d.DevWallet, d.LastSignature,
		string(d.Status), d.AggregatedOffset, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert distributor: %w", err)
	}

	return nil
}

// GetDistributor retrieves a distributor by address. Returns ErrNotFound if not exists.
func (s *DistributorStore) GetDistributor(ctx context.Context, address string) (*domain.SupportedDistributor, error) {
	row := s.pool.QueryRow(ctx, selectDistributorColumns+` WHERE address = $1`, address)

	d, err := scanDistributor(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get distributor: %w", err)
	}
	return d, nil
}

// ListDistributors returns distributors with the given status, or all when status is empty.
func (s *DistributorStore) ListDistributors(ctx context.Context, status domain.DistributorStatus) ([]*domain.SupportedDistributor, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.pool.Query(ctx, selectDistributorColumns+` ORDER BY address`)
	} else {
		rows, err = s.pool.Query(ctx, selectDistributorColumns+` WHERE status = $1 ORDER BY address`, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("query distributors: %w", err)
	}
	defer rows.Close()

	var result []*domain.SupportedDistributor
	for rows.Next() {
		d, err := scanDistributor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan distributor: %w", err)
		}
		result = append(result, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}

func scanDistributor(row pgx.Row) (*domain.SupportedDistributor, error) {
	var (
		d      domain.SupportedDistributor
		status string
	)
	err := row.Scan(
		&d.Address, &d.Name, &d.TokenMint, &d.DevWallet, &d.LastSignature,
		&status, &d.AggregatedOffset, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = domain.DistributorStatus(status)
	return &d, nil
}
