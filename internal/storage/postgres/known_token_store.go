package postgres

import (
	"context"
	"fmt"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/storage"
)

// KnownTokenStore implements storage.KnownTokenStore using PostgreSQL.
type KnownTokenStore struct {
	pool *Pool
}

// NewKnownTokenStore creates a new KnownTokenStore.
func NewKnownTokenStore(pool *Pool) *KnownTokenStore {
	return &KnownTokenStore{pool: pool}
}

// Compile-time interface check.
var _ storage.KnownTokenStore = (*KnownTokenStore)(nil)

// InsertKnownToken adds a token. Returns ErrDuplicateKey if mint exists.
func (s *KnownTokenStore) InsertKnownToken(ctx context.Context, t *domain.KnownToken) error {
	if t == nil || t.Mint == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO known_tokens (mint, symbol, name, decimals)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query, t.Mint, t.Symbol, t.Name, t.Decimals)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert known token: %w", err)
	}

	return nil
}

// GetKnownTokens returns every known token ordered by mint.
func (s *KnownTokenStore) GetKnownTokens(ctx context.Context) ([]*domain.KnownToken, error) {
	rows, err := s.pool.Query(ctx, `SELECT mint, symbol, name, decimals FROM known_tokens ORDER BY mint`)
	if err != nil {
		return nil, fmt.Errorf("query known tokens: %w", err)
	}
	defer rows.Close()

	var result []*domain.KnownToken
	for rows.Next() {
		var t domain.KnownToken
		if err := rows.Scan(&t.Mint, &t.Symbol, &t.Name, &t.Decimals); err != nil {
			return nil, fmt.Errorf("scan known token: %w", err)
		}
		result = append(result, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return result, nil
}
