package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/storage"
)

// DefaultWalletBatchSize is the number of distinct wallets upserted per round-trip.
const DefaultWalletBatchSize = 5000

// WalletStore implements storage.WalletStore using PostgreSQL.
// Totals live in wallet_rewards, one row per (wallet, distributor, token).
type WalletStore struct {
	pool      *Pool
	batchSize int
}

// NewWalletStore creates a new WalletStore.
func NewWalletStore(pool *Pool) *WalletStore {
	return &WalletStore{pool: pool, batchSize: DefaultWalletBatchSize}
}

// Compile-time interface check.
var _ storage.WalletStore = (*WalletStore)(nil)

// SetBatchSize overrides the number of wallets per round-trip.
func (s *WalletStore) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

const incrementWalletSQL = `
	INSERT INTO wallet_rewards (wallet_address, distributor, token, total_amount)
	VALUES ($1, $2, $3, $4::numeric)
	ON CONFLICT (wallet_address, distributor, token)
	DO UPDATE SET total_amount = wallet_rewards.total_amount + EXCLUDED.total_amount
`

// IncrementWallets applies deltas, one transaction per wallet chunk.
func (s *WalletStore) IncrementWallets(ctx context.Context, deltas []domain.WalletDelta) error {
	for _, chunk := range chunkByWallet(deltas, s.batchSize) {
		err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
			return incrementWallets(ctx, tx, chunk)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// incrementWallets upserts deltas in one pipelined batch.
// Callers pass deltas sorted by key so concurrent transactions lock rows in the same order.
func incrementWallets(ctx context.Context, q querier, deltas []domain.WalletDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range deltas {
		batch.Queue(incrementWalletSQL, d.WalletAddress, d.Distributor, d.Token, d.Amount.String())
	}

	br := q.SendBatch(ctx, batch)
	for _, d := range deltas {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("increment wallet %s: %w", d.WalletAddress, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close increment batch: %w", err)
	}
	return nil
}

// chunkByWallet splits deltas so no chunk spans more than size distinct wallets.
// Deltas of one wallet stay in one chunk when they are contiguous.
func chunkByWallet(deltas []domain.WalletDelta, size int) [][]domain.WalletDelta {
	if len(deltas) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultWalletBatchSize
	}

	var (
		chunks  [][]domain.WalletDelta
		start   int
		wallets int
		last    string
	)
	for i, d := range deltas {
		if i == 0 || d.WalletAddress != last {
			if wallets == size {
				chunks = append(chunks, deltas[start:i])
				start, wallets = i, 0
			}
			wallets++
			last = d.WalletAddress
		}
	}
	return append(chunks, deltas[start:])
}

// GetWalletRewards returns all totals of a wallet. Returns ErrNotFound if it has none.
func (s *WalletStore) GetWalletRewards(ctx context.Context, wallet string) (*domain.WalletRewards, error) {
	query := `
		SELECT distributor, token, total_amount::text
		FROM wallet_rewards
		WHERE wallet_address = $1
		ORDER BY distributor, token
	`

	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("query wallet rewards: %w", err)
	}
	defer rows.Close()

	result := &domain.WalletRewards{
		WalletAddress: wallet,
		Distributors:  make(map[string]map[string]domain.TokenTotal),
	}
	for rows.Next() {
		var distributor, token, total string
		if err := rows.Scan(&distributor, &token, &total); err != nil {
			return nil, fmt.Errorf("scan wallet reward: %w", err)
		}
		amount, err := parseNumeric(total)
		if err != nil {
			return nil, err
		}
		if result.Distributors[distributor] == nil {
			result.Distributors[distributor] = make(map[string]domain.TokenTotal)
		}
		result.Distributors[distributor][token] = domain.TokenTotal{TotalAmount: amount}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	if len(result.Distributors) == 0 {
		return nil, storage.ErrNotFound
	}

	return result, nil
}
