package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/storage"
)

// ProductionStore is an in-memory implementation of storage.ProductionStore.
// One lock guards every table so multi-table operations stay atomic.
type ProductionStore struct {
	mu           sync.RWMutex
	transfers    []*domain.TransferRecord // insertion order
	transferKeys map[domain.TransferKey]struct{}
	tokens       map[string]*domain.KnownToken
	distributors map[string]*domain.SupportedDistributor
	wallets      map[string]map[string]map[string]decimal.Decimal
}

// NewProductionStore creates a new in-memory production store.
func NewProductionStore() *ProductionStore {
	return &ProductionStore{
		transferKeys: make(map[domain.TransferKey]struct{}),
		tokens:       make(map[string]*domain.KnownToken),
		distributors: make(map[string]*domain.SupportedDistributor),
		wallets:      make(map[string]map[string]map[string]decimal.Decimal),
	}
}

// Compile-time interface check.
var _ storage.ProductionStore = (*ProductionStore)(nil)

// InsertTransfers adds records, skipping those whose natural key already exists.
func (s *ProductionStore) InsertTransfers(_ context.Context, records []*domain.TransferRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.insertTransfersLocked(records)), nil
}

func (s *ProductionStore) insertTransfersLocked(records []*domain.TransferRecord) []*domain.TransferRecord {
	var inserted []*domain.TransferRecord
	for _, r := range records {
		k := r.Key()
		if _, exists := s.transferKeys[k]; exists {
			continue
		}
		rCopy := *r
		s.transferKeys[k] = struct{}{}
		s.transfers = append(s.transfers, &rCopy)
		inserted = append(inserted, r)
	}
	return inserted
}

// GetTransfers returns a page of a distributor's transfers in insertion order.
func (s *ProductionStore) GetTransfers(_ context.Context, distributor string, offset, limit int) ([]*domain.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		result  []*domain.TransferRecord
		skipped int
	)
	for _, r := range s.transfers {
		if len(result) >= limit {
			break
		}
		if r.Distributor != distributor {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		rCopy := *r
		result = append(result, &rCopy)
	}
	return result, nil
}

// CountTransfers returns the number of transfers of a distributor.
func (s *ProductionStore) CountTransfers(_ context.Context, distributor string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, r := range s.transfers {
		if r.Distributor == distributor {
			n++
		}
	}
	return n, nil
}

// DeleteDuplicateTransfers keeps the first row of every natural key.
func (s *ProductionStore) DeleteDuplicateTransfers(_ context.Context, distributor string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[domain.TransferKey]struct{})
	kept := s.transfers[:0]
	var removed int
	for _, r := range s.transfers {
		if r.Distributor == distributor {
			k := r.Key()
			if _, dup := seen[k]; dup {
				removed++
				continue
			}
			seen[k] = struct{}{}
		}
		kept = append(kept, r)
	}
	s.transfers = kept
	return removed, nil
}

// InsertKnownToken adds a token. Returns ErrDuplicateKey if mint exists.
func (s *ProductionStore) InsertKnownToken(_ context.Context, t *domain.KnownToken) error {
	if t == nil || t.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[t.Mint]; exists {
		return storage.ErrDuplicateKey
	}
	tCopy := *t
	s.tokens[t.Mint] = &tCopy
	return nil
}

// GetKnownTokens returns every known token ordered by mint.
func (s *ProductionStore) GetKnownTokens(_ context.Context) ([]*domain.KnownToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.KnownToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		tCopy := *t
		result = append(result, &tCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Mint < result[j].Mint })
	return result, nil
}

// UpsertDistributor creates or replaces a distributor.
func (s *ProductionStore) UpsertDistributor(_ context.Context, d *domain.SupportedDistributor) error {
	if d == nil || d.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dCopy := *d
	dCopy.UpdatedAt = time.Now().UnixMilli()
	s.distributors[d.Address] = &dCopy
	return nil
}

// GetDistributor retrieves a distributor. Returns ErrNotFound if not exists.
func (s *ProductionStore) GetDistributor(_ context.Context, address string) (*domain.SupportedDistributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.distributors[address]
	if !exists {
		return nil, storage.ErrNotFound
	}
	dCopy := *d
	return &dCopy, nil
}

// ListDistributors returns distributors with the given status, or all when status is empty.
func (s *ProductionStore) ListDistributors(_ context.Context, status domain.DistributorStatus) ([]*domain.SupportedDistributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SupportedDistributor
	for _, d := range s.distributors {
		if status != "" && d.Status != status {
			continue
		}
		dCopy := *d
		result = append(result, &dCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result, nil
}

// IncrementWallets adds every delta to its total.
func (s *ProductionStore) IncrementWallets(_ context.Context, deltas []domain.WalletDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.incrementLocked(deltas)
	return nil
}

func (s *ProductionStore) incrementLocked(deltas []domain.WalletDelta) {
	for _, d := range deltas {
		byDist := s.wallets[d.WalletAddress]
		if byDist == nil {
			byDist = make(map[string]map[string]decimal.Decimal)
			s.wallets[d.WalletAddress] = byDist
		}
		byToken := byDist[d.Distributor]
		if byToken == nil {
			byToken = make(map[string]decimal.Decimal)
			byDist[d.Distributor] = byToken
		}
		byToken[d.Token] = byToken[d.Token].Add(d.Amount)
	}
}

// GetWalletRewards returns every total of a wallet. Returns ErrNotFound if it has none.
func (s *ProductionStore) GetWalletRewards(_ context.Context, wallet string) (*domain.WalletRewards, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDist, exists := s.wallets[wallet]
	if !exists {
		return nil, storage.ErrNotFound
	}

	result := &domain.WalletRewards{
		WalletAddress: wallet,
		Distributors:  make(map[string]map[string]domain.TokenTotal, len(byDist)),
	}
	for dist, byToken := range byDist {
		totals := make(map[string]domain.TokenTotal, len(byToken))
		for token, amount := range byToken {
			totals[token] = domain.TokenTotal{TotalAmount: amount}
		}
		result.Distributors[dist] = totals
	}
	return result, nil
}

// ApplyAggregation increments totals and records the aggregation offset atomically.
func (s *ProductionStore) ApplyAggregation(_ context.Context, distributor string, deltas []domain.WalletDelta, aggregatedOffset int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exists := s.distributors[distributor]
	if !exists {
		return storage.ErrNotFound
	}
	s.incrementLocked(deltas)
	d.AggregatedOffset = aggregatedOffset
	d.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// CommitIncrement inserts records, folds the new ones and moves last_signature atomically.
func (s *ProductionStore) CommitIncrement(
	_ context.Context,
	distributor string,
	records []*domain.TransferRecord,
	lastSignature string,
	fold storage.FoldFunc,
) ([]*domain.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exists := s.distributors[distributor]
	if !exists {
		return nil, storage.ErrNotFound
	}

	inserted := s.insertTransfersLocked(records)
	if len(inserted) > 0 && fold != nil {
		s.incrementLocked(fold(inserted))
	}
	d.LastSignature = lastSignature
	d.UpdatedAt = time.Now().UnixMilli()
	return inserted, nil
}
