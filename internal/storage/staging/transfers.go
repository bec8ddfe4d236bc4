package staging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"solana-rewards-indexer/internal/domain"
)

// stagedTransfer is the on-disk form of a TransferRecord.
type stagedTransfer struct {
	Signature     string `json:"signature"`
	Slot          int64  `json:"slot"`
	Timestamp     int64  `json:"timestamp"`
	Amount        string `json:"amount"`
	Token         string `json:"token"`
	WalletAddress string `json:"wallet_address"`
	Distributor   string `json:"distributor"`
}

// InsertTransfers appends records without checking the natural key;
// DeleteDuplicateTransfers removes duplicates before migration.
func (s *Store) InsertTransfers(ctx context.Context, records []*domain.TransferRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}

	for start := 0; start < len(records); start += s.chunkSize {
		end := min(start+s.chunkSize, len(records))

		keys := make([][]byte, 0, end-start)
		values := make([][]byte, 0, end-start)
		for i, r := range records[start:end] {
			data, err := json.Marshal(stagedTransfer{
				Signature:     r.Signature,
				Slot:          r.Slot,
				Timestamp:     r.Timestamp,
				Amount:        r.Amount.String(),
				Token:         r.Token,
				WalletAddress: r.WalletAddress,
				Distributor:   r.Distributor,
			})
			if err != nil {
				return start, fmt.Errorf("marshal transfer %s: %w", r.Signature, err)
			}
			keys = append(keys, seqKey(transferPrefix, s.nextXfer+uint64(i)))
			values = append(values, data)
		}

		if err := s.putAll(keys, values); err != nil {
			return start, fmt.Errorf("insert transfer chunk at %d: %w", s.nextXfer, err)
		}
		s.nextXfer += uint64(len(keys))
	}

	return len(records), nil
}

// GetTransfers returns up to limit staged transfers of distributor, skipping offset of them.
func (s *Store) GetTransfers(ctx context.Context, distributor string, offset, limit int) ([]*domain.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	var (
		result  []*domain.TransferRecord
		skipped int
	)
	err := s.scanTransfers(func(_ []byte, r *domain.TransferRecord) bool {
		if r.Distributor != distributor {
			return true
		}
		if skipped < offset {
			skipped++
			return true
		}
		result = append(result, r)
		return len(result) < limit
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetTransfersFrom seeks straight to sequence from, so paging through the
// staged transfers decodes each row once.
func (s *Store) GetTransfersFrom(ctx context.Context, distributor string, from uint64, limit int) ([]*domain.TransferRecord, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(ctx); err != nil {
		return nil, from, err
	}
	if limit <= 0 {
		return nil, from, nil
	}

	var result []*domain.TransferRecord
	next := from
	err := s.scanTransfersFrom(from, func(key []byte, r *domain.TransferRecord) bool {
		next = keySeq(transferPrefix, key) + 1
		if r.Distributor == distributor {
			result = append(result, r)
		}
		return len(result) < limit
	})
	if err != nil {
		return nil, from, err
	}

	return result, next, nil
}

// CountTransfers returns the number of staged transfers of distributor.
func (s *Store) CountTransfers(ctx context.Context, distributor string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}

	var n int
	err := s.scanTransfers(func(_ []byte, r *domain.TransferRecord) bool {
		if r.Distributor == distributor {
			n++
		}
		return true
	})
	return n, err
}

// DeleteDuplicateTransfers removes every staged transfer whose natural key was
// already seen at a lower sequence.
func (s *Store) DeleteDuplicateTransfers(ctx context.Context, distributor string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}

	seen := make(map[domain.TransferKey]struct{})
	var dupes [][]byte
	err := s.scanTransfers(func(key []byte, r *domain.TransferRecord) bool {
		if r.Distributor != distributor {
			return true
		}
		k := r.Key()
		if _, ok := seen[k]; ok {
			dupes = append(dupes, key)
			return true
		}
		seen[k] = struct{}{}
		return true
	})
	if err != nil {
		return 0, err
	}

	if len(dupes) == 0 {
		return 0, nil
	}
	if err := s.deleteAll(dupes); err != nil {
		return 0, fmt.Errorf("delete duplicate transfers: %w", err)
	}
	return len(dupes), nil
}

// scanTransfers visits staged transfers in sequence order until fn returns false.
// Keys passed to fn are copies.
func (s *Store) scanTransfers(fn func(key []byte, r *domain.TransferRecord) bool) error {
	return s.scanTransfersFrom(0, fn)
}

// scanTransfersFrom is scanTransfers starting at sequence from.
func (s *Store) scanTransfersFrom(from uint64, fn func(key []byte, r *domain.TransferRecord) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = transferPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seqKey(transferPrefix, from)); it.ValidForPrefix(transferPrefix); it.Next() {
			item := it.Item()
			var st stagedTransfer
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			}); err != nil {
				return fmt.Errorf("decode staged transfer: %w", err)
			}

			r, err := st.record()
			if err != nil {
				return err
			}
			if !fn(item.KeyCopy(nil), r) {
				return nil
			}
		}
		return nil
	})
}

func (st stagedTransfer) record() (*domain.TransferRecord, error) {
	amount, err := parseAmount(st.Amount)
	if err != nil {
		return nil, err
	}
	return &domain.TransferRecord{
		Signature:     st.Signature,
		Slot:          st.Slot,
		Timestamp:     st.Timestamp,
		Amount:        amount,
		Token:         st.Token,
		WalletAddress: st.WalletAddress,
		Distributor:   st.Distributor,
	}, nil
}
