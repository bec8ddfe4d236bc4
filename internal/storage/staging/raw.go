package staging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"solana-rewards-indexer/internal/domain"
)

// InsertRawBatch appends raw transactions, one write transaction per chunk.
func (s *Store) InsertRawBatch(ctx context.Context, txs []*domain.RawTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(ctx); err != nil {
		return err
	}

	for start := 0; start < len(txs); start += s.chunkSize {
		end := min(start+s.chunkSize, len(txs))

		keys := make([][]byte, 0, end-start)
		values := make([][]byte, 0, end-start)
		for i, tx := range txs[start:end] {
			data, err := json.Marshal(tx)
			if err != nil {
				return fmt.Errorf("marshal raw transaction %s: %w", tx.Signature, err)
			}
			keys = append(keys, seqKey(rawPrefix, s.nextRaw+uint64(i)))
			values = append(values, data)
		}

		if err := s.putAll(keys, values); err != nil {
			return fmt.Errorf("insert raw chunk at %d: %w", s.nextRaw, err)
		}
		s.nextRaw += uint64(len(keys))
	}

	return nil
}

// GetRawBatch returns up to limit raw transactions starting at offset.
// Raw rows are never deleted individually, so offset maps directly to a key.
func (s *Store) GetRawBatch(ctx context.Context, offset, limit int) ([]*domain.RawTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	if offset < 0 || limit <= 0 {
		return nil, nil
	}

	var result []*domain.RawTransaction
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = rawPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seqKey(rawPrefix, uint64(offset))); it.ValidForPrefix(rawPrefix) && len(result) < limit; it.Next() {
			var tx domain.RawTransaction
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &tx)
			})
			if err != nil {
				return fmt.Errorf("decode raw transaction: %w", err)
			}
			result = append(result, &tx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CountRaw returns the number of staged raw transactions.
func (s *Store) CountRaw(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(ctx); err != nil {
		return 0, err
	}
	return int(s.nextRaw), nil
}
