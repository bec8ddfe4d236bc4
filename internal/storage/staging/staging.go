// Package staging is the disposable per-distributor store used while a
// distributor is bootstrapped. Each distributor gets its own Badger directory
// that is removed once its transfers reach production.
package staging

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"solana-rewards-indexer/internal/storage"
)

const (
	// DefaultChunkSize is the number of rows written per transaction.
	DefaultChunkSize = 5000

	// DefaultBlockCacheSize is larger than Badger's default to favor bulk scans.
	DefaultBlockCacheSize = 512 << 20
)

var (
	rawPrefix      = []byte("raw/")
	transferPrefix = []byte("xfer/")
	checkpointKey  = []byte("checkpoint")
)

// Options configures a staging store.
type Options struct {
	Dir            string
	ChunkSize      int
	BlockCacheSize int64
}

// Store implements storage.StagingStore on Badger.
// Rows are keyed by prefix + big-endian sequence, so key order is insertion order.
type Store struct {
	db        *badger.DB
	dir       string
	chunkSize int

	mu       sync.Mutex
	nextRaw  uint64
	nextXfer uint64
	closed   bool
}

// Compile-time interface check.
var _ storage.StagingStore = (*Store)(nil)

// DirFor returns the staging directory of a distributor under root.
func DirFor(root, distributor string) string {
	return filepath.Join(root, distributor)
}

// Exists reports whether a distributor has a staging directory under root.
func Exists(root, distributor string) bool {
	_, err := os.Stat(DirFor(root, distributor))
	return err == nil
}

// Remove deletes a distributor's staging directory. Missing directories are not an error.
func Remove(root, distributor string) error {
	return os.RemoveAll(DirFor(root, distributor))
}

// Open opens or creates a staging store.
// Writes are not synced: staged data can always be fetched again.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("staging dir: %w", storage.ErrInvalidInput)
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.BlockCacheSize <= 0 {
		opts.BlockCacheSize = DefaultBlockCacheSize
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	bopts := badger.DefaultOptions(opts.Dir).
		WithLogger(nil).
		WithSyncWrites(false).
		WithDetectConflicts(false).
		WithBlockCacheSize(opts.BlockCacheSize)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open staging db: %w", err)
	}

	s := &Store{db: db, dir: opts.Dir, chunkSize: opts.ChunkSize}

	err = db.View(func(txn *badger.Txn) error {
		var err error
		if s.nextRaw, err = nextSequence(txn, rawPrefix); err != nil {
			return err
		}
		s.nextXfer, err = nextSequence(txn, transferPrefix)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load staging sequences: %w", err)
	}

	return s, nil
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// Close releases the store. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// DropStagingTables deletes every staged row and the checkpoint, then removes the directory.
// The store is closed afterwards.
func (s *Store) DropStagingTables(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("drop staging rows: %w", err)
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close staging db: %w", err)
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove staging dir: %w", err)
	}
	return nil
}

// checkOpen must be called with mu held.
func (s *Store) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

func seqKey(prefix []byte, seq uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], seq)
	return k
}

func keySeq(prefix, key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(prefix):])
}

// nextSequence returns one past the highest sequence under prefix.
func nextSequence(txn *badger.Txn, prefix []byte) (uint64, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	// Seek past every key under prefix when iterating in reverse.
	it.Seek(seqKey(prefix, ^uint64(0)))
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}
	return keySeq(prefix, it.Item().Key()) + 1, nil
}

// putAll writes entries in as few transactions as Badger allows,
// committing early whenever a transaction grows too big.
func (s *Store) putAll(keys, values [][]byte) error {
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for i := range keys {
		err := txn.Set(keys[i], values[i])
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return err
			}
			txn = s.db.NewTransaction(true)
			err = txn.Set(keys[i], values[i])
		}
		if err != nil {
			return err
		}
	}
	return txn.Commit()
}

// deleteAll removes keys, committing early whenever a transaction grows too big.
func (s *Store) deleteAll(keys [][]byte) error {
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for _, k := range keys {
		err := txn.Delete(k)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return err
			}
			txn = s.db.NewTransaction(true)
			err = txn.Delete(k)
		}
		if err != nil {
			return err
		}
	}
	return txn.Commit()
}
