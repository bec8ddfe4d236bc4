package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/events"
	"solana-rewards-indexer/internal/helius/stub"
	"solana-rewards-indexer/internal/storage"
	"solana-rewards-indexer/internal/storage/memory"
	"solana-rewards-indexer/internal/tokens"
)

const testDistributor = "Dist1111111111111111111111111111111111111111"

var errBoom = errors.New("boom")

type testEnv struct {
	cfg       Config
	feed      *stub.Feed
	assets    *stub.Assets
	store     *memory.ProductionStore
	resolver  *tokens.Resolver
	publisher *events.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewProductionStore()
	assets := stub.NewAssets()
	return &testEnv{
		cfg: Config{
			MaxConsecutiveErrors:  5,
			FinishedConfirmations: 5,
			RetryDelay:            0,
			CallLimit:             100,
			PageSize:              1000,
			StagingDir:            t.TempDir(),
		},
		feed:      stub.NewFeed(),
		assets:    assets,
		store:     store,
		resolver:  tokens.NewResolver(store, assets, discardLogger()),
		publisher: &events.Recorder{},
	}
}

func (e *testEnv) deps() Deps {
	return Deps{
		Feed:      e.feed,
		Resolver:  e.resolver,
		Store:     e.store,
		Publisher: e.publisher,
		Logger:    discardLogger(),
	}
}

func (e *testEnv) initializer(opener StagingOpener) *Initializer {
	return NewInitializer(e.cfg, e.deps(), opener)
}

func (e *testEnv) updater() *Updater {
	return NewUpdater(e.cfg, e.deps())
}

func (e *testEnv) total(t *testing.T, wallet, token string) decimal.Decimal {
	t.Helper()
	w, err := e.store.GetWalletRewards(context.Background(), wallet)
	if errors.Is(err, storage.ErrNotFound) {
		return decimal.Zero
	}
	require.NoError(t, err)
	return w.Total(testDistributor, token)
}

func (e *testEnv) activate(t *testing.T, lastSignature string) {
	t.Helper()
	require.NoError(t, e.store.UpsertDistributor(context.Background(), &domain.SupportedDistributor{
		Name:          "test",
		Address:       testDistributor,
		LastSignature: lastSignature,
		Status:        domain.StatusActive,
	}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func registration() *domain.SupportedDistributor {
	return &domain.SupportedDistributor{
		Name:      "test",
		Address:   testDistributor,
		TokenMint: "MintProject",
		DevWallet: "DevWallet",
	}
}

// solTx pays lamports to each wallet in one transaction.
func solTx(sig string, slot int64, payouts map[string]int64) *domain.RawTransaction {
	tx := &domain.RawTransaction{
		FeePayer:  testDistributor,
		Signature: sig,
		Slot:      slot,
		Timestamp: 1700000000 + slot,
	}
	for wallet, lamports := range payouts {
		tx.NativeTransfers = append(tx.NativeTransfers, domain.NativeTransfer{ToAccount: wallet, AmountLamports: lamports})
	}
	return tx
}

func tokenTx(sig string, slot int64, wallet, mint, amount string) *domain.RawTransaction {
	return &domain.RawTransaction{
		FeePayer:  testDistributor,
		Signature: sig,
		Slot:      slot,
		Timestamp: 1700000000 + slot,
		TokenTransfers: []domain.TokenTransfer{
			{ToAccount: wallet, Mint: mint, RawAmount: decimal.RequireFromString(amount)},
		},
	}
}

// history builds n one-SOL payouts to W1, newest first, signatures s<n-1>..s0.
func history(n int) []*domain.RawTransaction {
	txs := make([]*domain.RawTransaction, n)
	for i := 0; i < n; i++ {
		seq := n - 1 - i
		txs[i] = solTx(fmt.Sprintf("s%d", seq), int64(seq+1), map[string]int64{"W1": 1_000_000_000})
	}
	return txs
}

func emptySteps(n int) []stub.Step {
	steps := make([]stub.Step, n)
	return steps
}

func errorSteps(n int) []stub.Step {
	steps := make([]stub.Step, n)
	for i := range steps {
		steps[i].Err = errBoom
	}
	return steps
}

// flakyStaging fails selected staging writes a fixed number of times.
type flakyStaging struct {
	storage.StagingStore

	mu                  sync.Mutex
	failInsertTransfers int
	failInsertRaw       int
	failCount           int
	// reads at failReadsAt fail failReads times
	failReadsAt uint64
	failReads   int
	reads       []uint64
}

func (f *flakyStaging) InsertTransfers(ctx context.Context, records []*domain.TransferRecord) (int, error) {
	f.mu.Lock()
	if f.failInsertTransfers > 0 {
		f.failInsertTransfers--
		f.mu.Unlock()
		return 0, errBoom
	}
	f.mu.Unlock()
	return f.StagingStore.InsertTransfers(ctx, records)
}

func (f *flakyStaging) InsertRawBatch(ctx context.Context, txs []*domain.RawTransaction) error {
	f.mu.Lock()
	if f.failInsertRaw > 0 {
		f.failInsertRaw--
		f.mu.Unlock()
		return errBoom
	}
	f.mu.Unlock()
	return f.StagingStore.InsertRawBatch(ctx, txs)
}

func (f *flakyStaging) CountTransfers(ctx context.Context, distributor string) (int, error) {
	f.mu.Lock()
	if f.failCount > 0 {
		f.failCount--
		f.mu.Unlock()
		return 0, errBoom
	}
	f.mu.Unlock()
	return f.StagingStore.CountTransfers(ctx, distributor)
}

func (f *flakyStaging) GetTransfersFrom(ctx context.Context, distributor string, from uint64, limit int) ([]*domain.TransferRecord, uint64, error) {
	f.mu.Lock()
	f.reads = append(f.reads, from)
	if from == f.failReadsAt && f.failReads > 0 {
		f.failReads--
		f.mu.Unlock()
		return nil, from, errBoom
	}
	f.mu.Unlock()
	return f.StagingStore.GetTransfersFrom(ctx, distributor, from, limit)
}

// flakyProduction fails CommitIncrement a fixed number of times.
type flakyProduction struct {
	*memory.ProductionStore

	failCommits int
}

func (f *flakyProduction) CommitIncrement(ctx context.Context, distributor string, records []*domain.TransferRecord, lastSignature string, fold storage.FoldFunc) ([]*domain.TransferRecord, error) {
	if f.failCommits > 0 {
		f.failCommits--
		return nil, errBoom
	}
	return f.ProductionStore.CommitIncrement(ctx, distributor, records, lastSignature, fold)
}
