package pipeline

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/events"
	"solana-rewards-indexer/internal/helius/stub"
	"solana-rewards-indexer/internal/storage"
	"solana-rewards-indexer/internal/storage/memory"
)

func TestUpdater_WatermarkMonotonicity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.feed.SetHistory(testDistributor, history(6)...)
	env.activate(t, "s2")

	res, err := env.updater().Update(ctx, testDistributor)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Transactions)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, "s5", res.LastSignature)

	d, err := env.store.GetDistributor(ctx, testDistributor)
	require.NoError(t, err)
	assert.Equal(t, "s5", d.LastSignature)
	assert.True(t, decimal.NewFromInt(3).Equal(env.total(t, "W1", "sol")))

	calls := env.feed.Calls()
	require.NotEmpty(t, calls)
	assert.Empty(t, calls[0].Until, "the watermark is matched in the page, not upstream")

	// nothing new upstream
	res, err = env.updater().Update(ctx, testDistributor)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Equal(t, "s5", res.LastSignature)
	assert.True(t, decimal.NewFromInt(3).Equal(env.total(t, "W1", "sol")))
}

func TestUpdater_PicksUpNewTransactions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.feed.SetHistory(testDistributor, history(2)...)
	env.activate(t, "s1")

	res, err := env.updater().Update(ctx, testDistributor)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)

	env.feed.Prepend(testDistributor, solTx("n1", 100, map[string]int64{"W2": 2_500_000_000, "W3": 1}))

	res, err = env.updater().Update(ctx, testDistributor)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 2, res.Wallets)
	assert.Equal(t, "n1", res.LastSignature)

	w2, err := env.store.GetWalletRewards(ctx, "W2")
	require.NoError(t, err)
	assert.Equal(t, "2.5", w2.Total(testDistributor, "sol").String())

	evs := env.publisher.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindUpdate, evs[0].Kind)
	assert.Equal(t, []string{"W2", "W3"}, evs[0].Wallets)
	assert.Equal(t, "n1", evs[0].LastSignature)
}

func TestUpdater_MultipleBatchesMoveWatermarkLast(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.cfg.CallLimit = 1
	env.cfg.PageSize = 2
	env.feed.SetHistory(testDistributor, history(6)...)
	env.activate(t, "s0")

	var seen []string
	store := &watermarkRecorder{ProductionStore: env.store, seen: &seen}
	deps := env.deps()
	deps.Store = store

	res, err := NewUpdater(env.cfg, deps).Update(ctx, testDistributor)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Inserted)
	assert.Equal(t, "s5", res.LastSignature)

	require.NotEmpty(t, seen)
	for _, sig := range seen[:len(seen)-1] {
		assert.Equal(t, "s0", sig, "intermediate batches keep the old watermark")
	}
	assert.Equal(t, "s5", seen[len(seen)-1])
	assert.True(t, decimal.NewFromInt(5).Equal(env.total(t, "W1", "sol")))
}

func TestUpdater_InterruptedCommitRescansTail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.feed.SetHistory(testDistributor, history(4)...)
	env.activate(t, "s1")

	deps := env.deps()
	deps.Store = &flakyProduction{ProductionStore: env.store, failCommits: 5}

	_, err := NewUpdater(env.cfg, deps).Update(ctx, testDistributor)
	require.ErrorIs(t, err, ErrStorageWrite)

	d, err := env.store.GetDistributor(ctx, testDistributor)
	require.NoError(t, err)
	assert.Equal(t, "s1", d.LastSignature, "watermark must not move before the batch is stored")

	res, err := env.updater().Update(ctx, testDistributor)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.True(t, decimal.NewFromInt(2).Equal(env.total(t, "W1", "sol")))
}

func TestUpdater_EmptyPageBeforeWatermarkIsDebounced(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.cfg.CallLimit = 2
	env.cfg.PageSize = 2
	all := history(6)
	env.feed.SetHistory(testDistributor, all...)
	env.activate(t, "s0")
	// one real page, then a false end of history
	env.feed.Script(stub.Step{Txs: all[0:2]}, stub.Step{})

	res, err := env.updater().Update(ctx, testDistributor)
	require.NoError(t, err)
	assert.False(t, res.Incomplete)
	assert.Equal(t, 5, res.Inserted)
	assert.Equal(t, "s5", res.LastSignature)
	assert.True(t, decimal.NewFromInt(5).Equal(env.total(t, "W1", "sol")))

	calls := env.feed.Calls()
	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, "s4", calls[1].Before)
	assert.Equal(t, "s4", calls[2].Before, "the empty page is re-requested at the same cursor")
}

func TestUpdater_FalseEndOfHistoryKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.cfg.CallLimit = 2
	env.cfg.PageSize = 2
	all := history(6)
	env.feed.SetHistory(testDistributor, all...)
	env.activate(t, "s0")
	env.feed.Script(append([]stub.Step{{Txs: all[0:2]}}, emptySteps(5)...)...)

	res, err := env.updater().Update(ctx, testDistributor)
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, "s0", res.LastSignature)

	d, err := env.store.GetDistributor(ctx, testDistributor)
	require.NoError(t, err)
	assert.Equal(t, "s0", d.LastSignature, "watermark must not pass transfers that were never fetched")

	// the next run scans the whole tail again and only adds what was missed
	res, err = env.updater().Update(ctx, testDistributor)
	require.NoError(t, err)
	assert.False(t, res.Incomplete)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, "s5", res.LastSignature)
	assert.True(t, decimal.NewFromInt(5).Equal(env.total(t, "W1", "sol")))
}

func TestUpdater_EmptyWatermarkUsesDebouncedEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.feed.SetHistory(testDistributor, history(2)...)
	env.activate(t, "")

	res, err := env.updater().Update(ctx, testDistributor)
	require.NoError(t, err)
	assert.False(t, res.Incomplete)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, "s1", res.LastSignature)
	// one page of data, then five confirmations
	assert.Len(t, env.feed.Calls(), 7)
}

func TestUpdater_FeedErrorsAbort(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.activate(t, "s0")
	env.feed.Script(errorSteps(5)...)

	_, err := env.updater().Update(ctx, testDistributor)
	assert.ErrorIs(t, err, ErrTransientFeed)
	assert.ErrorIs(t, err, ErrTooManyFailures)
}

func TestUpdater_FeedErrorRecovers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.feed.SetHistory(testDistributor, history(3)...)
	env.activate(t, "s0")
	env.feed.Script(errorSteps(4)...)

	res, err := env.updater().Update(ctx, testDistributor)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
}

func TestUpdater_NotBootstrapped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.updater().Update(ctx, testDistributor)
	assert.ErrorIs(t, err, ErrNotBootstrapped)

	require.NoError(t, env.store.UpsertDistributor(ctx, &domain.SupportedDistributor{
		Address: testDistributor,
		Status:  domain.StatusAggregating,
	}))
	_, err = env.updater().Update(ctx, testDistributor)
	assert.ErrorIs(t, err, ErrNotBootstrapped)
	assert.Empty(t, env.feed.Calls())
}

func TestUpdater_SwapOnlyTailStillMovesWatermark(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	swap := solTx("swap", 10, map[string]int64{"W1": 1})
	swap.TokenTransfers = []domain.TokenTransfer{{ToAccount: "W1", Mint: "MintX", RawAmount: decimal.NewFromInt(1)}}
	env.feed.SetHistory(testDistributor, swap, solTx("s0", 1, map[string]int64{"W1": 1}))
	env.activate(t, "s0")

	res, err := env.updater().Update(ctx, testDistributor)
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Equal(t, "swap", res.LastSignature)

	d, err := env.store.GetDistributor(ctx, testDistributor)
	require.NoError(t, err)
	assert.Equal(t, "swap", d.LastSignature)
	assert.Empty(t, env.publisher.Events())
}

func TestBootstrapThenUpdate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.feed.SetHistory(testDistributor, history(3)...)

	_, err := env.initializer(nil).Run(ctx, registration())
	require.NoError(t, err)

	env.feed.Prepend(testDistributor, history(5)[:2]...)
	// a page that ignores until must still stop at the watermark
	env.feed.Script(stub.Step{Txs: history(5)})

	res, err := env.updater().Update(ctx, testDistributor)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, "s4", res.LastSignature)
	assert.True(t, decimal.NewFromInt(5).Equal(env.total(t, "W1", "sol")))
}

// watermarkRecorder records the watermark of every committed batch.
type watermarkRecorder struct {
	*memory.ProductionStore

	seen *[]string
}

func (w *watermarkRecorder) CommitIncrement(ctx context.Context, distributor string, records []*domain.TransferRecord, lastSignature string, fold storage.FoldFunc) ([]*domain.TransferRecord, error) {
	*w.seen = append(*w.seen, lastSignature)
	return w.ProductionStore.CommitIncrement(ctx, distributor, records, lastSignature, fold)
}
