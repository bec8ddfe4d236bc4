package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"solana-rewards-indexer/internal/aggregation"
	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/events"
	"solana-rewards-indexer/internal/helius"
	"solana-rewards-indexer/internal/normalization"
	"solana-rewards-indexer/internal/observability"
	"solana-rewards-indexer/internal/storage"
)

// UpdateResult summarizes an incremental update.
type UpdateResult struct {
	Distributor   string
	Transactions  int
	Transfers     int
	Inserted      int
	Wallets       int
	LastSignature string
	// Incomplete reports that the feed ended before the last signature was
	// found. The watermark was kept so the next run scans the same tail.
	Incomplete bool
}

// Updater catches an active distributor up with transactions newer than its
// last signature.
type Updater struct {
	cfg        Config
	deps       Deps
	normalizer *normalization.Normalizer
}

// NewUpdater creates an updater.
func NewUpdater(cfg Config, deps Deps) *Updater {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()
	return &Updater{
		cfg:        cfg,
		deps:       deps,
		normalizer: normalization.NewNormalizer(deps.Resolver, deps.Logger),
	}
}

// Update crawls from the newest transaction back to the stored watermark.
// Each batch is inserted and folded into wallet totals in one transaction.
// The watermark moves to the newest signature seen only with the batch that
// reaches the stored watermark. An interrupted run, or one cut short by a false
// end of history, re-scans the same tail next time and inserts nothing twice.
func (u *Updater) Update(ctx context.Context, address string) (res *UpdateResult, err error) {
	log := u.deps.Logger.With("distributor", address, "run_id", uuid.NewString())
	res = &UpdateResult{Distributor: address}
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.RecordRun("update", status)
		observability.RecordPhase("update", time.Since(start).Seconds())
	}()

	d, err := u.deps.Store.GetDistributor(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return res, fmt.Errorf("%s: %w", address, ErrNotBootstrapped)
	}
	if err != nil {
		return res, fmt.Errorf("get distributor: %w", err)
	}
	if d.Status != domain.StatusActive {
		return res, fmt.Errorf("%s is %s: %w", address, d.Status, ErrNotBootstrapped)
	}
	res.LastSignature = d.LastSignature

	crawler := helius.NewCrawler(helius.CrawlerOptions{
		Source:    u.deps.Feed,
		Address:   address,
		Until:     d.LastSignature,
		CallLimit: u.cfg.CallLimit,
		PageSize:  u.cfg.PageSize,
		Logger:    log,
	})
	feedErrs := newFailureCounter(u.cfg.MaxConsecutiveErrors, u.cfg.RetryDelay)
	finished := 0
	newest := ""
	wallets := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batch, err := crawler.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Warn("feed request failed", "attempt", feedErrs.Count()+1, "error", err)
			if !feedErrs.Fail(ctx) {
				return res, abortError("updating", ErrTransientFeed, feedErrs.Count(), err)
			}
			continue
		}
		feedErrs.Reset()

		done := batch.Reached
		if batch.Finished {
			finished++
			observability.RecordFinishedSignal(address)
			log.Debug("feed reported end of history", "count", finished, "before", batch.Cursor)
			if finished < u.cfg.FinishedConfirmations {
				continue
			}
			done = true
		} else {
			finished = 0
		}

		if newest == "" && len(batch.Transactions) > 0 {
			newest = batch.Transactions[0].Signature
		}
		res.Transactions += len(batch.Transactions)
		observability.RecordTransactions(address, len(batch.Transactions))

		// Only a reached watermark proves the tail is complete. Without one the
		// debounced end of history is all there is.
		watermark := d.LastSignature
		if newest != "" && (batch.Reached || (done && d.LastSignature == "")) {
			watermark = newest
		}
		if done && !batch.Reached && d.LastSignature != "" {
			res.Incomplete = true
			log.Warn("feed ended before the last signature, keeping it for the next run",
				"last_signature", d.LastSignature, "before", batch.Cursor)
		}

		records := u.normalizer.NormalizeBatch(ctx, batch.Transactions, address)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Transfers += len(records)
		if len(records) > 0 || watermark != d.LastSignature {
			inserted, err := u.commit(ctx, address, records, watermark, log)
			if err != nil {
				return res, err
			}
			res.Inserted += len(inserted)
			for _, r := range inserted {
				wallets[r.WalletAddress] = struct{}{}
			}
			res.LastSignature = watermark
		}

		if done {
			break
		}
	}

	res.Wallets = len(wallets)
	observability.RecordSuccess(address, float64(time.Now().Unix()))
	if res.Inserted == 0 {
		log.Debug("distributor up to date", "last_signature", res.LastSignature)
		return res, nil
	}

	log.Info("distributor updated",
		"transactions", res.Transactions,
		"inserted", res.Inserted,
		"wallets", res.Wallets,
		"last_signature", res.LastSignature,
	)
	ev := events.NewWalletsUpdated(events.KindUpdate, address, res.LastSignature, res.Inserted, sortedKeys(wallets))
	if err := u.deps.Publisher.PublishWalletsUpdated(ctx, ev); err != nil {
		log.Warn("failed to publish update event", "error", err)
	}
	return res, nil
}

func (u *Updater) commit(ctx context.Context, address string, records []*domain.TransferRecord, watermark string, log *slog.Logger) ([]*domain.TransferRecord, error) {
	errs := newFailureCounter(u.cfg.MaxConsecutiveErrors, u.cfg.RetryDelay)
	for {
		inserted, err := u.deps.Store.CommitIncrement(ctx, address, records, watermark, aggregation.Fold)
		if err == nil {
			observability.RecordTransfersInserted(address, "production", len(inserted))
			mirrorTransfers(ctx, u.deps, inserted)
			return inserted, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("failed to commit increment", "records", len(records), "error", err)
		if !errs.Fail(ctx) {
			return nil, abortError("updating", ErrStorageWrite, errs.Count(), err)
		}
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
