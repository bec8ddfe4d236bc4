// Package pipeline bootstraps distributors from their full transfer history
// and keeps them current afterwards.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"solana-rewards-indexer/internal/aggregation"
	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/events"
	"solana-rewards-indexer/internal/helius"
	"solana-rewards-indexer/internal/normalization"
	"solana-rewards-indexer/internal/observability"
	"solana-rewards-indexer/internal/storage"
	"solana-rewards-indexer/internal/storage/staging"
)

// StagingOpener opens the staging store of one distributor.
type StagingOpener func(distributor string) (storage.StagingStore, error)

// Deps are the collaborators shared by the initializer and the updater.
type Deps struct {
	Feed     helius.TransactionSource
	Resolver normalization.SymbolResolver
	Store    storage.ProductionStore
	// Ledger optionally mirrors every production transfer, e.g. to ClickHouse.
	Ledger    storage.TransferStore
	Publisher events.Publisher
	Logger    *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Publisher == nil {
		d.Publisher = events.NopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// InitResult summarizes a bootstrap run.
type InitResult struct {
	Distributor string
	// Phase is the phase the run ended in; PhaseDone on success.
	Phase         domain.Phase
	Staged        int
	Transfers     int
	Migrated      int
	Aggregated    int
	LastSignature string
}

// Initializer bootstraps a distributor through the phases
// fetching, processing, migrating and aggregating. Every phase persists its
// progress, so a failed or interrupted run resumes where it stopped.
type Initializer struct {
	cfg         Config
	deps        Deps
	normalizer  *normalization.Normalizer
	openStaging StagingOpener
}

// NewInitializer creates an initializer. A nil opener uses Badger stores under cfg.StagingDir.
func NewInitializer(cfg Config, deps Deps, opener StagingOpener) *Initializer {
	cfg = cfg.withDefaults()
	deps = deps.withDefaults()
	if opener == nil {
		opener = func(distributor string) (storage.StagingStore, error) {
			return staging.Open(staging.Options{
				Dir:       staging.DirFor(cfg.StagingDir, distributor),
				ChunkSize: cfg.StageChunkSize,
			})
		}
	}
	return &Initializer{
		cfg:         cfg,
		deps:        deps,
		normalizer:  normalization.NewNormalizer(deps.Resolver, deps.Logger),
		openStaging: opener,
	}
}

// Run bootstraps d, resuming from any saved progress.
// d carries the registration fields; LastSignature and Status are derived.
func (i *Initializer) Run(ctx context.Context, d *domain.SupportedDistributor) (res *InitResult, err error) {
	log := i.deps.Logger.With("distributor", d.Address, "run_id", uuid.NewString())
	res = &InitResult{Distributor: d.Address}
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.RecordRun("bootstrap", status)
		observability.RecordPhase("bootstrap", time.Since(start).Seconds())
	}()

	existing, err := i.deps.Store.GetDistributor(ctx, d.Address)
	switch {
	case err == nil && existing.Status == domain.StatusActive:
		log.Info("distributor already bootstrapped")
		res.Phase = domain.PhaseDone
		res.LastSignature = existing.LastSignature
		return res, nil
	case err == nil:
		// Migrated already; only wallet totals remain.
		if err := i.removeStaging(d.Address); err != nil {
			log.Warn("failed to remove leftover staging", "error", err)
		}
		res.Phase = domain.PhaseAggregating
		return res, i.aggregate(ctx, existing, res, log)
	case !errors.Is(err, storage.ErrNotFound):
		return res, fmt.Errorf("get distributor: %w", err)
	}

	st, err := i.openStaging(d.Address)
	if err != nil {
		return res, fmt.Errorf("open staging: %w", err)
	}
	defer st.Close()

	cp, err := st.GetCheckpoint(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		cp = &domain.Checkpoint{Phase: domain.PhaseFetching}
		err = st.SetCheckpoint(ctx, cp)
	}
	if err != nil {
		return res, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.Phase != domain.PhaseFetching {
		log.Info("resuming bootstrap", "phase", cp.Phase, "processed_offset", cp.ProcessedOffset, "migrated_offset", cp.MigratedOffset)
	}

	for {
		res.Phase = cp.Phase
		phaseStart := time.Now()

		switch cp.Phase {
		case domain.PhaseFetching:
			err = i.fetch(ctx, d.Address, st, cp, res, log)
		case domain.PhaseProcessing:
			err = i.process(ctx, d.Address, st, cp, res, log)
		case domain.PhaseMigrating:
			var migrated *domain.SupportedDistributor
			migrated, err = i.migrate(ctx, d, st, cp, res, log)
			if err == nil {
				observability.RecordPhase(string(domain.PhaseMigrating), time.Since(phaseStart).Seconds())
				res.Phase = domain.PhaseAggregating
				return res, i.aggregate(ctx, migrated, res, log)
			}
		default:
			return res, fmt.Errorf("unexpected checkpoint phase %q", cp.Phase)
		}
		if err != nil {
			return res, err
		}
		observability.RecordPhase(string(res.Phase), time.Since(phaseStart).Seconds())
	}
}

// fetch stages the full history. Each batch is saved before the cursor advances.
func (i *Initializer) fetch(ctx context.Context, address string, st storage.StagingStore, cp *domain.Checkpoint, res *InitResult, log *slog.Logger) error {
	newCrawler := func() *helius.Crawler {
		return helius.NewCrawler(helius.CrawlerOptions{
			Source:    i.deps.Feed,
			Address:   address,
			Before:    cp.BeforeCursor,
			CallLimit: i.cfg.CallLimit,
			PageSize:  i.cfg.PageSize,
			Logger:    log,
		})
	}
	crawler := newCrawler()
	feedErrs := newFailureCounter(i.cfg.MaxConsecutiveErrors, i.cfg.RetryDelay)
	storeErrs := newFailureCounter(i.cfg.MaxConsecutiveErrors, i.cfg.RetryDelay)
	finished := 0

	log.Info("fetching history", "before", cp.BeforeCursor)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := crawler.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("feed request failed", "before", cp.BeforeCursor, "attempt", feedErrs.Count()+1, "error", err)
			if !feedErrs.Fail(ctx) {
				return abortError("fetching", ErrTransientFeed, feedErrs.Count(), err)
			}
			continue
		}

		if len(batch.Transactions) == 0 {
			finished++
			observability.RecordFinishedSignal(address)
			log.Info("feed reported end of history", "count", finished, "before", cp.BeforeCursor)
			if finished >= i.cfg.FinishedConfirmations {
				break
			}
			continue
		}
		finished = 0
		feedErrs.Reset()
		observability.RecordTransactions(address, len(batch.Transactions))

		if err := i.stageBatch(ctx, st, cp, batch); err != nil {
			log.Warn("failed to stage batch", "before", cp.BeforeCursor, "error", err)
			if !storeErrs.Fail(ctx) {
				return abortError("fetching", ErrStorageWrite, storeErrs.Count(), err)
			}
			// Refetch from the last saved cursor.
			crawler = newCrawler()
			continue
		}
		storeErrs.Reset()
		res.Staged += len(batch.Transactions)
		observability.RecordRawStaged(address, len(batch.Transactions))
		log.Debug("staged batch", "transactions", len(batch.Transactions), "before", cp.BeforeCursor)
	}

	cp.Phase = domain.PhaseProcessing
	if err := st.SetCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	log.Info("history fetched", "staged", res.Staged, "newest_signature", cp.NewestSignature)
	return nil
}

func (i *Initializer) stageBatch(ctx context.Context, st storage.StagingStore, cp *domain.Checkpoint, batch *helius.Batch) error {
	if err := st.InsertRawBatch(ctx, batch.Transactions); err != nil {
		return err
	}

	next := *cp
	if next.NewestSignature == "" {
		next.NewestSignature = batch.Transactions[0].Signature
	}
	next.BeforeCursor = batch.Cursor
	if err := st.SetCheckpoint(ctx, &next); err != nil {
		return err
	}
	*cp = next
	return nil
}

// process normalizes staged rows from the saved offset into staged transfers.
func (i *Initializer) process(ctx context.Context, address string, st storage.StagingStore, cp *domain.Checkpoint, res *InitResult, log *slog.Logger) error {
	total, err := st.CountRaw(ctx)
	if err != nil {
		return fmt.Errorf("count staged transactions: %w", err)
	}
	log.Info("normalizing staged transactions", "total", total, "offset", cp.ProcessedOffset)

	errs := newFailureCounter(i.cfg.MaxConsecutiveErrors, i.cfg.RetryDelay)
	for cp.ProcessedOffset < total {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := i.processBatch(ctx, address, st, cp)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("failed to process batch", "offset", cp.ProcessedOffset, "error", err)
			if !errs.Fail(ctx) {
				return abortError("processing", ErrStorageWrite, errs.Count(), err)
			}
			continue
		}
		errs.Reset()
		res.Transfers += n
	}

	cp.Phase = domain.PhaseMigrating
	if err := st.SetCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	log.Info("staged transactions normalized", "transfers", res.Transfers)
	return nil
}

func (i *Initializer) processBatch(ctx context.Context, address string, st storage.StagingStore, cp *domain.Checkpoint) (int, error) {
	raws, err := st.GetRawBatch(ctx, cp.ProcessedOffset, i.cfg.ProcessBatchSize)
	if err != nil {
		return 0, fmt.Errorf("read staged transactions: %w", err)
	}
	if len(raws) == 0 {
		return 0, fmt.Errorf("no staged transactions at offset %d", cp.ProcessedOffset)
	}

	records := i.normalizer.NormalizeBatch(ctx, raws, address)
	// Symbols resolved under a cancelled context may be unmemoized fallbacks.
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := st.InsertTransfers(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("insert staged transfers: %w", err)
	}

	next := *cp
	next.ProcessedOffset += len(raws)
	if err := st.SetCheckpoint(ctx, &next); err != nil {
		return 0, fmt.Errorf("save checkpoint: %w", err)
	}
	*cp = next
	observability.RecordTransfersInserted(address, "staging", n)
	return n, nil
}

// migrate deduplicates staged transfers, copies them to production, registers
// the distributor with its watermark and drops staging. The distributor row is
// written only after every transfer is in production.
func (i *Initializer) migrate(ctx context.Context, d *domain.SupportedDistributor, st storage.StagingStore, cp *domain.Checkpoint, res *InitResult, log *slog.Logger) (*domain.SupportedDistributor, error) {
	errs := newFailureCounter(i.cfg.MaxConsecutiveErrors, i.cfg.RetryDelay)
	retry := func(step string, fn func() error) error {
		for {
			err := fn()
			if err == nil {
				errs.Reset()
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("migration step failed", "step", step, "error", err)
			if !errs.Fail(ctx) {
				return abortError("migrating", ErrStorageWrite, errs.Count(), fmt.Errorf("%s: %w", step, err))
			}
		}
	}

	err := retry("deduplicate", func() error {
		removed, err := st.DeleteDuplicateTransfers(ctx, d.Address)
		if err == nil && removed > 0 {
			log.Info("removed duplicate staged transfers", "count", removed)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	var total int
	err = retry("count transfers", func() error {
		n, err := st.CountTransfers(ctx, d.Address)
		total = n
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info("migrating transfers", "total", total, "offset", cp.MigratedOffset)

	for cp.MigratedOffset < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := retry("copy transfers", func() error {
			return i.migrateBatch(ctx, d.Address, st, cp, res)
		})
		if err != nil {
			return nil, err
		}
	}

	registered := &domain.SupportedDistributor{
		Name:          d.Name,
		Address:       d.Address,
		TokenMint:     d.TokenMint,
		DevWallet:     d.DevWallet,
		LastSignature: cp.NewestSignature,
		Status:        domain.StatusAggregating,
		UpdatedAt:     time.Now().UnixMilli(),
	}
	err = retry("register distributor", func() error {
		return i.deps.Store.UpsertDistributor(ctx, registered)
	})
	if err != nil {
		return nil, err
	}
	res.LastSignature = registered.LastSignature

	// Production is authoritative from here on; leftover staging is removed on resume.
	if err := st.DropStagingTables(ctx); err != nil {
		log.Warn("failed to drop staging", "error", err)
	}
	log.Info("transfers migrated", "migrated", res.Migrated, "last_signature", registered.LastSignature)
	return registered, nil
}

func (i *Initializer) migrateBatch(ctx context.Context, address string, st storage.StagingStore, cp *domain.Checkpoint, res *InitResult) error {
	records, nextSeq, err := st.GetTransfersFrom(ctx, address, cp.MigratedSeq, i.cfg.MigrateBatchSize)
	if err != nil {
		return fmt.Errorf("read staged transfers: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no staged transfers at offset %d (sequence %d)", cp.MigratedOffset, cp.MigratedSeq)
	}

	n, err := i.deps.Store.InsertTransfers(ctx, records)
	if err != nil {
		return err
	}
	mirrorTransfers(ctx, i.deps, records)

	next := *cp
	next.MigratedOffset += len(records)
	next.MigratedSeq = nextSeq
	if err := st.SetCheckpoint(ctx, &next); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	*cp = next
	res.Migrated += n
	observability.RecordTransfersInserted(address, "production", n)
	return nil
}

// aggregate folds production transfers into wallet totals batch by batch, then
// marks the distributor active. The offset moves in the same transaction as the totals.
func (i *Initializer) aggregate(ctx context.Context, d *domain.SupportedDistributor, res *InitResult, log *slog.Logger) error {
	start := time.Now()
	offset := d.AggregatedOffset
	errs := newFailureCounter(i.cfg.MaxConsecutiveErrors, i.cfg.RetryDelay)
	log.Info("aggregating wallet totals", "offset", offset)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := i.aggregateBatch(ctx, d.Address, offset)
		if err != nil {
			log.Warn("failed to aggregate batch", "offset", offset, "error", err)
			if !errs.Fail(ctx) {
				return abortError("aggregating", ErrStorageWrite, errs.Count(), err)
			}
			continue
		}
		errs.Reset()
		if n == 0 {
			break
		}
		offset += n
		res.Aggregated += n
	}

	active := *d
	active.Status = domain.StatusActive
	active.AggregatedOffset = offset
	active.UpdatedAt = time.Now().UnixMilli()
	for {
		err := i.deps.Store.UpsertDistributor(ctx, &active)
		if err == nil {
			break
		}
		log.Warn("failed to activate distributor", "error", err)
		if !errs.Fail(ctx) {
			return abortError("aggregating", ErrStorageWrite, errs.Count(), err)
		}
	}

	res.Phase = domain.PhaseDone
	res.LastSignature = active.LastSignature
	observability.RecordPhase(string(domain.PhaseAggregating), time.Since(start).Seconds())
	observability.RecordSuccess(d.Address, float64(time.Now().Unix()))
	log.Info("distributor bootstrapped", "transfers", offset, "last_signature", active.LastSignature)

	ev := events.NewWalletsUpdated(events.KindBootstrap, d.Address, active.LastSignature, offset, nil)
	if err := i.deps.Publisher.PublishWalletsUpdated(ctx, ev); err != nil {
		log.Warn("failed to publish bootstrap event", "error", err)
	}
	return nil
}

func (i *Initializer) aggregateBatch(ctx context.Context, address string, offset int) (int, error) {
	records, err := i.deps.Store.GetTransfers(ctx, address, offset, i.cfg.AggregateBatchSize)
	if err != nil {
		return 0, fmt.Errorf("read transfers: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	deltas := aggregation.Fold(records)
	if err := i.deps.Store.ApplyAggregation(ctx, address, deltas, offset+len(records)); err != nil {
		return 0, fmt.Errorf("apply aggregation: %w", err)
	}
	observability.RecordWalletDeltas(address, len(deltas))
	return len(records), nil
}

// mirrorTransfers copies transfers to the optional ledger. Failures are only
// logged; production stays the source of truth.
func mirrorTransfers(ctx context.Context, deps Deps, records []*domain.TransferRecord) {
	if deps.Ledger == nil || len(records) == 0 {
		return
	}
	if _, err := deps.Ledger.InsertTransfers(ctx, records); err != nil {
		deps.Logger.Warn("failed to mirror transfers to ledger", "count", len(records), "error", err)
	}
}

func (i *Initializer) removeStaging(address string) error {
	return staging.Remove(i.cfg.StagingDir, address)
}
