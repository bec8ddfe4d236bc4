package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/storage"
)

// Runner runs distributors as independent workers, at most cfg.Workers at a time.
// A failing distributor never stops the others.
type Runner struct {
	initializer *Initializer
	updater     *Updater
	store       storage.DistributorStore
	workers     int
	logger      *slog.Logger

	mu    sync.Mutex
	slots map[string]*updateSlot
}

// updateSlot serializes updates of one distributor. A request that arrives
// while an update runs makes that update run once more instead of overlapping.
type updateSlot struct {
	mu      sync.Mutex
	running bool
	again   bool
}

// NewRunner creates a runner.
func NewRunner(cfg Config, initializer *Initializer, updater *Updater, store storage.DistributorStore, logger *slog.Logger) *Runner {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		initializer: initializer,
		updater:     updater,
		store:       store,
		workers:     cfg.Workers,
		logger:      logger,
		slots:       make(map[string]*updateSlot),
	}
}

// Bootstrap initializes every distributor concurrently and joins their errors.
func (r *Runner) Bootstrap(ctx context.Context, distributors []*domain.SupportedDistributor) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(r.workers)

	for _, d := range distributors {
		d := d
		g.Go(func() error {
			res, err := r.initializer.Run(ctx, d)
			if err != nil {
				r.logger.Error("bootstrap failed", "distributor", d.Address, "phase", res.Phase, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("bootstrap %s: %w", d.Address, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// UpdateAll runs one incremental update for every active distributor.
func (r *Runner) UpdateAll(ctx context.Context) error {
	distributors, err := r.store.ListDistributors(ctx, domain.StatusActive)
	if err != nil {
		return fmt.Errorf("list distributors: %w", err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(r.workers)

	for _, d := range distributors {
		d := d
		g.Go(func() error {
			if _, err := r.UpdateOne(ctx, d.Address); err != nil {
				r.logger.Error("update failed", "distributor", d.Address, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("update %s: %w", d.Address, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// UpdateOne updates one distributor. If an update of the same distributor is
// already running, it is asked to run again and UpdateOne returns (nil, nil).
func (r *Runner) UpdateOne(ctx context.Context, address string) (*UpdateResult, error) {
	slot := r.slot(address)

	slot.mu.Lock()
	if slot.running {
		slot.again = true
		slot.mu.Unlock()
		return nil, nil
	}
	slot.running = true
	slot.mu.Unlock()

	for {
		res, err := r.updater.Update(ctx, address)

		slot.mu.Lock()
		if err != nil || !slot.again || ctx.Err() != nil {
			slot.running = false
			slot.again = false
			slot.mu.Unlock()
			return res, err
		}
		slot.again = false
		slot.mu.Unlock()
	}
}

// Run updates every active distributor now and then on each interval tick
// until ctx is done. Failed rounds are logged and retried on the next tick.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return r.UpdateAll(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.UpdateAll(ctx); err != nil {
			r.logger.Warn("update round finished with errors", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) slot(address string) *updateSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[address]
	if !ok {
		s = &updateSlot{}
		r.slots[address] = s
	}
	return s
}
