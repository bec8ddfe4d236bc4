package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"solana-rewards-indexer/internal/solana"
)

// DefaultDebounce groups bursts of notifications into one update.
const DefaultDebounce = 5 * time.Second

// UpdateTrigger runs an incremental update for a distributor.
type UpdateTrigger interface {
	UpdateOne(ctx context.Context, address string) (*UpdateResult, error)
}

// Watcher triggers updates when a distributor appears in new transaction logs.
type Watcher struct {
	subscriber solana.LogsSubscriber
	trigger    UpdateTrigger
	debounce   time.Duration
	logger     *slog.Logger
}

// NewWatcher creates a watcher. A zero debounce uses DefaultDebounce.
func NewWatcher(subscriber solana.LogsSubscriber, trigger UpdateTrigger, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		subscriber: subscriber,
		trigger:    trigger,
		debounce:   debounce,
		logger:     logger,
	}
}

// Watch subscribes to every address and blocks until ctx is done or a
// subscription ends.
func (w *Watcher) Watch(ctx context.Context, addresses []string) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, addr := range addresses {
		ch, err := w.subscriber.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{addr}})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", addr, err)
		}
		addr := addr
		g.Go(func() error {
			return w.watch(ctx, addr, ch)
		})
	}

	return g.Wait()
}

func (w *Watcher) watch(ctx context.Context, address string, ch <-chan solana.LogNotification) error {
	log := w.logger.With("distributor", address)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case n, ok := <-ch:
			if !ok {
				return fmt.Errorf("logs subscription for %s closed", address)
			}
			if n.Failed() {
				continue
			}
			log.Debug("distributor activity", "signature", n.Signature, "slot", n.Slot)
			if !pending {
				timer.Reset(w.debounce)
				pending = true
			}

		case <-timer.C:
			pending = false
			if _, err := w.trigger.UpdateOne(ctx, address); err != nil {
				log.Error("triggered update failed", "error", err)
			}
		}
	}
}
