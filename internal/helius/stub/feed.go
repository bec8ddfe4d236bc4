// Package stub provides in-memory Helius sources for tests.
package stub

import (
	"context"
	"sync"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/helius"
)

// Step is one scripted GetTransactions response.
type Step struct {
	Txs []*domain.RawTransaction
	Err error
}

// Feed implements helius.TransactionSource for testing.
// Scripted steps are served first, then pages cut from the address history.
type Feed struct {
	mu      sync.Mutex
	history map[string][]*domain.RawTransaction
	script  []Step
	calls   []helius.TransactionsQuery
}

// NewFeed creates an empty stub feed.
func NewFeed() *Feed {
	return &Feed{history: make(map[string][]*domain.RawTransaction)}
}

// SetHistory replaces the history of an address. txs are newest first.
func (f *Feed) SetHistory(address string, txs ...*domain.RawTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[address] = append([]*domain.RawTransaction(nil), txs...)
}

// Prepend adds newer transactions to the head of an address history.
func (f *Feed) Prepend(address string, txs ...*domain.RawTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[address] = append(append([]*domain.RawTransaction(nil), txs...), f.history[address]...)
}

// Script queues responses served before the history.
func (f *Feed) Script(steps ...Step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, steps...)
}

// Calls returns every query received so far.
func (f *Feed) Calls() []helius.TransactionsQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]helius.TransactionsQuery(nil), f.calls...)
}

// GetTransactions serves the next scripted step or a page of history.
func (f *Feed) GetTransactions(_ context.Context, address string, q helius.TransactionsQuery) ([]*domain.RawTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, q)

	if len(f.script) > 0 {
		step := f.script[0]
		f.script = f.script[1:]
		return step.Txs, step.Err
	}

	txs := f.history[address]
	start := 0
	if q.Before != "" {
		start = -1
		for i, tx := range txs {
			if tx.Signature == q.Before {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, nil
		}
	}

	var page []*domain.RawTransaction
	for _, tx := range txs[start:] {
		if q.Until != "" && tx.Signature == q.Until {
			break
		}
		if q.Limit > 0 && len(page) == q.Limit {
			break
		}
		page = append(page, tx)
	}
	return page, nil
}
