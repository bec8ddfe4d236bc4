// Package aggregation folds transfer records into per-wallet reward deltas.
package aggregation

import (
	"sort"

	"github.com/shopspring/decimal"

	"solana-rewards-indexer/internal/domain"
)

// Totals maps wallet -> distributor -> token -> amount.
// Every nested map present has at least one entry.
type Totals map[string]map[string]map[string]decimal.Decimal

// Aggregate sums amounts per (wallet, distributor, token).
// It never reads prior totals; the result is a delta to add to stored totals.
func Aggregate(records []*domain.TransferRecord) Totals {
	t := make(Totals)
	for _, r := range records {
		t.Add(r.WalletAddress, r.Distributor, r.Token, r.Amount)
	}
	return t
}

// Add increments one total.
func (t Totals) Add(wallet, distributor, token string, amount decimal.Decimal) {
	byDistributor, ok := t[wallet]
	if !ok {
		byDistributor = make(map[string]map[string]decimal.Decimal)
		t[wallet] = byDistributor
	}
	byToken, ok := byDistributor[distributor]
	if !ok {
		byToken = make(map[string]decimal.Decimal)
		byDistributor[distributor] = byToken
	}
	byToken[token] = byToken[token].Add(amount)
}

// Merge adds every total of other into t.
func (t Totals) Merge(other Totals) {
	for wallet, byDistributor := range other {
		for distributor, byToken := range byDistributor {
			for token, amount := range byToken {
				t.Add(wallet, distributor, token, amount)
			}
		}
	}
}

// Get returns one total, zero if absent.
func (t Totals) Get(wallet, distributor, token string) decimal.Decimal {
	return t[wallet][distributor][token]
}

// Deltas flattens t into wallet deltas sorted by wallet, distributor, token.
// Sorted output keeps row lock order stable across concurrent writers.
func (t Totals) Deltas() []domain.WalletDelta {
	var out []domain.WalletDelta
	for wallet, byDistributor := range t {
		for distributor, byToken := range byDistributor {
			for token, amount := range byToken {
				out = append(out, domain.WalletDelta{
					WalletAddress: wallet,
					Distributor:   distributor,
					Token:         token,
					Amount:        amount,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].WalletAddress != out[j].WalletAddress {
			return out[i].WalletAddress < out[j].WalletAddress
		}
		if out[i].Distributor != out[j].Distributor {
			return out[i].Distributor < out[j].Distributor
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// Fold aggregates records straight into sorted deltas.
// It satisfies storage.FoldFunc.
func Fold(records []*domain.TransferRecord) []domain.WalletDelta {
	return Aggregate(records).Deltas()
}
