package domain

import "github.com/shopspring/decimal"

// WalletDelta is an amount to add to one (wallet, distributor, token) total.
type WalletDelta struct {
	WalletAddress string
	Distributor   string
	Token         string
	Amount        decimal.Decimal
}

// TokenTotal is the running reward total for one token.
type TokenTotal struct {
	TotalAmount decimal.Decimal
}

// WalletRewards holds every total received by a wallet,
// keyed by distributor address then token symbol.
type WalletRewards struct {
	WalletAddress string
	Distributors  map[string]map[string]TokenTotal
}

// Total returns the total for a distributor/token pair, zero if absent.
func (w *WalletRewards) Total(distributor, token string) decimal.Decimal {
	if w == nil {
		return decimal.Zero
	}
	return w.Distributors[distributor][token].TotalAmount
}
