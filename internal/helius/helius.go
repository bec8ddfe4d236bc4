// Package helius is a client for the Helius enhanced transactions API
// and the DAS getAsset RPC method.
package helius

import (
	"context"

	"solana-rewards-indexer/internal/domain"
)

// TransactionSource returns one page of an address's transaction history.
type TransactionSource interface {
	// GetTransactions returns transactions newest first.
	// An empty page is a candidate end of history, not a certainty.
	GetTransactions(ctx context.Context, address string, q TransactionsQuery) ([]*domain.RawTransaction, error)
}

// AssetSource returns token metadata for a mint.
type AssetSource interface {
	// GetAsset returns the metadata of a mint. Missing fields are left empty.
	GetAsset(ctx context.Context, mint string) (*Asset, error)
}

// TransactionsQuery bounds one page request.
type TransactionsQuery struct {
	// Before returns transactions strictly older than this signature.
	Before string
	// Until stops at this signature, exclusive.
	Until string
	Limit int
}

// Asset is the metadata subset the indexer needs from getAsset.
type Asset struct {
	Mint     string
	Symbol   string
	Name     string
	Decimals int // domain.UnknownDecimals when not reported
}
