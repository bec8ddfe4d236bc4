package domain

import "github.com/shopspring/decimal"

// NativeTransfer is a SOL transfer inside a transaction, in lamports.
type NativeTransfer struct {
	ToAccount      string `json:"to_account"`
	AmountLamports int64  `json:"amount_lamports"`
}

// TokenTransfer is an SPL token transfer inside a transaction.
// RawAmount is already scaled to display units by the feed.
type TokenTransfer struct {
	ToAccount string          `json:"to_account"`
	Mint      string          `json:"mint"`
	RawAmount decimal.Decimal `json:"raw_amount"`
}

// RawTransaction is a transaction as fetched from the feed, before normalization.
// Staged rows are immutable until migrated.
type RawTransaction struct {
	FeePayer        string           `json:"fee_payer"`
	Signature       string           `json:"signature"`
	Slot            int64            `json:"slot"`
	Timestamp       int64            `json:"timestamp"` // unix seconds
	NativeTransfers []NativeTransfer `json:"native_transfers,omitempty"`
	TokenTransfers  []TokenTransfer  `json:"token_transfers,omitempty"`
}
