package domain

import "github.com/shopspring/decimal"

const (
	// NativeSymbol is the token recorded for native SOL transfers.
	NativeSymbol = "sol"

	// NativeDecimals is the fixed lamports-to-SOL exponent.
	NativeDecimals = 9
)

// TransferRecord is one reward transfer from a distributor to a wallet.
// Corresponds to the transfers table in PostgreSQL.
type TransferRecord struct {
	Signature     string
	Slot          int64
	Timestamp     int64           // unix seconds
	Amount        decimal.Decimal // display units
	Token         string          // resolved symbol, "sol" for native
	WalletAddress string
	Distributor   string
}

// TransferKey is the natural key of a TransferRecord.
// A signature alone is not unique: one transaction can pay several wallets.
type TransferKey struct {
	WalletAddress string
	Distributor   string
	Signature     string
	Slot          int64
	Timestamp     int64
	Token         string
	Amount        string
}

// Key returns the natural key of the record. Amounts compare by value.
func (r *TransferRecord) Key() TransferKey {
	return TransferKey{
		WalletAddress: r.WalletAddress,
		Distributor:   r.Distributor,
		Signature:     r.Signature,
		Slot:          r.Slot,
		Timestamp:     r.Timestamp,
		Token:         r.Token,
		Amount:        r.Amount.String(),
	}
}
