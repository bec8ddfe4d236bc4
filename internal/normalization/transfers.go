// Package normalization turns raw feed transactions into transfer records.
package normalization

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/observability"
)

// Skip reasons reported to metrics.
const (
	SkipAmbiguousSwap    = "ambiguous_swap"
	SkipMissingRecipient = "missing_recipient"
	SkipMissingMint      = "missing_mint"
)

// SymbolResolver maps a token mint to its display symbol.
// It never fails; unresolvable mints get a fallback symbol.
type SymbolResolver interface {
	Symbol(ctx context.Context, mint string) string
}

// Normalizer converts RawTransactions into TransferRecords.
type Normalizer struct {
	resolver SymbolResolver
	logger   *slog.Logger
}

// NewNormalizer creates a normalizer resolving token symbols through resolver.
func NewNormalizer(resolver SymbolResolver, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{resolver: resolver, logger: logger}
}

// Normalize returns the transfers a distributor made in tx.
//
// Rules:
//   - native transfers become "sol" records, lamports divided by 10^9
//   - token transfers keep the feed's scaled amount and get a resolved symbol
//   - a transaction carrying both kinds is treated as a swap and skipped
//   - transfers without a recipient (or mint) are dropped
func (n *Normalizer) Normalize(ctx context.Context, tx *domain.RawTransaction, distributor string) []*domain.TransferRecord {
	if len(tx.NativeTransfers) > 0 && len(tx.TokenTransfers) > 0 {
		observability.RecordTransferSkipped(SkipAmbiguousSwap)
		n.logger.Debug("skipping transaction with native and token transfers",
			"signature", tx.Signature, "distributor", distributor)
		return nil
	}

	records := make([]*domain.TransferRecord, 0, len(tx.NativeTransfers)+len(tx.TokenTransfers))

	for _, nt := range tx.NativeTransfers {
		if nt.ToAccount == "" {
			observability.RecordTransferSkipped(SkipMissingRecipient)
			continue
		}
		records = append(records, n.record(tx, distributor, nt.ToAccount, domain.NativeSymbol, LamportsToSOL(nt.AmountLamports)))
	}

	for _, tt := range tx.TokenTransfers {
		if tt.ToAccount == "" {
			observability.RecordTransferSkipped(SkipMissingRecipient)
			continue
		}
		if tt.Mint == "" {
			observability.RecordTransferSkipped(SkipMissingMint)
			continue
		}
		symbol := n.resolver.Symbol(ctx, tt.Mint)
		records = append(records, n.record(tx, distributor, tt.ToAccount, symbol, tt.RawAmount))
	}

	return records
}

// NormalizeBatch normalizes txs in order and concatenates the results.
func (n *Normalizer) NormalizeBatch(ctx context.Context, txs []*domain.RawTransaction, distributor string) []*domain.TransferRecord {
	var out []*domain.TransferRecord
	for _, tx := range txs {
		out = append(out, n.Normalize(ctx, tx, distributor)...)
	}
	return out
}

func (n *Normalizer) record(tx *domain.RawTransaction, distributor, wallet, token string, amount decimal.Decimal) *domain.TransferRecord {
	return &domain.TransferRecord{
		Signature:     tx.Signature,
		Slot:          tx.Slot,
		Timestamp:     tx.Timestamp,
		Amount:        amount,
		Token:         token,
		WalletAddress: wallet,
		Distributor:   distributor,
	}
}

// LamportsToSOL converts lamports to SOL exactly.
func LamportsToSOL(lamports int64) decimal.Decimal {
	return decimal.New(lamports, -domain.NativeDecimals)
}
