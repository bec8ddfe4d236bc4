package helius

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"solana-rewards-indexer/internal/domain"
)

// MaxPageLimit is the largest page the transactions endpoint serves.
const MaxPageLimit = 100

// GetTransactions fetches one page of TRANSFER transactions for an address, newest first.
func (c *Client) GetTransactions(ctx context.Context, address string, q TransactionsQuery) ([]*domain.RawTransaction, error) {
	params := url.Values{}
	params.Set("api-key", c.apiKey)
	params.Set("commitment", c.commitment)
	params.Set("type", "TRANSFER")

	limit := q.Limit
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	params.Set("limit", strconv.Itoa(limit))
	if q.Before != "" {
		params.Set("before", q.Before)
	}
	if q.Until != "" {
		params.Set("until", q.Until)
	}

	rawURL := fmt.Sprintf("%s/v0/addresses/%s/transactions?%s", c.apiURL, url.PathEscape(address), params.Encode())
	body, err := c.get(ctx, "transactions", rawURL)
	if err != nil {
		return nil, err
	}

	var page []wireTransaction
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, transient("decode transactions", err)
	}

	txs := make([]*domain.RawTransaction, len(page))
	for i := range page {
		txs[i] = page[i].toDomain()
	}
	return txs, nil
}

// wireTransaction is one item of the enhanced transactions response.
type wireTransaction struct {
	FeePayer        string               `json:"feePayer"`
	Signature       string               `json:"signature"`
	Slot            int64                `json:"slot"`
	Timestamp       int64                `json:"timestamp"`
	NativeTransfers []wireNativeTransfer `json:"nativeTransfers"`
	TokenTransfers  []wireTokenTransfer  `json:"tokenTransfers"`
}

type wireNativeTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Amount          int64  `json:"amount"`
}

type wireTokenTransfer struct {
	FromUserAccount string `json:"fromUserAccount"`
	ToUserAccount   string `json:"toUserAccount"`
	Mint            string `json:"mint"`
	// TokenAmount is already scaled by the mint's decimals.
	TokenAmount decimal.Decimal `json:"tokenAmount"`
}

func (w *wireTransaction) toDomain() *domain.RawTransaction {
	tx := &domain.RawTransaction{
		FeePayer:  w.FeePayer,
		Signature: w.Signature,
		Slot:      w.Slot,
		Timestamp: w.Timestamp,
	}
	for _, nt := range w.NativeTransfers {
		tx.NativeTransfers = append(tx.NativeTransfers, domain.NativeTransfer{
			ToAccount:      nt.ToUserAccount,
			AmountLamports: nt.Amount,
		})
	}
	for _, tt := range w.TokenTransfers {
		tx.TokenTransfers = append(tx.TokenTransfers, domain.TokenTransfer{
			ToAccount: tt.ToUserAccount,
			Mint:      tt.Mint,
			RawAmount: tt.TokenAmount,
		})
	}
	return tx
}
