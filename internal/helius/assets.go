package helius

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"solana-rewards-indexer/internal/domain"
)

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type getAssetParams struct {
	ID      string          `json:"id"`
	Options getAssetOptions `json:"options"`
}

type getAssetOptions struct {
	ShowInscription           bool `json:"showInscription"`
	ShowFungible              bool `json:"showFungible"`
	ShowCollectionMetadata    bool `json:"showCollectionMetadata"`
	ShowUnverifiedCollections bool `json:"showUnverifiedCollections"`
}

// getAssetResult is the subset of the DAS asset object read by the indexer.
type getAssetResult struct {
	ID      string `json:"id"`
	Content struct {
		Metadata struct {
			Symbol string `json:"symbol"`
			Name   string `json:"name"`
		} `json:"metadata"`
	} `json:"content"`
	TokenInfo *struct {
		Decimals *int `json:"decimals"`
	} `json:"token_info"`
}

// GetAsset fetches mint metadata with getAsset. Transient failures are retried
// with exponential backoff; RPC errors and other statuses are returned at once.
// A null result yields an Asset with empty fields.
func (c *Client) GetAsset(ctx context.Context, mint string) (*Asset, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "getAsset",
		Params:  getAssetParams{ID: mint},
	}

	var resp rpcResponse
	op := func() error {
		body, err := c.post(ctx, "getAsset", c.rpcEndpoint(), req)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = rpcResponse{}
		if err := json.Unmarshal(body, &resp); err != nil {
			return transient("decode getAsset", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryDelay
	bo.MaxInterval = c.maxDelay
	bo.MaxElapsedTime = 0
	var policy backoff.BackOff = backoff.WithContext(bo, ctx)
	if c.maxRetries >= 0 {
		policy = backoff.WithMaxRetries(policy, uint64(c.maxRetries))
	}

	err := backoff.RetryNotify(op, policy, func(err error, next time.Duration) {
		c.logger.Warn("getAsset failed, retrying", "mint", mint, "error", err, "next", next)
	})
	if err != nil {
		return nil, fmt.Errorf("getAsset %s: %w", mint, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("getAsset %s: %w", mint, resp.Error)
	}

	asset := &Asset{Mint: mint, Decimals: domain.UnknownDecimals}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return asset, nil
	}

	var result getAssetResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal getAsset result: %w", err)
	}
	asset.Symbol = result.Content.Metadata.Symbol
	asset.Name = result.Content.Metadata.Name
	if result.TokenInfo != nil && result.TokenInfo.Decimals != nil {
		asset.Decimals = *result.TokenInfo.Decimals
	}
	return asset, nil
}
