package stub

import (
	"context"
	"sync"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/helius"
)

// Assets implements helius.AssetSource for testing.
type Assets struct {
	mu     sync.Mutex
	assets map[string]*helius.Asset
	errs   map[string]error
	calls  map[string]int
}

// NewAssets creates an empty stub asset source.
func NewAssets() *Assets {
	return &Assets{
		assets: make(map[string]*helius.Asset),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// AddAsset registers metadata for a mint.
func (a *Assets) AddAsset(asset *helius.Asset) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assets[asset.Mint] = asset
}

// FailMint makes every lookup of mint return err.
func (a *Assets) FailMint(mint string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs[mint] = err
}

// Calls returns how many times mint was looked up.
func (a *Assets) Calls(mint string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[mint]
}

// GetAsset returns the registered asset, or an empty one for unknown mints.
func (a *Assets) GetAsset(_ context.Context, mint string) (*helius.Asset, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[mint]++

	if err, ok := a.errs[mint]; ok {
		return nil, err
	}
	if asset, ok := a.assets[mint]; ok {
		cp := *asset
		return &cp, nil
	}
	return &helius.Asset{Mint: mint, Decimals: domain.UnknownDecimals}, nil
}
