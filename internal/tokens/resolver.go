// Package tokens resolves token mints to display symbols.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/helius"
	"solana-rewards-indexer/internal/observability"
	"solana-rewards-indexer/internal/storage"
)

// Fallback metadata used when a lookup cannot name a token.
const (
	FallbackPrefixLen = 8
	FallbackName      = "Unknown Token"
)

// Resolver maps mints to symbols using, in order: the known token table,
// a process-local memo, and a remote metadata lookup.
// It is safe for concurrent use by several pipelines.
type Resolver struct {
	store  storage.KnownTokenStore
	source helius.AssetSource
	logger *slog.Logger

	mu    sync.RWMutex
	known map[string]*domain.KnownToken // lower-cased mint
	memo  map[string]string             // mint -> symbol, fallbacks included
	sf    singleflight.Group
}

// NewResolver creates a resolver. Call Load to preload known tokens.
func NewResolver(store storage.KnownTokenStore, source helius.AssetSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  store,
		source: source,
		logger: logger,
		known:  make(map[string]*domain.KnownToken),
		memo:   make(map[string]string),
	}
}

// Load reads every known token from the store into memory.
func (r *Resolver) Load(ctx context.Context) error {
	tokens, err := r.store.GetKnownTokens(ctx)
	if err != nil {
		return fmt.Errorf("load known tokens: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tokens {
		r.known[strings.ToLower(t.Mint)] = t
	}
	r.logger.Debug("known tokens loaded", "count", len(tokens))
	return nil
}

// Known returns the known token for mint, if loaded or resolved.
func (r *Resolver) Known(mint string) (*domain.KnownToken, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.known[strings.ToLower(mint)]
	return t, ok
}

// Symbol returns the symbol for mint. It never fails: when metadata cannot be
// fetched the mint prefix is returned and memoized for the life of the process.
// A lookup cut short by a cancelled context is not memoized.
// Concurrent calls for the same mint share one lookup.
func (r *Resolver) Symbol(ctx context.Context, mint string) string {
	if s, ok := r.cached(mint); ok {
		return s
	}

	for {
		v, err, _ := r.sf.Do(mint, func() (any, error) {
			if s, ok := r.cached(mint); ok {
				return s, nil
			}
			return r.resolve(ctx, mint)
		})
		// Retry when the shared lookup ran under another caller's cancelled context.
		if err == nil || ctx.Err() != nil {
			return v.(string)
		}
	}
}

func (r *Resolver) cached(mint string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.known[strings.ToLower(mint)]; ok {
		return t.Symbol, true
	}
	s, ok := r.memo[mint]
	return s, ok
}

// resolve returns an error only when ctx ended the lookup. Cancelled lookups
// return the fallback without memoizing it.
func (r *Resolver) resolve(ctx context.Context, mint string) (string, error) {
	asset, err := r.source.GetAsset(ctx, mint)
	if err != nil {
		symbol := FallbackSymbol(mint)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			r.logger.Debug("token metadata lookup cancelled", "mint", mint, "error", err)
			return symbol, ctx.Err()
		}
		observability.RecordMetadataFetch("fallback")
		r.logger.Warn("token metadata lookup failed, using fallback symbol",
			"mint", mint, "symbol", symbol, "error", err)
		r.remember(mint, symbol, nil)
		return symbol, nil
	}
	observability.RecordMetadataFetch("ok")

	token := &domain.KnownToken{
		Mint:     mint,
		Symbol:   asset.Symbol,
		Name:     asset.Name,
		Decimals: asset.Decimals,
	}
	if token.Symbol == "" {
		token.Symbol = FallbackSymbol(mint)
	}
	if token.Name == "" {
		token.Name = FallbackName
	}

	err = r.store.InsertKnownToken(ctx, token)
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		r.logger.Warn("failed to persist known token", "mint", mint, "error", err)
		r.remember(mint, token.Symbol, nil)
		return token.Symbol, nil
	}

	r.remember(mint, token.Symbol, token)
	return token.Symbol, nil
}

func (r *Resolver) remember(mint, symbol string, token *domain.KnownToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo[mint] = symbol
	if token != nil {
		r.known[strings.ToLower(mint)] = token
	}
}

// FallbackSymbol is the symbol used for a mint without metadata.
func FallbackSymbol(mint string) string {
	if len(mint) <= FallbackPrefixLen {
		return mint
	}
	return mint[:FallbackPrefixLen]
}
