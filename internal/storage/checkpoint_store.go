package storage

import (
	"context"

	"solana-rewards-indexer/internal/domain"
)

// CheckpointStore persists bootstrap progress for one distributor.
// This enables resumption after restarts without refetching or renormalizing.
type CheckpointStore interface {
	// GetCheckpoint returns the saved checkpoint.
	// Returns ErrNotFound if no checkpoint has been saved yet.
	GetCheckpoint(ctx context.Context) (*domain.Checkpoint, error)

	// SetCheckpoint overwrites the saved checkpoint.
	SetCheckpoint(ctx context.Context, cp *domain.Checkpoint) error
}
