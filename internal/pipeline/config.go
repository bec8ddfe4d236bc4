package pipeline

import (
	"time"

	"solana-rewards-indexer/internal/helius"
	"solana-rewards-indexer/internal/storage/staging"
)

// Default pipeline settings.
const (
	DefaultMaxConsecutiveErrors  = 5
	DefaultFinishedConfirmations = 5
	DefaultRetryDelay            = 10 * time.Second
	DefaultProcessBatchSize      = 1000
	DefaultAggregateBatchSize    = 1000
	DefaultMigrateBatchSize      = 5000
	DefaultWorkers               = 4
)

// Config tunes the bootstrap and incremental pipelines.
type Config struct {
	// MaxConsecutiveErrors aborts a step after this many failures in a row.
	MaxConsecutiveErrors int
	// FinishedConfirmations is how many empty pages in a row end a backfill.
	FinishedConfirmations int
	// RetryDelay is the wait before retrying a failed step.
	RetryDelay time.Duration

	CallLimit          int
	PageSize           int
	ProcessBatchSize   int
	AggregateBatchSize int
	MigrateBatchSize   int

	// StagingDir holds one staging store per distributor being bootstrapped.
	StagingDir     string
	StageChunkSize int

	// Workers bounds how many distributors run at once.
	Workers int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveErrors:  DefaultMaxConsecutiveErrors,
		FinishedConfirmations: DefaultFinishedConfirmations,
		RetryDelay:            DefaultRetryDelay,
		CallLimit:             helius.DefaultCallLimit,
		PageSize:              helius.DefaultPageSize,
		ProcessBatchSize:      DefaultProcessBatchSize,
		AggregateBatchSize:    DefaultAggregateBatchSize,
		MigrateBatchSize:      DefaultMigrateBatchSize,
		StagingDir:            "./data/staging",
		StageChunkSize:        staging.DefaultChunkSize,
		Workers:               DefaultWorkers,
	}
}

// withDefaults fills unset fields. RetryDelay may be zero on purpose.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	if c.FinishedConfirmations <= 0 {
		c.FinishedConfirmations = def.FinishedConfirmations
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.CallLimit <= 0 {
		c.CallLimit = def.CallLimit
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.ProcessBatchSize <= 0 {
		c.ProcessBatchSize = def.ProcessBatchSize
	}
	if c.AggregateBatchSize <= 0 {
		c.AggregateBatchSize = def.AggregateBatchSize
	}
	if c.MigrateBatchSize <= 0 {
		c.MigrateBatchSize = def.MigrateBatchSize
	}
	if c.StagingDir == "" {
		c.StagingDir = def.StagingDir
	}
	if c.StageChunkSize <= 0 {
		c.StageChunkSize = def.StageChunkSize
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	return c
}
