package domain

// Phase is a bootstrap state of the project initializer.
type Phase string

const (
	PhaseFetching    Phase = "fetching"
	PhaseProcessing  Phase = "processing"
	PhaseMigrating   Phase = "migrating"
	PhaseAggregating Phase = "aggregating"
	PhaseDone        Phase = "done"
)

// Checkpoint is the staging-only progress record of a bootstrap run.
type Checkpoint struct {
	// BeforeCursor is the signature the next feed call pages back from.
	BeforeCursor string `json:"before_cursor"`
	// NewestSignature is set once, from the first staged batch.
	NewestSignature string `json:"newest_signature"`
	// ProcessedOffset counts raw rows already normalized.
	ProcessedOffset int `json:"processed_offset"`
	// MigratedOffset counts staged transfers already copied to production.
	MigratedOffset int `json:"migrated_offset"`
	// MigratedSeq is the staging sequence the next migration batch reads from.
	MigratedSeq uint64 `json:"migrated_seq"`
	Phase       Phase  `json:"phase"`
}
