package domain

// DistributorStatus tracks whether a distributor finished its bootstrap.
type DistributorStatus string

const (
	// StatusAggregating means transfers are migrated but wallet totals are still being built.
	StatusAggregating DistributorStatus = "aggregating"
	// StatusActive means the distributor is fully bootstrapped and kept current incrementally.
	StatusActive DistributorStatus = "active"
)

// SupportedDistributor is a reward distributor address tracked by the indexer.
// Corresponds to supported_distributors table in PostgreSQL.
type SupportedDistributor struct {
	Name             string
	Address          string // UNIQUE
	TokenMint        string
	DevWallet        string
	LastSignature    string // newest signature already migrated
	Status           DistributorStatus
	AggregatedOffset int // transfers folded into wallet totals during bootstrap
	UpdatedAt        int64
}
