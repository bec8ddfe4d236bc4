package domain

// UnknownDecimals marks a KnownToken whose decimals were not reported by metadata.
const UnknownDecimals = -1

// KnownToken maps a mint to its display metadata.
// Corresponds to known_tokens table in PostgreSQL.
type KnownToken struct {
	Mint     string // UNIQUE
	Symbol   string
	Name     string
	Decimals int
}
