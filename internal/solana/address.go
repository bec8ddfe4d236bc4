package solana

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// AddressLength is the byte length of a Solana account address.
const AddressLength = 32

// ErrInvalidAddress is returned for strings that are not 32-byte base58 addresses.
var ErrInvalidAddress = errors.New("invalid solana address")

// ParseAddress decodes a base58 account address.
func ParseAddress(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	if len(b) != AddressLength {
		return nil, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidAddress, s, len(b))
	}
	return b, nil
}

// ValidateAddress returns an error unless s is a 32-byte base58 address.
func ValidateAddress(s string) error {
	_, err := ParseAddress(s)
	return err
}

// IsOnCurve reports whether the address is an ed25519 public key.
// Program derived addresses are off curve and cannot sign, so they never pay fees.
func IsOnCurve(s string) bool {
	b, err := ParseAddress(s)
	if err != nil {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(b)
	return err == nil
}
