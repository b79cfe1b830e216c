package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeIdentity normalizes a caller identity.
// Hex addresses are converted to their EIP-55 checksum form, other identities are trimmed.
func NormalizeIdentity(identity string) string {
	identity = strings.TrimSpace(identity)
	if common.IsHexAddress(identity) {
		return common.HexToAddress(identity).String()
	}
	return identity
}

// NormalizeIdentities normalizes a list of identities in place
func NormalizeIdentities(identities []string) []string {
	for i, identity := range identities {
		identities[i] = NormalizeIdentity(identity)
	}
	return identities
}

// IsZeroIdentity reports whether the identity is empty or the zero address
func IsZeroIdentity(identity string) bool {
	normalized := NormalizeIdentity(identity)
	return normalized == "" || normalized == ETHEREUM_ZERO_ADDRESS
}

// IsAddress reports whether the identity is a hex encoded address
func IsAddress(identity string) bool {
	return common.IsHexAddress(strings.TrimSpace(identity))
}

// SameIdentity compares two identities after normalization
func SameIdentity(a, b string) bool {
	return NormalizeIdentity(a) == NormalizeIdentity(b)
}
