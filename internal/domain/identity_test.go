package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIdentity(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		expected string
	}{
		{
			name:     "lowercase address is checksummed",
			identity: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
			expected: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		},
		{
			name:     "surrounding whitespace is trimmed",
			identity: "  0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed ",
			expected: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		},
		{
			name:     "non address identity kept verbatim",
			identity: "alice",
			expected: "alice",
		},
		{
			name:     "empty identity",
			identity: "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeIdentity(tt.identity))
		})
	}
}

func TestNormalizeIdentities(t *testing.T) {
	identities := []string{"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", " bob "}
	result := NormalizeIdentities(identities)

	assert.Equal(t, []string{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "bob"}, result)
}

func TestIsZeroIdentity(t *testing.T) {
	assert.True(t, IsZeroIdentity(""))
	assert.True(t, IsZeroIdentity("   "))
	assert.True(t, IsZeroIdentity(ETHEREUM_ZERO_ADDRESS))
	assert.True(t, IsZeroIdentity("0X0000000000000000000000000000000000000000"))
	assert.False(t, IsZeroIdentity("alice"))
	assert.False(t, IsZeroIdentity("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
}

func TestSameIdentity(t *testing.T) {
	assert.True(t, SameIdentity("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED"))
	assert.True(t, SameIdentity("alice", " alice"))
	assert.False(t, SameIdentity("alice", "bob"))
}

func TestIsAddress(t *testing.T) {
	assert.True(t, IsAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
	assert.False(t, IsAddress("alice"))
	assert.False(t, IsAddress("0x1234"))
}
