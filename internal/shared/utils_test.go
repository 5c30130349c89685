package shared

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeRandHexString(t *testing.T) {
	s1, err := MakeRandHexString(24)
	require.NoError(t, err)
	s2, err := MakeRandHexString(24)
	require.NoError(t, err)

	assert.Len(t, s1, 48)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{48}$`), s1)
	assert.NotEqual(t, s1, s2)
}

func TestHashSHA256Hex(t *testing.T) {
	// well-known vector
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		HashSHA256Hex("hello"))
}

func TestHashHMACHex(t *testing.T) {
	a := HashHMACHex([]byte("k1"), "token")
	b := HashHMACHex([]byte("k2"), "token")
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, HashHMACHex([]byte("k1"), "token"))
}
