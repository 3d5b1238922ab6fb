package session

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateToken()
		require.NoError(t, err)
		assert.Len(t, token, 32) // 20 bytes in unpadded base32
		assert.Regexp(t, regexp.MustCompile(`^[a-z2-7]+$`), token)
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestHashToken_IsDeterministicHex(t *testing.T) {
	a := HashToken("abc")
	assert.Equal(t, a, HashToken("abc"))
	assert.NotEqual(t, a, HashToken("abd"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", a)
}
