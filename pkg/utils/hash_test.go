package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	assert.Equal(t, HashString("bge-m3", "entropy"), HashString("bge-m3", "entropy"))
	assert.NotEqual(t, HashString("ab", "c"), HashString("a", "bc"))
	assert.Len(t, HashString("x"), 64)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", TruncateRunes("héllo", 4))
	assert.Equal(t, "héllo", TruncateRunes("héllo", 10))
	assert.Equal(t, "", TruncateRunes("héllo", 0))
}
