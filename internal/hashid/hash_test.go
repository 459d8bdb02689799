package hashid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumContentDeterministic(t *testing.T) {
	a := SumContent([]byte("hello world"))
	b := SumContent([]byte("hello world"))
	assert.Equal(t, a, b)
	require.NoError(t, a.Validate())
	assert.True(t, strings.HasPrefix(a.String(), "sha256:"))
}

func TestSumContentDistinguishesInputs(t *testing.T) {
	a := SumContent([]byte("a"))
	b := SumContent([]byte("b"))
	assert.NotEqual(t, a, b)
}

func TestFastHashMatchesStreamedWrite(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	direct := SumFast(data)

	w := NewFastWriter()
	_, err := w.Write(data[:10])
	require.NoError(t, err)
	_, err = w.Write(data[10:])
	require.NoError(t, err)

	assert.Equal(t, direct, w.Sum())
}

func TestIdentityEqualityIgnoresNormalizationDifferences(t *testing.T) {
	// "é" as a single codepoint (NFC) vs "e" + combining acute (NFD).
	a := Identity{Name: "café", Version: "1.0.0", Revision: 1, Arch: "arm64"}
	b := Identity{Name: "café", Version: "1.0.0", Revision: 1, Arch: "arm64"}
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestIdentityInequality(t *testing.T) {
	a := Identity{Name: "foo", Version: "1.0.0", Revision: 1, Arch: "arm64"}
	b := Identity{Name: "foo", Version: "1.0.1", Revision: 1, Arch: "arm64"}
	assert.False(t, a.Equal(b))
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestIdentityString(t *testing.T) {
	id := Identity{Name: "bar", Version: "2.3.4", Revision: 7, Arch: "arm64"}
	assert.Equal(t, "bar@2.3.4-7.arm64", id.String())
}
