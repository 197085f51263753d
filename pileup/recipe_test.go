package pileup

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'foo'", shellQuote("foo"))
	assert.Equal(t, "'it'\\''s'", shellQuote("it's"))
	assert.Equal(t, "''", shellQuote(""))
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	want := []byte("the quick brown fox jumps over the lazy dog, repeated: the quick brown fox jumps over the lazy dog")
	encoded := Compress(want)
	assert.NotEqual(t, want, encoded)

	var out bytes.Buffer
	recipe := Recipe{Compressed: true}
	require.NoError(t, recipe.Decompress(encoded, &out))
	assert.Equal(t, want, out.Bytes())
}

func TestDecompressPassthroughWhenUncompressed(t *testing.T) {
	want := []byte("raw bcf bytes")
	var out bytes.Buffer
	recipe := Recipe{Compressed: false}
	require.NoError(t, recipe.Decompress(want, &out))
	assert.Equal(t, want, out.Bytes())
}

func TestRecipesCoverAllSupportedFormats(t *testing.T) {
	recipes := Recipes("/bin/sambamba-pileup")
	for _, f := range []OutputFormat{PILEUP, BCF, UncompressedBCF, VCF} {
		_, ok := recipes[f]
		assert.True(t, ok, "missing recipe for %v", f)
	}
	_, ok := recipes[GzippedVCF]
	assert.False(t, ok, "GzippedVCF must have no recipe; it is rejected earlier")
}
