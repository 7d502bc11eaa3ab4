package kcmdline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDefaultsToNitro(t *testing.T) {
	opts := Parse("")
	assert.Equal(t, HeapNitro, opts.Heap)
}

func TestParseSelectsLegacy(t *testing.T) {
	opts := Parse("heap=legacy")
	assert.Equal(t, HeapLegacy, opts.Heap)
	assert.Empty(t, opts.Unknown)
}

func TestParsePassesUnknownTokensThrough(t *testing.T) {
	opts := Parse("quiet console=ttyS0 heap=legacy debug")
	assert.Equal(t, HeapLegacy, opts.Heap)
	assert.Equal(t, []string{"quiet", "console=ttyS0", "debug"}, opts.Unknown)
}

func TestParseUnrecognizedHeapValuePassedThrough(t *testing.T) {
	opts := Parse("heap=bogus")
	assert.Equal(t, HeapNitro, opts.Heap)
	assert.Equal(t, []string{"heap=bogus"}, opts.Unknown)
}
