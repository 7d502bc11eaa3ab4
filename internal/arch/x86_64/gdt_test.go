package x8664

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildGDTProducesExpectedByteLength(t *testing.T) {
	g := BuildGDT(0xFFFF_8000_0010_0000, 0x67)
	b := g.Bytes()
	assert.Len(t, b, 8*7)
}

func TestTSSDescriptorSplitsHighBase(t *testing.T) {
	const base = uint64(0xFFFF_8000_1234_5678)
	g := BuildGDT(base, 0x67)
	assert.Equal(t, base>>32, g.TSS.High)
}

func TestSelectorConstantsMatchSpec(t *testing.T) {
	assert.EqualValues(t, 0x08, SelKernelCode)
	assert.EqualValues(t, 0x10, SelKernelData)
	assert.EqualValues(t, 0x1B, SelUserCode)
	assert.EqualValues(t, 0x23, SelUserData)
	assert.EqualValues(t, 0x28, SelTSS)
}
