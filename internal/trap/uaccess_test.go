package trap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalLowHalf(t *testing.T) {
	assert.True(t, Canonical(0x0000_7FFF_FFFF_FFFF))
	assert.False(t, Canonical(0x0000_8000_0000_0000))
}

func TestCanonicalHighHalf(t *testing.T) {
	assert.True(t, Canonical(0xFFFF_8000_0000_0000))
}

func TestIsUserAddrRejectsKernelHalf(t *testing.T) {
	assert.False(t, IsUserAddr(0xFFFF_8000_0000_0000))
	assert.True(t, IsUserAddr(UserTop))
	assert.False(t, IsUserAddr(UserTop+1))
}

type fakeMapped struct{ ok bool }

func (f fakeMapped) UserMapped(addr, n uint64) bool { return f.ok }

func TestCopyFromUserRejectsWrappedLength(t *testing.T) {
	dst := make([]byte, 16)
	err := CopyFromUser(dst, UserTop-4, ^uint64(0), fakeMapped{true}, func(a uint64) byte { return 0 })
	assert.ErrorIs(t, err, ErrFault)
}

func TestCopyFromUserRejectsNonCanonical(t *testing.T) {
	dst := make([]byte, 16)
	err := CopyFromUser(dst, 0xFFFF_0000_0000_0000, 8, fakeMapped{true}, func(a uint64) byte { return 0 })
	assert.ErrorIs(t, err, ErrFault)
}

func TestCopyFromUserRejectsUnmapped(t *testing.T) {
	dst := make([]byte, 16)
	err := CopyFromUser(dst, 0x1000, 8, fakeMapped{false}, func(a uint64) byte { return 0 })
	assert.ErrorIs(t, err, ErrFault)
}

func TestCopyFromUserSucceeds(t *testing.T) {
	src := map[uint64]byte{0x1000: 'a', 0x1001: 'b', 0x1002: 'c'}
	dst := make([]byte, 3)
	err := CopyFromUser(dst, 0x1000, 3, fakeMapped{true}, func(a uint64) byte { return src[a] })
	require.NoError(t, err)
	assert.Equal(t, "abc", string(dst))
}

func TestCopyToUserSucceeds(t *testing.T) {
	dst := map[uint64]byte{}
	src := []byte("xyz")
	err := CopyToUser(0x2000, src, 3, fakeMapped{true}, func(a uint64, b byte) { dst[a] = b })
	require.NoError(t, err)
	assert.Equal(t, byte('x'), dst[0x2000])
	assert.Equal(t, byte('z'), dst[0x2002])
}

func TestCheckCanonicalPanicsOnBadAddress(t *testing.T) {
	assert.Panics(t, func() { CheckCanonical(0xFFFF_0000_0000_0000, "test.go:1") })
}

func TestCheckCanonicalOKForValidAddress(t *testing.T) {
	assert.NotPanics(t, func() { CheckCanonical(0x1000, "test.go:1") })
}
