package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrokenPorkMachine/NOS-sub000/internal/pmm"
)

func newCOWFixture(t *testing.T) (*Manager, *pmm.PMM, *FrameTable, *COW) {
	t.Helper()
	m, p := newTestManager(t)
	frames := NewFrameTable(0, 4096)
	return m, p, frames, NewCOW(m, p, frames)
}

// TestDemandZeroFault is scenario S5 from spec.md §8.
func TestDemandZeroFault(t *testing.T) {
	m, _, frames, cow := newCOWFixture(t)
	virt := uint64(0x5000)

	zeroed := false
	res := cow.HandleFault(virt, FaultWrite, func(phys uint64) { zeroed = true }, nil, 0)
	require.Equal(t, FaultDemandZero, res)
	assert.True(t, zeroed)

	phys, flags, present := m.Lookup(virt)
	require.True(t, present)
	assert.NotZero(t, flags&Writable)
	assert.EqualValues(t, 1, frames.Refcount(phys))

	// A second write fault on the same page finds it present and not
	// COW-marked, which HandleFault classifies as fatal rather than
	// demand-zeroing it again.
	res = cow.HandleFault(virt, FaultWrite, nil, nil, 0)
	assert.Equal(t, FaultFatal, res)
}

// TestCOWCopyOnSharedFrame is spec.md §8 invariant 8: a write to a
// COW-marked page with refcount>=2 allocates a new frame and drops the old
// frame's refcount by one.
func TestCOWCopyOnSharedFrame(t *testing.T) {
	m, p, frames, cow := newCOWFixture(t)
	virt := uint64(0x9000)

	shared, ok := p.Alloc(0, 0, true)
	require.True(t, ok)
	require.NoError(t, m.Map(virt, shared, Present|User, 0, 0))
	frames.IncRef(shared)
	frames.IncRef(shared) // simulate two mappings sharing the frame
	require.NoError(t, cow.Mark(virt))
	require.EqualValues(t, 2, frames.Refcount(shared))

	var copiedFrom, copiedTo uint64
	res := cow.HandleFault(virt, FaultWrite, nil, func(dst, src uint64) {
		copiedTo, copiedFrom = dst, src
	}, 0)

	require.Equal(t, FaultCOWCopied, res)
	assert.Equal(t, shared, copiedFrom)
	assert.EqualValues(t, 1, frames.Refcount(shared))

	newPhys, flags, present := m.Lookup(virt)
	require.True(t, present)
	assert.Equal(t, copiedTo, newPhys)
	assert.NotEqual(t, shared, newPhys)
	assert.NotZero(t, flags&Writable)
	assert.Zero(t, flags&COW)
}

// TestCOWPromoteOnSoleOwner covers spec.md §4.D.3.b: refcount==1 just
// unmarks, no new frame is allocated.
func TestCOWPromoteOnSoleOwner(t *testing.T) {
	m, p, frames, cow := newCOWFixture(t)
	virt := uint64(0xA000)

	sole, ok := p.Alloc(0, 0, true)
	require.True(t, ok)
	require.NoError(t, m.Map(virt, sole, Present|User, 0, 0))
	frames.IncRef(sole)
	require.NoError(t, cow.Mark(virt))

	copyCalled := false
	res := cow.HandleFault(virt, FaultWrite, nil, func(dst, src uint64) { copyCalled = true }, 0)

	require.Equal(t, FaultCOWPromoted, res)
	assert.False(t, copyCalled)

	phys, flags, present := m.Lookup(virt)
	require.True(t, present)
	assert.Equal(t, sole, phys)
	assert.NotZero(t, flags&Writable)
	assert.Zero(t, flags&COW)
}

func TestFrameTableIncDecRefFloorsAtZero(t *testing.T) {
	ft := NewFrameTable(0, 16)
	ft.DecRef(0)
	assert.EqualValues(t, 0, ft.Refcount(0))
	ft.IncRef(0)
	ft.IncRef(0)
	ft.DecRef(0)
	assert.EqualValues(t, 1, ft.Refcount(0))
}
