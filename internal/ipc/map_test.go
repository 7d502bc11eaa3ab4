package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrokenPorkMachine/NOS-sub000/internal/pmm"
	"github.com/BrokenPorkMachine/NOS-sub000/internal/vm"
)

func newTestManager(t *testing.T) (*vm.Manager, *pmm.PMM) {
	t.Helper()
	p, err := pmm.NewPMM([]pmm.Node{{Base: 0, Length: 4096 * pmm.PageSize}})
	require.NoError(t, err)
	m, err := vm.NewManager(p, 0)
	require.NoError(t, err)
	return m, p
}

func TestMapIntoAddressSpaceTranslatesSendToWritable(t *testing.T) {
	m, p := newTestManager(t)
	r, err := CreateRegion(p, pmm.PageSize, CapSend, 0, 0, nil)
	require.NoError(t, err)

	virt := uint64(0x0000_5000_0000)
	require.NoError(t, MapIntoAddressSpace(m, r, virt, 0))

	_, flags, present := m.Lookup(virt)
	require.True(t, present)
	assert.NotZero(t, flags&vm.Writable)
	assert.Zero(t, flags&vm.User, "SEND alone should not grant User")
}

func TestMapIntoAddressSpaceTranslatesRecvToPresentUser(t *testing.T) {
	m, p := newTestManager(t)
	r, err := CreateRegion(p, pmm.PageSize, 0, CapRecv, 0, nil)
	require.NoError(t, err)

	virt := uint64(0x0000_5000_0000)
	require.NoError(t, MapIntoAddressSpace(m, r, virt, 0))

	_, flags, present := m.Lookup(virt)
	require.True(t, present)
	assert.NotZero(t, flags&vm.Present)
	assert.NotZero(t, flags&vm.User)
	assert.Zero(t, flags&vm.Writable, "RECV alone should not grant Writable")
}

func TestMapIntoAddressSpaceMapsEveryFrameInOrder(t *testing.T) {
	m, p := newTestManager(t)
	r, err := CreateRegion(p, pmm.PageSize*3, CapSend, CapRecv, 0, nil)
	require.NoError(t, err)
	frames := r.Frames()
	require.Len(t, frames, 3)

	virt := uint64(0x0000_6000_0000)
	require.NoError(t, MapIntoAddressSpace(m, r, virt, 0))

	for i, frame := range frames {
		got, flags, present := m.Lookup(virt + uint64(i)*pmm.PageSize)
		require.True(t, present)
		assert.Equal(t, frame, got)
		assert.NotZero(t, flags&vm.Writable)
		assert.NotZero(t, flags&vm.Present)
	}
}

func TestMapIntoAddressSpaceRejectsNoRights(t *testing.T) {
	m, p := newTestManager(t)
	r, err := CreateRegion(p, pmm.PageSize, 0, 0, 0, nil)
	require.NoError(t, err)

	err = MapIntoAddressSpace(m, r, 0x0000_7000_0000, 0)
	assert.ErrorIs(t, err, ErrNoRights)
}
