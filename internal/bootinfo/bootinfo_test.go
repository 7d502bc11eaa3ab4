package bootinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsBadMagic(t *testing.T) {
	_, err := Validate(Raw{Magic: 0xdeadbeef}, nil)
	require.Error(t, err)
}

func TestValidateRejectsSizeMismatch(t *testing.T) {
	_, err := Validate(Raw{Magic: MagicUEFI, Size: 10, ExpectedSize: 20}, nil)
	require.Error(t, err)
}

func TestValidateRejectsOversizedMmap(t *testing.T) {
	entries := make([]MmapEntry, MaxMmapEntries+1)
	_, err := Validate(Raw{Magic: MagicUEFI, MmapEntries: entries}, nil)
	require.Error(t, err)
}

func TestValidateFallsBackToCPUIDWhenCPUTableEmpty(t *testing.T) {
	bi, err := Validate(Raw{Magic: MagicMB2}, func() int { return 4 })
	require.NoError(t, err)
	assert.Len(t, bi.CPUs(), 4)
}

func TestValidateDefaultsToSingleCPU(t *testing.T) {
	bi, err := Validate(Raw{Magic: MagicMB2}, func() int { return 0 })
	require.NoError(t, err)
	assert.Len(t, bi.CPUs(), 1)
	assert.True(t, bi.CPUs()[0].Online())
}

func TestValidateKeepsExplicitCPUTable(t *testing.T) {
	bi, err := Validate(Raw{
		Magic: MagicUEFI,
		CPUs:  []CPUEntry{{APICID: 0, Flags: 1}, {APICID: 1, Flags: 1}},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, bi.CPUs(), 2)
}

func TestValidateRejectsNonCanonicalFramebuffer(t *testing.T) {
	_, err := Validate(Raw{
		Magic: MagicUEFI,
		FB:    Framebuffer{Present: true, Addr: 0x0001_0000_0000_0000},
	}, nil)
	require.Error(t, err)
}

func TestNUMANodesOnePerUsableEntryNeverMergesAcrossGaps(t *testing.T) {
	bi, err := Validate(Raw{
		Magic: MagicUEFI,
		MmapEntries: []MmapEntry{
			{Addr: 0x100000, Len: 0x100000, Type: MemUsable},
			{Addr: 0x0, Len: 0x1000, Type: MemReserved},
			{Addr: 0x300000, Len: 0x200000, Type: MemUsable},
		},
	}, func() int { return 1 })
	require.NoError(t, err)
	nodes := bi.NUMANodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, uint64(0x100000), nodes[0].Base)
	assert.Equal(t, uint64(0x100000), nodes[0].Length)
	assert.Equal(t, uint64(0x300000), nodes[1].Base)
	assert.Equal(t, uint64(0x200000), nodes[1].Length)
}

func TestNUMANodesAdjacentUsableEntriesStayDistinct(t *testing.T) {
	bi, err := Validate(Raw{
		Magic: MagicUEFI,
		MmapEntries: []MmapEntry{
			{Addr: 0x200000, Len: 0x100000, Type: MemUsable},
			{Addr: 0x100000, Len: 0x100000, Type: MemUsable},
		},
	}, func() int { return 1 })
	require.NoError(t, err)
	nodes := bi.NUMANodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, uint64(0x100000), nodes[0].Base)
	assert.Equal(t, uint64(0x200000), nodes[1].Base)
}

func TestNUMANodesEmptyWhenNoUsableMemory(t *testing.T) {
	bi, err := Validate(Raw{Magic: MagicUEFI}, func() int { return 1 })
	require.NoError(t, err)
	assert.Empty(t, bi.NUMANodes())
}
