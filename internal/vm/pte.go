// Package vm implements x86-64 4-level paging, per-task address spaces,
// copy-on-write, and the page-fault dispatch described in spec.md §4.C/§4.D.
//
// The bit-layout constants and "levels are fixed shifts into a 512-entry
// table" structure follow the teacher's ARM64 MMU (mazboot's main/mmu.go,
// PTE_* constants and L0_SHIFT..L3_SHIFT) retargeted to the x86-64 PML4 /
// PDPT / PD / PT hierarchy. Because this package must be host-testable
// without real physical RAM, "physical frames" that back page tables are
// opaque uint64 addresses handed out by internal/pmm, and the 4 KiB of
// table storage at each address lives in a tableStore map rather than in
// raw unsafe.Pointer memory — the layout and algorithms are otherwise the
// same ones real hardware walks.
package vm

// PTEFlags are the software- and hardware-defined bits of a page-table
// entry, per spec.md §3 "PTE — physical address ORed with flags".
type PTEFlags uint64

const (
	Present PTEFlags = 1 << 0
	Writable PTEFlags = 1 << 1
	User     PTEFlags = 1 << 2
	// Huge marks a PD-level entry as a 2 MiB leaf instead of a pointer to a
	// PT (hardware PS bit, bit 7).
	Huge PTEFlags = 1 << 7
	// COW is a software-available bit (AVL bits 9-11 are ignored by the
	// MMU); the fault handler uses it to tell "private copy on write" pages
	// apart from ordinarily-writable ones.
	COW PTEFlags = 1 << 9
	// NX is the hardware no-execute bit, bit 63.
	NX PTEFlags = 1 << 63
)

const (
	PageSize     = 4096
	HugePageSize = 2 * 1024 * 1024

	entriesPerTable = 512
	physAddrMask    = 0x000F_FFFF_FFFF_F000 // bits 12-51

	pml4Shift = 39
	pdptShift = 30
	pdShift   = 21
	ptShift   = 12

	tableIndexMask = entriesPerTable - 1
)

// pte packs a physical address and flags into one 64-bit word, exactly as
// hardware would read it.
type pte uint64

func makePTE(phys uint64, flags PTEFlags) pte {
	return pte((phys & physAddrMask) | uint64(flags))
}

func (e pte) phys() uint64    { return uint64(e) & physAddrMask }
func (e pte) flags() PTEFlags { return PTEFlags(uint64(e) &^ physAddrMask) }
func (e pte) present() bool   { return e.flags()&Present != 0 }
func (e pte) huge() bool      { return e.flags()&Huge != 0 }
func (e pte) cow() bool       { return e.flags()&COW != 0 }
func (e pte) writable() bool  { return e.flags()&Writable != 0 }

func index(virt uint64, shift uint) int {
	return int((virt >> shift) & tableIndexMask)
}

// pageTable is the in-memory representation of one 4 KiB page-table page.
type pageTable struct {
	entries [entriesPerTable]pte
}
