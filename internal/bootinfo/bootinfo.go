// Package bootinfo normalizes the firmware-supplied boot record handed to
// kernel_entry and validates it before any other subsystem trusts it.
//
// The validation style (bound every count, reject anything that walks
// outside a sane range, never follow a pointer you haven't range-checked)
// is carried over from mazboot's ATAG/DTB walkers (see the teacher's
// main/page.go getMemSize and main/dtb_qemu.go), retargeted from ARM
// boot tags to the UEFI/Multiboot2-style BootInfo record of spec.md §3/§6.
package bootinfo

import (
	"fmt"

	"github.com/BrokenPorkMachine/NOS-sub000/internal/pmm"
)

// Magic values a bootloader may hand to kernel_entry, per spec.md §6.
const (
	MagicUEFI = 0x55454649
	MagicMB2  = 0x36d76289
)

// MaxCPUs bounds the CPU table; MaxMmapEntries bounds the memory map, both
// per spec.md §4.A.
const (
	MaxCPUs        = 256
	MaxMmapEntries = 128
)

// MemType classifies an mmap entry.
type MemType uint32

const (
	MemUsable MemType = iota + 1
	MemReserved
	MemACPIReclaimable
	MemACPINVS
	MemBad
)

// MmapEntry is one firmware memory-map record.
type MmapEntry struct {
	Addr uint64
	Len  uint64
	Type MemType
}

// CPUEntry describes one logical CPU from the firmware's MADT/CPU table.
type CPUEntry struct {
	APICID uint32
	Flags  uint32
}

// Online reports whether the firmware marked this CPU usable (bit 0).
func (c CPUEntry) Online() bool { return c.Flags&1 != 0 }

// Framebuffer is the optional pre-boot linear framebuffer description.
type Framebuffer struct {
	Present bool
	Addr    uint64
	Width   uint32
	Height  uint32
	Pitch   uint32 // bytes per scanline
	BPP     uint32
}

// Raw is the wire-format record as handed to kernel_entry, before
// validation. Field order mirrors original_source/boot/include/bootinfo.h
// trimmed to what the core actually consumes (framebuffer, mmap, CPU table,
// ACPI pointer, entry/load base); agent-facing fields (cmdline, modules,
// SMBIOS, RTC) are not decoded; only the command line is carried, verbatim,
// in Cmdline.
type Raw struct {
	Magic           uint32
	Size            uint32
	MmapEntries     []MmapEntry
	CPUs            []CPUEntry
	FB              Framebuffer
	ACPIRSDP        uint64
	KernelEntry     uint64
	KernelLoadBase  uint64
	Cmdline         string
	ExpectedSize    uint32
}

// BootInfo is the validated, read-only view subsequent init stages consume.
type BootInfo struct {
	mmap    []MmapEntry
	cpus    []CPUEntry
	fb      Framebuffer
	acpi    uint64
	entry   uint64
	load    uint64
	cmdline string
}

// Validate checks magic, size, and table bounds, falling back to CPUID
// topology detection when the firmware reports zero CPUs (spec.md §4.A).
// detectCPUCount is nil in production, which selects the reader installed
// by SetCPUIDTopologyFunc; tests inject a fake topology reader.
func Validate(raw Raw, detectCPUCount func() int) (*BootInfo, error) {
	if raw.Magic != MagicUEFI && raw.Magic != MagicMB2 {
		return nil, fmt.Errorf("bootinfo: bad magic 0x%08x", raw.Magic)
	}
	if raw.ExpectedSize != 0 && raw.Size != raw.ExpectedSize {
		return nil, fmt.Errorf("bootinfo: size mismatch: got %d want %d", raw.Size, raw.ExpectedSize)
	}
	if len(raw.MmapEntries) > MaxMmapEntries {
		return nil, fmt.Errorf("bootinfo: mmap has %d entries, max %d", len(raw.MmapEntries), MaxMmapEntries)
	}
	if len(raw.CPUs) > MaxCPUs {
		return nil, fmt.Errorf("bootinfo: %d CPUs exceeds max %d", len(raw.CPUs), MaxCPUs)
	}
	if raw.FB.Present && !canonical(raw.FB.Addr) {
		return nil, fmt.Errorf("bootinfo: framebuffer address 0x%x not canonical", raw.FB.Addr)
	}

	cpus := raw.CPUs
	if len(cpus) == 0 {
		if detectCPUCount == nil {
			detectCPUCount = cpuidTopologyFn
		}
		cpus = detectCPUsCPUID(detectCPUCount)
		if len(cpus) == 0 {
			cpus = []CPUEntry{{APICID: 0, Flags: 1}}
		}
	}

	mmap := make([]MmapEntry, len(raw.MmapEntries))
	copy(mmap, raw.MmapEntries)
	cpuTable := make([]CPUEntry, len(cpus))
	copy(cpuTable, cpus)

	return &BootInfo{
		mmap:    mmap,
		cpus:    cpuTable,
		fb:      raw.FB,
		acpi:    raw.ACPIRSDP,
		entry:   raw.KernelEntry,
		load:    raw.KernelLoadBase,
		cmdline: raw.Cmdline,
	}, nil
}

// canonical reports whether addr is a canonical x86-64 address (bits 63:47
// all equal), the same predicate internal/trap uses for user pointers.
func canonical(addr uint64) bool {
	top := addr >> 47
	return top == 0 || top == (1<<17)-1
}

// Mmap returns a read-only view of the firmware memory map.
func (b *BootInfo) Mmap() []MmapEntry { return append([]MmapEntry(nil), b.mmap...) }

// CPUs returns a read-only view of the CPU table.
func (b *BootInfo) CPUs() []CPUEntry { return append([]CPUEntry(nil), b.cpus...) }

// Framebuffer returns the framebuffer descriptor, if any.
func (b *BootInfo) Framebuffer() Framebuffer { return b.fb }

// ACPIRSDP returns the physical address of the ACPI RSDP, or 0 if absent.
func (b *BootInfo) ACPIRSDP() uint64 { return b.acpi }

// Cmdline returns the raw kernel command line string.
func (b *BootInfo) Cmdline() string { return b.cmdline }

// NUMANodes derives NUMA node ranges from the mmap's usable entries. This
// reimplementation doesn't parse SRAT, so it has no node-affinity data
// better than "one node per usable range" to go on; original_source/VM/numa.c
// builds its node list the same way, one node per usable mmap entry, and
// never merges across a gap even when two usable entries happen to be
// adjacent, since the untyped space between them (reserved, ACPI, or
// otherwise) is never RAM the buddy allocator may hand out. A firmware
// map with no usable entries at all degenerates to zero nodes.
func (b *BootInfo) NUMANodes() []NUMANode {
	var ranges []pmm.Node
	for _, e := range b.mmap {
		if e.Type != MemUsable {
			continue
		}
		ranges = append(ranges, pmm.Node{Base: e.Addr, Length: e.Len})
	}
	sorted := pmm.NodesFromRanges(ranges)
	if len(sorted) == 0 {
		return nil
	}
	nodes := make([]NUMANode, len(sorted))
	for i, r := range sorted {
		nodes[i] = NUMANode{Base: r.Base, Length: r.Length}
	}
	return nodes
}

// NUMANode is a node's physical address range, per spec.md §3.
type NUMANode struct {
	Base   uint64
	Length uint64
}

// detectCPUsCPUID implements spec.md §4.A's fallback chain: leaf 0x1F, then
// 0x0B, then legacy CPUID.1:EBX[23:16], minimum 1 CPU. The actual CPUID
// execution lives in internal/arch/x86_64 (it needs inline assembly); this
// indirection lets bootinfo stay architecture-neutral and host-testable.
var cpuidTopologyFn func() int

func detectCPUsCPUID(topology func() int) []CPUEntry {
	n := 1
	if topology != nil {
		if got := topology(); got > 0 {
			n = got
		}
	}
	cpus := make([]CPUEntry, n)
	for i := range cpus {
		cpus[i] = CPUEntry{APICID: uint32(i), Flags: 1}
	}
	return cpus
}

// SetCPUIDTopologyFunc installs the architecture-specific CPUID topology
// reader. Called once from cmd/kernel's init wiring.
func SetCPUIDTopologyFunc(fn func() int) { cpuidTopologyFn = fn }
