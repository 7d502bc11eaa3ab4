package vm

import (
	"fmt"
	"sync"

	"github.com/BrokenPorkMachine/NOS-sub000/internal/pmm"
)

// FrameTable is the "parallel to frames: a 16-bit refcount per frame and a
// boolean COW-marked" metadata table of spec.md §3. It is independent of
// the buddy zone's own free-list bookkeeping (internal/pmm) — a frame can
// be "allocated" from the buddy's point of view while this table tracks
// how many mappings currently point at it.
type FrameTable struct {
	mu        sync.Mutex
	base      uint64
	refcount  []uint16
	cowMarked []bool
}

// NewFrameTable allocates metadata for totalFrames frames starting at
// base, per spec.md §4.I step 6 (cow_init(total_frames)).
func NewFrameTable(base uint64, totalFrames int) *FrameTable {
	return &FrameTable{
		base:      base,
		refcount:  make([]uint16, totalFrames),
		cowMarked: make([]bool, totalFrames),
	}
}

func (t *FrameTable) idx(phys uint64) (int, bool) {
	if phys < t.base {
		return 0, false
	}
	i := int((phys - t.base) / PageSize)
	if i < 0 || i >= len(t.refcount) {
		return 0, false
	}
	return i, true
}

// IncRef increments a frame's refcount.
func (t *FrameTable) IncRef(phys uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.idx(phys); ok {
		t.refcount[i]++
	}
}

// DecRef decrements a frame's refcount, floored at zero.
func (t *FrameTable) DecRef(phys uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.idx(phys); ok && t.refcount[i] > 0 {
		t.refcount[i]--
	}
}

// Refcount reports a frame's current refcount.
func (t *FrameTable) Refcount(phys uint64) uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.idx(phys); ok {
		return t.refcount[i]
	}
	return 0
}

func (t *FrameTable) setCOW(phys uint64, v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.idx(phys); ok {
		t.cowMarked[i] = v
	}
}

func (t *FrameTable) isCOW(phys uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.idx(phys); ok {
		return t.cowMarked[i]
	}
	return false
}

// COW mediates copy-on-write between a Manager's address spaces and a
// FrameTable, implementing spec.md §4.D's mark/unmark and page-fault
// dispatch on top of internal/pmm for fresh frames.
type COW struct {
	mgr    *Manager
	pmm    *pmm.PMM
	frames *FrameTable
}

// NewCOW wires a page-fault handler for mgr's current address space.
func NewCOW(mgr *Manager, p *pmm.PMM, frames *FrameTable) *COW {
	return &COW{mgr: mgr, pmm: p, frames: frames}
}

// Mark remaps virt without Writable and records it as COW: a subsequent
// write fault routes through HandleFault's copy-on-write path.
func (c *COW) Mark(virt uint64) error {
	phys, flags, present := c.mgr.Lookup(virt)
	if !present {
		return fmt.Errorf("vm: cannot mark unmapped page 0x%x", virt)
	}
	if !c.mgr.setLeafFlags(virt, (flags&^Writable)|COW) {
		return fmt.Errorf("vm: failed to remap 0x%x", virt)
	}
	c.frames.setCOW(phys, true)
	return nil
}

// Unmark re-enables Writable and clears the COW flag (promotes a
// single-owner COW page to an ordinary private writable page).
func (c *COW) Unmark(virt uint64) error {
	phys, flags, present := c.mgr.Lookup(virt)
	if !present {
		return fmt.Errorf("vm: cannot unmark unmapped page 0x%x", virt)
	}
	if !c.mgr.setLeafFlags(virt, (flags|Writable)&^COW) {
		return fmt.Errorf("vm: failed to remap 0x%x", virt)
	}
	c.frames.setCOW(phys, false)
	return nil
}

// FaultKind classifies the access that triggered a page fault.
type FaultKind int

const (
	FaultRead FaultKind = iota
	FaultWrite
	FaultExec
)

// FaultResult reports what HandleFault did, for logging/tests.
type FaultResult int

const (
	FaultDemandZero FaultResult = iota
	FaultCOWCopied
	FaultCOWPromoted
	FaultFatal
)

// node selects which NUMA zone a fault-driven allocation is drawn from;
// callers (internal/trap) pass the faulting task's home node.
//
// HandleFault implements spec.md §4.D's algorithm exactly:
//  1. align fault_addr down to a page
//  2. no mapping -> demand-zero
//  3. write + COW-marked -> copy (refcount>1) or promote (refcount==1)
//  4. anything else is fatal
func (c *COW) HandleFault(faultAddr uint64, kind FaultKind, zeroFn func(phys uint64), copyFn func(dst, src uint64), node int) FaultResult {
	virt := faultAddr &^ (PageSize - 1)

	phys, _, present := c.mgr.Lookup(virt)
	if !present {
		newPhys, ok := c.pmm.Alloc(0, node, false)
		if !ok {
			return FaultFatal
		}
		if zeroFn != nil {
			zeroFn(newPhys)
		}
		if err := c.mgr.Map(virt, newPhys, Present|Writable|User, 0, node); err != nil {
			return FaultFatal
		}
		c.frames.IncRef(newPhys)
		return FaultDemandZero
	}

	if kind == FaultWrite && c.frames.isCOW(phys) {
		if c.frames.Refcount(phys) > 1 {
			newPhys, ok := c.pmm.Alloc(0, node, false)
			if !ok {
				return FaultFatal
			}
			if copyFn != nil {
				copyFn(newPhys, phys)
			}
			c.frames.DecRef(phys)
			c.frames.IncRef(newPhys)
			if err := c.mgr.Map(virt, newPhys, Present|Writable|User, 0, node); err != nil {
				return FaultFatal
			}
			c.frames.setCOW(newPhys, false)
			return FaultCOWCopied
		}
		if err := c.Unmark(virt); err != nil {
			return FaultFatal
		}
		return FaultCOWPromoted
	}

	return FaultFatal
}
