package vm

import (
	"fmt"
	"sync"

	"github.com/BrokenPorkMachine/NOS-sub000/internal/pmm"
)

// AddressSpace owns one root PML4. NewContext copies all 512 entries of
// the kernel PML4 into it, so both halves start out pointing at the
// kernel's own lower-level tables; a mapping made under one of those
// copied entries is visible in every address space that shares it.
type AddressSpace struct {
	PML4Phys uint64
}

// Manager is the "currently installed PML4, protected by a spinlock"
// object spec.md §4.C describes: every Map/Unmap/Translate/Lookup call
// operates on whichever AddressSpace is currently Switch-ed in, the same
// way the real MMU only ever walks the table CR3 currently points at.
type Manager struct {
	mu      sync.Mutex
	store   *tableStore
	pmm     *pmm.PMM
	kernel  *AddressSpace
	current *AddressSpace
}

// NewManager builds the kernel PML4 and installs it as current. Callers
// then Map whatever must be identity-mapped before spawning the first
// task (internal/kernel.Boot maps every usable bootinfo range), per
// spec.md §4.I step 5.
func NewManager(p *pmm.PMM, node int) (*Manager, error) {
	store := newTableStore(p)
	phys, _, err := store.alloc(node)
	if err != nil {
		return nil, fmt.Errorf("vm: allocating kernel PML4: %w", err)
	}
	kernel := &AddressSpace{PML4Phys: phys}
	return &Manager{store: store, pmm: p, kernel: kernel, current: kernel}, nil
}

// Kernel returns the permanent kernel address space.
func (m *Manager) Kernel() *AddressSpace { return m.kernel }

// Current returns the address space the manager currently has installed.
func (m *Manager) Current() *AddressSpace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Switch reloads the conceptual CR3, installing as the address space all
// subsequent Map/Unmap/Translate/Lookup calls operate on. This is the
// point at which real hardware implicitly flushes non-global TLB entries;
// no explicit flush call is needed or provided (spec.md §4.C).
func (m *Manager) Switch(as *AddressSpace) {
	m.mu.Lock()
	m.current = as
	m.mu.Unlock()
}

// NewContext clones the full 512-entry kernel PML4 into a fresh frame, so
// every task's address space shares kernel mappings from creation
// (spec.md §4.C).
func (m *Manager) NewContext(node int) (*AddressSpace, error) {
	kernelTable := m.store.lookup(m.kernel.PML4Phys)
	phys, _, err := m.store.clone(node, kernelTable)
	if err != nil {
		return nil, err
	}
	return &AddressSpace{PML4Phys: phys}, nil
}

// walk returns the table at each level, allocating any missing
// intermediate table from node's buddy zone and linking it with
// {Present, Writable, User} as spec.md §4.C requires. If create is false,
// walk stops and returns ok=false the first time it hits a missing table.
func (m *Manager) walk(virt uint64, node int, create bool) (pd *pageTable, ptIdx int, ok bool, err error) {
	root := m.store.lookup(m.current.PML4Phys)
	if root == nil {
		return nil, 0, false, fmt.Errorf("vm: current address space has no PML4 backing")
	}

	next := func(table *pageTable, shift uint) (*pageTable, bool, error) {
		i := index(virt, shift)
		e := table.entries[i]
		if e.present() {
			return m.store.lookup(e.phys()), true, nil
		}
		if !create {
			return nil, false, nil
		}
		childPhys, child, err := m.store.alloc(node)
		if err != nil {
			return nil, false, err
		}
		table.entries[i] = makePTE(childPhys, Present|Writable|User)
		return child, true, nil
	}

	pdpt, ok, err := next(root, pml4Shift)
	if !ok || err != nil {
		return nil, 0, ok, err
	}
	pdTable, ok, err := next(pdpt, pdptShift)
	if !ok || err != nil {
		return nil, 0, ok, err
	}
	return pdTable, index(virt, pdShift), true, nil
}

// Map installs a translation for virt→phys. order>=9 or an explicit Huge
// flag installs a 2 MiB PDE; otherwise a 4 KiB PTE is installed one level
// down (spec.md §4.C).
func (m *Manager) Map(virt, phys uint64, flags PTEFlags, order int, node int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	huge := order >= 9 || flags&Huge != 0
	pdTable, pdIdx, ok, err := m.walk(virt, node, true)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("vm: walk failed for 0x%x", virt)
	}

	if huge {
		pdTable.entries[pdIdx] = makePTE(phys, flags|Present|Huge)
		return nil
	}

	ptPhys, ptTable, err := func() (uint64, *pageTable, error) {
		e := pdTable.entries[pdIdx]
		if e.present() && !e.huge() {
			return e.phys(), m.store.lookup(e.phys()), nil
		}
		childPhys, child, err := m.store.alloc(node)
		if err != nil {
			return 0, nil, err
		}
		pdTable.entries[pdIdx] = makePTE(childPhys, Present|Writable|User)
		return childPhys, child, nil
	}()
	if err != nil {
		return err
	}
	_ = ptPhys
	ptTable.entries[index(virt, ptShift)] = makePTE(phys, flags|Present)
	return nil
}

// Unmap clears the leaf entry for virt, whether it is a 4 KiB PTE or a
// 2 MiB huge PDE (spec.md §4.C).
func (m *Manager) Unmap(virt uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pdTable, pdIdx, ok, err := m.walk(virt, 0, false)
	if err != nil || !ok {
		return
	}
	e := pdTable.entries[pdIdx]
	if !e.present() {
		return
	}
	if e.huge() {
		pdTable.entries[pdIdx] = 0
		return
	}
	ptTable := m.store.lookup(e.phys())
	if ptTable == nil {
		return
	}
	ptTable.entries[index(virt, ptShift)] = 0
}

// Lookup returns the physical address, flags, and presence of virt's
// current mapping.
func (m *Manager) Lookup(virt uint64) (phys uint64, flags PTEFlags, present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pdTable, pdIdx, ok, err := m.walk(virt, 0, false)
	if err != nil || !ok {
		return 0, 0, false
	}
	e := pdTable.entries[pdIdx]
	if !e.present() {
		return 0, 0, false
	}
	if e.huge() {
		offset := virt & (HugePageSize - 1)
		return e.phys() + offset, e.flags(), true
	}
	ptTable := m.store.lookup(e.phys())
	if ptTable == nil {
		return 0, 0, false
	}
	leaf := ptTable.entries[index(virt, ptShift)]
	if !leaf.present() {
		return 0, 0, false
	}
	offset := virt & (PageSize - 1)
	return leaf.phys() + offset, leaf.flags(), true
}

// Translate returns just the physical address, or 0 if virt is unmapped.
func (m *Manager) Translate(virt uint64) uint64 {
	phys, _, ok := m.Lookup(virt)
	if !ok {
		return 0
	}
	return phys
}

// setLeafFlags rewrites the leaf entry for virt in place, preserving its
// physical address — used by the COW fault handler to flip Writable/COW
// without a full re-map.
func (m *Manager) setLeafFlags(virt uint64, flags PTEFlags) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	pdTable, pdIdx, ok, err := m.walk(virt, 0, false)
	if err != nil || !ok {
		return false
	}
	e := pdTable.entries[pdIdx]
	if !e.present() {
		return false
	}
	if e.huge() {
		pdTable.entries[pdIdx] = makePTE(e.phys(), flags|Present|Huge)
		return true
	}
	ptTable := m.store.lookup(e.phys())
	if ptTable == nil {
		return false
	}
	i := index(virt, ptShift)
	leaf := ptTable.entries[i]
	if !leaf.present() {
		return false
	}
	ptTable.entries[i] = makePTE(leaf.phys(), flags|Present)
	return true
}
