package vm

import (
	"fmt"
	"sync"

	"github.com/BrokenPorkMachine/NOS-sub000/internal/pmm"
)

// tableStore is the physical-address-to-page-table-page map every
// AddressSpace's table-walking code resolves through. Real hardware reads
// table memory directly off the physical address bus; hosted tests instead
// look it up here, keyed by the exact frame address internal/pmm handed out
// for it, so the walking logic is identical either way.
type tableStore struct {
	mu     sync.Mutex
	pmm    *pmm.PMM
	tables map[uint64]*pageTable
}

func newTableStore(p *pmm.PMM) *tableStore {
	return &tableStore{pmm: p, tables: make(map[uint64]*pageTable)}
}

// alloc carves a fresh, zeroed table page from node's buddy zone.
func (s *tableStore) alloc(node int) (uint64, *pageTable, error) {
	base, ok := s.pmm.Alloc(0, node, false)
	if !ok {
		return 0, nil, fmt.Errorf("vm: out of memory allocating page table")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &pageTable{}
	s.tables[base] = t
	return base, t, nil
}

func (s *tableStore) lookup(phys uint64) *pageTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[phys]
}

// clone duplicates src's 512 entries into a freshly allocated table,
// sharing the pointed-to lower-level tables (used to build a new PML4 that
// mirrors the kernel half of the bootstrap PML4, per spec.md §4.C).
func (s *tableStore) clone(node int, src *pageTable) (uint64, *pageTable, error) {
	phys, dst, err := s.alloc(node)
	if err != nil {
		return 0, nil, err
	}
	dst.entries = src.entries
	return phys, dst, nil
}
