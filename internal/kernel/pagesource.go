package kernel

import "github.com/BrokenPorkMachine/NOS-sub000/internal/pmm"

// buddyPageSource adapts a pmm.PMM NUMA node into internal/heap's
// PageSource, the production backing promised by heap's package doc:
// "production wiring in internal/kernel backs a PageSource with
// pmm.PMM". Addresses are treated as identity-mapped: internal/vm's
// kernel address space maps all of low RAM 1:1, so a physical frame's
// address doubles as its kernel virtual address without translation.
type buddyPageSource struct {
	pmm  *pmm.PMM
	node int
}

func newBuddyPageSource(p *pmm.PMM, node int) *buddyPageSource {
	return &buddyPageSource{pmm: p, node: node}
}

func (s *buddyPageSource) AllocPages(order int) (uintptr, bool) {
	base, ok := s.pmm.Alloc(order, s.node, false)
	return uintptr(base), ok
}

func (s *buddyPageSource) FreePages(base uintptr, order int) {
	s.pmm.Free(uint64(base), order, s.node)
}
