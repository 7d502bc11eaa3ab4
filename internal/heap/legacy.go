package heap

import (
	"fmt"
	"sync"
)

// LegacyHeap is the pre-NitroHeap allocator of spec.md §4.E: a thin wrapper
// over PageSource that rounds every request up to a whole page span and
// remembers each live block's order, the way the original kmalloc kept an
// order byte immediately before the returned pointer. Here the "prefix" is
// a side table rather than bytes ahead of the pointer, for the same
// opaque-address reason PageSource itself avoids raw pointer arithmetic.
//
// internal/kernel.Boot selects this heap when internal/kcmdline parses
// heap=legacy from the command line (scenario S6); it is never selected
// automatically.
type LegacyHeap struct {
	mu    sync.Mutex
	src   PageSource
	order map[uintptr]int
	stats Stats
}

// NewLegacyHeap wires a LegacyHeap atop src.
func NewLegacyHeap(src PageSource) *LegacyHeap {
	return &LegacyHeap{src: src, order: make(map[uintptr]int)}
}

// Alloc rounds size up to the smallest page span that fits and hands it
// back whole; there is no sub-page packing, unlike NitroHeap.
func (h *LegacyHeap) Alloc(size uint64) (uintptr, error) {
	if size == 0 {
		size = 1
	}
	order := orderForBytes(size, PageSize)
	base, ok := h.src.AllocPages(order)
	if !ok {
		return 0, fmt.Errorf("legacy heap: exhausted at order %d (%d bytes)", order, size)
	}

	h.mu.Lock()
	h.order[base] = order
	h.stats.Allocs++
	h.stats.BytesCommitted += uint64(PageSize << uint(order))
	h.mu.Unlock()
	return base, nil
}

// Free returns addr, previously returned by Alloc, to the underlying
// PageSource in full.
func (h *LegacyHeap) Free(addr uintptr) error {
	h.mu.Lock()
	order, ok := h.order[addr]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("legacy heap: free of unknown address 0x%x", addr)
	}
	delete(h.order, addr)
	h.stats.Frees++
	h.mu.Unlock()

	h.src.FreePages(addr, order)
	return nil
}

// Stats returns a snapshot of the legacy heap's counters.
func (h *LegacyHeap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}
