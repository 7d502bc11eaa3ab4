// Package heap implements the two kernel heaps of spec.md §4.E: the
// size-agnostic legacy allocator and NitroHeap, the per-CPU magazine slab
// allocator with reuse-epoch quarantine and cross-CPU free harvesting.
//
// Both heaps sit "atop the buddy" per spec.md §2; this package never calls
// internal/pmm directly. Instead it takes a PageSource, the same
// functional-dependency-injection shape gopheros' vmm package uses for its
// frame allocator (SetFrameAllocator(FrameAllocatorFn) in
// kernel/mem/vmm/vmm.go): production wiring in internal/kernel backs a
// PageSource with pmm.PMM plus the identity map internal/vm installs for
// low RAM at boot, while tests back it with a plain Go arena. The
// allocator logic is identical either way; only where the bytes live
// differs.
package heap

// PageSize is the span unit PageSource orders are measured in, the same
// 4 KiB frame size as internal/pmm.PageSize.
const PageSize = 4096

// PageSource hands out and reclaims page-aligned spans, expressed in
// buddy orders exactly like internal/pmm.PMM.
type PageSource interface {
	// AllocPages returns the base address of a 2^order page span, or
	// ok=false on exhaustion.
	AllocPages(order int) (base uintptr, ok bool)
	// FreePages returns a span previously handed out by AllocPages.
	FreePages(base uintptr, order int)
}

// orderForBytes returns the smallest order whose 2^order*PageSize spans at
// least n bytes.
func orderForBytes(n uint64, pageSize uint64) int {
	order := 0
	size := pageSize
	for size < n {
		size <<= 1
		order++
	}
	return order
}
