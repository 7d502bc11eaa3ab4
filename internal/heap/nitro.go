package heap

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MagSize bounds a per-CPU magazine's depth per spec.md §4.E.
const MagSize = 16

// ReuseDelay is the number of epoch advances a freed block must sit in
// quarantine before it is eligible to be handed back out, per spec.md §4.E
// ("reuse-epoch gating").
const ReuseDelay = 2

// blockHeader is NitroHeap's per-block bookkeeping. It never travels with
// the block's user-visible address; Free looks it up by address instead of
// reading a header placed immediately before the pointer, since addresses
// here are opaque uintptr values with no backing Go memory to write into
// (see PageSource's doc comment).
type blockHeader struct {
	addr       uintptr
	class      int
	order      int
	homeCPU    int
	reuseEpoch uint64
	inUse      bool
}

// remoteNode is a Treiber-stack entry for a cross-CPU remote-free inbox:
// freeing CPU B pushes a freed block owned by CPU A's magazine onto A's
// inbox with a single CAS, and A drains it (also via CAS) the next time it
// runs out of local stock, per spec.md §4.E.
type remoteNode struct {
	addr uintptr
	next *remoteNode
}

type remoteInbox struct {
	head atomic.Pointer[remoteNode]
}

func (r *remoteInbox) push(addr uintptr) {
	n := &remoteNode{addr: addr}
	for {
		old := r.head.Load()
		n.next = old
		if r.head.CompareAndSwap(old, n) {
			return
		}
	}
}

func (r *remoteInbox) drain() []uintptr {
	for {
		old := r.head.Load()
		if old == nil {
			return nil
		}
		if r.head.CompareAndSwap(old, nil) {
			var out []uintptr
			for n := old; n != nil; n = n.next {
				out = append(out, n.addr)
			}
			return out
		}
	}
}

// perCPUClass holds one size class's state for one CPU: its magazine (a
// bounded LIFO of ready-to-use blocks), a quarantine of recently freed
// blocks not yet past ReuseDelay, and the inbox other CPUs push into when
// freeing a block this CPU allocated.
type perCPUClass struct {
	mag        []uintptr
	quarantine []uintptr
	inbox      remoteInbox
}

// NitroHeap is the per-CPU magazine slab allocator of spec.md §4.E. It
// carves slabs from a PageSource on demand, hands out size-classed blocks
// through per-CPU magazines to avoid cross-CPU contention on the fast
// path, and reclaims memory only after a freed block has aged past
// ReuseDelay epochs of its home CPU's reuse clock, closing the classic ABA/use-after-reuse
// hole a naive freelist would reopen under concurrent access.
type NitroHeap struct {
	mu       sync.Mutex
	src      PageSource
	classes  *sizeClassTable
	ncpu     int
	percpu   [][]perCPUClass // [cpu][class]
	globalFL [][]uintptr     // [class] -> free block addresses, slab-carved but unclaimed by any CPU
	blocks   map[uintptr]*blockHeader
	epoch    []uint64 // [cpu]; each CPU's reuse-epoch clock, advanced independently
	stats    Stats
}

// NewNitroHeap wires a NitroHeap atop src with ncpu per-CPU magazine sets.
func NewNitroHeap(src PageSource, ncpu int) *NitroHeap {
	classes := newSizeClassTable()
	percpu := make([][]perCPUClass, ncpu)
	for c := range percpu {
		percpu[c] = make([]perCPUClass, classes.count())
	}
	return &NitroHeap{
		src:      src,
		classes:  classes,
		ncpu:     ncpu,
		percpu:   percpu,
		globalFL: make([][]uintptr, classes.count()),
		blocks:   make(map[uintptr]*blockHeader),
		epoch:    make([]uint64, ncpu),
	}
}

// AdvanceEpoch bumps cpu's own reuse-epoch clock, per spec.md §4.E step 1
// ("Bump epoch[c]"). Each CPU's epoch is independent: a tick intended to
// age cpu's quarantine must never advance any other CPU's reuse eligibility,
// since quarantine/epoch state is CPU-local by invariant 3 of spec.md §8.
// Alloc calls this itself on cpu's behalf during refill, matching the
// reimplementation's per-alloc epoch-bump step; callers outside the heap
// (e.g. a timer tick wanting to age a specific CPU's quarantine without an
// allocation) may also call it directly.
func (h *NitroHeap) AdvanceEpoch(cpu int) {
	if cpu < 0 || cpu >= len(h.epoch) {
		return
	}
	atomic.AddUint64(&h.epoch[cpu], 1)
}

func (h *NitroHeap) currentEpoch(cpu int) uint64 {
	return atomic.LoadUint64(&h.epoch[cpu])
}

// Alloc returns a block of at least size bytes aligned to align (align
// must be a power of two), homed to cpu. Requests too large for the size
// class table fall straight through to PageSource as a multi-page span.
func (h *NitroHeap) Alloc(cpu int, size uint64, align uint64) (uintptr, error) {
	if cpu < 0 || cpu >= h.ncpu {
		return 0, fmt.Errorf("heap: invalid cpu %d", cpu)
	}
	if align == 0 {
		align = 1
	}
	classIdx, ok := h.classes.classFor(uint32(size), uint32(align))
	if !ok {
		return h.allocLarge(size)
	}

	pc := &h.percpu[cpu][classIdx]
	if addr, ok := popMag(&pc.mag); ok {
		h.markInUse(addr, cpu)
		atomic.AddUint64(&h.stats.MagazineHits, 1)
		return addr, nil
	}

	atomic.AddUint64(&h.stats.MagazineMisses, 1)
	h.refillFromInboxAndGlobal(cpu, classIdx)
	if addr, ok := popMag(&pc.mag); ok {
		h.markInUse(addr, cpu)
		return addr, nil
	}

	if err := h.carveSlab(classIdx); err != nil {
		return 0, err
	}
	h.refillFromInboxAndGlobal(cpu, classIdx)
	if addr, ok := popMag(&pc.mag); ok {
		h.markInUse(addr, cpu)
		return addr, nil
	}
	return 0, fmt.Errorf("heap: exhausted after slab carve for class %d", classIdx)
}

func (h *NitroHeap) markInUse(addr uintptr, cpu int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.blocks[addr]; ok {
		b.inUse = true
		b.homeCPU = cpu
	}
	atomic.AddUint64(&h.stats.Allocs, 1)
}

func popMag(mag *[]uintptr) (uintptr, bool) {
	n := len(*mag)
	if n == 0 {
		return 0, false
	}
	addr := (*mag)[n-1]
	*mag = (*mag)[:n-1]
	return addr, true
}

// refillFromInboxAndGlobal bumps cpu's epoch, harvests the CPU's own
// remote-free inbox (blocks other CPUs freed that were originally homed
// here) into its quarantine, moves every quarantined block that has aged
// ReuseDelay epochs into the magazine, then falls back to the global free
// list populated by slab carving.
func (h *NitroHeap) refillFromInboxAndGlobal(cpu, classIdx int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	atomic.AddUint64(&h.epoch[cpu], 1)

	pc := &h.percpu[cpu][classIdx]
	harvested := pc.inbox.drain()
	if len(harvested) > 0 {
		atomic.AddUint64(&h.stats.RemoteHarvests, uint64(len(harvested)))
	}
	pc.quarantine = append(pc.quarantine, harvested...)

	reclaimed := h.reclaimQuarantine(cpu, pc)
	for _, addr := range reclaimed {
		if len(pc.mag) >= MagSize {
			h.globalFL[classIdx] = append(h.globalFL[classIdx], addr)
			continue
		}
		pc.mag = append(pc.mag, addr)
	}

	for len(pc.mag) < MagSize {
		gfl := h.globalFL[classIdx]
		n := len(gfl)
		if n == 0 {
			break
		}
		pc.mag = append(pc.mag, gfl[n-1])
		h.globalFL[classIdx] = gfl[:n-1]
	}
}

// reclaimQuarantine pulls blocks out of a CPU's quarantine once they've
// aged ReuseDelay epochs on that same CPU's own epoch counter, per
// invariant 3 of spec.md §8.
func (h *NitroHeap) reclaimQuarantine(cpu int, pc *perCPUClass) []uintptr {
	now := h.currentEpoch(cpu)
	var ready, stillAging []uintptr
	for _, addr := range pc.quarantine {
		b := h.blocks[addr]
		if b != nil && now-b.reuseEpoch >= ReuseDelay {
			ready = append(ready, addr)
		} else {
			stillAging = append(stillAging, addr)
		}
	}
	pc.quarantine = stillAging
	return ready
}

func (h *NitroHeap) carveSlab(classIdx int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sc := h.classes.class(classIdx)
	order := orderForBytes(uint64(sc.Size)*uint64(slabBlockCount(sc.Size)), PageSize)
	base, ok := h.src.AllocPages(order)
	if !ok {
		return fmt.Errorf("heap: page source exhausted carving class %d (order %d)", classIdx, order)
	}
	count := slabBlockCount(sc.Size)
	span := (PageSize << uint(order))
	stride := uintptr(sc.Size)
	for i := 0; i < count; i++ {
		addr := base + uintptr(i)*stride
		if addr-base >= uintptr(span) {
			break
		}
		h.blocks[addr] = &blockHeader{addr: addr, class: classIdx}
		h.globalFL[classIdx] = append(h.globalFL[classIdx], addr)
	}
	atomic.AddUint64(&h.stats.BytesCommitted, uint64(span))
	return nil
}

// slabBlockCount picks a block-per-slab count that keeps small classes
// from wasting whole pages per block while capping large classes at a
// handful per slab.
func slabBlockCount(classSize uint32) int {
	const target = 16 * PageSize
	n := target / int(classSize)
	if n < 1 {
		n = 1
	}
	if n > 4096 {
		n = 4096
	}
	return n
}

// allocLarge bypasses size classes entirely for requests that don't fit
// the table, going straight to PageSource per spec.md §4.E's "large
// allocation" path.
func (h *NitroHeap) allocLarge(size uint64) (uintptr, error) {
	order := orderForBytes(size, PageSize)
	base, ok := h.src.AllocPages(order)
	if !ok {
		return 0, fmt.Errorf("heap: large allocation of %d bytes failed", size)
	}
	h.mu.Lock()
	h.blocks[base] = &blockHeader{addr: base, class: -1, order: order, inUse: true}
	atomic.AddUint64(&h.stats.Allocs, 1)
	atomic.AddUint64(&h.stats.BytesCommitted, uint64(PageSize<<uint(order)))
	h.mu.Unlock()
	return base, nil
}

// Free returns addr, previously returned by Alloc, to the heap. cpu is the
// freeing CPU, which may differ from the block's home CPU — that case
// routes through the owning CPU's remote-free inbox instead of the local
// magazine, per spec.md §4.E.
func (h *NitroHeap) Free(cpu int, addr uintptr) error {
	h.mu.Lock()
	b, ok := h.blocks[addr]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("heap: free of unknown address 0x%x", addr)
	}
	if !b.inUse {
		h.mu.Unlock()
		return fmt.Errorf("heap: double free of 0x%x", addr)
	}
	b.inUse = false
	home := b.homeCPU
	b.reuseEpoch = h.currentEpoch(home)
	class := b.class
	order := b.order
	h.mu.Unlock()

	atomic.AddUint64(&h.stats.Frees, 1)

	if class < 0 {
		h.src.FreePages(addr, order)
		return nil
	}

	if home != cpu {
		h.percpu[home][class].inbox.push(addr)
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.percpu[cpu][class].quarantine = append(h.percpu[cpu][class].quarantine, addr)
	return nil
}

// HomeCPU reports which CPU a live block is homed to, for tests asserting
// invariant 4 of spec.md §8.
func (h *NitroHeap) HomeCPU(addr uintptr) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.blocks[addr]
	if !ok {
		return 0, false
	}
	return b.homeCPU, true
}

// Stats returns a snapshot of the heap's counters.
func (h *NitroHeap) Stats() Stats {
	return Stats{
		Allocs:         atomic.LoadUint64(&h.stats.Allocs),
		Frees:          atomic.LoadUint64(&h.stats.Frees),
		BytesCommitted: atomic.LoadUint64(&h.stats.BytesCommitted),
		MagazineHits:   atomic.LoadUint64(&h.stats.MagazineHits),
		MagazineMisses: atomic.LoadUint64(&h.stats.MagazineMisses),
		RemoteHarvests: atomic.LoadUint64(&h.stats.RemoteHarvests),
	}
}
