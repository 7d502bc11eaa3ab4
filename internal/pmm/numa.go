package pmm

import "sort"

// PMM is the NUMA-aware allocator: one Zone per node, with deterministic
// fallback across nodes when a request isn't strict (spec.md §4.B).
type PMM struct {
	zones []*Zone // indexed by node id, in node order
}

// Node mirrors bootinfo.NUMANode to avoid a dependency from pmm on
// bootinfo; the init orchestration package does the conversion.
type Node struct {
	Base   uint64
	Length uint64
}

// NewPMM builds one zone per node. A nil/empty nodes slice is not valid;
// callers must have already applied spec.md §3's "zero nodes degenerate to
// a single node" rule before calling NewPMM.
func NewPMM(nodes []Node) (*PMM, error) {
	p := &PMM{zones: make([]*Zone, len(nodes))}
	for i, n := range nodes {
		z, err := NewZone(n.Base, n.Length)
		if err != nil {
			return nil, err
		}
		p.zones[i] = z
	}
	return p, nil
}

// NumNodes reports how many NUMA zones were configured.
func (p *PMM) NumNodes() int { return len(p.zones) }

// Alloc returns a 2^order-aligned frame. When strict is false and the
// preferred node is exhausted, other nodes are scanned in ascending node-id
// order (spec.md §4.B).
func (p *PMM) Alloc(order int, preferredNode int, strict bool) (base uint64, ok bool) {
	if preferredNode < 0 || preferredNode >= len(p.zones) {
		return 0, false
	}
	if base, ok = p.zones[preferredNode].Alloc(order); ok {
		return base, true
	}
	if strict {
		return 0, false
	}
	for i, z := range p.zones {
		if i == preferredNode {
			continue
		}
		if base, ok = z.Alloc(order); ok {
			return base, true
		}
	}
	return 0, false
}

// Free returns a block to whichever zone's range contains it; node is a
// hint (most callers know it already) and is tried first.
func (p *PMM) Free(base uint64, order int, node int) {
	if base == 0 {
		return
	}
	if node >= 0 && node < len(p.zones) && p.zones[node].Contains(base) {
		p.zones[node].Free(base, order)
		return
	}
	for _, z := range p.zones {
		if z.Contains(base) {
			z.Free(base, order)
			return
		}
	}
}

// FreeFramesTotal sums free frames across all nodes.
func (p *PMM) FreeFramesTotal() int64 {
	var total int64
	for _, z := range p.zones {
		total += z.FreeFrames()
	}
	return total
}

// FreeFramesNode returns free frames for a single node, or 0 if node is
// out of range.
func (p *PMM) FreeFramesNode(node int) int64 {
	if node < 0 || node >= len(p.zones) {
		return 0
	}
	return p.zones[node].FreeFrames()
}

// NodeOf returns the node index owning addr, or -1 if none does.
func (p *PMM) NodeOf(addr uint64) int {
	for i, z := range p.zones {
		if z.Contains(addr) {
			return i
		}
	}
	return -1
}

// NodesFromRanges turns a set of usable physical ranges into NUMA nodes,
// one node per range, sorted by base address; ranges are never merged.
// Zero input ranges produce no nodes (nil), not a placeholder — buddy_init
// on no usable memory is the caller's failure to detect, not pmm's to
// paper over.
func NodesFromRanges(ranges []Node) []Node {
	if len(ranges) == 0 {
		return nil
	}
	sorted := append([]Node(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })
	return sorted
}
