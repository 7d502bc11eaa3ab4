package heap

// Stats is a point-in-time snapshot of a heap's counters, per spec.md §8
// invariant 10 ("stats correctness"): Allocs - Frees always equals the
// number of blocks currently in use.
type Stats struct {
	Allocs         uint64
	Frees          uint64
	BytesCommitted uint64
	MagazineHits   uint64
	MagazineMisses uint64
	RemoteHarvests uint64
}

// InUse reports the number of blocks allocated and not yet freed.
func (s Stats) InUse() uint64 {
	return s.Allocs - s.Frees
}
