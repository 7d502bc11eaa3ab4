package ipc

import (
	"errors"
	"sync"

	"github.com/BrokenPorkMachine/NOS-sub000/internal/pmm"
)

// ErrRegionDestroyed reports use of a shared-memory region after Destroy.
var ErrRegionDestroyed = errors.New("ipc: shared memory region destroyed")

// pageSize mirrors internal/pmm.PageSize; shm doesn't import the buddy's
// internals beyond its public Alloc/Free, but needs the same constant to
// round requested sizes up to a page multiple.
const pageSize = pmm.PageSize

// Region is spec.md §4.G's shared-memory region: a set of zeroed buddy
// frames with a refcount and a pair of SEND/RECV rights masks recorded at
// creation for later per-task mapping. The frames are allocated one
// order-0 frame at a time and are not guaranteed to be physically
// contiguous.
type Region struct {
	mu        sync.Mutex
	frames    []uint64
	refcount  int
	sendMask  uint8
	recvMask  uint8
	destroyed bool
}

// CreateRegion rounds size up to a page multiple, allocates that many
// order-0 frames from p, zeroes them via zeroFn, and inc_refs each, per
// spec.md §4.G.
func CreateRegion(p *pmm.PMM, size uint64, sendMask, recvMask uint8, node int, zeroFn func(phys uint64)) (*Region, error) {
	if size == 0 {
		size = 1
	}
	pages := int((size + pageSize - 1) / pageSize)

	frames := make([]uint64, 0, pages)
	for i := 0; i < pages; i++ {
		frame, ok := p.Alloc(0, node, false)
		if !ok {
			for _, f := range frames {
				p.Free(f, 0, node)
			}
			return nil, errors.New("ipc: shared memory region allocation failed")
		}
		if zeroFn != nil {
			zeroFn(frame)
		}
		frames = append(frames, frame)
	}

	return &Region{
		frames:   frames,
		refcount: len(frames),
		sendMask: sendMask,
		recvMask: recvMask,
	}, nil
}

// IncRef increments the region's reference count, e.g. when a new task
// maps it.
func (r *Region) IncRef() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refcount++
}

// DecRef decrements the region's reference count.
func (r *Region) DecRef() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refcount > 0 {
		r.refcount--
	}
}

// Refcount reports the region's current reference count.
func (r *Region) Refcount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refcount
}

// Frames returns the region's physical frame addresses, defensively
// copied. MapIntoAddressSpace consumes these alongside the region's
// rights masks.
func (r *Region) Frames() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.frames))
	copy(out, r.frames)
	return out
}

// Rights returns the region's send/recv capability masks, as recorded at
// CreateRegion time.
func (r *Region) Rights() (send, recv uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sendMask, r.recvMask
}

// Destroy scrubs every frame (defense in depth against leaking a prior
// tenant's data to the next allocation), drops every reference, and
// returns the frames to p.
func (r *Region) Destroy(p *pmm.PMM, node int, scrubFn func(phys uint64)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return ErrRegionDestroyed
	}
	for _, f := range r.frames {
		if scrubFn != nil {
			scrubFn(f)
		}
		r.refcount--
		p.Free(f, 0, node)
	}
	r.destroyed = true
	return nil
}
