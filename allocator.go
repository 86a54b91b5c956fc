package nmalloc

import (
	"sync"
	"sync/atomic"
)

// allocFlags mirrors the SAFLAG_* bits of nmalloc.c.
type allocFlags uint8

const (
	// flagZero requests zero-filled memory.
	flagZero allocFlags = 1 << iota
	// flagPassive silences the excess handler's warning when trimming a
	// tail fails. No caller in this package sets it.
	flagPassive
	// flagMags bypasses the magazine layer entirely, routing straight to
	// the slab core. Used for bigalloc metadata records (§4.5) so the Big
	// Allocator never depends on magazine/depot state.
	flagMags
)

// Allocator is a complete, independent instance of the allocator
// described by this module: a page provider, a zone allocator, a slab
// core, a magazine depot per size class, and a big allocator. The
// package-level convenience functions (Allocate, Free, ...) operate on a
// single process-wide instance; constructing additional Allocators is
// supported for testing and for embedding in a larger program.
type Allocator struct {
	provider PageProvider

	slabMu       sync.Mutex
	zonesByClass [NZones]*zoneHeader
	za           *zoneAllocator

	depot depot
	big   *bigAllocator

	tuning    atomic.Value // Tuning
	cachePool sync.Pool    // *Cache, for the package-level convenience API
}

// New constructs an Allocator. A nil provider uses the production,
// platform-specific PageProvider (mmap/munmap/madvise on Unix,
// CreateFileMapping/MapViewOfFile on Windows).
func New(provider PageProvider) *Allocator {
	if provider == nil {
		provider = defaultProvider
	}
	a := &Allocator{provider: provider}
	a.tuning.Store(Tuning{})
	a.za = newZoneAllocator(provider, a.Tuning)
	a.big = newBigAllocator(a, provider)
	a.cachePool.New = func() interface{} { return a.NewCache() }
	return a
}

// Tuning returns the allocator's current tuning flags (§4.6).
func (a *Allocator) Tuning() Tuning { return a.tuning.Load().(Tuning) }

// SetTuning replaces the allocator's tuning flags.
func (a *Allocator) SetTuning(t Tuning) { a.tuning.Store(t) }

// newZoneForClass obtains a zone (from the zone allocator's magazine or
// the page provider) and initializes it for zoneIndex, linking it onto
// the per-class list. Caller must hold a.slabMu.
func (a *Allocator) newZoneForClass(zoneIndex int) (*zoneHeader, error) {
	base, fresh, err := a.za.alloc()
	if err != nil {
		return nil, err
	}
	z := initZoneHeader(base, zoneIndex, !fresh)
	z.listNext = a.zonesByClass[zoneIndex]
	a.zonesByClass[zoneIndex] = z
	return z, nil
}

// unlinkZone removes z from the per-class list (§3 invariant iii: a zone
// appears on the list iff free-count > 0). Caller must hold a.slabMu.
func (a *Allocator) unlinkZone(zoneIndex int, z *zoneHeader) {
	head := a.zonesByClass[zoneIndex]
	if head == z {
		a.zonesByClass[zoneIndex] = z.listNext
		z.listNext = nil
		return
	}
	for cur := head; cur != nil; cur = cur.listNext {
		if cur.listNext == z {
			cur.listNext = z.listNext
			z.listNext = nil
			return
		}
	}
	corrupt("zone %p not found on class %d list during unlink", z, zoneIndex)
}

// relinkZone re-adds z to the head of the per-class list after it gained
// a free chunk via slabFree while previously full (§3 invariant iii).
// Caller must hold a.slabMu.
func (a *Allocator) relinkZone(zoneIndex int, z *zoneHeader) {
	z.listNext = a.zonesByClass[zoneIndex]
	a.zonesByClass[zoneIndex] = z
}
