package nmalloc

import (
	"sync"
	"unsafe"
)

// zoneAllocator implements §4.4: a single global magazine of free zones in
// front of the page provider, with hysteresis to avoid mmap/munmap thrash
// at the boundary where a zone becomes empty.
type zoneAllocator struct {
	mu       sync.Mutex
	provider PageProvider
	tuning   func() Tuning
	freeList *zoneHeader
	count    int
}

func newZoneAllocator(p PageProvider, tuning func() Tuning) *zoneAllocator {
	return &zoneAllocator{provider: p, tuning: tuning}
}

// alloc returns a fresh zone-sized base address. fresh reports whether the
// memory came straight from the page provider (zero-filled by the OS) as
// opposed to the zone magazine (stale contents, caller must mark the zone
// unzeroed per §4.4).
func (za *zoneAllocator) alloc() (base uintptr, fresh bool, err error) {
	za.mu.Lock()
	if za.freeList != nil {
		z := za.freeList
		za.freeList = z.listNext
		za.count--
		za.mu.Unlock()
		return uintptr(unsafe.Pointer(z)), false, nil
	}
	za.mu.Unlock()

	base, err = za.provider.Map(0, ZoneSize, ZoneSize)
	if err != nil {
		return 0, false, err
	}
	return base, true, nil
}

// free implements zone_free (§4.4): zero the header, optionally advise the
// provider, and push onto the zone magazine — unless that would exceed
// M_ZONE_HYSTERESIS, in which case the whole magazine plus the newcomer is
// released to the provider and the magazine starts over empty.
func (za *zoneAllocator) free(base uintptr) error {
	zeroHeader(base)

	if za.tuning().AdviseDontNeed {
		if err := za.provider.AdviseDontNeed(base, ZoneSize); err != nil {
			return err
		}
	}

	za.mu.Lock()
	if za.count >= MZoneHysteresis {
		cur := za.freeList
		za.freeList = nil
		za.count = 0
		za.mu.Unlock()

		for cur != nil {
			next := cur.listNext
			if err := za.provider.Unmap(uintptr(unsafe.Pointer(cur)), ZoneSize); err != nil {
				return err
			}
			cur = next
		}
		return za.provider.Unmap(base, ZoneSize)
	}

	hdr := (*zoneHeader)(unsafe.Pointer(base))
	hdr.listNext = za.freeList
	za.freeList = hdr
	za.count++
	za.mu.Unlock()
	return nil
}

func zeroHeader(base uintptr) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(base)), int(headerSize))
	for i := range b {
		b[i] = 0
	}
}
