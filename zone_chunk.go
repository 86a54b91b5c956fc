package nmalloc

import "unsafe"

// allocChunk detaches one chunk from z, preferring the per-page free
// lists over the never-touched cursor (§4.2, "Never-touched cursor
// policy": "Freed chunks enter the per-page free list, which is drained
// preferentially to the cursor"). ok is false if z has no free chunks
// left. fresh reports whether the chunk came from the never-touched
// cursor (as opposed to a previously-used, now-freed chunk) — combined
// with z.unzeroed, this tells the caller whether the chunk's contents are
// already known-zero (§4.2: "Honors zero-fill if requested and the
// backing memory is not already known-zero").
func (z *zoneHeader) allocChunk() (ptr unsafe.Pointer, fresh bool, ok bool) {
	if z.nFree == 0 {
		return nil, false, false
	}
	if z.lowestFreePage < z.numPages {
		n := z.pageFree[z.lowestFreePage]
		if n == nil {
			corrupt("zone %p lowestFreePage=%d has an empty free list", z, z.lowestFreePage)
		}
		z.pageFree[z.lowestFreePage] = n.next
		n.next = nil
		if z.pageFree[z.lowestFreePage] == nil {
			z.advanceLowestFreePage()
		}
		z.nFree--
		return unsafe.Pointer(n), false, true
	}
	if z.uIndex < z.uEndIndex {
		ptr := z.chunkAt(z.uIndex)
		z.uIndex++
		z.nFree--
		return ptr, true, true
	}
	// nFree said chunks remain but neither source has any: the nFree
	// counter has been corrupted. Per §9 ("the source does not silently
	// fabricate memory"), this is a panic, not a best-effort recovery.
	corrupt("zone %p nFree=%d but no free list or cursor chunk is available", z, z.nFree)
	return nil, false, false
}

// chunkKnownZero reports whether a chunk freshly taken from z's
// never-touched cursor is guaranteed already zero: true for a zone that
// came straight from the page provider (OS zero-fills new pages), false
// for one recycled through the zone magazine (§3's unzeroed flag).
func (z *zoneHeader) chunkKnownZero(fresh bool) bool {
	return fresh && z.unzeroed == 0
}

// advanceLowestFreePage scans forward from the current lowestFreePage for
// the next page with a non-empty free list, leaving it at numPages (no
// page has free chunks) if none is found.
func (z *zoneHeader) advanceLowestFreePage() {
	for i := z.lowestFreePage + 1; i < z.numPages; i++ {
		if z.pageFree[i] != nil {
			z.lowestFreePage = i
			return
		}
	}
	z.lowestFreePage = z.numPages
}

// freeChunk returns ptr to z's per-page free list, lowering lowestFreePage
// if ptr's page precedes it (§4.2: "advances lowest_free_page if
// necessary").
func (z *zoneHeader) freeChunk(ptr unsafe.Pointer) {
	pg := z.pageIndex(uintptr(ptr))
	if pg < 0 || pg >= z.numPages {
		corrupt("zone %p: pointer %p resolves to out-of-range page %d", z, ptr, pg)
	}
	n := (*chunkNode)(ptr)
	n.next = z.pageFree[pg]
	z.pageFree[pg] = n
	if pg < z.lowestFreePage {
		z.lowestFreePage = pg
	}
	z.nFree++
}

// isEmpty reports whether every chunk in z is currently free.
func (z *zoneHeader) isEmpty() bool { return z.nFree == z.nMax }

// isFull reports whether no chunk in z is free.
func (z *zoneHeader) isFull() bool { return z.nFree == 0 }
