package nmalloc

import "unsafe"

// routesToBig reports whether a (post-normalization) request size is
// handled by the Big Allocator instead of the slab core: at or above the
// zone limit, or an exact page multiple larger than two pages (§3, §4.2).
func routesToBig(size int) bool {
	if size >= ZoneLimit {
		return true
	}
	if size > MaxSlabPageAlign() && size%PageSize == 0 {
		return true
	}
	return false
}

// slabAlloc implements §4.2's slab_alloc, including the magazine fast
// path it describes ("first attempts magazine_alloc(class); on miss,
// takes the slab lock..."): the overall small-allocation entry point.
// cache may be nil, in which case the magazine layer is bypassed entirely
// (equivalent to flags|flagMags).
func (a *Allocator) slabAlloc(cache *Cache, size int, flags allocFlags) (unsafe.Pointer, error) {
	if size == 0 {
		size = 1
	}
	if routesToBig(size) {
		return a.big.alloc(size, flags)
	}

	zoneIndex, chunkSize, _ := Classify(size)

	var cc *classCache
	if cache != nil {
		cc = &cache.classes[zoneIndex]
	}

	if cc != nil && flags&flagMags == 0 && cc.init != cacheBypass {
		cc.init = cacheReady
		if ptr, ok := magazineAlloc(&a.depot, cc, zoneIndex); ok {
			if flags&flagZero != 0 {
				zeroMemory(ptr, chunkSize)
			}
			return ptr, nil
		}
	}

	return a.slabCoreAlloc(zoneIndex, chunkSize, cc, flags)
}

// slabCoreAlloc takes the slab lock, finds or creates a zone with a free
// chunk for zoneIndex, detaches one chunk, and — when cc is a live,
// magazine-eligible cache whose loaded magazine was just installed empty
// by a magazineAlloc miss — opportunistically detaches up to CacheChunks
// additional chunks into it (§4.2).
func (a *Allocator) slabCoreAlloc(zoneIndex, chunkSize int, cc *classCache, flags allocFlags) (unsafe.Pointer, error) {
	a.slabMu.Lock()

	z := a.zonesByClass[zoneIndex]
	if z == nil {
		var err error
		z, err = a.newZoneForClass(zoneIndex)
		if err != nil {
			a.slabMu.Unlock()
			return nil, err
		}
	}

	ptr, fresh, ok := z.allocChunk()
	if !ok {
		corrupt("zone %p on class %d list had nFree=0", z, zoneIndex)
	}
	knownZero := z.chunkKnownZero(fresh)
	if z.isFull() {
		a.unlinkZone(zoneIndex, z)
	}

	if cc != nil && flags&flagMags == 0 && cc.loaded != nil {
		want := CacheChunks
		if avail := int(z.nFree) - 1; avail < want {
			want = avail
		}
		for i := 0; i < want; i++ {
			p, pfresh, pok := z.allocChunk()
			if !pok {
				break
			}
			if !cc.loaded.push(p) {
				z.freeChunk(p)
				break
			}
			if flags&flagZero != 0 && !z.chunkKnownZero(pfresh) {
				zeroMemory(p, chunkSize)
			}
		}
		if z.isFull() && a.zonesByClass[zoneIndex] == z {
			a.unlinkZone(zoneIndex, z)
		}
	}

	a.slabMu.Unlock()

	if flags&flagZero != 0 && !knownZero {
		zeroMemory(ptr, chunkSize)
	}
	return ptr, nil
}

// slabFreeWithCache implements §4.2's slab_free for a pointer already known not to
// be a bigalloc block. cache may be nil (equivalent to flags|flagMags).
func (a *Allocator) slabFreeWithCache(cache *Cache, ptr unsafe.Pointer, flags allocFlags) {
	z := zoneOf(ptr)
	z.validate()
	zoneIndex := int(z.zoneIndex)

	var cc *classCache
	if cache != nil {
		cc = &cache.classes[zoneIndex]
	}
	if cc != nil && flags&flagMags == 0 && cc.init != cacheBypass {
		cc.init = cacheReady
		if magazineFree(&a.depot, cc, zoneIndex, ptr) {
			return
		}
	}

	a.slabMu.Lock()
	wasEmpty := z.lowestFreePage == z.numPages && z.uIndex == z.uEndIndex
	wasFull := z.isFull()
	z.freeChunk(ptr)
	if wasFull {
		a.relinkZone(zoneIndex, z)
	}
	if z.isEmpty() {
		a.unlinkZone(zoneIndex, z)
		z.magic = 0
		a.slabMu.Unlock()
		if err := a.za.free(uintptr(unsafe.Pointer(z))); err != nil {
			// The zone's chunk is already considered freed from the
			// caller's point of view; a provider failure here is
			// logged, not propagated, matching §7's "nothing is
			// retried" for a background reclaim step.
			log.WithError(err).Warn("nmalloc: zone release to page provider failed")
		}
		return
	}
	_ = wasEmpty
	a.slabMu.Unlock()
}

// slabFree is slabFreeWithCache with no cache context (used by internal
// callers such as magazine/bigalloc teardown).
func (a *Allocator) slabFree(ptr unsafe.Pointer, flags allocFlags) {
	a.slabFreeWithCache(nil, ptr, flags|flagMags)
}

// slabRealloc implements §4.2's slab_realloc for a pointer already known
// not to be a bigalloc block.
func (a *Allocator) slabRealloc(cache *Cache, ptr unsafe.Pointer, size int) (unsafe.Pointer, error) {
	z := zoneOf(ptr)
	z.validate()
	oldChunkSize := int(z.chunkSize)

	if size == 0 {
		size = 1
	}
	if !routesToBig(size) {
		_, newChunkSize, _ := Classify(size)
		if newChunkSize == oldChunkSize {
			return ptr, nil
		}
	}

	fresh, err := a.slabAlloc(cache, size, 0)
	if err != nil {
		return nil, err
	}
	n := oldChunkSize
	if size < n {
		n = size
	}
	copyMemory(fresh, ptr, n)
	a.slabFreeWithCache(cache, ptr, 0)
	return fresh, nil
}

// slabUsableSize implements §4.2's slab_usable_size for a pointer already
// known not to be a bigalloc block.
func slabUsableSize(ptr unsafe.Pointer) int {
	z := zoneOf(ptr)
	z.validate()
	chunkSize := uintptr(z.chunkSize)
	offsetInChunk := (uintptr(ptr) - z.basePtr) % chunkSize
	return int(chunkSize - offsetInChunk)
}

func zeroMemory(ptr unsafe.Pointer, n int) {
	b := unsafe.Slice((*byte)(ptr), n)
	for i := range b {
		b[i] = 0
	}
}

func copyMemory(dst, src unsafe.Pointer, n int) {
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}
