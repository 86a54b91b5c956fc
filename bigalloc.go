package nmalloc

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// bigRecord is the metadata for one oversized ( >= zone limit, or a page
// multiple above two pages) allocation (§4.5). Unlike a zoneHeader it is
// never in-band with the memory it describes — its address has no fixed
// relationship to base — so it is carved from the slab core instead
// (sizeof(bigRecord) is a small class), with the magazine layer bypassed
// so the Big Allocator never depends on depot/magazine state.
type bigRecord struct {
	base   uintptr
	active int
	total  int
	next   *bigRecord
}

var bigRecordSize = int(unsafe.Sizeof(bigRecord{}))

// bigCacheSlot is one entry of the 16-slot oversized-block recycle cache.
//
// §5's "Atomics" note describes the production ordering as a lock-free
// pointer-swap array with a best-effort parallel size hint. We instead
// guard the whole cache with one mutex: the fast path it protects is a
// 16-element linear scan, far cheaper than the mmap/munmap syscalls on
// either side of it, so a mutex costs nothing observable while removing
// the stale-read race the lock-free version has to tolerate.
type bigCacheSlot struct {
	ptr  unsafe.Pointer
	size int
}

// bigAllocator implements §4.5: a hash table of in-flight oversized
// allocations, a bounded recycle cache, and the excess-budget trimmer.
type bigAllocator struct {
	a        *Allocator
	provider PageProvider

	stripes [BigXSize]sync.Mutex
	buckets [BigHSize]*bigRecord

	cacheMu   sync.Mutex
	cache     [BigCache]bigCacheSlot
	cacheTurn int

	excess int64 // atomic; bytes held beyond what callers currently need
}

func newBigAllocator(a *Allocator, provider PageProvider) *bigAllocator {
	return &bigAllocator{a: a, provider: provider}
}

// bigHashIndex folds ptr into a bucket index (§3: "a folded shift of the
// pointer"). Oversized blocks are always page-aligned, so the low bits are
// uninformative; folding higher bits in keeps the distribution even.
func bigHashIndex(base uintptr) int {
	u := uint64(base)
	h := u ^ (u >> 16) ^ (u >> 32)
	return int(h % BigHSize)
}

func (b *bigAllocator) stripeFor(bucket int) *sync.Mutex { return &b.stripes[bucket%BigXSize] }

// insert links rec into its hash bucket under the matching stripe lock.
func (b *bigAllocator) insert(rec *bigRecord) {
	idx := bigHashIndex(rec.base)
	mu := b.stripeFor(idx)
	mu.Lock()
	rec.next = b.buckets[idx]
	b.buckets[idx] = rec
	mu.Unlock()
}

// remove finds and splices out the record for base, reporting whether one
// was found.
func (b *bigAllocator) remove(base uintptr) (*bigRecord, bool) {
	idx := bigHashIndex(base)
	mu := b.stripeFor(idx)
	mu.Lock()
	defer mu.Unlock()
	var prev *bigRecord
	for cur := b.buckets[idx]; cur != nil; cur = cur.next {
		if cur.base == base {
			if prev == nil {
				b.buckets[idx] = cur.next
			} else {
				prev.next = cur.next
			}
			cur.next = nil
			return cur, true
		}
		prev = cur
	}
	return nil, false
}

// withRecord runs fn with rec's stripe lock held, for in-place mutation
// (realloc, usable-size) without removing it from the table.
func (b *bigAllocator) withRecord(base uintptr, fn func(rec *bigRecord)) bool {
	idx := bigHashIndex(base)
	mu := b.stripeFor(idx)
	mu.Lock()
	defer mu.Unlock()
	for cur := b.buckets[idx]; cur != nil; cur = cur.next {
		if cur.base == base {
			fn(cur)
			return true
		}
	}
	return false
}

// bigRoundedSize applies §4.5's size policy: round up to a page, then, if
// the result is itself an 8 KiB multiple, add one extra page to perturb
// cache coloring between large objects.
func bigRoundedSize(size int) int {
	total := roundup(size, PageSize)
	if total%(8*1024) == 0 {
		total += PageSize
	}
	return total
}

// cacheTake scans the recycle cache for the first slot whose recorded
// size is at least requested, claiming it (§4.5 step 1).
func (b *bigAllocator) cacheTake(requested int) (unsafe.Pointer, int, bool) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	for i := range b.cache {
		if b.cache[i].ptr != nil && b.cache[i].size >= requested {
			ptr, size := b.cache[i].ptr, b.cache[i].size
			b.cache[i] = bigCacheSlot{}
			return ptr, size, true
		}
	}
	return nil, 0, false
}

// cacheInsert stores (ptr, size) in the first slot starting at the
// rotating cursor whose recorded size is strictly smaller, returning
// whatever it displaced (§4.5 free step 2).
func (b *bigAllocator) cacheInsert(ptr unsafe.Pointer, size int) (bigCacheSlot, bool) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()
	for n := 0; n < BigCache; n++ {
		i := (b.cacheTurn + n) % BigCache
		if b.cache[i].size < size {
			old := b.cache[i]
			b.cache[i] = bigCacheSlot{ptr: ptr, size: size}
			b.cacheTurn = (i + 1) % BigCache
			return old, true
		}
	}
	return bigCacheSlot{}, false
}

// adjustExcess updates the global excess-budget counter for a record whose
// (active, total) pair changed from old to new.
func (b *bigAllocator) adjustExcess(oldActive, oldTotal, newActive, newTotal int) {
	delta := (newTotal - newActive) - (oldTotal - oldActive)
	if delta != 0 {
		atomic.AddInt64(&b.excess, int64(delta))
	}
}

// alloc implements §4.5's allocation algorithm.
func (b *bigAllocator) alloc(size int, flags allocFlags) (unsafe.Pointer, error) {
	total := bigRoundedSize(size)

	var base uintptr
	mapped := total
	if total <= BigCacheLimit {
		if ptr, cachedSize, ok := b.cacheTake(total); ok {
			if cachedSize < total {
				// cacheTake only claims slots of at least total bytes, so
				// this is a defensive check: give the block back and fall
				// through to a fresh map.
				if err := b.provider.Unmap(uintptr(ptr), cachedSize); err != nil {
					log.WithError(err).Warn("nmalloc: bigcache discard unmap failed")
				}
			} else {
				base = uintptr(ptr)
				mapped = cachedSize
			}
		}
	}
	if base == 0 {
		var err error
		base, err = b.provider.Map(0, total, PageSize)
		if err != nil {
			return nil, wrapProvider(err, "bigalloc: map")
		}
	}

	recPtr, err := b.a.slabAlloc(nil, bigRecordSize, flagMags)
	if err != nil {
		if uerr := b.provider.Unmap(base, mapped); uerr != nil {
			log.WithError(uerr).Warn("nmalloc: bigalloc unmap after record-alloc failure")
		}
		return nil, err
	}
	rec := (*bigRecord)(recPtr)
	// total is the mapped size. A freshly mapped block has active equal to
	// total and carries no excess; a larger block reused from the recycle
	// cache counts its surplus as excess. Excess also appears later, when
	// realloc shrinks active while leaving total untouched.
	*rec = bigRecord{base: base, active: total, total: mapped}
	b.insert(rec)
	if mapped > total {
		atomic.AddInt64(&b.excess, int64(mapped-total))
	}

	b.runExcessHandler(flags)
	return unsafe.Pointer(base), nil
}

// tryFree frees ptr if it is a tracked bigalloc block, reporting whether it
// was. Implements §4.5's free algorithm.
func (b *bigAllocator) tryFree(ptr unsafe.Pointer) bool {
	rec, ok := b.remove(uintptr(ptr))
	if !ok {
		return false
	}
	total, active := rec.total, rec.active
	atomic.AddInt64(&b.excess, -int64(total-active))
	b.a.slabFree(unsafe.Pointer(rec), flagMags)

	if total <= BigCacheLimit {
		if displaced, ok := b.cacheInsert(ptr, total); ok {
			if displaced.ptr != nil {
				if err := b.provider.Unmap(uintptr(displaced.ptr), displaced.size); err != nil {
					log.WithError(err).Warn("nmalloc: bigalloc displaced-block unmap failed")
				}
			}
			return true
		}
	}
	if err := b.provider.Unmap(uintptr(ptr), total); err != nil {
		log.WithError(err).Warn("nmalloc: bigalloc unmap failed")
	}
	return true
}

// realloc implements §4.5's realloc algorithm.
func (b *bigAllocator) realloc(ptr unsafe.Pointer, newSize int) (unsafe.Pointer, error) {
	base := uintptr(ptr)

	var (
		inPlace  bool
		grown    bool
		oldTotal int
		result   unsafe.Pointer
	)

	found := b.withRecord(base, func(rec *bigRecord) {
		oldActive, oldTotal2 := rec.active, rec.total
		oldTotal = oldTotal2
		if newSize >= oldTotal2/2 && newSize <= oldTotal2 {
			rec.active = newSize
			b.adjustExcess(oldActive, oldTotal2, newSize, oldTotal2)
			inPlace = true
			result = ptr
			return
		}
		growTo := roundup(newSize+newSize/8, PageSize)
		if growTo <= oldTotal2 {
			return
		}
		if ok, err := b.provider.MapFixedIfVacant(base+uintptr(oldTotal2), growTo-oldTotal2); err == nil && ok {
			rec.total = growTo
			rec.active = newSize
			b.adjustExcess(oldActive, oldTotal2, newSize, growTo)
			grown = true
			result = ptr
		}
	})
	if !found {
		corrupt("bigalloc: realloc of untracked pointer %p", ptr)
	}
	if inPlace || grown {
		b.runExcessHandler(0)
		return result, nil
	}

	fresh, err := b.a.slabAlloc(nil, newSize, 0)
	if err != nil {
		return nil, err
	}
	n := oldTotal
	if newSize < n {
		n = newSize
	}
	copyMemory(fresh, ptr, n)
	b.tryFree(ptr)
	return fresh, nil
}

// tracked reports whether ptr is a live bigalloc base pointer.
func (b *bigAllocator) tracked(ptr unsafe.Pointer) bool {
	return b.withRecord(uintptr(ptr), func(*bigRecord) {})
}

// usableSize implements §4.2's "For bigalloc, returns base + total - ptr."
// ptr must itself be the record's base (bigalloc blocks carry no internal
// offset), so this is simply total.
func (b *bigAllocator) usableSize(ptr unsafe.Pointer) (int, bool) {
	var total int
	found := b.withRecord(uintptr(ptr), func(rec *bigRecord) { total = rec.total })
	return total, found
}

// runExcessHandler implements §4.5's excess handler: once the global
// excess budget is exceeded, walk every bucket and trim any record whose
// active size has fallen behind its total, unmapping the unused tail.
func (b *bigAllocator) runExcessHandler(flags allocFlags) {
	if atomic.LoadInt64(&b.excess) <= BigCacheExcess {
		return
	}
	for i := range b.buckets {
		mu := b.stripeFor(i)
		mu.Lock()
		for cur := b.buckets[i]; cur != nil; cur = cur.next {
			if cur.active >= cur.total {
				continue
			}
			tailAddr := cur.base + uintptr(cur.active)
			tailLen := cur.total - cur.active
			if err := b.provider.Unmap(tailAddr, tailLen); err != nil {
				if flags&flagPassive == 0 {
					log.WithError(err).Warn("nmalloc: excess handler unmap failed")
				}
				continue
			}
			atomic.AddInt64(&b.excess, -int64(tailLen))
			cur.total = cur.active
		}
		mu.Unlock()
	}
}

// allocAligned implements §4.5's aligned_alloc for requests that escape
// the slab core (the slab-servable cases are handled by AlignedAllocate
// in alloc.go before this is reached).
func (b *bigAllocator) allocAligned(alignment, size int) (unsafe.Pointer, error) {
	if alignment < PageSize {
		alignment = PageSize
	}
	total := roundup(size, PageSize)
	if total < alignment {
		total = alignment
	}
	if alignment == PageSize {
		return b.alloc(total, 0)
	}

	base, err := b.provider.Map(0, total, alignment)
	if err != nil {
		return nil, wrapProvider(err, "bigalloc: aligned map")
	}
	recPtr, err := b.a.slabAlloc(nil, bigRecordSize, flagMags)
	if err != nil {
		if uerr := b.provider.Unmap(base, total); uerr != nil {
			log.WithError(uerr).Warn("nmalloc: bigalloc unmap after aligned record-alloc failure")
		}
		return nil, err
	}
	rec := (*bigRecord)(recPtr)
	// active starts equal to total; see the matching comment in alloc.
	*rec = bigRecord{base: base, active: total, total: total}
	b.insert(rec)
	b.runExcessHandler(0)
	return unsafe.Pointer(base), nil
}
