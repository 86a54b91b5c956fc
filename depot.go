package nmalloc

import (
	"sync"
	"unsafe"
)

// depot implements §3/§4.3's per-size-class depot: two singly linked lists
// of magazines, full and empty, behind a single process-wide lock shared
// across all classes (§5: "depot lock > slab lock via magazine refill
// allocating a zone").
type depot struct {
	mu    sync.Mutex
	full  [NZones]*magazine
	empty [NZones]*magazine
}

func (d *depot) pushFull(class int, m *magazine) {
	m.next = d.full[class]
	d.full[class] = m
}

func (d *depot) popFull(class int) *magazine {
	m := d.full[class]
	if m != nil {
		d.full[class] = m.next
		m.next = nil
	}
	return m
}

func (d *depot) pushEmpty(class int, m *magazine) {
	m.next = d.empty[class]
	d.empty[class] = m
}

func (d *depot) popEmpty(class int) *magazine {
	m := d.empty[class]
	if m != nil {
		d.empty[class] = m.next
		m.next = nil
	}
	return m
}

// classCache is one size class's slice of a Cache's thread state (§3):
// the loaded/prev magazine pair, the one-shot newmag staging slot, and the
// init tri-state that gates the magazine layer.
type classCache struct {
	loaded *magazine
	prev   *magazine
	newmag *magazine
	init   cacheInit
}

type cacheInit int8

const (
	cacheUninit cacheInit = 0  // never touched by this cache
	cacheBypass cacheInit = -1 // torn down or initializing: route straight to slab core
	cacheReady  cacheInit = 1
)

// ensureNewMag stages a fresh empty magazine in cc.newmag if one isn't
// already there (§4.3 step 1 of both magazine_alloc and magazine_free).
//
// The teacher/spec's MAGS reentrancy flag exists because nmalloc.c
// allocates the *magazine itself* through the slab core, which could
// recurse back into the magazine layer. Our magazine struct's only
// unmanaged-memory-facing content is the []unsafe.Pointer slice of object
// pointers it holds; the struct and its backing array are ordinary Go heap
// values allocated with make(), never routed through slabAlloc, so that
// recursion cannot happen here and MAGS has no work left to do. See
// DESIGN.md.
func ensureNewMag(cc *classCache, class int) {
	if cc.newmag != nil {
		return
	}
	cc.newmag = newMagazine(magazineCapacity(class))
}

// magazineAlloc implements §4.3's allocate contract. ok=false signals a
// miss: the caller must fall through to the slab core, which will refill
// cc.loaded.
func magazineAlloc(d *depot, cc *classCache, class int) (ptr unsafe.Pointer, ok bool) {
	for {
		ensureNewMag(cc, class)

		if cc.loaded != nil && cc.loaded.rounds() > 0 {
			p, _ := cc.loaded.pop()
			return p, true
		}
		if cc.prev != nil && cc.prev.full() {
			cc.loaded, cc.prev = cc.prev, cc.loaded
			continue
		}

		d.mu.Lock()
		if d.full[class] == nil && cc.loaded == nil {
			cc.loaded, cc.newmag = cc.newmag, nil
			d.mu.Unlock()
			return nil, false
		}
		if cc.prev != nil {
			d.pushEmpty(class, cc.prev)
		}
		cc.prev = cc.loaded
		cc.loaded = d.popFull(class)
		d.mu.Unlock()
		if cc.loaded == nil {
			// Another goroutine raced us for the last full magazine;
			// nothing left to try but the slab core.
			return nil, false
		}
	}
}

// magazineFree implements §4.3's free contract. ok=false signals no room
// in the magazine layer; the caller must fall through to the slab core.
func magazineFree(d *depot, cc *classCache, class int, ptr unsafe.Pointer) (ok bool) {
	for {
		ensureNewMag(cc, class)

		if cc.loaded != nil && cc.loaded.push(ptr) {
			return true
		}
		if cc.prev != nil && cc.prev.empty() {
			cc.loaded, cc.prev = cc.prev, cc.loaded
			continue
		}

		d.mu.Lock()
		if cc.prev != nil {
			d.pushFull(class, cc.prev)
		}
		cc.prev = cc.loaded
		if empty := d.popEmpty(class); empty != nil {
			cc.loaded = empty
		} else {
			cc.loaded, cc.newmag = cc.newmag, nil
		}
		d.mu.Unlock()
	}
}

// drain empties cc's loaded and prev magazines by freeing every object
// through slabFree, then drops the magazines themselves — the thread
// teardown behavior of §4.3. It is idempotent: calling drain twice on an
// already-drained classCache is a no-op.
func (a *Allocator) drainClassCache(cc *classCache, class int) {
	cc.init = cacheBypass
	for _, m := range [2]*magazine{cc.loaded, cc.prev} {
		if m == nil {
			continue
		}
		for {
			p, ok := m.pop()
			if !ok {
				break
			}
			a.slabFree(p, 0)
		}
	}
	cc.loaded = nil
	cc.prev = nil
	cc.newmag = nil
}
