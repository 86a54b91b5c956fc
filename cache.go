package nmalloc

// Cache is a per-goroutine front end onto an Allocator's magazine layer
// (§4.3). Goroutines that allocate/free heavily should call NewCache once
// and reuse the handle for every call, then Close it when done — Close is
// this module's stand-in for the pthread thread-exit destructor that
// nmalloc.c relies on, since Go has no equivalent implicit notification
// (see SPEC_FULL.md, "Go-native adaptation notes"). The package-level
// convenience functions (Allocate, Free, ...) borrow a *Cache from a pool
// for the duration of a single call.
type Cache struct {
	a       *Allocator
	classes [NZones]classCache
	closed  bool
}

// NewCache creates a Cache bound to a. Its magazines start uninitialized;
// the first allocation or free in each size class marks that class ready
// and stages its magazines lazily. Only a class torn down by Close
// bypasses the magazine layer.
func (a *Allocator) NewCache() *Cache {
	return &Cache{a: a}
}

// Close drains every loaded and prev magazine (freeing each object through
// slabFree), frees the magazines, and releases newmag — the §4.3 thread
// teardown sequence. Close is idempotent: a second call is a no-op, since
// "destructors may be re-entered after user destructors" (§4.3).
func (c *Cache) Close() {
	if c.closed {
		return
	}
	c.closed = true
	for i := range c.classes {
		c.a.drainClassCache(&c.classes[i], i)
	}
}

// borrowCache is used by the package-level convenience API: it checks out
// a pooled Cache for the duration of one call. Unlike NewCache, pooled
// caches are never Closed between borrows — draining on every single call
// would defeat the purpose of the magazine layer — so sync.Pool's own
// eviction under memory pressure is this path's only teardown, which is
// an accepted approximation documented in SPEC_FULL.md.
func (a *Allocator) borrowCache() (*Cache, func()) {
	c := a.cachePool.Get().(*Cache)
	return c, func() { a.cachePool.Put(c) }
}
