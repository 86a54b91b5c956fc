package nmalloc

// Fork support (§6.7). A goroutine-based program has no fork(2) of its
// own, but an embedder that calls the C fork() through cgo (or execs a
// helper that inherits mapped memory via posix_spawn-style duplication)
// needs the allocator's locks quiesced across the call, exactly as a C
// pthread_atfork handler would. BeforeFork/AfterForkParent/AfterForkChild
// expose that hook explicitly instead of registering it implicitly, since
// Go has no pthread_atfork equivalent to hook into.

// BeforeFork acquires, in order, the zone-magazine lock and the depot
// lock. Call immediately before invoking fork.
func (a *Allocator) BeforeFork() {
	a.za.mu.Lock()
	a.depot.mu.Lock()
}

// AfterForkParent releases the locks BeforeFork took, in reverse order.
// Call in the parent immediately after fork returns.
func (a *Allocator) AfterForkParent() {
	a.depot.mu.Unlock()
	a.za.mu.Unlock()
}

// AfterForkChild releases the locks BeforeFork took, in reverse order.
// Call in the child immediately after fork returns. The child inherits
// every bigalloc record, zone, and thread-magazine as-is; only the depot
// and zone-magazine locks need quiescing since they are the only state
// BeforeFork touched.
func (a *Allocator) AfterForkChild() {
	a.depot.mu.Unlock()
	a.za.mu.Unlock()
}
