package nmalloc

import "unsafe"

// Allocate implements §6.1's allocate(size). size == 0 returns a distinct
// non-null pointer, per §6.3. The whole call runs with signals blocked
// (§6.8): a handler that itself allocates must never observe a cache or
// slab mid-mutation.
func (a *Allocator) Allocate(size int) (ptr unsafe.Pointer, err error) {
	WithSignalsBlocked(func() {
		cache, done := a.borrowCache()
		defer done()
		ptr, err = a.allocate(cache, size)
	})
	return ptr, err
}

func (a *Allocator) allocate(cache *Cache, size int) (unsafe.Pointer, error) {
	flags := allocFlags(0)
	if a.Tuning().ZeroFill {
		flags |= flagZero
	}
	ptr, err := a.slabAlloc(cache, size, flags)
	emitTrace(a.Tuning(), traceRecord{OldPtr: -1, Size: size, NewPtr: ptr})
	return ptr, err
}

// Calloc implements §6.1's calloc(n, size): zero-filled allocation of n*size
// bytes, failing with ErrOutOfMemory (not ErrInvalidArgument — this mirrors
// calloc's traditional contract, where an overflowing request is simply
// unsatisfiable) on multiplicative overflow.
func (a *Allocator) Calloc(n, size int) (ptr unsafe.Pointer, err error) {
	if n < 0 || size < 0 {
		return nil, ErrInvalidArgument
	}
	total, overflow := mulOverflows(n, size)
	if overflow {
		return nil, ErrOutOfMemory
	}
	WithSignalsBlocked(func() {
		cache, done := a.borrowCache()
		defer done()
		ptr, err = a.slabAlloc(cache, total, flagZero)
		emitTrace(a.Tuning(), traceRecord{OldPtr: -1, Size: total, NewPtr: ptr})
	})
	return ptr, err
}

func mulOverflows(n, size int) (product int, overflow bool) {
	if n == 0 || size == 0 {
		return 0, false
	}
	product = n * size
	if product/n != size {
		return 0, true
	}
	return product, false
}

// Free implements §6.1's free(ptr): a no-op on nil.
func (a *Allocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	WithSignalsBlocked(func() {
		cache, done := a.borrowCache()
		defer done()
		a.free(cache, ptr)
	})
}

func (a *Allocator) free(cache *Cache, ptr unsafe.Pointer) {
	if !a.big.tryFree(ptr) {
		a.slabFreeWithCache(cache, ptr, 0)
	}
	emitTrace(a.Tuning(), traceRecord{OldPtr: ptrToInt(ptr), Size: 0, NewPtr: nil})
}

// Reallocate implements §6.1's reallocate(ptr, size): a nil ptr behaves as
// Allocate; on failure the old block is left untouched.
func (a *Allocator) Reallocate(ptr unsafe.Pointer, size int) (result unsafe.Pointer, err error) {
	WithSignalsBlocked(func() {
		cache, done := a.borrowCache()
		defer done()
		if ptr == nil {
			result, err = a.allocate(cache, size)
			return
		}
		if a.big.tracked(ptr) {
			result, err = a.big.realloc(ptr, size)
		} else {
			result, err = a.slabRealloc(cache, ptr, size)
		}
		emitTrace(a.Tuning(), traceRecord{OldPtr: ptrToInt(ptr), Size: size, NewPtr: result})
	})
	return result, err
}

// AlignedAllocate implements §4.5/§6.1's aligned_allocate(alignment, size).
func (a *Allocator) AlignedAllocate(alignment, size int) (ptr unsafe.Pointer, err error) {
	if alignment < 1 || !isPowerOfTwo(alignment) {
		return nil, ErrInvalidArgument
	}
	WithSignalsBlocked(func() {
		cache, done := a.borrowCache()
		defer done()
		ptr, err = a.alignedAllocate(cache, alignment, size)
		emitTrace(a.Tuning(), traceRecord{OldPtr: -1, Size: size, NewPtr: ptr})
	})
	return ptr, err
}

func (a *Allocator) alignedAllocate(cache *Cache, alignment, size int) (unsafe.Pointer, error) {
	var rounded int
	if size <= alignment {
		rounded = alignment
	} else {
		rounded = roundup(size, alignment)
	}

	flags := allocFlags(0)
	if a.Tuning().ZeroFill {
		flags |= flagZero
	}

	if rounded <= MaxSlabPageAlign() && isPowerOfTwo(rounded) {
		return a.slabAlloc(cache, rounded, flags)
	}
	if rounded < PageSize {
		if c, ok := classForAlignment(alignment, rounded); ok {
			return a.slabAlloc(cache, c.chunkSize, flags)
		}
		pow := nextPowerOfTwo(rounded)
		return a.slabAlloc(cache, pow, flags)
	}
	ptr, err := a.big.allocAligned(alignment, rounded)
	if err != nil {
		return nil, err
	}
	if flags&flagZero != 0 {
		zeroMemory(ptr, rounded)
	}
	return ptr, nil
}

// nextPowerOfTwo returns the smallest power of two >= n (n > 0).
func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// PosixMemalign implements §6.1's posix_memalign(out, alignment, size).
// Calls the unexported alignedAllocate directly, inside its own single
// WithSignalsBlocked bracket, rather than going through AlignedAllocate:
// SignalBlocker has no save/restore depth, so nesting two brackets would
// let the inner UnblockAll reopen signals while the outer call is still
// in its critical section.
func (a *Allocator) PosixMemalign(out *unsafe.Pointer, alignment, size int) error {
	if alignment < int(unsafe.Sizeof(uintptr(0))) || !isPowerOfTwo(alignment) {
		return ErrInvalidArgument
	}
	var (
		ptr unsafe.Pointer
		err error
	)
	WithSignalsBlocked(func() {
		cache, done := a.borrowCache()
		defer done()
		ptr, err = a.alignedAllocate(cache, alignment, size)
		emitTrace(a.Tuning(), traceRecord{OldPtr: -1, Size: size, NewPtr: ptr})
	})
	if err != nil {
		return err
	}
	*out = ptr
	return nil
}

// UsableSize implements §6.1/§4.2's usable_size(ptr): 0 for null.
func (a *Allocator) UsableSize(ptr unsafe.Pointer) int {
	if ptr == nil {
		return 0
	}
	if total, ok := a.big.usableSize(ptr); ok {
		return total
	}
	return slabUsableSize(ptr)
}

// Package-level convenience wrappers operating on the process-wide global
// Allocator (§6.1), mirroring the teacher's top-level Malloc/Free/Realloc
// functions in memory.go.

// Allocate is Allocate on the process-wide allocator.
func Allocate(size int) (unsafe.Pointer, error) { return global.Allocate(size) }

// Calloc is Calloc on the process-wide allocator.
func Calloc(n, size int) (unsafe.Pointer, error) { return global.Calloc(n, size) }

// Free is Free on the process-wide allocator.
func Free(ptr unsafe.Pointer) { global.Free(ptr) }

// Reallocate is Reallocate on the process-wide allocator.
func Reallocate(ptr unsafe.Pointer, size int) (unsafe.Pointer, error) {
	return global.Reallocate(ptr, size)
}

// AlignedAllocate is AlignedAllocate on the process-wide allocator.
func AlignedAllocate(alignment, size int) (unsafe.Pointer, error) {
	return global.AlignedAllocate(alignment, size)
}

// PosixMemalign is PosixMemalign on the process-wide allocator.
func PosixMemalign(out *unsafe.Pointer, alignment, size int) error {
	return global.PosixMemalign(out, alignment, size)
}

// UsableSize is UsableSize on the process-wide allocator.
func UsableSize(ptr unsafe.Pointer) int { return global.UsableSize(ptr) }
