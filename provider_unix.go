//go:build darwin || dragonfly || freebsd || linux || openbsd || netbsd || solaris

package nmalloc

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// unixPageProvider implements PageProvider on top of golang.org/x/sys/unix,
// replacing the teacher's raw syscall.Mmap/syscall.Syscall(SYS_MUNMAP,...)
// calls (mmap_unix.go) with the maintained x/sys binding, and adding the
// arbitrary-alignment and advisory-hint support §6.5 asks for that the
// teacher (page-aligned-only, no madvise) never needed.
type unixPageProvider struct{}

func newPageProvider() PageProvider { return unixPageProvider{} }

func (unixPageProvider) Map(hint uintptr, size, align int) (uintptr, error) {
	if align <= PageSize {
		b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
		if err != nil {
			return 0, wrapProvider(err, "mmap")
		}
		return uintptr(unsafe.Pointer(&b[0])), nil
	}

	// Overmap by align extra bytes, then trim the head and tail so the
	// returned base is align-aligned. This is the standard technique for
	// mmap-based aligned allocation; the provider contract (§6.5) permits
	// exactly this "overmap + trim" strategy.
	overSize := size + align
	b, err := unix.Mmap(-1, 0, overSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return 0, wrapProvider(err, "mmap")
	}
	base := uintptr(unsafe.Pointer(&b[0]))
	alignedBase := (base + uintptr(align) - 1) &^ (uintptr(align) - 1)

	if headLen := int(alignedBase - base); headLen > 0 {
		if err := unix.Munmap(b[:headLen]); err != nil {
			return 0, wrapProvider(err, "munmap-head")
		}
	}
	tailStart := int(alignedBase-base) + size
	if tailLen := overSize - tailStart; tailLen > 0 {
		if err := unix.Munmap(b[tailStart:overSize]); err != nil {
			return 0, wrapProvider(err, "munmap-tail")
		}
	}
	return alignedBase, nil
}

// MapFixedIfVacant is implemented per-OS in provider_unix_linux.go and
// provider_unix_fixed_fallback.go: golang.org/x/sys/unix's Mmap takes no
// address hint, so satisfying this contract needs either a raw mmap(2)
// syscall (Linux, via MAP_FIXED_NOREPLACE) or an honest "never vacant"
// fallback where no such safe primitive exists.

func (unixPageProvider) Unmap(addr uintptr, size int) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	if err := unix.Munmap(b); err != nil {
		return wrapProvider(err, "munmap")
	}
	return nil
}

func (unixPageProvider) AdviseDontNeed(addr uintptr, size int) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return wrapProvider(err, "madvise")
	}
	return nil
}
