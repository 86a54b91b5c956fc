//go:build linux

package nmalloc

import "golang.org/x/sys/unix"

// MapFixedIfVacant implements §4.5's in-place realloc growth using the
// real fail-if-occupied primitive: MAP_FIXED_NOREPLACE (Linux 4.17+)
// makes the kernel reject the whole mapping if any page in the range is
// already in use, instead of silently displacing it the way plain
// MAP_FIXED would. x/sys/unix's Mmap wrapper has no address parameter,
// so this goes through the raw syscall directly.
func (unixPageProvider) MapFixedIfVacant(addr uintptr, size int) (bool, error) {
	r1, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(size),
		uintptr(unix.PROT_READ|unix.PROT_WRITE),
		uintptr(unix.MAP_SHARED|unix.MAP_ANON|unix.MAP_FIXED_NOREPLACE),
		^uintptr(0), 0)
	if errno != 0 {
		if errno == unix.EEXIST {
			// The range is already mapped; the slot is not vacant.
			return false, nil
		}
		return false, wrapProvider(errno, "mmap-fixed-noreplace")
	}
	if r1 != addr {
		// Should not happen with MAP_FIXED_NOREPLACE, but never trust a
		// kernel return blindly for something this sharp.
		unix.Syscall(unix.SYS_MUNMAP, r1, uintptr(size), 0)
		return false, nil
	}
	return true, nil
}
