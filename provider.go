package nmalloc

// PageProvider is the external raw page-backed memory collaborator of
// §6.5. The allocator only ever reaches it through this narrow contract;
// production code and the tests both use unixPageProvider/
// windowsPageProvider.
type PageProvider interface {
	// Map requests a size-byte mapping aligned to align (a power of two).
	// hint, if non-nil, is a preferred base address; the provider is free
	// to ignore it. Returns nil on failure.
	Map(hint uintptr, size, align int) (base uintptr, err error)

	// MapFixedIfVacant attempts to extend a mapping in place by obtaining
	// a size-byte mapping at exactly addr, failing rather than displacing
	// any existing mapping there. Used by the Big Allocator's realloc to
	// grow a block in place (§4.5).
	MapFixedIfVacant(addr uintptr, size int) (ok bool, err error)

	// Unmap releases a size-byte mapping previously returned by Map (or
	// grown in place by MapFixedIfVacant).
	Unmap(addr uintptr, size int) error

	// AdviseDontNeed is an advisory hint that the pages in
	// [addr, addr+size) are no longer needed. Implementations may treat
	// this as a no-op.
	AdviseDontNeed(addr uintptr, size int) error
}

// defaultProvider is the production Page Provider for the host platform,
// constructed by provider_unix.go / provider_windows.go.
var defaultProvider = newPageProvider()
