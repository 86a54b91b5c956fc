package nmalloc

import "os"

// Fixed constants from §6.6. PageSize is resolved once at init from the
// host; the rest are architecture independent.
var (
	// PageSize is the platform page size, as reported by the OS.
	PageSize = os.Getpagesize()
)

const (
	// ZoneSize is the fixed size of a slab zone: 64 KiB, self-aligned.
	ZoneSize = 64 * 1024

	// ZoneLimit is the smallest request size that escapes to the Big
	// Allocator: 16 KiB.
	ZoneLimit = 16 * 1024

	// BigCache is the number of slots in the oversized-allocation
	// recycle cache.
	BigCache = 16

	// BigCacheLimit is the largest block size eligible for the
	// recycle cache: 1 MiB.
	BigCacheLimit = 1024 * 1024

	// BigCacheExcess is the global excess budget that triggers the
	// excess handler: 16 MiB.
	BigCacheExcess = 16 * 1024 * 1024

	// MMaxRounds is the largest magazine capacity, used by the
	// smallest size classes.
	MMaxRounds = 509

	// MMinRounds is the smallest magazine capacity, used by size
	// classes near the zone limit.
	MMinRounds = 16

	// MZoneHysteresis is the number of zones the zone allocator keeps
	// cached before releasing a batch back to the page provider.
	MZoneHysteresis = 32

	// CacheChunks is the maximum number of chunks opportunistically
	// pulled into a thread cache on a slab-core miss.
	CacheChunks = 32

	// BigHSize is the number of buckets in the bigalloc hash table.
	BigHSize = 1024

	// BigXSize is the number of stripe locks guarding the bigalloc
	// hash table.
	BigXSize = 64

	// NZones is the number of size classes in the size class table.
	NZones = 72
)

// MaxSlabPageAlign is the largest page-multiple size still served by the
// slab core rather than the Big Allocator: two pages.
func MaxSlabPageAlign() int { return 2 * PageSize }
