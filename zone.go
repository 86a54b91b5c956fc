package nmalloc

import "unsafe"

// zoneMagic validates a zone header on free/reallocate (§3, invariant iv).
const zoneMagic = 0x736c6162 // "slab", carried from nmalloc.c's ZALLOC_SLAB_MAGIC.

// maxPagesPerZone bounds zoneHeader.pageFree: a static array sized for the
// smallest page size any real platform uses (1 KiB), so a zone never needs
// more entries than this regardless of the host's actual PageSize.
const maxPagesPerZone = ZoneSize / 1024

// chunkNode threads a freed chunk onto its page's free list. It is written
// directly into the chunk's own memory — the same "first word is the next
// pointer" technique the teacher's node type uses in memory.go.
type chunkNode struct {
	next *chunkNode
}

// zoneHeader is the in-band header placed at the start of every 64 KiB
// zone (§3). Because a zone's memory comes straight from the page
// provider and is never part of the Go heap, it is safe to place a typed
// Go struct there via unsafe.Pointer and to link zoneHeaders/chunkNodes
// together with ordinary typed pointers, exactly as the teacher's
// mmap-backed `page`/`node` types do.
type zoneHeader struct {
	magic          uint32
	zoneIndex      int32
	chunkSize      int32
	nFree          int32
	nMax           int32
	uIndex         int32
	uEndIndex      int32
	lowestFreePage int32
	unzeroed       int32
	numPages       int32
	basePtr        uintptr
	pageFree       [maxPagesPerZone]*chunkNode
	listNext       *zoneHeader // per-class global free-zone list link (§3)
}

var headerSize = roundupUintptr(unsafe.Sizeof(zoneHeader{}), 16)

func roundupUintptr(n uintptr, m uintptr) uintptr { return (n + m - 1) &^ (m - 1) }

// zoneOf recovers a zone's header address from any chunk pointer inside it
// by masking to the 64 KiB boundary (§9, "Zone header recovery by address
// masking"). Callers check the magic sentinel without the slab lock and
// take the lock before touching the header's mutable fields.
func zoneOf(ptr unsafe.Pointer) *zoneHeader {
	masked := uintptr(ptr) &^ uintptr(ZoneSize-1)
	return (*zoneHeader)(unsafe.Pointer(masked))
}

// chunkAlignment returns the alignment a chunk of this size gets: its own
// size when that size is a power of two (so slab_alloc chunks double as
// self-aligned aligned_allocate results up to 2 pages, §4.2), else the
// class's chunk granularity.
func chunkAlignment(chunkSize, granularity int) uintptr {
	if isPowerOfTwo(chunkSize) {
		return uintptr(chunkSize)
	}
	return uintptr(granularity)
}

// initZoneHeader lays out a fresh zone header in freshly mapped memory at
// base for the given size class, computing basePtr and chunksPerZone per
// §4.2's "Chunk layout within a zone".
func initZoneHeader(base uintptr, zoneIndex int, unzeroed bool) *zoneHeader {
	z := (*zoneHeader)(unsafe.Pointer(base))
	*z = zoneHeader{}
	c := classTable[zoneIndex]
	align := chunkAlignment(c.chunkSize, c.granularity)
	chunkBase := roundupUintptr(base+headerSize, align)
	chunksPerZone := int((base + ZoneSize - chunkBase) / uintptr(c.chunkSize))

	z.magic = zoneMagic
	z.zoneIndex = int32(zoneIndex)
	z.chunkSize = int32(c.chunkSize)
	z.nFree = int32(chunksPerZone)
	z.nMax = int32(chunksPerZone)
	z.uIndex = 0
	z.uEndIndex = int32(chunksPerZone)
	z.lowestFreePage = int32(maxPagesPerZone)
	z.numPages = int32(ZoneSize / PageSize)
	z.basePtr = chunkBase
	if unzeroed {
		z.unzeroed = 1
	}
	return z
}

// chunkAt returns the address of the n-th chunk slot (whether or not it
// has ever been handed out).
func (z *zoneHeader) chunkAt(n int32) unsafe.Pointer {
	return unsafe.Pointer(z.basePtr + uintptr(n)*uintptr(z.chunkSize))
}

// pageIndex returns the zone-relative page index containing addr.
func (z *zoneHeader) pageIndex(addr uintptr) int32 {
	return int32((addr - uintptr(unsafe.Pointer(z))) / uintptr(PageSize))
}

// validate checks the magic sentinel, panicking via the corruption path
// (§7) on mismatch.
func (z *zoneHeader) validate() {
	if z.magic != zoneMagic {
		corrupt("zone magic mismatch at %p (got %#x, want %#x)", z, z.magic, uint32(zoneMagic))
	}
}

// checkInvariants re-validates §3 invariant (i): free-count equals the
// number of chunks on the per-page free lists plus the chunks still
// reachable through the never-touched cursor. It walks every free list,
// so it is called only from tests, never on the alloc/free path.
func (z *zoneHeader) checkInvariants() {
	listed := 0
	for i := int32(0); i < z.numPages; i++ {
		for n := z.pageFree[i]; n != nil; n = n.next {
			listed++
		}
	}
	cursorLeft := 0
	if z.uIndex <= z.uEndIndex {
		cursorLeft = int(z.uEndIndex - z.uIndex)
	}
	if int32(listed+cursorLeft) != z.nFree {
		corrupt("zone %p nFree=%d but free-list+cursor accounting gives %d", z, z.nFree, listed+cursorLeft)
	}
}
