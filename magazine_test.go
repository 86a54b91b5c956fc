package nmalloc

import (
	"testing"
	"unsafe"
)

func TestMagazinePushPopFullEmpty(t *testing.T) {
	m := newMagazine(4)
	if !m.empty() || m.full() {
		t.Fatal("a new magazine should start empty")
	}
	var ps [4]int
	for i := range ps {
		if !m.push(unsafe.Pointer(&ps[i])) {
			t.Fatalf("push %d should have succeeded below capacity", i)
		}
	}
	if !m.full() {
		t.Fatal("magazine should report full at capacity")
	}
	if m.push(unsafe.Pointer(&ps[0])) {
		t.Fatal("push beyond capacity should fail")
	}
	for i := len(ps) - 1; i >= 0; i-- {
		p, ok := m.pop()
		if !ok {
			t.Fatalf("pop %d should have succeeded", i)
		}
		if p != unsafe.Pointer(&ps[i]) {
			t.Fatalf("LIFO order violated at pop %d", i)
		}
	}
	if !m.empty() {
		t.Fatal("magazine should report empty after every round is popped")
	}
	if _, ok := m.pop(); ok {
		t.Fatal("pop on an empty magazine should fail")
	}
}

func TestMagazineCapacityCurve(t *testing.T) {
	if c := magazineCapacity(0); c != MMaxRounds {
		t.Fatalf("class 0 capacity = %d, want %d (smallest classes get the largest magazines)", c, MMaxRounds)
	}
	if c := magazineCapacity(NZones); c != MMinRounds {
		t.Fatalf("class NZones capacity = %d, want %d (classes at the zone limit get the smallest magazines)", c, MMinRounds)
	}
	prev := magazineCapacity(0)
	for i := 1; i <= NZones; i++ {
		c := magazineCapacity(i)
		if c > prev {
			t.Fatalf("capacity must be non-increasing with class index: class %d = %d > class %d = %d", i, c, i-1, prev)
		}
		prev = c
	}
}

func TestMagazineAllocMissStagesEmptyLoaded(t *testing.T) {
	var d depot
	var cc classCache
	class := 31

	if _, ok := magazineAlloc(&d, &cc, class); ok {
		t.Fatal("expected a miss against an empty depot with no loaded magazine")
	}
	if cc.loaded == nil || !cc.loaded.empty() {
		t.Fatal("a magazineAlloc miss must stage an empty loaded magazine for the slab core to refill")
	}
}

func TestMagazineAllocFreeRoundTripThroughDepot(t *testing.T) {
	var d depot
	var cc classCache
	class := 31

	// Prime the loaded magazine the way slabCoreAlloc's opportunistic
	// bulk refill would after a miss.
	if _, ok := magazineAlloc(&d, &cc, class); ok {
		t.Fatal("expected the first alloc to miss")
	}
	var objs [8]int
	for i := range objs {
		if !cc.loaded.push(unsafe.Pointer(&objs[i])) {
			t.Fatalf("push %d should fit in a freshly staged magazine", i)
		}
	}

	seen := map[unsafe.Pointer]bool{}
	for range objs {
		p, ok := magazineAlloc(&d, &cc, class)
		if !ok {
			t.Fatal("expected a hit against the pre-filled loaded magazine")
		}
		seen[p] = true
	}
	if len(seen) != len(objs) {
		t.Fatalf("got %d distinct pointers out of the magazine, want %d", len(seen), len(objs))
	}

	for i := range objs {
		if !magazineFree(&d, &cc, class, unsafe.Pointer(&objs[i])) {
			t.Fatalf("magazineFree %d should always find or make room", i)
		}
	}
	if cc.loaded == nil || cc.loaded.rounds() != len(objs) {
		t.Fatalf("expected every freed object back in the loaded magazine, got %+v", cc.loaded)
	}
}

func TestMagazineFreeRotatesThroughDepotOnOverflow(t *testing.T) {
	var d depot
	var cc classCache
	class := NZones - 1 // smallest magazines of any live class (22 rounds), so overflow is cheap to reach
	cap := magazineCapacity(class)

	objs := make([]int, cap*3)
	for i := range objs {
		if !magazineFree(&d, &cc, class, unsafe.Pointer(&objs[i])) {
			t.Fatalf("magazineFree %d should always find or make room", i)
		}
	}
	// Pushing 3x capacity must have rotated at least one magazine
	// through the depot's full list (§4.3 step 4 of the free contract).
	if d.full[class] == nil {
		t.Fatal("expected at least one magazine parked on the depot's full list after overflow")
	}
}
