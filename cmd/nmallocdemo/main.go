// Command nmallocdemo exercises the allocator end to end: a small-object
// burst through the magazine cache, a page-multiple request that escapes
// to the Big Allocator, and an aligned allocation.
package main

import (
	"fmt"
	"os"

	"modernc.org/nmalloc"
)

func main() {
	cache := nmalloc.New(nil).NewCache()
	defer cache.Close()

	a := nmalloc.New(nil)

	for i := 0; i < 1000; i++ {
		p, err := a.Allocate(17)
		if err != nil {
			fmt.Fprintln(os.Stderr, "allocate:", err)
			os.Exit(1)
		}
		a.Free(p)
	}
	fmt.Println("small-object burst: ok")

	p1, err := a.Allocate(4 * nmalloc.PageSize)
	if err != nil {
		fmt.Fprintln(os.Stderr, "allocate page multiple:", err)
		os.Exit(1)
	}
	fmt.Printf("page-multiple allocation: usable=%d\n", a.UsableSize(p1))
	a.Free(p1)

	p2, err := a.AlignedAllocate(1024, 700)
	if err != nil {
		fmt.Fprintln(os.Stderr, "aligned allocate:", err)
		os.Exit(1)
	}
	fmt.Printf("aligned allocation: usable=%d\n", a.UsableSize(p2))
	a.Free(p2)
}
