package nmalloc

import (
	stderrors "errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Error taxonomy (§7).
var (
	// ErrOutOfMemory is returned by Calloc when n*size overflows. A page
	// provider that refuses a mapping (including one needed for metadata
	// after a data allocation succeeded) is reported as the provider's own
	// error wrapped with context, not as ErrOutOfMemory.
	ErrOutOfMemory = stderrors.New("nmalloc: out of memory")

	// ErrInvalidArgument signals a bad alignment, a negative calloc
	// argument, or a nonsensical posix_memalign alignment.
	ErrInvalidArgument = stderrors.New("nmalloc: invalid argument")
)

// wrapProvider attaches Page Provider context to a lower-level error
// (typically a *unix.Errno) without losing the ability to unwrap it.
func wrapProvider(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "nmalloc: page provider %s", op)
}

// panicking guards against recursive panics triggered by a corruption
// diagnostic itself allocating (e.g. through fmt or the logger).
var panicking int32

// corrupt reports a corruption panic per §7: print one diagnostic line to
// stderr and abort. A panic-in-progress flag prevents recursive panics
// from nested allocations during the diagnostic.
func corrupt(format string, args ...interface{}) {
	if !atomic.CompareAndSwapInt32(&panicking, 0, 1) {
		// Already unwinding from a corruption panic; don't recurse into
		// formatting or logging again, just abort directly.
		os.Exit(2)
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "nmalloc: corruption detected: %s\n", msg)
	panic("nmalloc: corruption: " + msg)
}

// sizeString formats a byte count for trace fields.
func sizeString(n int) string { return humanize.Bytes(uint64(n)) }
