package nmalloc

import (
	"unsafe"

	"github.com/sirupsen/logrus"
)

// traceRecord is the 3-word record emitted on every public entry when
// tracing is enabled (§6.4): old pointer, size, new pointer. A sentinel
// record {-1, 0, null} is emitted once at library init.
type traceRecord struct {
	OldPtr int
	Size   int
	NewPtr unsafe.Pointer
}

// emitTrace generalizes the teacher's `if trace { fmt.Fprintf(os.Stderr,
// ...) }` blocks (memory.go) into a structured logrus entry, formatting
// sizes with humanize the way a production trace consumer would want them.
func emitTrace(t Tuning, r traceRecord) {
	if !t.Trace {
		return
	}
	if !log.IsLevelEnabled(logrus.TraceLevel) {
		log.SetLevel(logrus.TraceLevel)
	}
	log.WithFields(map[string]interface{}{
		"old_ptr": r.OldPtr,
		"size":    sizeString(r.Size),
		"new_ptr": r.NewPtr,
	}).Trace("nmalloc trace record")
}

func ptrToInt(p unsafe.Pointer) int {
	if p == nil {
		return 0
	}
	return int(uintptr(p))
}
