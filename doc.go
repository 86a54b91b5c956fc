// Copyright 2024 The nmalloc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nmalloc implements a userland slab/magazine allocator intended as
// a drop-in replacement for the standard allocation primitives (allocate,
// free, reallocate, aligned-allocate, usable-size).
//
// The design follows a five-layer pipeline: a page provider maps and
// unmaps raw memory, a zone allocator hands out 64 KiB self-aligned zones,
// a slab core carves zones into fixed-size chunks per size class, a
// per-goroutine magazine cache sits in front of the slab core to avoid lock
// contention on the fast path, and a big allocator handles oversized
// requests directly against the page provider with its own recycle cache.
//
// Dispatch between the slab path and the big-allocation path is decided
// purely from the requested size: see Classify.
package nmalloc

import (
	"os"

	"github.com/sirupsen/logrus"
)

// log is the package-wide structured logger. It writes warnings to stderr;
// the first call made with the U tuning flag set (see ParseTuning) raises
// it to trace level so that trace records are written as well.
var log = newDefaultLogger()

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	return l
}

// global is the process-wide allocator instance, initialized exactly once
// at package load and used by the package-level convenience functions
// (Allocate, Free, ...). Production code embedding nmalloc in a larger
// program should prefer constructing its own *Allocator via New.
var global = New(nil)

func init() {
	t := ParseTuning(os.Getenv("MALLOC_OPTIONS"))
	global.tuning.Store(t)
	emitTrace(t, traceRecord{OldPtr: -1, Size: 0, NewPtr: nil})
}
