// Package cacheflush evicts CPU cache lines so that a non-coherent GPU
// observes memory written by the CPU.
package cacheflush

import (
	"sync/atomic"
	"unsafe"

	"github.com/fxnlabs/direct-submission/internal/memory"
)

const cacheLineBit = 6

// Flusher flushes every cache line overlapping a byte range.
type Flusher struct {
	disabled  bool
	flushLine func(addr uintptr)
	fence     func()
	lines     atomic.Uint64
}

// New returns a Flusher backed by the CPU flush instruction. A disabled
// Flusher accepts every call and touches no cache line.
func New(disabled bool) *Flusher {
	return &Flusher{disabled: disabled, flushLine: clflush, fence: mfence}
}

// NewWithLineFunc returns a Flusher that hands each line address to fn
// instead of the CPU.
func NewWithLineFunc(fn func(addr uintptr)) *Flusher {
	return &Flusher{flushLine: fn, fence: func() {}}
}

// Supported reports whether the CPU can flush individual cache lines.
func Supported() bool {
	return supported()
}

// Disabled reports whether flushing is switched off.
func (f *Flusher) Disabled() bool {
	return f.disabled
}

// Flush evicts the cache lines covering b, rounded out to cache line
// boundaries.
func (f *Flusher) Flush(b []byte) {
	if f.disabled || len(b) == 0 {
		return
	}
	start := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	end := start + uintptr(len(b))

	start = uintptr(memory.AlignDown(uint64(start), memory.CacheLineSize))
	end = uintptr(memory.AlignUp(uint64(end), memory.CacheLineSize))
	lines := (end - start) >> cacheLineBit

	for i := uintptr(0); i < lines; i++ {
		f.flushLine(start)
		start += memory.CacheLineSize
	}
	f.fence()
	f.lines.Add(uint64(lines))
}

// FlushedLines returns the number of cache lines flushed so far.
func (f *Flusher) FlushedLines() uint64 {
	return f.lines.Load()
}
