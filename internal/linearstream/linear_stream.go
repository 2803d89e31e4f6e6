// Package linearstream implements a forward-only command stream cursor over
// a GPU visible buffer.
package linearstream

import (
	"github.com/fxnlabs/direct-submission/internal/fault"
	"github.com/fxnlabs/direct-submission/internal/memory"
)

// LinearStream hands out consecutive chunks of a buffer. Offsets are byte
// positions relative to the start of the current buffer.
type LinearStream struct {
	buffer     []byte
	used       int
	allocation *memory.Allocation
}

// New binds a stream to the first size bytes of the allocation.
func New(allocation *memory.Allocation, size int) *LinearStream {
	s := &LinearStream{}
	s.ReplaceBuffer(allocation.UnderlyingBuffer(), size)
	s.ReplaceAllocation(allocation)
	return s
}

// NewFromBuffer wraps a plain buffer with no GPU allocation behind it.
func NewFromBuffer(buffer []byte) *LinearStream {
	return &LinearStream{buffer: buffer}
}

// GetSpace reserves size bytes and returns them. Asking for more than is
// available is a fault: every caller sizes its writes up front.
func (s *LinearStream) GetSpace(size int) []byte {
	fault.UnrecoverableIf(size < 0 || size > s.AvailableSpace(),
		"linear stream overflow: requested %d bytes, %d available", size, s.AvailableSpace())
	chunk := s.buffer[s.used : s.used+size : s.used+size]
	s.used += size
	return chunk
}

// Used returns the number of bytes handed out, which is also the offset of
// the next write.
func (s *LinearStream) Used() int {
	return s.used
}

// AvailableSpace returns the bytes left in the buffer.
func (s *LinearStream) AvailableSpace() int {
	return len(s.buffer) - s.used
}

// MaxAvailableSpace returns the usable size of the buffer.
func (s *LinearStream) MaxAvailableSpace() int {
	return len(s.buffer)
}

// CPUBase returns the whole buffer.
func (s *LinearStream) CPUBase() []byte {
	return s.buffer
}

// Slice returns the bytes between two offsets.
func (s *LinearStream) Slice(from, to int) []byte {
	return s.buffer[from:to]
}

// ReplaceBuffer rebinds the stream to the first size bytes of buffer and
// rewinds it.
func (s *LinearStream) ReplaceBuffer(buffer []byte, size int) {
	fault.UnrecoverableIf(size > len(buffer), "linear stream size %d exceeds buffer of %d bytes", size, len(buffer))
	s.buffer = buffer[:size:size]
	s.used = 0
}

// ReplaceAllocation sets the allocation GPU addresses are computed from.
func (s *LinearStream) ReplaceAllocation(allocation *memory.Allocation) {
	s.allocation = allocation
}

// Allocation returns the allocation backing the stream.
func (s *LinearStream) Allocation() *memory.Allocation {
	return s.allocation
}

// GPUAddress returns the GPU virtual address of a byte offset.
func (s *LinearStream) GPUAddress(offset int) uint64 {
	return s.allocation.GPUAddress() + uint64(offset)
}

// CurrentGPUAddress returns the GPU address of the next write.
func (s *LinearStream) CurrentGPUAddress() uint64 {
	return s.GPUAddress(s.used)
}
