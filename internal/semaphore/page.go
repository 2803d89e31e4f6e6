// Package semaphore provides the typed view of the page the GPU polls to
// decide whether it may run past a wait command.
package semaphore

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/fxnlabs/direct-submission/internal/cacheflush"
	"github.com/fxnlabs/direct-submission/internal/memory"
)

// Page layout. QueueWorkCount owns the first cache line on its own so that
// publishing it never drags the scratch word along.
const (
	QueueWorkCountOffset = 0x00 // uint32, monotonic, GPU waits on >= target
	ScratchOffset        = 0x40 // uint32, store-value completion marker
	Size                 = 2 * memory.CacheLineSize
)

// Page is a view over the semaphore block of a GPU visible allocation.
type Page struct {
	mem        []byte
	gpuAddress uint64
	flusher    *cacheflush.Flusher
}

// NewPage binds a view to the start of an allocation.
func NewPage(allocation *memory.Allocation, flusher *cacheflush.Flusher) (*Page, error) {
	mem := allocation.UnderlyingBuffer()
	if len(mem) < Size {
		return nil, fmt.Errorf("semaphore allocation too small: %d bytes", len(mem))
	}
	if uintptr(unsafe.Pointer(&mem[0]))%memory.CacheLineSize != 0 {
		return nil, fmt.Errorf("semaphore allocation is not cache line aligned")
	}
	return &Page{
		mem:        mem[:Size:Size],
		gpuAddress: allocation.GPUAddress(),
		flusher:    flusher,
	}, nil
}

func (p *Page) word(offset int) *uint32 {
	return (*uint32)(unsafe.Pointer(&p.mem[offset]))
}

// Reset zeroes the page and flushes it so the first GPU poll reads a defined
// value.
func (p *Page) Reset() {
	for i := range p.mem {
		p.mem[i] = 0
	}
	atomic.StoreUint32(p.word(QueueWorkCountOffset), 0)
	atomic.StoreUint32(p.word(ScratchOffset), 0)
	p.flusher.Flush(p.mem)
}

// QueueWorkCount returns the last published work count.
func (p *Page) QueueWorkCount() uint32 {
	return atomic.LoadUint32(p.word(QueueWorkCountOffset))
}

// Publish stores the work count and flushes its cache line. Everything the
// GPU may run once it observes count must already be flushed.
func (p *Page) Publish(count uint32) {
	atomic.StoreUint32(p.word(QueueWorkCountOffset), count)
	p.flusher.Flush(p.mem[QueueWorkCountOffset : QueueWorkCountOffset+memory.CacheLineSize])
}

// Scratch returns the store-value completion marker.
func (p *Page) Scratch() uint32 {
	return atomic.LoadUint32(p.word(ScratchOffset))
}

// SetScratch overwrites the completion marker.
func (p *Page) SetScratch(v uint32) {
	atomic.StoreUint32(p.word(ScratchOffset), v)
}

// GPUAddress returns the GPU address of the queue work count.
func (p *Page) GPUAddress() uint64 {
	return p.gpuAddress + QueueWorkCountOffset
}

// ScratchGPUAddress returns the GPU address of the scratch word.
func (p *Page) ScratchGPUAddress() uint64 {
	return p.gpuAddress + ScratchOffset
}
