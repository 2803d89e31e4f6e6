// Package dispatcher encodes the commands the submission engine places in its
// ring buffers. Each hardware engine provides a Dispatcher; the engine core is
// written against the interface only.
package dispatcher

import (
	"fmt"

	"github.com/fxnlabs/direct-submission/internal/linearstream"
)

// Dispatcher knows the size and layout of every command section the ring
// protocol needs on one hardware engine. Every Size method must return exactly
// the number of bytes its Dispatch counterpart consumes from the stream.
type Dispatcher interface {
	// Name identifies the engine, e.g. "render".
	Name() string

	SizePreemption() int
	DispatchPreemption(cs *linearstream.LinearStream)

	// Start doubles as the ring switch: both are a jump to gpuStartAddress.
	SizeStartCommandBuffer() int
	DispatchStartCommandBuffer(cs *linearstream.LinearStream, gpuStartAddress uint64)

	SizeStopCommandBuffer() int
	DispatchStopCommandBuffer(cs *linearstream.LinearStream)

	SizeCacheFlush() int
	DispatchCacheFlush(cs *linearstream.LinearStream)

	SizeMonitorFence() int
	DispatchMonitorFence(cs *linearstream.LinearStream, gpuAddress uint64, immediateData uint64)

	SizeStoreDwordCommand() int
	DispatchStoreDwordCommand(cs *linearstream.LinearStream, gpuAddress uint64, value uint32)

	SizeSemaphoreWait() int
	DispatchSemaphoreWait(cs *linearstream.LinearStream, gpuAddress uint64, value uint32)

	// SetReturnAddress overwrites the terminating command of a caller's
	// command buffer with a jump back to returnAddress.
	SetReturnAddress(returnCmd []byte, returnAddress uint64)
}

// New returns the dispatcher for an engine name.
func New(engine string) (Dispatcher, error) {
	switch engine {
	case "", "render", "rcs":
		return &RenderDispatcher{}, nil
	case "blitter", "bcs":
		return &BlitterDispatcher{}, nil
	default:
		return nil, fmt.Errorf("unknown engine type: %s", engine)
	}
}

// miDispatcher holds the memory interface commands every engine shares.
type miDispatcher struct{}

func (miDispatcher) SizeStartCommandBuffer() int {
	return SizeBatchBufferStart
}

func (miDispatcher) DispatchStartCommandBuffer(cs *linearstream.LinearStream, gpuStartAddress uint64) {
	EncodeBatchBufferStart(cs.GetSpace(SizeBatchBufferStart), gpuStartAddress)
}

func (miDispatcher) SizeStopCommandBuffer() int {
	return SizeBatchBufferEnd
}

func (miDispatcher) DispatchStopCommandBuffer(cs *linearstream.LinearStream) {
	EncodeBatchBufferEnd(cs.GetSpace(SizeBatchBufferEnd))
}

func (miDispatcher) SizeStoreDwordCommand() int {
	return SizeStoreDataImm
}

func (miDispatcher) DispatchStoreDwordCommand(cs *linearstream.LinearStream, gpuAddress uint64, value uint32) {
	EncodeStoreDataImm(cs.GetSpace(SizeStoreDataImm), gpuAddress, value)
}

func (miDispatcher) SizeSemaphoreWait() int {
	return SizeSemaphoreWait
}

func (miDispatcher) DispatchSemaphoreWait(cs *linearstream.LinearStream, gpuAddress uint64, value uint32) {
	EncodeSemaphoreWait(cs.GetSpace(SizeSemaphoreWait), gpuAddress, value)
}

func (miDispatcher) SetReturnAddress(returnCmd []byte, returnAddress uint64) {
	EncodeBatchBufferStart(returnCmd[:SizeBatchBufferStart], returnAddress)
}
