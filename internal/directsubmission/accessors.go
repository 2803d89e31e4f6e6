package directsubmission

import (
	"github.com/fxnlabs/direct-submission/internal/linearstream"
	"github.com/fxnlabs/direct-submission/internal/memory"
	"github.com/fxnlabs/direct-submission/internal/semaphore"
)

// RingStarted reports whether a ring submission has succeeded.
func (d *DirectSubmission) RingStarted() bool {
	return d.ringStart
}

func (d *DirectSubmission) State() State {
	return d.state
}

// QueueWorkCount returns the engine's work counter. The GPU is held at a
// wait for this value until the next dispatch publishes it.
func (d *DirectSubmission) QueueWorkCount() uint32 {
	return d.currentQueueWorkCount
}

// PublishedWorkCount returns the work count currently visible to the GPU.
func (d *DirectSubmission) PublishedWorkCount() uint32 {
	if d.semaphorePage == nil {
		return 0
	}
	return d.semaphorePage.QueueWorkCount()
}

func (d *DirectSubmission) CurrentRingBuffer() RingBufferUse {
	return d.currentRingBuffer
}

func (d *DirectSubmission) WorkloadMode() WorkloadMode {
	return d.workloadMode
}

func (d *DirectSubmission) RingBufferSwitches() uint64 {
	return d.ringSwitches
}

func (d *DirectSubmission) RingBuffers() [2]*memory.Allocation {
	return d.ringBuffers
}

func (d *DirectSubmission) SemaphoreAllocation() *memory.Allocation {
	return d.semaphores
}

func (d *DirectSubmission) SemaphorePage() *semaphore.Page {
	return d.semaphorePage
}

func (d *DirectSubmission) CommandStream() *linearstream.LinearStream {
	return d.ringCommandStream
}

// CommandBufferPositionGPUAddress returns the GPU address of a byte offset in
// the active ring buffer.
func (d *DirectSubmission) CommandBufferPositionGPUAddress(offset int) uint64 {
	return d.ringCommandStream.GPUAddress(offset)
}

// Layout returns the section sizes for the current configuration.
func (d *DirectSubmission) Layout() Layout {
	return d.layout()
}
