package directsubmission

import (
	"go.uber.org/zap"

	"github.com/fxnlabs/direct-submission/internal/fault"
	"github.com/fxnlabs/direct-submission/internal/memory"
	"github.com/fxnlabs/direct-submission/internal/metrics"
)

// switchRingBuffers writes a jump from the current position into the other
// ring buffer and rebinds the command stream to it. It returns the GPU
// address of the jump, which is where an unstarted ring must be submitted
// from.
func (d *DirectSubmission) switchRingBuffers() uint64 {
	startOffset := d.ringCommandStream.Used()
	jumpGPUAddress := d.ringCommandStream.GPUAddress(startOffset)
	previous := d.currentRingBuffer

	next := d.switchRingBuffersAllocations()
	d.dispatcher.DispatchStartCommandBuffer(d.ringCommandStream, next.GPUAddress())
	if d.ringStart {
		d.flusher.Flush(d.ringCommandStream.Slice(startOffset, d.ringCommandStream.Used()))
	}

	d.ringCommandStream.ReplaceBuffer(next.UnderlyingBuffer(), d.ringCommandStream.MaxAvailableSpace())
	d.ringCommandStream.ReplaceAllocation(next)

	if !d.ringZeroed[d.currentRingBuffer] {
		clear(next.UnderlyingBuffer())
		d.ringZeroed[d.currentRingBuffer] = true
	}
	d.backend.HandleResidency()

	d.ringSwitches++
	metrics.RingBufferSwitches.WithLabelValues(d.engine).Inc()
	d.logger.Debug("switched ring buffers",
		zap.Stringer("from", previous),
		zap.Stringer("to", d.currentRingBuffer),
		zap.Int("usedBeforeSwitch", startOffset))
	return jumpGPUAddress
}

func (d *DirectSubmission) switchRingBuffersAllocations() *memory.Allocation {
	if d.currentRingBuffer == FirstBuffer {
		d.currentRingBuffer = SecondBuffer
	} else {
		d.currentRingBuffer = FirstBuffer
	}
	return d.ringBuffers[d.currentRingBuffer]
}

// dispatchSemaphoreSection writes a wait for value followed by the zero
// prefetch pad.
func (d *DirectSubmission) dispatchSemaphoreSection(value uint32) {
	d.dispatcher.DispatchSemaphoreWait(d.ringCommandStream, d.semaphorePage.GPUAddress(), value)
	clear(d.ringCommandStream.GetSpace(prefetchPadSize))
}

// dispatchWorkloadSection writes one dispatch section and returns its start
// offset in the stream. The section ends with a wait for the next work
// count.
func (d *DirectSubmission) dispatchWorkloadSection(batch *BatchBuffer) int {
	startOffset := d.ringCommandStream.Used()

	switch d.workloadMode {
	case WorkloadModeImmediate:
		fault.UnrecoverableIf(batch.CommandBufferAllocation == nil, "immediate dispatch without a command buffer")
		fault.UnrecoverableIf(len(batch.EndCmd) < d.dispatcher.SizeStartCommandBuffer(),
			"batch end command has %d bytes, a jump needs %d", len(batch.EndCmd), d.dispatcher.SizeStartCommandBuffer())

		commandBufferAddress := batch.CommandBufferAllocation.GPUAddress() + batch.StartOffset
		d.dispatcher.DispatchStartCommandBuffer(d.ringCommandStream, commandBufferAddress)

		returnCmd := batch.EndCmd[:d.dispatcher.SizeStartCommandBuffer()]
		d.dispatcher.SetReturnAddress(returnCmd, d.ringCommandStream.CurrentGPUAddress())
		if d.ringStart {
			d.flusher.Flush(returnCmd)
		}
	case WorkloadModeStoreValue:
		d.workloadModeOneExpectedValue++
		if d.diagnostic != nil {
			d.diagnostic.DiagnosticModeOneDispatch()
		}
		d.dispatcher.DispatchStoreDwordCommand(d.ringCommandStream, d.semaphorePage.ScratchGPUAddress(), d.workloadModeOneExpectedValue)
	}

	if !d.disableCacheFlush {
		d.dispatcher.DispatchCacheFlush(d.ringCommandStream)
	}
	if !d.disableMonitorFence {
		tag := d.backend.TagAddressValue()
		d.dispatcher.DispatchMonitorFence(d.ringCommandStream, tag.TagAddress, tag.TagValue)
	}

	d.dispatchSemaphoreSection(d.currentQueueWorkCount + 1)
	return startOffset
}
