package directsubmission

import (
	"github.com/fxnlabs/direct-submission/internal/dispatcher"
	"github.com/fxnlabs/direct-submission/internal/memory"
)

const (
	// ringStreamSize is the usable part of each ring buffer.
	ringStreamSize = 256 * memory.KiloByte
	// prefetchPadSize is the zero tail placed after every semaphore wait so
	// the command prefetcher never reads stale bytes past the wait.
	prefetchPadSize = 4 * memory.CacheLineSize
)

// ringAllocationSize is the size requested for each ring buffer allocation.
func ringAllocationSize() uint64 {
	return memory.AlignUp(ringStreamSize+memory.PageSize, memory.PageSize64K)
}

// Layout holds the byte size of every ring section for one configuration.
type Layout struct {
	SemaphoreSection int
	StartSection     int
	SwitchSection    int
	EndSection       int
	DispatchSection  int
}

// ComputeLayout returns the section sizes the engine uses with disp in the
// given workload mode.
func ComputeLayout(disp dispatcher.Dispatcher, mode WorkloadMode, disableCacheFlush, disableMonitorFence bool) Layout {
	semaphore := disp.SizeSemaphoreWait() + prefetchPadSize

	end := disp.SizeStopCommandBuffer() + disp.SizeCacheFlush()
	if !disableMonitorFence {
		end += disp.SizeMonitorFence()
	}

	dispatch := semaphore
	switch mode {
	case WorkloadModeImmediate:
		dispatch += disp.SizeStartCommandBuffer()
	case WorkloadModeStoreValue:
		dispatch += disp.SizeStoreDwordCommand()
	}
	if !disableCacheFlush {
		dispatch += disp.SizeCacheFlush()
	}
	if !disableMonitorFence {
		dispatch += disp.SizeMonitorFence()
	}

	return Layout{
		SemaphoreSection: semaphore,
		StartSection:     disp.SizeStartCommandBuffer(),
		SwitchSection:    disp.SizeStartCommandBuffer(),
		EndSection:       end,
		DispatchSection:  dispatch,
	}
}

// RingCapacity returns how many dispatches fit in one ring buffer before a
// switch is needed.
func (l Layout) RingCapacity() int {
	return (ringStreamSize - l.SwitchSection - l.EndSection) / l.DispatchSection
}
