package directsubmission

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fxnlabs/direct-submission/internal/fault"
	"github.com/fxnlabs/direct-submission/internal/linearstream"
	"github.com/fxnlabs/direct-submission/internal/memory"
	"github.com/fxnlabs/direct-submission/internal/semaphore"
)

// AllocateResources allocates both ring buffers and the semaphore page,
// binds the command stream to the first ring and registers everything with
// the OS backend. A failed memory allocation is an unrecoverable fault; a
// failed OS registration is returned.
func (d *DirectSubmission) AllocateResources() error {
	ringProps := memory.AllocationProperties{
		RootDeviceIndex:       d.rootDeviceIndex,
		AllocateMemory:        true,
		Size:                  ringAllocationSize(),
		Type:                  memory.AllocationTypeRingBuffer,
		MultiOsContextCapable: d.multiOsContextCapable,
		Placement:             memory.PlacementFromSetting(d.settings.BufferPlacement),
	}
	d.ringBuffers[FirstBuffer] = d.allocate(ringProps)
	d.ringBuffers[SecondBuffer] = d.allocate(ringProps)

	semaphoreProps := memory.AllocationProperties{
		RootDeviceIndex:       d.rootDeviceIndex,
		AllocateMemory:        true,
		Size:                  memory.PageSize,
		Type:                  memory.AllocationTypeSemaphoreBuffer,
		MultiOsContextCapable: d.multiOsContextCapable,
		Placement:             memory.PlacementFromSetting(d.settings.SemaphorePlacement),
	}
	d.semaphores = d.allocate(semaphoreProps)

	d.backend.HandleResidency()

	d.currentRingBuffer = FirstBuffer
	d.ringCommandStream = linearstream.New(d.ringBuffers[FirstBuffer], ringStreamSize)
	clear(d.ringBuffers[FirstBuffer].UnderlyingBuffer())
	d.ringZeroed[FirstBuffer] = true

	page, err := semaphore.NewPage(d.semaphores, d.flusher)
	fault.UnrecoverableIf(err != nil, "invalid semaphore allocation: %v", err)
	page.Reset()
	d.semaphorePage = page
	d.state = StateAllocated

	d.logger.Info("direct submission resources allocated",
		zap.Stringer("firstRing", d.ringBuffers[FirstBuffer]),
		zap.Stringer("secondRing", d.ringBuffers[SecondBuffer]),
		zap.Stringer("semaphores", d.semaphores))

	allocations := []*memory.Allocation{d.ringBuffers[FirstBuffer], d.ringBuffers[SecondBuffer], d.semaphores}
	if err := d.backend.AllocateOsResources(allocations); err != nil {
		return fmt.Errorf("failed to allocate os resources: %w", err)
	}
	return nil
}

func (d *DirectSubmission) allocate(props memory.AllocationProperties) *memory.Allocation {
	allocation, err := d.memoryManager.AllocateGraphicsMemory(props)
	fault.UnrecoverableIf(err != nil || allocation == nil, "failed to allocate %s: %v", props.Type, err)
	return allocation
}
