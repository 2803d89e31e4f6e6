package directsubmission

import (
	"errors"
	"strconv"

	"github.com/fxnlabs/direct-submission/internal/memory"
)

var (
	// ErrRingNotStarted is returned when the one-time OS submission that
	// registers the ring with the GPU scheduler failed. The ring stays
	// unstarted and the next dispatch tries again.
	ErrRingNotStarted = errors.New("ring buffer not started")

	// ErrNotAllocated is returned by operations that need the ring buffers
	// before AllocateResources succeeded.
	ErrNotAllocated = errors.New("direct submission resources not allocated")
)

// WorkloadMode selects how a dispatched workload is placed in the ring.
type WorkloadMode int

const (
	// WorkloadModeImmediate jumps into the caller's command buffer, which
	// jumps back to the ring when done.
	WorkloadModeImmediate WorkloadMode = 0
	// WorkloadModeStoreValue stores an increasing marker into the semaphore
	// page scratch word.
	WorkloadModeStoreValue WorkloadMode = 1
	// WorkloadModeSilent writes only the trailing flush, fence and wait.
	WorkloadModeSilent WorkloadMode = 2
)

func (m WorkloadMode) String() string {
	return strconv.Itoa(int(m))
}

// RingBufferUse names the active ring buffer.
type RingBufferUse int

const (
	FirstBuffer RingBufferUse = iota
	SecondBuffer
)

func (r RingBufferUse) String() string {
	if r == SecondBuffer {
		return "second"
	}
	return "first"
}

// State is the lifecycle state of the engine. It is informational: no
// operation is refused because of it.
type State int

const (
	StateUninitialized State = iota
	StateAllocated
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateAllocated:
		return "allocated"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "uninitialized"
	}
}

// BatchBuffer describes a caller's command buffer.
type BatchBuffer struct {
	CommandBufferAllocation *memory.Allocation
	StartOffset             uint64
	// EndCmd is the CPU view of the command terminating the batch. It must
	// have room for a batch buffer start, which replaces it with a jump back
	// into the ring.
	EndCmd            []byte
	RequiresCoherency bool
}

// TagData is the monitor fence target owned by the OS backend.
type TagData struct {
	TagAddress uint64
	TagValue   uint64
}

// FlushStamp identifies a submission for later completion checks.
type FlushStamp uint64

// FlushStampTracker receives the stamp of a dispatch.
type FlushStampTracker struct {
	stamp FlushStamp
}

func (t *FlushStampTracker) SetStamp(stamp FlushStamp) {
	t.stamp = stamp
}

func (t *FlushStampTracker) Stamp() FlushStamp {
	return t.stamp
}

// MemoryManager supplies GPU visible allocations.
type MemoryManager interface {
	AllocateGraphicsMemory(props memory.AllocationProperties) (*memory.Allocation, error)
	FreeGraphicsMemory(allocation *memory.Allocation)
}

// OSBackend is the operating system side of direct submission.
type OSBackend interface {
	// AllocateOsResources registers the engine allocations with the OS.
	AllocateOsResources(allocations []*memory.Allocation) error
	// Submit hands the ring to the GPU scheduler starting at gpuAddress. It
	// is called until it succeeds once.
	Submit(gpuAddress uint64, size int) error
	// HandleResidency keeps the engine allocations resident.
	HandleResidency()
	// TagAddressValue returns the fence target of the next dispatch.
	TagAddressValue() TagData
	// UpdateTagValue advances the tag and returns the stamp of the dispatch
	// just written.
	UpdateTagValue() FlushStamp
}

// DiagnosticsCollector observes the startup self test. It exists only when
// a diagnostic workload mode is configured.
type DiagnosticsCollector interface {
	ExecutionsCount() uint32
	DiagnosticModeAllocation()
	DiagnosticModeDiagnostic()
	DiagnosticModeOneDispatch()
	DiagnosticModeOneSubmit()
	DiagnosticModeOneWait(execution uint32, scratch func() uint32, expected uint32)
	Release()
}
