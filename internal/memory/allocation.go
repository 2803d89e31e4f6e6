package memory

import "fmt"

// AllocationType tells the manager what an allocation is used for.
type AllocationType int

const (
	AllocationTypeUnknown AllocationType = iota
	AllocationTypeRingBuffer
	AllocationTypeSemaphoreBuffer
	AllocationTypeTagBuffer
	AllocationTypeCommandBuffer
)

func (t AllocationType) String() string {
	switch t {
	case AllocationTypeRingBuffer:
		return "RING_BUFFER"
	case AllocationTypeSemaphoreBuffer:
		return "SEMAPHORE_BUFFER"
	case AllocationTypeTagBuffer:
		return "TAG_BUFFER"
	case AllocationTypeCommandBuffer:
		return "COMMAND_BUFFER"
	default:
		return "UNKNOWN"
	}
}

// Placement selects the memory pool an allocation is taken from.
type Placement int

const (
	PlacementDefault Placement = iota
	PlacementLocal
	PlacementSystem
)

func (p Placement) String() string {
	switch p {
	case PlacementLocal:
		return "local"
	case PlacementSystem:
		return "system"
	default:
		return "default"
	}
}

// PlacementFromSetting maps a debug setting (-1 default, 0 local, 1 system)
// to a Placement.
func PlacementFromSetting(v int) Placement {
	switch v {
	case 0:
		return PlacementLocal
	case 1:
		return PlacementSystem
	default:
		return PlacementDefault
	}
}

// AllocationProperties describes a requested allocation.
type AllocationProperties struct {
	RootDeviceIndex       uint32
	AllocateMemory        bool
	Size                  uint64
	Type                  AllocationType
	MultiOsContextCapable bool
	Placement             Placement
}

// Allocation is a CPU mapped, GPU visible block of memory.
type Allocation struct {
	Type                  AllocationType
	Placement             Placement
	RootDeviceIndex       uint32
	MultiOsContextCapable bool

	gpuAddress uint64
	mem        []byte
	resident   bool
}

// GPUAddress returns the GPU virtual address of the first byte.
func (a *Allocation) GPUAddress() uint64 {
	return a.gpuAddress
}

// UnderlyingBuffer returns the CPU mapping of the whole allocation.
func (a *Allocation) UnderlyingBuffer() []byte {
	return a.mem
}

// Size returns the allocation size in bytes.
func (a *Allocation) Size() uint64 {
	return uint64(len(a.mem))
}

// Contains reports whether gpuAddress lies within the allocation.
func (a *Allocation) Contains(gpuAddress uint64) bool {
	return gpuAddress >= a.gpuAddress && gpuAddress < a.gpuAddress+a.Size()
}

func (a *Allocation) String() string {
	return fmt.Sprintf("%s@%#x+%#x", a.Type, a.gpuAddress, len(a.mem))
}
