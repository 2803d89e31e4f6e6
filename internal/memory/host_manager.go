package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownAddress is returned when a GPU address does not fall inside any
// live allocation.
var ErrUnknownAddress = errors.New("gpu address not mapped")

// gpuHeapBase is where the host manager starts handing out GPU addresses.
const gpuHeapBase uint64 = 0x1_0000_0000

// HostManager hands out host memory that is treated as GPU visible. Every
// allocation gets a 64 KiB aligned GPU address followed by a guard page so
// that stray accesses past the end never resolve to a neighbour.
type HostManager struct {
	mu          sync.RWMutex
	nextAddress uint64
	allocations []*Allocation // sorted by GPU address
	logger      *zap.Logger
}

// NewHostManager creates an empty host memory manager.
func NewHostManager(logger *zap.Logger) *HostManager {
	return &HostManager{
		nextAddress: gpuHeapBase,
		logger:      logger.Named("memory_manager"),
	}
}

// AllocateGraphicsMemory maps a new allocation. The returned memory is zero
// filled and its size is rounded up to the page size.
func (m *HostManager) AllocateGraphicsMemory(props AllocationProperties) (*Allocation, error) {
	if !props.AllocateMemory {
		return nil, fmt.Errorf("allocation of %s without backing memory is not supported", props.Type)
	}
	if props.Size == 0 {
		return nil, fmt.Errorf("zero sized %s allocation", props.Type)
	}
	size := AlignUp(props.Size, PageSize)

	mem, err := mapMemory(int(size))
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", props.Type, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	alloc := &Allocation{
		Type:                  props.Type,
		Placement:             props.Placement,
		RootDeviceIndex:       props.RootDeviceIndex,
		MultiOsContextCapable: props.MultiOsContextCapable,
		gpuAddress:            m.nextAddress,
		mem:                   mem,
	}
	m.nextAddress = AlignUp(m.nextAddress+size+PageSize, PageSize64K)
	m.allocations = append(m.allocations, alloc)

	m.logger.Debug("allocated graphics memory",
		zap.Stringer("type", props.Type),
		zap.Stringer("placement", props.Placement),
		zap.Uint64("gpuAddress", alloc.gpuAddress),
		zap.Uint64("size", size))
	return alloc, nil
}

// FreeGraphicsMemory unmaps the allocation. Freeing nil or an allocation
// that is no longer tracked is a no-op.
func (m *HostManager) FreeGraphicsMemory(alloc *Allocation) {
	if alloc == nil {
		return
	}

	m.mu.Lock()
	idx := m.indexOf(alloc)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.allocations = append(m.allocations[:idx], m.allocations[idx+1:]...)
	alloc.resident = false
	m.mu.Unlock()

	if err := unmapMemory(alloc.mem); err != nil {
		m.logger.Error("failed to release graphics memory", zap.Stringer("allocation", alloc), zap.Error(err))
	}
	alloc.mem = nil
}

// MakeResident pins the allocations for GPU access.
func (m *HostManager) MakeResident(allocs ...*Allocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range allocs {
		if a != nil && m.indexOf(a) >= 0 {
			a.resident = true
		}
	}
}

// IsResident reports whether the allocation has been made resident.
func (m *HostManager) IsResident(alloc *Allocation) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return alloc != nil && alloc.resident
}

// Resolve translates a GPU address into the CPU view of the allocation
// starting at that address.
func (m *HostManager) Resolve(gpuAddress uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := sort.Search(len(m.allocations), func(i int) bool {
		a := m.allocations[i]
		return a.gpuAddress+a.Size() > gpuAddress
	})
	if i == len(m.allocations) || !m.allocations[i].Contains(gpuAddress) {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownAddress, gpuAddress)
	}
	a := m.allocations[i]
	return a.mem[gpuAddress-a.gpuAddress:], nil
}

// Allocations returns the number of live allocations.
func (m *HostManager) Allocations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.allocations)
}

func (m *HostManager) indexOf(alloc *Allocation) int {
	for i, a := range m.allocations {
		if a == alloc {
			return i
		}
	}
	return -1
}
