// Package osinterface binds the direct submission engine to the operating
// system side of a device: residency, the monitor fence tag and the one-time
// ring submission.
package osinterface

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/fxnlabs/direct-submission/internal/directsubmission"
	"github.com/fxnlabs/direct-submission/internal/memory"
)

// Streamer executes a submitted ring.
type Streamer interface {
	Start(ctx context.Context, gpuAddress uint64) error
}

// Submission records one call to Submit.
type Submission struct {
	GPUAddress uint64
	Size       int
}

// HostBackend is the OS backend for host memory. The monitor fence tag lives
// in its own allocation; the GPU writes the stamp of each retired dispatch
// there.
type HostBackend struct {
	memoryManager *memory.HostManager
	streamer      Streamer
	logger        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	allocations    []*memory.Allocation
	tagAllocation  *memory.Allocation
	tagValue       uint64
	submissions    []Submission
	residencyCalls int
}

// NewHostBackend creates a backend. streamer may be nil, in which case
// submissions are only recorded.
func NewHostBackend(memoryManager *memory.HostManager, streamer Streamer, logger *zap.Logger) *HostBackend {
	ctx, cancel := context.WithCancel(context.Background())
	return &HostBackend{
		memoryManager: memoryManager,
		streamer:      streamer,
		logger:        logger.Named("os_backend"),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// AllocateOsResources allocates the tag buffer on first use and makes all
// allocations resident.
func (b *HostBackend) AllocateOsResources(allocations []*memory.Allocation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tagAllocation == nil {
		tag, err := b.memoryManager.AllocateGraphicsMemory(memory.AllocationProperties{
			AllocateMemory: true,
			Size:           memory.PageSize,
			Type:           memory.AllocationTypeTagBuffer,
		})
		if err != nil {
			return fmt.Errorf("failed to allocate tag buffer: %w", err)
		}
		b.tagAllocation = tag
	}

	b.allocations = append([]*memory.Allocation(nil), allocations...)
	b.memoryManager.MakeResident(b.allocations...)
	b.memoryManager.MakeResident(b.tagAllocation)
	for _, a := range allocations {
		if !b.memoryManager.IsResident(a) {
			return fmt.Errorf("allocation %s could not be made resident", a)
		}
	}
	return nil
}

// HandleResidency makes the tracked allocations resident again.
func (b *HostBackend) HandleResidency() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.residencyCalls++
	b.memoryManager.MakeResident(b.allocations...)
}

// Submit records the submission and starts the streamer at gpuAddress.
func (b *HostBackend) Submit(gpuAddress uint64, size int) error {
	b.mu.Lock()
	b.submissions = append(b.submissions, Submission{GPUAddress: gpuAddress, Size: size})
	b.mu.Unlock()

	b.logger.Info("ring submitted",
		zap.String("gpuAddress", fmt.Sprintf("0x%x", gpuAddress)),
		zap.Int("size", size))
	if b.streamer == nil {
		return nil
	}
	return b.streamer.Start(b.ctx, gpuAddress)
}

// TagAddressValue returns the tag address and the stamp the next dispatch
// will write.
func (b *HostBackend) TagAddressValue() directsubmission.TagData {
	b.mu.Lock()
	defer b.mu.Unlock()
	var address uint64
	if b.tagAllocation != nil {
		address = b.tagAllocation.GPUAddress()
	}
	return directsubmission.TagData{TagAddress: address, TagValue: b.tagValue + 1}
}

// UpdateTagValue advances the tag and returns the stamp just issued.
func (b *HostBackend) UpdateTagValue() directsubmission.FlushStamp {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tagValue++
	return directsubmission.FlushStamp(b.tagValue)
}

// CompletedStamp returns the last stamp the GPU wrote to the tag.
func (b *HostBackend) CompletedStamp() directsubmission.FlushStamp {
	b.mu.Lock()
	tag := b.tagAllocation
	b.mu.Unlock()
	if tag == nil {
		return 0
	}
	word := (*uint64)(unsafe.Pointer(&tag.UnderlyingBuffer()[0]))
	return directsubmission.FlushStamp(atomic.LoadUint64(word))
}

// IsCompleted reports whether the dispatch with stamp has retired.
func (b *HostBackend) IsCompleted(stamp directsubmission.FlushStamp) bool {
	return b.CompletedStamp() >= stamp
}

// WaitForCompletion polls the tag until stamp retires or ctx is done.
func (b *HostBackend) WaitForCompletion(ctx context.Context, stamp directsubmission.FlushStamp) error {
	for !b.IsCompleted(stamp) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("waiting for stamp %d: %w", stamp, err)
		}
		runtime.Gosched()
	}
	return nil
}

// Submissions returns a copy of the recorded submissions.
func (b *HostBackend) Submissions() []Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Submission(nil), b.submissions...)
}

func (b *HostBackend) ResidencyCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.residencyCalls
}

// Close stops a running streamer and frees the tag buffer.
func (b *HostBackend) Close() {
	b.cancel()
	if s, ok := b.streamer.(interface{ Stop() }); ok {
		s.Stop()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tagAllocation != nil {
		b.memoryManager.FreeGraphicsMemory(b.tagAllocation)
		b.tagAllocation = nil
	}
	b.allocations = nil
}
