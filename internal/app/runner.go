package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"go.uber.org/zap"

	"github.com/fxnlabs/direct-submission/internal/directsubmission"
	"github.com/fxnlabs/direct-submission/internal/dispatcher"
	"github.com/fxnlabs/direct-submission/internal/memory"
	"github.com/fxnlabs/direct-submission/internal/osinterface"
)

// RunResult summarizes a workload run.
type RunResult struct {
	Dispatches     int
	RingSwitches   uint64
	QueueWorkCount uint32
	LastStamp      directsubmission.FlushStamp
	Elapsed        time.Duration
}

// Runner drives synthetic workloads through a running engine. Each workload
// is a command buffer that stores its sequence number into a results page.
type Runner struct {
	engine  *directsubmission.DirectSubmission
	backend *osinterface.HostBackend
	memory  *memory.HostManager
	logger  *zap.Logger
}

func NewRunner(engine *directsubmission.DirectSubmission, backend *osinterface.HostBackend, mm *memory.HostManager, logger *zap.Logger) *Runner {
	return &Runner{
		engine:  engine,
		backend: backend,
		memory:  mm,
		logger:  logger.Named("runner"),
	}
}

// Run dispatches count workloads one after another and checks that each one
// executed before issuing the next.
func (r *Runner) Run(ctx context.Context, count int) (RunResult, error) {
	results, err := r.memory.AllocateGraphicsMemory(memory.AllocationProperties{
		AllocateMemory: true,
		Size:           memory.PageSize,
		Type:           memory.AllocationTypeCommandBuffer,
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to allocate results page: %w", err)
	}
	defer r.memory.FreeGraphicsMemory(results)
	observed := (*uint32)(unsafe.Pointer(&results.UnderlyingBuffer()[0]))

	start := time.Now()
	tracker := &directsubmission.FlushStampTracker{}
	result := RunResult{}
	for i := 1; i <= count; i++ {
		batch, err := r.newBatch(results.GPUAddress(), uint32(i))
		if err != nil {
			return result, err
		}
		err = r.engine.DispatchCommandBuffer(batch, tracker)
		if err != nil {
			r.memory.FreeGraphicsMemory(batch.CommandBufferAllocation)
			return result, fmt.Errorf("dispatch %d failed: %w", i, err)
		}
		if err := r.backend.WaitForCompletion(ctx, tracker.Stamp()); err != nil {
			return result, err
		}
		r.memory.FreeGraphicsMemory(batch.CommandBufferAllocation)

		if got := atomic.LoadUint32(observed); got != uint32(i) {
			return result, fmt.Errorf("workload %d retired but results page holds %d", i, got)
		}
		result.Dispatches = i
	}

	result.RingSwitches = r.engine.RingBufferSwitches()
	result.QueueWorkCount = r.engine.QueueWorkCount()
	result.LastStamp = tracker.Stamp()
	result.Elapsed = time.Since(start)
	r.logger.Info("workload run finished",
		zap.Int("dispatches", result.Dispatches),
		zap.Uint64("ringSwitches", result.RingSwitches),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

func (r *Runner) newBatch(resultAddress uint64, value uint32) (*directsubmission.BatchBuffer, error) {
	alloc, err := r.memory.AllocateGraphicsMemory(memory.AllocationProperties{
		AllocateMemory: true,
		Size:           memory.PageSize,
		Type:           memory.AllocationTypeCommandBuffer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate command buffer: %w", err)
	}
	b := alloc.UnderlyingBuffer()
	dispatcher.EncodeStoreDataImm(b, resultAddress, value)
	end := dispatcher.SizeStoreDataImm
	dispatcher.EncodeBatchBufferEnd(b[end:])
	return &directsubmission.BatchBuffer{
		CommandBufferAllocation: alloc,
		EndCmd:                  b[end : end+dispatcher.SizeBatchBufferStart],
	}, nil
}
