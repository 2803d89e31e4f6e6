// Package directsubmission implements a ring buffer engine that feeds a GPU
// without a kernel submission per workload. The GPU spins on a semaphore
// wait at the tail of the ring; each dispatch writes the next section and
// releases the wait by publishing a new work count.
package directsubmission

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fxnlabs/direct-submission/internal/cacheflush"
	"github.com/fxnlabs/direct-submission/internal/config"
	"github.com/fxnlabs/direct-submission/internal/diagnostics"
	"github.com/fxnlabs/direct-submission/internal/dispatcher"
	"github.com/fxnlabs/direct-submission/internal/fault"
	"github.com/fxnlabs/direct-submission/internal/linearstream"
	"github.com/fxnlabs/direct-submission/internal/memory"
	"github.com/fxnlabs/direct-submission/internal/metrics"
	"github.com/fxnlabs/direct-submission/internal/semaphore"
)

// Params are the collaborators and settings of an engine.
type Params struct {
	Dispatcher            dispatcher.Dispatcher
	MemoryManager         MemoryManager
	Backend               OSBackend
	Settings              config.DirectSubmission
	RootDeviceIndex       uint32
	MultiOsContextCapable bool
	DiagnosticWaitTimeout time.Duration
	Logger                *zap.Logger

	// Flusher overrides the CPU cache flusher built from Settings.
	Flusher *cacheflush.Flusher
	// Diagnostics replaces the default collector when a diagnostic workload
	// mode is configured. It is ignored otherwise.
	Diagnostics DiagnosticsCollector
}

// DirectSubmission owns two ring buffers and one semaphore page. It is not
// safe for concurrent use; callers serialize dispatches.
type DirectSubmission struct {
	dispatcher    dispatcher.Dispatcher
	memoryManager MemoryManager
	backend       OSBackend
	flusher       *cacheflush.Flusher
	logger        *zap.Logger
	engine        string

	settings              config.DirectSubmission
	rootDeviceIndex       uint32
	multiOsContextCapable bool

	ringBuffers       [2]*memory.Allocation
	ringZeroed        [2]bool
	currentRingBuffer RingBufferUse
	ringCommandStream *linearstream.LinearStream
	semaphores        *memory.Allocation
	semaphorePage     *semaphore.Page

	currentQueueWorkCount        uint32
	workloadMode                 WorkloadMode
	workloadModeOneExpectedValue uint32
	disableCacheFlush            bool
	disableMonitorFence          bool
	ringStart                    bool
	state                        State
	ringSwitches                 uint64

	diagnostic DiagnosticsCollector
}

// New creates an engine in the Uninitialized state. It faults when the CPU
// cannot flush cache lines.
func New(p Params) *DirectSubmission {
	fault.UnrecoverableIf(!cacheflush.Supported(), "cpu cache line flush is not supported")

	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	flusher := p.Flusher
	if flusher == nil {
		flusher = cacheflush.New(config.Flag(p.Settings.DisableCpuCacheFlush, false))
	}

	d := &DirectSubmission{
		dispatcher:            p.Dispatcher,
		memoryManager:         p.MemoryManager,
		backend:               p.Backend,
		flusher:               flusher,
		logger:                logger.Named("direct_submission").With(zap.String("engine", p.Dispatcher.Name())),
		engine:                p.Dispatcher.Name(),
		settings:              p.Settings,
		rootDeviceIndex:       p.RootDeviceIndex,
		multiOsContextCapable: p.MultiOsContextCapable,
		workloadMode:          WorkloadModeImmediate,
		state:                 StateUninitialized,
	}
	d.createDiagnostic(p)
	return d
}

func (d *DirectSubmission) createDiagnostic(p Params) {
	if !diagnostics.Enabled(d.settings) {
		return
	}
	settings := diagnostics.SettingsFromConfig(d.engine, d.settings, p.DiagnosticWaitTimeout)
	d.workloadMode = WorkloadMode(settings.WorkloadMode)
	d.disableCacheFlush = settings.DisableCacheFlush
	d.disableMonitorFence = settings.DisableMonitorFence

	if p.Diagnostics != nil {
		d.diagnostic = p.Diagnostics
		return
	}
	d.diagnostic = diagnostics.NewCollector(settings, d.logger)
}

// Initialize allocates the ring resources. With submitOnInit it also writes
// the initial wait and starts the ring. A configured diagnostic mode forces
// submitOnInit and runs the self test before returning.
func (d *DirectSubmission) Initialize(submitOnInit bool) error {
	err := d.AllocateResources()
	if d.diagnostic != nil {
		submitOnInit = true
		d.diagnostic.DiagnosticModeAllocation()
	}
	if err != nil || !submitOnInit {
		return err
	}

	startOffset := d.ringCommandStream.Used()
	startSize := d.dispatcher.SizePreemption() + d.layout().SemaphoreSection

	d.dispatcher.DispatchPreemption(d.ringCommandStream)
	d.currentQueueWorkCount++
	d.dispatchSemaphoreSection(d.currentQueueWorkCount)

	err = d.submit(d.ringCommandStream.GPUAddress(startOffset), startSize)
	d.performDiagnosticMode()
	return err
}

// StartRingBuffer starts the ring if no submission succeeded yet. It is a
// no-op on a started ring.
func (d *DirectSubmission) StartRingBuffer() error {
	if d.ringStart {
		return nil
	}
	if d.ringCommandStream == nil {
		return ErrNotAllocated
	}

	l := d.layout()
	startSize := l.SemaphoreSection
	requiredSize := startSize + l.DispatchSection + l.EndSection
	if d.ringCommandStream.AvailableSpace() < requiredSize {
		d.switchRingBuffers()
	}

	gpuStartAddress := d.ringCommandStream.CurrentGPUAddress()
	d.currentQueueWorkCount++
	d.dispatchSemaphoreSection(d.currentQueueWorkCount)

	return d.submit(gpuStartAddress, startSize)
}

// StopRingBuffer writes the terminating section and releases the pending
// wait so the GPU runs into it. It is a no-op on a ring that never started.
func (d *DirectSubmission) StopRingBuffer() error {
	if !d.ringStart {
		return nil
	}
	if d.ringCommandStream == nil {
		return ErrNotAllocated
	}

	startOffset := d.ringCommandStream.Used()
	d.dispatcher.DispatchCacheFlush(d.ringCommandStream)
	if !d.disableMonitorFence {
		tag := d.backend.TagAddressValue()
		d.dispatcher.DispatchMonitorFence(d.ringCommandStream, tag.TagAddress, tag.TagValue)
	}
	d.dispatcher.DispatchStopCommandBuffer(d.ringCommandStream)

	endSize := d.ringCommandStream.Used() - startOffset
	d.flusher.Flush(d.ringCommandStream.Slice(startOffset, d.ringCommandStream.Used()))
	d.publish()

	metrics.RingBytesWritten.WithLabelValues(d.engine).Add(float64(endSize))
	d.state = StateStopped
	d.logger.Info("ring buffer stopped",
		zap.Uint32("queueWorkCount", d.currentQueueWorkCount),
		zap.Uint64("ringSwitches", d.ringSwitches))
	return nil
}

// DispatchCommandBuffer appends a workload to the ring and releases the GPU
// into it. The stamp of the dispatch is stored in tracker. A workload that
// requires cache coherency is an unrecoverable fault.
func (d *DirectSubmission) DispatchCommandBuffer(batch *BatchBuffer, tracker *FlushStampTracker) error {
	fault.UnrecoverableIf(batch.RequiresCoherency, "workloads requiring cache coherency are not supported by direct submission")
	if d.ringCommandStream == nil {
		return ErrNotAllocated
	}

	l := d.layout()
	requiredSize := l.DispatchSection + l.SwitchSection + l.EndSection

	startGPUAddress := d.ringCommandStream.CurrentGPUAddress()
	buffersSwitched := false
	if d.ringCommandStream.AvailableSpace() < requiredSize {
		startGPUAddress = d.switchRingBuffers()
		buffersSwitched = true
	}

	startOffset := d.dispatchWorkloadSection(batch)
	if d.ringStart {
		d.flusher.Flush(d.ringCommandStream.Slice(startOffset, startOffset+l.DispatchSection))
		d.backend.HandleResidency()
	}

	d.publish()
	d.currentQueueWorkCount++
	if d.diagnostic != nil {
		d.diagnostic.DiagnosticModeOneSubmit()
	}

	metrics.RingDispatches.WithLabelValues(d.engine, d.workloadMode.String()).Inc()
	metrics.RingBytesWritten.WithLabelValues(d.engine).Add(float64(l.DispatchSection))

	var err error
	if !d.ringStart {
		submitSize := l.DispatchSection
		if buffersSwitched {
			submitSize = l.SwitchSection
		}
		err = d.submit(startGPUAddress, submitSize)
	} else {
		d.state = StateRunning
	}

	stamp := d.backend.UpdateTagValue()
	if tracker != nil {
		tracker.SetStamp(stamp)
	}
	return err
}

// DeallocateResources returns the ring buffers and the semaphore allocation
// to the memory manager.
func (d *DirectSubmission) DeallocateResources() {
	for i, ring := range d.ringBuffers {
		if ring != nil {
			d.memoryManager.FreeGraphicsMemory(ring)
			d.ringBuffers[i] = nil
		}
		d.ringZeroed[i] = false
	}
	if d.semaphores != nil {
		d.memoryManager.FreeGraphicsMemory(d.semaphores)
		d.semaphores = nil
	}
	d.ringCommandStream = nil
	d.semaphorePage = nil
	d.state = StateUninitialized
}

func (d *DirectSubmission) submit(gpuAddress uint64, size int) error {
	if err := d.backend.Submit(gpuAddress, size); err != nil {
		metrics.RingSubmissions.WithLabelValues(d.engine, "failure").Inc()
		d.logger.Error("ring buffer submission failed",
			zap.String("gpuAddress", fmt.Sprintf("0x%x", gpuAddress)),
			zap.Int("size", size),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrRingNotStarted, err)
	}

	metrics.RingSubmissions.WithLabelValues(d.engine, "success").Inc()
	d.ringStart = true
	d.state = StateRunning
	d.logger.Info("ring buffer started",
		zap.String("gpuAddress", fmt.Sprintf("0x%x", gpuAddress)),
		zap.Int("size", size))
	return nil
}

// publish releases every wait whose target is at most the current work
// count.
func (d *DirectSubmission) publish() {
	d.semaphorePage.Publish(d.currentQueueWorkCount)
	metrics.QueueWorkCount.WithLabelValues(d.engine).Set(float64(d.currentQueueWorkCount))
}

func (d *DirectSubmission) layout() Layout {
	return ComputeLayout(d.dispatcher, d.workloadMode, d.disableCacheFlush, d.disableMonitorFence)
}

func (d *DirectSubmission) performDiagnosticMode() {
	if d.diagnostic == nil {
		return
	}
	d.diagnostic.DiagnosticModeDiagnostic()

	batch := &BatchBuffer{}
	tracker := &FlushStampTracker{}
	executions := d.diagnostic.ExecutionsCount()
	for execution := uint32(0); execution < executions; execution++ {
		if err := d.DispatchCommandBuffer(batch, tracker); err != nil {
			d.logger.Warn("diagnostic dispatch failed", zap.Uint32("execution", execution), zap.Error(err))
		}
		if d.workloadMode == WorkloadModeStoreValue {
			d.diagnostic.DiagnosticModeOneWait(execution, d.semaphorePage.Scratch, d.workloadModeOneExpectedValue)
		}
	}

	d.workloadMode = WorkloadModeImmediate
	d.disableCacheFlush = false
	d.disableMonitorFence = false
	d.diagnostic.Release()
	d.diagnostic = nil

	// The last diagnostic dispatch reserved the end section of the
	// diagnostic layout, which can be shorter than the restored one.
	if l := d.layout(); d.ringCommandStream.AvailableSpace() < l.SwitchSection+l.EndSection {
		d.switchRingBuffers()
	}
}
