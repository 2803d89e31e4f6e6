package dispatcher

import "github.com/fxnlabs/direct-submission/internal/linearstream"

// RenderDispatcher targets the render command streamer.
type RenderDispatcher struct {
	miDispatcher
}

func (*RenderDispatcher) Name() string {
	return "render"
}

// SizePreemption covers the mid-batch preemption register load.
func (*RenderDispatcher) SizePreemption() int {
	return SizeLoadRegisterImm
}

func (*RenderDispatcher) DispatchPreemption(cs *linearstream.LinearStream) {
	EncodeLoadRegisterImm(cs.GetSpace(SizeLoadRegisterImm), csChicken1Register, csChicken1MidBatchPreemptionSet)
}

func (*RenderDispatcher) SizeCacheFlush() int {
	return SizePipeControl
}

func (*RenderDispatcher) DispatchCacheFlush(cs *linearstream.LinearStream) {
	EncodePipeControl(cs.GetSpace(SizePipeControl), pcFullCacheFlush, 0, 0, 0)
}

func (*RenderDispatcher) SizeMonitorFence() int {
	return SizePipeControl
}

func (*RenderDispatcher) DispatchMonitorFence(cs *linearstream.LinearStream, gpuAddress uint64, immediateData uint64) {
	flags := pcCommandStreamerStallEnable | pcDCFlushEnable | pcNotifyEnable
	EncodePipeControl(cs.GetSpace(SizePipeControl), flags, PostSyncWriteImmediate, gpuAddress, immediateData)
}
