package dispatcher

import "github.com/fxnlabs/direct-submission/internal/linearstream"

// BlitterDispatcher targets the copy engine, which has no preemption setup
// and flushes with MI_FLUSH_DW.
type BlitterDispatcher struct {
	miDispatcher
}

func (*BlitterDispatcher) Name() string {
	return "blitter"
}

func (*BlitterDispatcher) SizePreemption() int {
	return 0
}

func (*BlitterDispatcher) DispatchPreemption(cs *linearstream.LinearStream) {}

func (*BlitterDispatcher) SizeCacheFlush() int {
	return SizeFlushDw
}

func (*BlitterDispatcher) DispatchCacheFlush(cs *linearstream.LinearStream) {
	EncodeFlushDw(cs.GetSpace(SizeFlushDw), 0, 0, 0)
}

func (*BlitterDispatcher) SizeMonitorFence() int {
	return SizeFlushDw
}

func (*BlitterDispatcher) DispatchMonitorFence(cs *linearstream.LinearStream, gpuAddress uint64, immediateData uint64) {
	EncodeFlushDw(cs.GetSpace(SizeFlushDw), PostSyncWriteImmediate, gpuAddress, immediateData)
}
