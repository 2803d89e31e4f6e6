package gpusim

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxnlabs/direct-submission/internal/dispatcher"
	"github.com/fxnlabs/direct-submission/internal/memory"
)

func allocate(t *testing.T, mm *memory.HostManager) *memory.Allocation {
	t.Helper()
	a, err := mm.AllocateGraphicsMemory(memory.AllocationProperties{
		AllocateMemory: true,
		Size:           memory.PageSize,
		Type:           memory.AllocationTypeCommandBuffer,
	})
	require.NoError(t, err)
	return a
}

func waitDone(t *testing.T, s *CommandStreamer) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Wait(ctx)
}

func TestExecutesStoresAndEnd(t *testing.T) {
	mm := memory.NewHostManager(zap.NewNop())
	cmds := allocate(t, mm)
	data := allocate(t, mm)

	b := cmds.UnderlyingBuffer()
	off := 0
	dispatcher.EncodeStoreDataImm(b[off:], data.GPUAddress()+0x40, 7)
	off += dispatcher.SizeStoreDataImm
	dispatcher.EncodePipeControl(b[off:], 0, dispatcher.PostSyncWriteImmediate, data.GPUAddress()+0x80, 0x1_0000_0002)
	off += dispatcher.SizePipeControl
	dispatcher.EncodeFlushDw(b[off:], dispatcher.PostSyncWriteImmediate, data.GPUAddress()+0x88, 5)
	off += dispatcher.SizeFlushDw
	off += 2 * dispatcher.SizeNoop
	dispatcher.EncodeBatchBufferEnd(b[off:])

	s := NewCommandStreamer(mm, zap.NewNop())
	require.NoError(t, s.Start(context.Background(), cmds.GPUAddress()))
	require.NoError(t, waitDone(t, s))

	d := data.UnderlyingBuffer()
	assert.Equal(t, uint32(7), atomic.LoadUint32((*uint32)(unsafe.Pointer(&d[0x40]))))
	assert.Equal(t, uint64(0x1_0000_0002), atomic.LoadUint64((*uint64)(unsafe.Pointer(&d[0x80]))))
	assert.Equal(t, uint64(5), atomic.LoadUint64((*uint64)(unsafe.Pointer(&d[0x88]))))
	assert.Equal(t, uint64(6), s.ExecutedCommands())
}

func TestFollowsBatchBufferStart(t *testing.T) {
	mm := memory.NewHostManager(zap.NewNop())
	first := allocate(t, mm)
	second := allocate(t, mm)

	dispatcher.EncodeBatchBufferStart(first.UnderlyingBuffer(), second.GPUAddress()+0x100)
	dispatcher.EncodeBatchBufferEnd(second.UnderlyingBuffer()[0x100:])
	// never reached
	binary.LittleEndian.PutUint32(first.UnderlyingBuffer()[dispatcher.SizeBatchBufferStart:], 0xFFFFFFFF)

	s := NewCommandStreamer(mm, zap.NewNop())
	require.NoError(t, s.Start(context.Background(), first.GPUAddress()))
	require.NoError(t, waitDone(t, s))
	assert.Equal(t, uint64(2), s.ExecutedCommands())
}

func TestSemaphoreWaitBlocksUntilPublished(t *testing.T) {
	mm := memory.NewHostManager(zap.NewNop())
	cmds := allocate(t, mm)
	sem := allocate(t, mm)

	b := cmds.UnderlyingBuffer()
	dispatcher.EncodeSemaphoreWait(b, sem.GPUAddress(), 2)
	dispatcher.EncodeBatchBufferEnd(b[dispatcher.SizeSemaphoreWait:])
	word := (*uint32)(unsafe.Pointer(&sem.UnderlyingBuffer()[0]))
	atomic.StoreUint32(word, 1)

	s := NewCommandStreamer(mm, zap.NewNop())
	require.NoError(t, s.Start(context.Background(), cmds.GPUAddress()))

	select {
	case <-s.Done():
		t.Fatal("streamer passed a wait whose target was not reached")
	case <-time.After(20 * time.Millisecond):
	}

	atomic.StoreUint32(word, 2)
	require.NoError(t, waitDone(t, s))
	assert.Equal(t, uint64(1), s.SemaphoreWaits())
}

func TestStopCancelsWait(t *testing.T) {
	mm := memory.NewHostManager(zap.NewNop())
	cmds := allocate(t, mm)
	sem := allocate(t, mm)
	dispatcher.EncodeSemaphoreWait(cmds.UnderlyingBuffer(), sem.GPUAddress(), 1)

	s := NewCommandStreamer(mm, zap.NewNop())
	require.NoError(t, s.Start(context.Background(), cmds.GPUAddress()))
	s.Stop()
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestFaults(t *testing.T) {
	mm := memory.NewHostManager(zap.NewNop())

	t.Run("unknown command", func(t *testing.T) {
		cmds := allocate(t, mm)
		binary.LittleEndian.PutUint32(cmds.UnderlyingBuffer(), 0xFFFFFFFF)
		s := NewCommandStreamer(mm, zap.NewNop())
		require.NoError(t, s.Start(context.Background(), cmds.GPUAddress()))
		assert.ErrorIs(t, waitDone(t, s), ErrUnknownCommand)
	})

	t.Run("unmapped jump target", func(t *testing.T) {
		cmds := allocate(t, mm)
		dispatcher.EncodeBatchBufferStart(cmds.UnderlyingBuffer(), 0xdead0000)
		s := NewCommandStreamer(mm, zap.NewNop())
		require.NoError(t, s.Start(context.Background(), cmds.GPUAddress()))
		assert.ErrorIs(t, waitDone(t, s), memory.ErrUnknownAddress)
	})
}

func TestStartOnce(t *testing.T) {
	mm := memory.NewHostManager(zap.NewNop())
	cmds := allocate(t, mm)
	dispatcher.EncodeBatchBufferEnd(cmds.UnderlyingBuffer())

	s := NewCommandStreamer(mm, zap.NewNop())
	assert.ErrorIs(t, s.Wait(context.Background()), ErrNotStarted)
	require.NoError(t, s.Start(context.Background(), cmds.GPUAddress()))
	assert.ErrorIs(t, s.Start(context.Background(), cmds.GPUAddress()), ErrAlreadyRunning)
	require.NoError(t, waitDone(t, s))
	assert.True(t, s.Started())
}
