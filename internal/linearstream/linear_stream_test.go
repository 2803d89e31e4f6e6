package linearstream

import (
	"testing"

	"github.com/fxnlabs/direct-submission/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAllocation(t *testing.T, size uint64) *memory.Allocation {
	m := memory.NewHostManager(zap.NewNop())
	a, err := m.AllocateGraphicsMemory(memory.AllocationProperties{
		AllocateMemory: true,
		Size:           size,
		Type:           memory.AllocationTypeRingBuffer,
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.FreeGraphicsMemory(a) })
	return a
}

func TestLinearStream_GetSpace(t *testing.T) {
	s := NewFromBuffer(make([]byte, 64))

	chunk := s.GetSpace(16)
	assert.Len(t, chunk, 16)
	assert.Equal(t, 16, s.Used())
	assert.Equal(t, 48, s.AvailableSpace())

	empty := s.GetSpace(0)
	assert.Len(t, empty, 0)
	assert.Equal(t, 16, s.Used())

	chunk[0] = 0xFF
	assert.Equal(t, byte(0xFF), s.CPUBase()[0])

	// chunks cannot grow into the next reservation
	assert.Equal(t, 16, cap(chunk))
}

func TestLinearStream_Overflow(t *testing.T) {
	s := NewFromBuffer(make([]byte, 32))
	s.GetSpace(30)
	assert.Panics(t, func() {
		s.GetSpace(3)
	})
	assert.Equal(t, 30, s.Used())
}

func TestLinearStream_GPUAddressRoundTrip(t *testing.T) {
	a := newAllocation(t, 2*memory.PageSize)
	s := New(a, memory.PageSize)
	assert.Equal(t, memory.PageSize, s.MaxAvailableSpace())

	for _, offset := range []int{0, 1, 12, 511, memory.PageSize - 1} {
		assert.Equal(t, a.GPUAddress()+uint64(offset), s.GPUAddress(offset))
	}

	s.GetSpace(40)
	assert.Equal(t, a.GPUAddress()+40, s.CurrentGPUAddress())
}

func TestLinearStream_ReplaceBuffer(t *testing.T) {
	first := newAllocation(t, memory.PageSize)
	second := newAllocation(t, memory.PageSize)

	s := New(first, 1024)
	s.GetSpace(100)

	s.ReplaceBuffer(second.UnderlyingBuffer(), s.MaxAvailableSpace())
	s.ReplaceAllocation(second)
	assert.Equal(t, 0, s.Used())
	assert.Equal(t, 1024, s.MaxAvailableSpace())
	assert.Same(t, second, s.Allocation())
	assert.Equal(t, second.GPUAddress(), s.CurrentGPUAddress())

	assert.Panics(t, func() {
		s.ReplaceBuffer(make([]byte, 8), 16)
	})
}
