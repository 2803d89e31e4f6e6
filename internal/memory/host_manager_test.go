package memory

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ringProps(size uint64) AllocationProperties {
	return AllocationProperties{AllocateMemory: true, Size: size, Type: AllocationTypeRingBuffer}
}

func TestAlign(t *testing.T) {
	assert.Equal(t, uint64(320*KiloByte), AlignUp(256*KiloByte+PageSize, PageSize64K))
	assert.Equal(t, uint64(64), AlignUp(1, CacheLineSize))
	assert.Equal(t, uint64(0), AlignUp(0, CacheLineSize))
	assert.Equal(t, uint64(128), AlignDown(191, CacheLineSize))
}

func TestHostManager_Allocate(t *testing.T) {
	m := NewHostManager(zap.NewNop())

	t.Run("zero filled and page aligned", func(t *testing.T) {
		a, err := m.AllocateGraphicsMemory(ringProps(100))
		require.NoError(t, err)
		defer m.FreeGraphicsMemory(a)

		assert.Equal(t, uint64(PageSize), a.Size())
		assert.Zero(t, a.GPUAddress()%PageSize64K)
		assert.Zero(t, uintptr(unsafe.Pointer(&a.UnderlyingBuffer()[0]))%CacheLineSize)
		for _, b := range a.UnderlyingBuffer() {
			require.Zero(t, b)
		}
	})

	t.Run("addresses do not overlap", func(t *testing.T) {
		a, err := m.AllocateGraphicsMemory(ringProps(320 * KiloByte))
		require.NoError(t, err)
		b, err := m.AllocateGraphicsMemory(ringProps(320 * KiloByte))
		require.NoError(t, err)
		defer m.FreeGraphicsMemory(a)
		defer m.FreeGraphicsMemory(b)

		assert.GreaterOrEqual(t, b.GPUAddress(), a.GPUAddress()+a.Size()+PageSize)
	})

	t.Run("rejects zero size", func(t *testing.T) {
		_, err := m.AllocateGraphicsMemory(ringProps(0))
		assert.Error(t, err)
	})

	t.Run("rejects allocation without memory", func(t *testing.T) {
		_, err := m.AllocateGraphicsMemory(AllocationProperties{Size: PageSize, Type: AllocationTypeTagBuffer})
		assert.Error(t, err)
	})
}

func TestHostManager_Resolve(t *testing.T) {
	m := NewHostManager(zap.NewNop())
	a, err := m.AllocateGraphicsMemory(ringProps(2 * PageSize))
	require.NoError(t, err)

	a.UnderlyingBuffer()[100] = 0xAB
	view, err := m.Resolve(a.GPUAddress() + 100)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), view[0])
	assert.Len(t, view, 2*PageSize-100)

	_, err = m.Resolve(a.GPUAddress() + a.Size())
	assert.ErrorIs(t, err, ErrUnknownAddress)

	m.FreeGraphicsMemory(a)
	_, err = m.Resolve(a.GPUAddress())
	assert.ErrorIs(t, err, ErrUnknownAddress)
}

func TestHostManager_FreeAndResidency(t *testing.T) {
	m := NewHostManager(zap.NewNop())
	a, err := m.AllocateGraphicsMemory(ringProps(PageSize))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Allocations())

	assert.False(t, m.IsResident(a))
	m.MakeResident(a, nil)
	assert.True(t, m.IsResident(a))

	m.FreeGraphicsMemory(a)
	assert.Equal(t, 0, m.Allocations())
	assert.False(t, m.IsResident(a))
	assert.Nil(t, a.UnderlyingBuffer())

	assert.NotPanics(t, func() {
		m.FreeGraphicsMemory(a)
		m.FreeGraphicsMemory(nil)
	})
}

func TestPlacementFromSetting(t *testing.T) {
	assert.Equal(t, PlacementDefault, PlacementFromSetting(-1))
	assert.Equal(t, PlacementLocal, PlacementFromSetting(0))
	assert.Equal(t, PlacementSystem, PlacementFromSetting(1))
	assert.Equal(t, "system", PlacementSystem.String())
	assert.Equal(t, "RING_BUFFER", AllocationTypeRingBuffer.String())
}
