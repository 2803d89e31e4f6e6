package directsubmission

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxnlabs/direct-submission/internal/cacheflush"
	"github.com/fxnlabs/direct-submission/internal/config"
	"github.com/fxnlabs/direct-submission/internal/dispatcher"
	"github.com/fxnlabs/direct-submission/internal/fault"
	"github.com/fxnlabs/direct-submission/internal/memory"
)

type submission struct {
	gpuAddress uint64
	size       int
}

// fakeBackend records every call the engine makes.
type fakeBackend struct {
	submissions    []submission
	submitErr      error
	allocateErr    error
	osAllocations  []*memory.Allocation
	residencyCalls int
	tagAddress     uint64
	tagValue       uint64
}

func (b *fakeBackend) AllocateOsResources(allocations []*memory.Allocation) error {
	b.osAllocations = allocations
	return b.allocateErr
}

func (b *fakeBackend) Submit(gpuAddress uint64, size int) error {
	b.submissions = append(b.submissions, submission{gpuAddress, size})
	return b.submitErr
}

func (b *fakeBackend) HandleResidency() {
	b.residencyCalls++
}

func (b *fakeBackend) TagAddressValue() TagData {
	return TagData{TagAddress: b.tagAddress, TagValue: b.tagValue + 1}
}

func (b *fakeBackend) UpdateTagValue() FlushStamp {
	b.tagValue++
	return FlushStamp(b.tagValue)
}

type failingMemoryManager struct{}

func (failingMemoryManager) AllocateGraphicsMemory(memory.AllocationProperties) (*memory.Allocation, error) {
	return nil, errors.New("out of memory")
}

func (failingMemoryManager) FreeGraphicsMemory(*memory.Allocation) {}

type mockCollector struct {
	mock.Mock
}

func (m *mockCollector) ExecutionsCount() uint32 {
	return m.Called().Get(0).(uint32)
}

func (m *mockCollector) DiagnosticModeAllocation()  { m.Called() }
func (m *mockCollector) DiagnosticModeDiagnostic()  { m.Called() }
func (m *mockCollector) DiagnosticModeOneDispatch() { m.Called() }
func (m *mockCollector) DiagnosticModeOneSubmit()   { m.Called() }
func (m *mockCollector) Release()                   { m.Called() }

func (m *mockCollector) DiagnosticModeOneWait(execution uint32, scratch func() uint32, expected uint32) {
	m.Called(execution, scratch, expected)
}

type testEngine struct {
	*DirectSubmission
	backend *fakeBackend
	memory  *memory.HostManager
}

func defaultSettings() config.DirectSubmission {
	return config.Default().DirectSubmission
}

func newTestEngine(t *testing.T, engine string, settings config.DirectSubmission, opts ...func(*Params)) *testEngine {
	t.Helper()
	disp, err := dispatcher.New(engine)
	require.NoError(t, err)

	mm := memory.NewHostManager(zap.NewNop())
	backend := &fakeBackend{tagAddress: 0xABC000}
	p := Params{
		Dispatcher:    disp,
		MemoryManager: mm,
		Backend:       backend,
		Settings:      settings,
		Logger:        zap.NewNop(),
		Flusher:       cacheflush.NewWithLineFunc(func(uintptr) {}),
	}
	for _, opt := range opts {
		opt(&p)
	}
	d := New(p)
	t.Cleanup(d.DeallocateResources)
	return &testEngine{DirectSubmission: d, backend: backend, memory: mm}
}

// newBatch allocates a caller command buffer holding a single end command
// padded to the size of a jump.
func (e *testEngine) newBatch(t *testing.T) *BatchBuffer {
	t.Helper()
	alloc, err := e.memory.AllocateGraphicsMemory(memory.AllocationProperties{
		AllocateMemory: true,
		Size:           memory.PageSize,
		Type:           memory.AllocationTypeCommandBuffer,
	})
	require.NoError(t, err)
	dispatcher.EncodeBatchBufferEnd(alloc.UnderlyingBuffer()[0x100:])
	return &BatchBuffer{
		CommandBufferAllocation: alloc,
		StartOffset:             0x100,
		EndCmd:                  alloc.UnderlyingBuffer()[0x100 : 0x100+dispatcher.SizeBatchBufferStart],
	}
}

func requireFault(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		_, ok := fault.Recovered(recover())
		require.True(t, ok, "expected an unrecoverable fault")
	}()
	fn()
}
