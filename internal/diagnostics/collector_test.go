package diagnostics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fxnlabs/direct-submission/internal/config"
)

func steppingClock(step time.Duration) func() time.Time {
	t := time.Unix(0, 0)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func newTestCollector(settings Settings) *Collector {
	c := NewCollector(settings, zap.NewNop())
	c.now = steppingClock(time.Millisecond)
	return c
}

func TestNewCollectorDefaults(t *testing.T) {
	c := NewCollector(Settings{ExecutionsCount: 4}, zap.NewNop())
	assert.Equal(t, uint32(4), c.ExecutionsCount())
	assert.Equal(t, defaultWaitTimeout, c.settings.WaitTimeout)
	assert.Len(t, c.executions, 4)
}

func TestStoreValueModeSummary(t *testing.T) {
	c := newTestCollector(Settings{ExecutionsCount: 3, WorkloadMode: 1})
	c.DiagnosticModeAllocation()
	c.DiagnosticModeDiagnostic()

	var scratch uint32
	for i := uint32(0); i < 3; i++ {
		c.DiagnosticModeOneDispatch()
		c.DiagnosticModeOneSubmit()
		scratch++
		c.DiagnosticModeOneWait(i, func() uint32 { return scratch }, i+1)
	}
	c.Release()

	s := c.Summary()
	assert.Equal(t, 3, s.Executions)
	assert.Equal(t, 3, s.Completed)
	assert.Equal(t, 0, s.TimedOut)
	assert.Equal(t, time.Millisecond, s.AllocationToTest)
	// dispatch, submit, deadline and completion each read the clock once
	assert.InDelta(t, 3000.0, s.MeanLatency, 0.001)
	assert.InDelta(t, 0.0, s.StdDevLatency, 0.001)
	assert.InDelta(t, 3000.0, s.MedianLatency, 0.001)
	assert.InDelta(t, 3000.0, s.P99Latency, 0.001)
}

func TestWaitTimesOut(t *testing.T) {
	c := newTestCollector(Settings{ExecutionsCount: 1, WorkloadMode: 1, WaitTimeout: 5 * time.Millisecond})
	c.DiagnosticModeOneDispatch()
	c.DiagnosticModeOneSubmit()

	polls := 0
	c.DiagnosticModeOneWait(0, func() uint32 {
		polls++
		return 0
	}, 1)
	c.Release()

	s := c.Summary()
	assert.Equal(t, 1, s.TimedOut)
	assert.Equal(t, 0, s.Completed)
	assert.Greater(t, polls, 1)
}

func TestSilentModeUsesSubmitIntervals(t *testing.T) {
	c := newTestCollector(Settings{ExecutionsCount: 4, WorkloadMode: 2})
	for i := 0; i < 4; i++ {
		c.DiagnosticModeOneSubmit()
	}
	c.Release()

	s := c.Summary()
	assert.Equal(t, 4, s.Executions)
	assert.Equal(t, 0, s.Completed)
	assert.InDelta(t, 1000.0, s.MeanLatency, 0.001)
}

func TestExtraCallsBeyondExecutionCount(t *testing.T) {
	c := newTestCollector(Settings{ExecutionsCount: 1, WorkloadMode: 1})
	require.NotPanics(t, func() {
		c.DiagnosticModeOneDispatch()
		c.DiagnosticModeOneDispatch()
		c.DiagnosticModeOneSubmit()
		c.DiagnosticModeOneSubmit()
		c.DiagnosticModeOneWait(5, func() uint32 { return 1 }, 1)
	})
	assert.Equal(t, 2, c.submitted)
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := newTestCollector(Settings{ExecutionsCount: 1, WorkloadMode: 2})
	c.DiagnosticModeOneSubmit()
	c.Release()
	first := c.Summary()

	c.DiagnosticModeOneSubmit()
	c.Release()
	assert.Equal(t, first, c.Summary())
}

func TestSettingsFromConfig(t *testing.T) {
	ds := config.Default().DirectSubmission
	assert.False(t, Enabled(ds))

	s := SettingsFromConfig("render", ds, time.Second)
	assert.Equal(t, uint32(DefaultExecutionsCount), s.ExecutionsCount)
	assert.Equal(t, "default", s.BufferPlacement)
	assert.False(t, s.DisableCacheFlush)
	assert.False(t, s.DisableMonitorFence)

	ds.EnableDebugBuffer = 2
	ds.DiagnosticExecutionCount = 7
	ds.DisableMonitorFence = 1
	ds.SemaphorePlacement = 1
	assert.True(t, Enabled(ds))
	s = SettingsFromConfig("blitter", ds, time.Millisecond)
	assert.Equal(t, "blitter", s.Engine)
	assert.Equal(t, 2, s.WorkloadMode)
	assert.Equal(t, uint32(7), s.ExecutionsCount)
	assert.True(t, s.DisableMonitorFence)
	assert.Equal(t, "system", s.SemaphorePlacement)
	assert.Equal(t, time.Millisecond, s.WaitTimeout)
}
