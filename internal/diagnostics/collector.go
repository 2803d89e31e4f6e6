// Package diagnostics times the startup self test of the direct submission
// engine.
package diagnostics

import (
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/fxnlabs/direct-submission/internal/metrics"
)

const defaultWaitTimeout = time.Second

// Settings describe the configuration under test. They are logged with the
// summary.
type Settings struct {
	Engine              string
	ExecutionsCount     uint32
	WorkloadMode        int
	BufferPlacement     string
	SemaphorePlacement  string
	DisableCacheFlush   bool
	DisableMonitorFence bool
	// WaitTimeout bounds each completion poll. Zero means one second.
	WaitTimeout time.Duration
}

type execution struct {
	dispatch time.Time
	submit   time.Time
	done     time.Time
	timedOut bool
}

// Summary aggregates the execution timings of one self test.
type Summary struct {
	Executions       int
	Completed        int
	TimedOut         int
	AllocationToTest time.Duration
	// Latency statistics are in microseconds.
	MeanLatency   float64
	StdDevLatency float64
	MedianLatency float64
	P99Latency    float64
}

// Collector records timestamps around every synthetic dispatch.
type Collector struct {
	settings Settings
	logger   *zap.Logger
	now      func() time.Time

	allocationTime time.Time
	diagnosticTime time.Time
	executions     []execution
	dispatched     int
	submitted      int
	summary        Summary
	released       bool
}

func NewCollector(settings Settings, logger *zap.Logger) *Collector {
	if settings.WaitTimeout <= 0 {
		settings.WaitTimeout = defaultWaitTimeout
	}
	return &Collector{
		settings:   settings,
		logger:     logger.Named("diagnostics"),
		now:        time.Now,
		executions: make([]execution, settings.ExecutionsCount),
	}
}

func (c *Collector) ExecutionsCount() uint32 {
	return c.settings.ExecutionsCount
}

func (c *Collector) DiagnosticModeAllocation() {
	c.allocationTime = c.now()
	c.logger.Info("diagnostic mode enabled",
		zap.Int("workloadMode", c.settings.WorkloadMode),
		zap.Uint32("executions", c.settings.ExecutionsCount),
		zap.String("bufferPlacement", c.settings.BufferPlacement),
		zap.String("semaphorePlacement", c.settings.SemaphorePlacement),
		zap.Bool("disableCacheFlush", c.settings.DisableCacheFlush),
		zap.Bool("disableMonitorFence", c.settings.DisableMonitorFence))
}

func (c *Collector) DiagnosticModeDiagnostic() {
	c.diagnosticTime = c.now()
}

func (c *Collector) DiagnosticModeOneDispatch() {
	if c.dispatched < len(c.executions) {
		c.executions[c.dispatched].dispatch = c.now()
	}
	c.dispatched++
}

func (c *Collector) DiagnosticModeOneSubmit() {
	if c.submitted < len(c.executions) {
		c.executions[c.submitted].submit = c.now()
	}
	c.submitted++
	metrics.DiagnosticExecutions.Inc()
}

// DiagnosticModeOneWait polls scratch until it reaches expected or the wait
// timeout passes.
func (c *Collector) DiagnosticModeOneWait(index uint32, scratch func() uint32, expected uint32) {
	deadline := c.now().Add(c.settings.WaitTimeout)
	for scratch() < expected {
		if c.now().After(deadline) {
			if int(index) < len(c.executions) {
				c.executions[index].timedOut = true
			}
			c.logger.Warn("diagnostic execution did not complete",
				zap.Uint32("execution", index),
				zap.Uint32("expected", expected),
				zap.Uint32("observed", scratch()),
				zap.Duration("timeout", c.settings.WaitTimeout))
			return
		}
		runtime.Gosched()
	}

	if int(index) >= len(c.executions) {
		return
	}
	e := &c.executions[index]
	e.done = c.now()
	if !e.dispatch.IsZero() {
		metrics.DiagnosticExecutionDuration.Observe(float64(e.done.Sub(e.dispatch).Microseconds()))
	}
}

// Release computes and logs the summary. Later calls are no-ops.
func (c *Collector) Release() {
	if c.released {
		return
	}
	c.released = true
	c.summary = c.summarize()

	c.logger.Info("diagnostic mode finished",
		zap.Int("executions", c.summary.Executions),
		zap.Int("completed", c.summary.Completed),
		zap.Int("timedOut", c.summary.TimedOut),
		zap.Duration("allocationToDiagnostic", c.summary.AllocationToTest),
		zap.Float64("meanLatencyUs", c.summary.MeanLatency),
		zap.Float64("stdDevLatencyUs", c.summary.StdDevLatency),
		zap.Float64("medianLatencyUs", c.summary.MedianLatency),
		zap.Float64("p99LatencyUs", c.summary.P99Latency))
}

// Summary returns the result computed by Release.
func (c *Collector) Summary() Summary {
	return c.summary
}

func (c *Collector) summarize() Summary {
	s := Summary{Executions: c.submitted}
	if !c.allocationTime.IsZero() && !c.diagnosticTime.IsZero() {
		s.AllocationToTest = c.diagnosticTime.Sub(c.allocationTime)
	}

	var latencies []float64
	var previousSubmit time.Time
	for _, e := range c.executions {
		if e.timedOut {
			s.TimedOut++
		}
		switch {
		case !e.done.IsZero() && !e.dispatch.IsZero():
			// store value mode: write to observed completion
			s.Completed++
			latencies = append(latencies, float64(e.done.Sub(e.dispatch).Microseconds()))
		case !e.submit.IsZero() && e.dispatch.IsZero():
			// silent mode has no completion marker, time submit to submit
			if !previousSubmit.IsZero() {
				latencies = append(latencies, float64(e.submit.Sub(previousSubmit).Microseconds()))
			}
			previousSubmit = e.submit
		}
	}

	if len(latencies) == 0 {
		return s
	}
	sort.Float64s(latencies)
	s.MeanLatency, s.StdDevLatency = stat.MeanStdDev(latencies, nil)
	s.MedianLatency = stat.Quantile(0.5, stat.Empirical, latencies, nil)
	s.P99Latency = stat.Quantile(0.99, stat.Empirical, latencies, nil)
	return s
}
