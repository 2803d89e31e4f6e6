package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RingDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "direct_submission_dispatches_total",
		Help: "The total number of command buffers dispatched through the ring",
	}, []string{"engine", "workload_mode"})

	RingBufferSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "direct_submission_ring_switches_total",
		Help: "The total number of switches between the two ring buffers",
	}, []string{"engine"})

	RingSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "direct_submission_submissions_total",
		Help: "The total number of OS ring submissions by result",
	}, []string{"engine", "result"})

	RingBytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "direct_submission_ring_bytes_written_total",
		Help: "Bytes of commands written into the ring buffers",
	}, []string{"engine"})

	QueueWorkCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "direct_submission_queue_work_count",
		Help: "The last queue work count published to the semaphore page",
	}, []string{"engine"})

	// Diagnostic mode metrics
	DiagnosticExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "direct_submission_diagnostic_execution_duration_us",
		Help:    "Duration of one diagnostic dispatch from write to completion in microseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 20), // 1us to ~0.5s
	})

	DiagnosticExecutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "direct_submission_diagnostic_executions_total",
		Help: "The total number of synthetic dispatches issued by the diagnostic harness",
	})
)
