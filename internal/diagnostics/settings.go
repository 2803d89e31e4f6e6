package diagnostics

import (
	"time"

	"github.com/fxnlabs/direct-submission/internal/config"
	"github.com/fxnlabs/direct-submission/internal/memory"
)

// DefaultExecutionsCount is used when the execution count is unset.
const DefaultExecutionsCount = 30

// Enabled reports whether settings select a diagnostic workload mode.
func Enabled(ds config.DirectSubmission) bool {
	return ds.EnableDebugBuffer == 1 || ds.EnableDebugBuffer == 2
}

// SettingsFromConfig derives collector settings from the direct submission
// configuration.
func SettingsFromConfig(engine string, ds config.DirectSubmission, waitTimeout time.Duration) Settings {
	executions := ds.DiagnosticExecutionCount
	if executions < 0 {
		executions = DefaultExecutionsCount
	}
	return Settings{
		Engine:              engine,
		ExecutionsCount:     uint32(executions),
		WorkloadMode:        ds.EnableDebugBuffer,
		BufferPlacement:     memory.PlacementFromSetting(ds.BufferPlacement).String(),
		SemaphorePlacement:  memory.PlacementFromSetting(ds.SemaphorePlacement).String(),
		DisableCacheFlush:   config.Flag(ds.DisableCacheFlush, false),
		DisableMonitorFence: config.Flag(ds.DisableMonitorFence, false),
		WaitTimeout:         waitTimeout,
	}
}
