// Package app assembles the direct submission engine, its host backend and
// the simulated command streamer into an fx application.
package app

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/fxnlabs/direct-submission/internal/config"
	"github.com/fxnlabs/direct-submission/internal/diagnostics"
	"github.com/fxnlabs/direct-submission/internal/directsubmission"
	"github.com/fxnlabs/direct-submission/internal/dispatcher"
	"github.com/fxnlabs/direct-submission/internal/gpusim"
	"github.com/fxnlabs/direct-submission/internal/memory"
	"github.com/fxnlabs/direct-submission/internal/osinterface"
)

// Module provides every component of a running ring. Starting the
// application initializes the engine and submits the ring; stopping it
// drains the ring and releases its memory.
func Module(cfg *config.Config, logger *zap.Logger) fx.Option {
	return fx.Options(
		fx.Supply(cfg, logger),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(
			newDispatcher,
			newMemoryManager,
			newStreamer,
			newBackend,
			newDiagnostics,
			newEngine,
			NewRunner,
		),
		fx.Invoke(registerLifecycle),
	)
}

func newDispatcher(cfg *config.Config) (dispatcher.Dispatcher, error) {
	return dispatcher.New(cfg.Ring.Engine)
}

func newMemoryManager(logger *zap.Logger) *memory.HostManager {
	return memory.NewHostManager(logger)
}

func newStreamer(mm *memory.HostManager, logger *zap.Logger) *gpusim.CommandStreamer {
	return gpusim.NewCommandStreamer(mm, logger)
}

func newBackend(mm *memory.HostManager, streamer *gpusim.CommandStreamer, logger *zap.Logger) *osinterface.HostBackend {
	return osinterface.NewHostBackend(mm, streamer, logger)
}

// newDiagnostics returns nil when no diagnostic workload mode is configured.
func newDiagnostics(cfg *config.Config, disp dispatcher.Dispatcher, logger *zap.Logger) *diagnostics.Collector {
	if !diagnostics.Enabled(cfg.DirectSubmission) {
		return nil
	}
	settings := diagnostics.SettingsFromConfig(disp.Name(), cfg.DirectSubmission, cfg.Ring.DiagnosticWaitTimeout)
	return diagnostics.NewCollector(settings, logger)
}

type engineParams struct {
	fx.In

	Config      *config.Config
	Dispatcher  dispatcher.Dispatcher
	Memory      *memory.HostManager
	Backend     *osinterface.HostBackend
	Diagnostics *diagnostics.Collector
	Logger      *zap.Logger
}

func newEngine(p engineParams) *directsubmission.DirectSubmission {
	params := directsubmission.Params{
		Dispatcher:            p.Dispatcher,
		MemoryManager:         p.Memory,
		Backend:               p.Backend,
		Settings:              p.Config.DirectSubmission,
		RootDeviceIndex:       p.Config.Ring.RootDeviceIndex,
		DiagnosticWaitTimeout: p.Config.Ring.DiagnosticWaitTimeout,
		Logger:                p.Logger,
	}
	if p.Diagnostics != nil {
		params.Diagnostics = p.Diagnostics
	}
	return directsubmission.New(params)
}

type lifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Engine    *directsubmission.DirectSubmission
	Backend   *osinterface.HostBackend
	Streamer  *gpusim.CommandStreamer
	Logger    *zap.Logger
}

func registerLifecycle(p lifecycleParams) {
	log := p.Logger.Named("app")
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Engine.Initialize(true); err != nil {
				return fmt.Errorf("failed to initialize direct submission: %w", err)
			}
			log.Info("direct submission running",
				zap.Stringer("state", p.Engine.State()),
				zap.Uint32("queueWorkCount", p.Engine.QueueWorkCount()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			defer p.Engine.DeallocateResources()
			defer p.Backend.Close()

			if err := p.Engine.StopRingBuffer(); err != nil {
				return err
			}
			if !p.Streamer.Started() {
				return nil
			}
			if err := p.Streamer.Wait(ctx); err != nil {
				return fmt.Errorf("ring did not drain: %w", err)
			}
			log.Info("ring drained", zap.Uint64("executedCommands", p.Streamer.ExecutedCommands()))
			return nil
		},
	})
}
