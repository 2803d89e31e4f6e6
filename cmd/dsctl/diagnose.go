package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/fxnlabs/direct-submission/internal/app"
	"github.com/fxnlabs/direct-submission/internal/diagnostics"
)

func diagnoseCommand() *cli.Command {
	return &cli.Command{
		Name:  "diagnose",
		Usage: "Run the startup self test and print its timing summary",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "mode", Value: 1, Usage: "Diagnostic workload mode: 1 store value, 2 silent"},
			&cli.IntFlag{Name: "executions", Usage: "Number of synthetic dispatches (default from config)"},
		},
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)
			log := appLogger(c)

			mode := c.Int("mode")
			if mode != 1 && mode != 2 {
				return fmt.Errorf("invalid diagnostic mode %d", mode)
			}
			cfg.DirectSubmission.EnableDebugBuffer = mode
			if c.IsSet("executions") {
				cfg.DirectSubmission.DiagnosticExecutionCount = c.Int("executions")
			}

			var collector *diagnostics.Collector
			fxApp := fx.New(app.Module(cfg, log), fx.Populate(&collector))
			ctx, cancel := context.WithTimeout(c.Context, stopTimeout)
			defer cancel()
			if err := fxApp.Start(ctx); err != nil {
				return err
			}
			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			if err := fxApp.Stop(stopCtx); err != nil {
				return err
			}

			s := collector.Summary()
			fmt.Fprintf(c.App.Writer, "workload mode:    %d\n", mode)
			fmt.Fprintf(c.App.Writer, "executions:       %d\n", s.Executions)
			fmt.Fprintf(c.App.Writer, "completed:        %d\n", s.Completed)
			fmt.Fprintf(c.App.Writer, "timed out:        %d\n", s.TimedOut)
			fmt.Fprintf(c.App.Writer, "setup:            %s\n", s.AllocationToTest)
			fmt.Fprintf(c.App.Writer, "mean latency:     %.1fus\n", s.MeanLatency)
			fmt.Fprintf(c.App.Writer, "stddev latency:   %.1fus\n", s.StdDevLatency)
			fmt.Fprintf(c.App.Writer, "median latency:   %.1fus\n", s.MedianLatency)
			fmt.Fprintf(c.App.Writer, "p99 latency:      %.1fus\n", s.P99Latency)
			return nil
		},
	}
}
