package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fxnlabs/direct-submission/internal/app"
)

const stopTimeout = 10 * time.Second

func printBanner(w io.Writer) {
	fmt.Fprintln(w, figure.NewFigure("dsctl", "", true).String())
}

// serveMetrics exposes the Prometheus registry on addr until the returned
// function is called. An empty addr disables it.
func serveMetrics(addr string, log *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info("Serving metrics", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the ring and push synthetic workloads through it",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Value: 1000, Usage: "Number of workloads to dispatch"},
			&cli.DurationFlag{Name: "timeout", Value: time.Minute, Usage: "Upper bound for the whole run"},
			&cli.BoolFlag{Name: "banner", Value: true, Usage: "Print the banner"},
		},
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)
			log := appLogger(c)
			if c.Bool("banner") {
				printBanner(c.App.Writer)
			}
			defer serveMetrics(cfg.Metrics.ListenAddress, log)()

			var runner *app.Runner
			fxApp := fx.New(app.Module(cfg, log), fx.Populate(&runner))
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			if err := fxApp.Start(ctx); err != nil {
				return err
			}

			result, runErr := runner.Run(ctx, c.Int("count"))

			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			if err := fxApp.Stop(stopCtx); err != nil && runErr == nil {
				runErr = err
			}
			if runErr != nil {
				return runErr
			}

			fmt.Fprintf(c.App.Writer, "dispatches:       %d\n", result.Dispatches)
			fmt.Fprintf(c.App.Writer, "ring switches:    %d\n", result.RingSwitches)
			fmt.Fprintf(c.App.Writer, "queue work count: %d\n", result.QueueWorkCount)
			fmt.Fprintf(c.App.Writer, "last stamp:       %d\n", result.LastStamp)
			fmt.Fprintf(c.App.Writer, "elapsed:          %s\n", result.Elapsed)
			return nil
		},
	}
}
