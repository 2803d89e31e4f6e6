package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/fxnlabs/direct-submission/internal/config"
	"github.com/fxnlabs/direct-submission/internal/directsubmission"
	"github.com/fxnlabs/direct-submission/internal/dispatcher"
)

func layoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "layout",
		Usage: "Print the ring section sizes for every workload mode",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "engine", Usage: "Engine to describe (default from config)"},
		},
		Action: func(c *cli.Context) error {
			cfg := appConfig(c)
			engine := cfg.Ring.Engine
			if c.IsSet("engine") {
				engine = c.String("engine")
			}
			disp, err := dispatcher.New(engine)
			if err != nil {
				return err
			}

			disableCacheFlush := config.Flag(cfg.DirectSubmission.DisableCacheFlush, false)
			disableMonitorFence := config.Flag(cfg.DirectSubmission.DisableMonitorFence, false)

			w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "engine: %s\n", disp.Name())
			fmt.Fprintln(w, "MODE\tDISPATCH\tSEMAPHORE\tSWITCH\tEND\tPER RING")
			modes := []directsubmission.WorkloadMode{
				directsubmission.WorkloadModeImmediate,
				directsubmission.WorkloadModeStoreValue,
				directsubmission.WorkloadModeSilent,
			}
			for _, mode := range modes {
				l := directsubmission.ComputeLayout(disp, mode, disableCacheFlush, disableMonitorFence)
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", mode, l.DispatchSection, l.SemaphoreSection, l.SwitchSection, l.EndSection, l.RingCapacity())
			}
			return w.Flush()
		},
	}
}
