package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fxnlabs/direct-submission/fixtures"
)

func configCommands() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect or create configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective configuration",
				Action: func(c *cli.Context) error {
					out, err := yaml.Marshal(appConfig(c))
					if err != nil {
						return err
					}
					_, err = c.App.Writer.Write(out)
					return err
				},
			},
			{
				Name:  "init",
				Usage: "Write the default configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Value: defaultConfigPath, Usage: "Destination path"},
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
				Action: func(c *cli.Context) error {
					path := c.String("output")
					if _, err := os.Stat(path); err == nil && !c.Bool("force") {
						return fmt.Errorf("%s already exists", path)
					} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
						return err
					}
					if err := os.WriteFile(path, fixtures.ConfigTemplate, 0o644); err != nil {
						return err
					}
					appLogger(c).Info("Wrote configuration", zap.String("path", path))
					return nil
				},
			},
		},
	}
}
