package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fxnlabs/direct-submission/internal/config"
	"github.com/fxnlabs/direct-submission/internal/logger"
)

const defaultConfigPath = "config.yaml"

func newApp() *cli.App {
	var configPath string

	return &cli.App{
		Name:     "dsctl",
		Usage:    "Drive a direct submission ring on a simulated GPU",
		Metadata: map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Value:       defaultConfigPath,
				Usage:       "Path to the configuration file",
				EnvVars:     []string{"DSCTL_CONFIG"},
				Destination: &configPath,
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(configPath)
			if errors.Is(err, fs.ErrNotExist) {
				cfg = config.Default()
			} else if err != nil {
				return fmt.Errorf("failed to load config %s: %w", configPath, err)
			}
			if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
				return err
			}
			zapLogger, err := logger.New(cfg.Logger.Verbosity)
			if err != nil {
				return err
			}
			c.App.Metadata["config"] = cfg
			c.App.Metadata["logger"] = zapLogger.Named("dsctl")
			return nil
		},
		Commands: []*cli.Command{
			runCommand(),
			diagnoseCommand(),
			layoutCommand(),
			configCommands(),
		},
	}
}

func appConfig(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}

func appLogger(c *cli.Context) *zap.Logger {
	return c.App.Metadata["logger"].(*zap.Logger)
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		if log, ok := app.Metadata["logger"].(*zap.Logger); ok {
			log.Fatal("failed to run app", zap.Error(err))
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
