package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Unset marks a debug setting that falls back to the built-in default.
const Unset = -1

// DirectSubmission holds the debug settings of the ring submission engine.
// Every value defaults to Unset.
type DirectSubmission struct {
	DisableCpuCacheFlush     int `yaml:"disableCpuCacheFlush"`
	EnableDebugBuffer        int `yaml:"enableDebugBuffer"`
	DisableCacheFlush        int `yaml:"disableCacheFlush"`
	DisableMonitorFence      int `yaml:"disableMonitorFence"`
	DiagnosticExecutionCount int `yaml:"diagnosticExecutionCount"`
	BufferPlacement          int `yaml:"bufferPlacement"`
	SemaphorePlacement       int `yaml:"semaphorePlacement"`
}

type Config struct {
	Logger struct {
		Verbosity string `yaml:"verbosity"`
	} `yaml:"logger"`
	Ring struct {
		Engine                string        `yaml:"engine"`
		RootDeviceIndex       uint32        `yaml:"rootDeviceIndex"`
		DiagnosticWaitTimeout time.Duration `yaml:"diagnosticWaitTimeout"`
	} `yaml:"ring"`
	DirectSubmission DirectSubmission `yaml:"directSubmission"`
	Metrics          struct {
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	cfg := &Config{}
	cfg.Logger.Verbosity = "info"
	cfg.Ring.Engine = "render"
	cfg.Ring.DiagnosticWaitTimeout = time.Second
	cfg.DirectSubmission = DirectSubmission{
		DisableCpuCacheFlush:     Unset,
		EnableDebugBuffer:        Unset,
		DisableCacheFlush:        Unset,
		DisableMonitorFence:      Unset,
		DiagnosticExecutionCount: Unset,
		BufferPlacement:          Unset,
		SemaphorePlacement:       Unset,
	}
	return cfg
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv overrides debug settings from environment variables named after
// the setting, e.g. DirectSubmissionDisableCpuCacheFlush=1.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	settings := map[string]*int{
		"DirectSubmissionDisableCpuCacheFlush":     &c.DirectSubmission.DisableCpuCacheFlush,
		"DirectSubmissionEnableDebugBuffer":        &c.DirectSubmission.EnableDebugBuffer,
		"DirectSubmissionDisableCacheFlush":        &c.DirectSubmission.DisableCacheFlush,
		"DirectSubmissionDisableMonitorFence":      &c.DirectSubmission.DisableMonitorFence,
		"DirectSubmissionDiagnosticExecutionCount": &c.DirectSubmission.DiagnosticExecutionCount,
		"DirectSubmissionBufferPlacement":          &c.DirectSubmission.BufferPlacement,
		"DirectSubmissionSemaphorePlacement":       &c.DirectSubmission.SemaphorePlacement,
	}
	for name, dst := range settings {
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
		*dst = v
	}
	return nil
}

// Flag resolves a boolean debug setting: Unset keeps def, any other value is
// true when it equals 1.
func Flag(v int, def bool) bool {
	if v == Unset {
		return def
	}
	return v == 1
}
