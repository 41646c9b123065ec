// SPDX-License-Identifier: MIT

// Package config loads the two configuration sources: host settings from the
// NETPULSE_* environment and the workspace channel document. The merged view
// drives the engine; a reload delivers a fresh channel set without restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	env "github.com/caarlos0/env/v11"

	"github.com/netpulse-io/netpulse/internal/model"
)

// AppConfig is the host-level configuration, resolved from the environment.
type AppConfig struct {
	Enabled bool `env:"NETPULSE_ENABLED" envDefault:"true"`

	// StateDir roots the durable store; empty resolves to the per-user
	// default below the OS state directory.
	StateDir string `env:"NETPULSE_STATE_DIR"`

	// WorkspaceFile is the channel document path; empty resolves next to
	// the state dir.
	WorkspaceFile string `env:"NETPULSE_WORKSPACE"`

	DefaultIntervalSec     int `env:"NETPULSE_INTERVAL_SEC" envDefault:"60"`
	DefaultTimeoutMS       int `env:"NETPULSE_TIMEOUT_MS" envDefault:"5000"`
	DefaultThreshold       int `env:"NETPULSE_THRESHOLD" envDefault:"3"`
	DefaultJitterPct       int `env:"NETPULSE_JITTER_PCT" envDefault:"10"`
	HighCadenceIntervalSec int `env:"NETPULSE_HIGH_CADENCE_SEC" envDefault:"10"`

	// WatchDefaultDuration accepts 1h, 12h, forever, or plain milliseconds.
	WatchDefaultDuration string `env:"NETPULSE_WATCH_DURATION" envDefault:"1h"`

	CoordinationEnabled bool   `env:"NETPULSE_COORDINATION" envDefault:"true"`
	CoordinationDir     string `env:"NETPULSE_COORDINATION_DIR"`

	// QuietHoursRange is "HH:MM-HH:MM" local time and may span midnight.
	// Empty disables quiet hours.
	QuietHoursRange string `env:"NETPULSE_QUIET_HOURS"`

	ReportAutoOpen bool `env:"NETPULSE_REPORT_AUTO_OPEN"`
	ScriptsEnabled bool `env:"NETPULSE_SCRIPTS_ENABLED"`
	AllowProxy     bool `env:"NETPULSE_ALLOW_PROXY"`

	// Shell runs task probes; scripts run through it verbatim.
	Shell     string `env:"NETPULSE_SHELL" envDefault:"/bin/sh"`
	UserAgent string `env:"NETPULSE_USER_AGENT"`

	APIListen     string `env:"NETPULSE_API_LISTEN" envDefault:"127.0.0.1:8484"`
	MetricsListen string `env:"NETPULSE_METRICS_LISTEN" envDefault:"127.0.0.1:9095"`

	LogLevel string `env:"NETPULSE_LOG_LEVEL" envDefault:"info"`

	TraceEnabled  bool    `env:"NETPULSE_TRACE_ENABLED"`
	TraceExporter string  `env:"NETPULSE_TRACE_EXPORTER" envDefault:"grpc"`
	TraceEndpoint string  `env:"NETPULSE_TRACE_ENDPOINT" envDefault:"localhost:4317"`
	TraceSampling float64 `env:"NETPULSE_TRACE_SAMPLING" envDefault:"1.0"`
}

// FromEnv resolves the host configuration and validates it.
func FromEnv() (AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalize() error {
	if c.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return err
		}
		c.StateDir = dir
	}
	if c.WorkspaceFile == "" {
		c.WorkspaceFile = filepath.Join(c.StateDir, "channels.yaml")
	}
	if c.DefaultIntervalSec < 1 {
		return fmt.Errorf("interval must be >= 1s, got %d", c.DefaultIntervalSec)
	}
	if c.DefaultTimeoutMS < 1 {
		return fmt.Errorf("timeout must be >= 1ms, got %d", c.DefaultTimeoutMS)
	}
	if c.DefaultThreshold < 1 {
		return fmt.Errorf("threshold must be >= 1, got %d", c.DefaultThreshold)
	}
	if c.DefaultJitterPct < 0 || c.DefaultJitterPct > 100 {
		return fmt.Errorf("jitter must be within 0-100%%, got %d", c.DefaultJitterPct)
	}
	if c.HighCadenceIntervalSec < 1 {
		return fmt.Errorf("high-cadence interval must be >= 1s, got %d", c.HighCadenceIntervalSec)
	}
	if _, err := model.ParseWatchDuration(c.WatchDefaultDuration); err != nil {
		return fmt.Errorf("watch default duration: %w", err)
	}
	if c.QuietHoursRange != "" {
		if _, err := ParseQuietHours(c.QuietHoursRange); err != nil {
			return err
		}
	}
	return nil
}

// WatchDuration returns the parsed watch default duration.
func (c AppConfig) WatchDuration() model.WatchDuration {
	d, err := model.ParseWatchDuration(c.WatchDefaultDuration)
	if err != nil {
		return model.WatchDuration{MS: 3600_000}
	}
	return d
}

// QuietHours returns the parsed quiet-hours window, or nil when disabled.
func (c AppConfig) QuietHours() *QuietHoursRange {
	if c.QuietHoursRange == "" {
		return nil
	}
	r, err := ParseQuietHours(c.QuietHoursRange)
	if err != nil {
		return nil
	}
	return &r
}

func defaultStateDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("resolve state dir: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "netpulse"), nil
}
