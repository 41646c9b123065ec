// SPDX-License-Identifier: MIT
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/netpulse-io/netpulse/internal/config"
)

// runConfigCLI handles the `config` subcommands: export and validate.
func runConfigCLI(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: config <export|validate> [flags]")
		return 2
	}

	switch args[0] {
	case "export":
		return runConfigExport(args[1:])
	case "validate":
		return runConfigValidate(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown config subcommand %q\n", args[0])
		return 2
	}
}

// exportedConfig is the effective host configuration as YAML. Env names are
// kept so the export doubles as documentation of what to set.
type exportedConfig struct {
	StateDir       string `yaml:"NETPULSE_STATE_DIR"`
	WorkspaceFile  string `yaml:"NETPULSE_WORKSPACE"`
	IntervalSec    int    `yaml:"NETPULSE_INTERVAL_SEC"`
	TimeoutMS      int    `yaml:"NETPULSE_TIMEOUT_MS"`
	Threshold      int    `yaml:"NETPULSE_THRESHOLD"`
	JitterPct      int    `yaml:"NETPULSE_JITTER_PCT"`
	HighCadenceSec int    `yaml:"NETPULSE_HIGH_CADENCE_SEC"`
	WatchDuration  string `yaml:"NETPULSE_WATCH_DURATION"`
	Coordination   bool   `yaml:"NETPULSE_COORDINATION"`
	QuietHours     string `yaml:"NETPULSE_QUIET_HOURS,omitempty"`
	ScriptsEnabled bool   `yaml:"NETPULSE_SCRIPTS_ENABLED"`
	APIListen      string `yaml:"NETPULSE_API_LISTEN"`
	MetricsListen  string `yaml:"NETPULSE_METRICS_LISTEN"`
	LogLevel       string `yaml:"NETPULSE_LOG_LEVEL"`
}

func runConfigExport(args []string) int {
	fs := flag.NewFlagSet("config export", flag.ExitOnError)
	output := fs.String("output", "", "write to this file instead of stdout (atomic)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	out := exportedConfig{
		StateDir:       cfg.StateDir,
		WorkspaceFile:  cfg.WorkspaceFile,
		IntervalSec:    cfg.DefaultIntervalSec,
		TimeoutMS:      cfg.DefaultTimeoutMS,
		Threshold:      cfg.DefaultThreshold,
		JitterPct:      cfg.DefaultJitterPct,
		HighCadenceSec: cfg.HighCadenceIntervalSec,
		WatchDuration:  cfg.WatchDefaultDuration,
		Coordination:   cfg.CoordinationEnabled,
		QuietHours:     cfg.QuietHoursRange,
		ScriptsEnabled: cfg.ScriptsEnabled,
		APIListen:      cfg.APIListen,
		MetricsListen:  cfg.MetricsListen,
		LogLevel:       cfg.LogLevel,
	}

	raw, err := yaml.Marshal(out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal config: %v\n", err)
		return 1
	}

	if *output == "" {
		fmt.Print(string(raw))
		return 0
	}

	// Atomic replace so a concurrent reader never sees a partial file.
	if err := renameio.WriteFile(*output, raw, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *output, err)
		return 1
	}
	fmt.Printf("exported configuration to %s\n", *output)
	return 0
}

func runConfigValidate(args []string) int {
	fs := flag.NewFlagSet("config validate", flag.ExitOnError)
	workspace := fs.String("workspace", "", "workspace file to validate (default: resolved from env)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	path := *workspace
	if path == "" {
		path = cfg.WorkspaceFile
	}

	ws, err := config.LoadWorkspace(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workspace %s: %v\n", path, err)
		return 1
	}

	fmt.Printf("workspace %s: %d channels, %d guards\n", path, len(ws.Channels), len(ws.Guards))
	return 0
}
