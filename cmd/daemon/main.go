// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"

	"github.com/netpulse-io/netpulse/internal/api"
	"github.com/netpulse-io/netpulse/internal/config"
	"github.com/netpulse-io/netpulse/internal/daemon"
	"github.com/netpulse-io/netpulse/internal/engine"
	"github.com/netpulse-io/netpulse/internal/health"
	nplog "github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/platform/httpx"
	"github.com/netpulse-io/netpulse/internal/store"
	"github.com/netpulse-io/netpulse/internal/telemetry"
	"github.com/netpulse-io/netpulse/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "status":
			os.Exit(runStatusCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	envFile := flag.String("env-file", "", "optional .env file loaded before the environment is read")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// A .env file is convenience only; a missing default file is fine.
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load env file %s: %v\n", *envFile, err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	nplog.Configure(nplog.Config{
		Level:   cfg.LogLevel,
		Service: "netpulse",
		Version: version.Version,
	})
	logger := nplog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Enabled {
		logger.Warn().
			Str(nplog.FieldEvent, "startup.disabled").
			Msg("monitoring is disabled (NETPULSE_ENABLED=false); exiting")
		return
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str(nplog.FieldEvent, "startup.check_failed").
			Msg("startup checks failed; verify configuration and permissions")
	}

	logger.Info().
		Str(nplog.FieldEvent, "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.APIListen).
		Msg("starting netpulse")

	// Tracing is opt-in; the provider is a noop when disabled.
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TraceEnabled,
		ServiceName:    "netpulse",
		ServiceVersion: version.Version,
		ExporterType:   cfg.TraceExporter,
		Endpoint:       cfg.TraceEndpoint,
		SamplingRate:   cfg.TraceSampling,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(nplog.FieldEvent, "telemetry.init_failed").
			Msg("failed to initialize tracing")
	}

	st, err := store.New(ctx, cfg.StateDir, store.Options{})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(nplog.FieldEvent, "store.open_failed").
			Str(nplog.FieldPath, cfg.StateDir).
			Msg("failed to open state store")
	}

	eng, err := engine.New(ctx, engineOptions(cfg, st))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(nplog.FieldEvent, "engine.init_failed").
			Msg("failed to build engine")
	}

	app := daemon.NewApp(logger, cfg, eng)

	hm := health.NewManager(version.Version)
	hm.RegisterChecker(health.NewWritableDirChecker("state_dir", cfg.StateDir))
	hm.RegisterChecker(health.NewCoordinationChecker(func() string {
		return string(eng.Role())
	}))
	hm.RegisterChecker(health.NewEngineChecker(eng.ChannelCount, lastProbeTracker(ctx, eng), 0))

	router := api.NewRouter(api.Options{
		Engine:       eng,
		Health:       hm,
		Version:      version.Version,
		ReloadConfig: app.ReloadWorkspace,
	})

	mgr, err := daemon.NewManager(
		daemon.DefaultServerConfig(cfg.APIListen, cfg.MetricsListen),
		daemon.Deps{
			Logger:         logger,
			Engine:         eng,
			APIHandler:     router,
			MetricsHandler: promhttp.Handler(),
		},
	)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(nplog.FieldEvent, "manager.creation_failed").
			Msg("failed to create daemon manager")
	}
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	app.SetManager(mgr)

	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str(nplog.FieldEvent, "daemon.failed").
			Msg("daemon exited with error")
	}

	logger.Info().Msg("netpulse exiting")
}

// engineOptions maps the host configuration onto the engine's settings.
// The workspace interval default, when present, takes the defaults slot.
func engineOptions(cfg config.AppConfig, st *store.Store) engine.Options {
	intervalSec := cfg.DefaultIntervalSec
	if ws, err := config.LoadWorkspace(cfg.WorkspaceFile); err == nil {
		intervalSec = ws.DefaultIntervalSec(intervalSec)
	}

	settings := engine.Settings{
		DefaultIntervalSec:     intervalSec,
		HighCadenceIntervalSec: cfg.HighCadenceIntervalSec,
		DefaultTimeoutMS:       cfg.DefaultTimeoutMS,
		DefaultThreshold:       cfg.DefaultThreshold,
		DefaultJitterPct:       cfg.DefaultJitterPct,
		WatchDefaultDuration:   cfg.WatchDuration(),
		CoordinationEnabled:    cfg.CoordinationEnabled,
		CoordinationDir:        cfg.CoordinationDir,
		ScriptsEnabled:         cfg.ScriptsEnabled,
		Shell:                  cfg.Shell,
		UserAgent:              cfg.UserAgent,
	}
	if quiet := cfg.QuietHours(); quiet != nil {
		settings.QuietHours = quiet.Contains
	}

	return engine.Options{
		Store:    st,
		Settings: settings,
		Client: httpx.NewClient(httpx.Options{
			Timeout:    time.Duration(cfg.DefaultTimeoutMS) * time.Millisecond,
			AllowProxy: cfg.AllowProxy,
		}),
	}
}

// lastProbeTracker follows the sample stream and remembers when a probe
// last completed, feeding the engine health check.
func lastProbeTracker(ctx context.Context, eng *engine.Engine) func() time.Time {
	var last atomic.Int64

	sub := eng.Hub().Samples.Subscribe()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.C():
				last.Store(time.Now().UnixMilli())
			}
		}
	}()

	return func() time.Time {
		ms := last.Load()
		if ms == 0 {
			return time.Time{}
		}
		return time.UnixMilli(ms)
	}
}
