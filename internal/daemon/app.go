// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/netpulse-io/netpulse/internal/config"
	"github.com/netpulse-io/netpulse/internal/engine"
	"github.com/netpulse-io/netpulse/internal/log"
)

// App owns the long-lived runtime lifecycle: the engine, the workspace
// watcher, reload wiring, and the server manager.
type App struct {
	logger       zerolog.Logger
	cfg          config.AppConfig
	engine       *engine.Engine
	manager      Manager
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. The manager is attached separately
// because the API handler it serves needs the App's reload hook first.
func NewApp(logger zerolog.Logger, cfg config.AppConfig, eng *engine.Engine) *App {
	return &App{
		logger:       logger.With().Str(log.FieldComponent, "app").Logger(),
		cfg:          cfg,
		engine:       eng,
		reloadSignal: syscall.SIGHUP,
	}
}

// SetManager attaches the server manager before Run.
func (a *App) SetManager(m Manager) {
	a.manager = m
}

// ReloadWorkspace re-reads the workspace document and applies it to the
// engine. Invalid entries are excluded at load time; the rest apply.
func (a *App) ReloadWorkspace(ctx context.Context) error {
	ws, err := config.LoadWorkspace(a.cfg.WorkspaceFile)
	if err != nil {
		return fmt.Errorf("reload workspace: %w", err)
	}
	a.applyWorkspace(ws)
	return nil
}

func (a *App) applyWorkspace(ws config.Workspace) {
	channels := ws.ApplyDefaults()
	a.engine.ApplyConfig(channels, ws.Guards)
	a.logger.Info().
		Str(log.FieldEvent, "config.applied").
		Int("channels", len(channels)).
		Int("guards", len(ws.Guards)).
		Msg("workspace applied to engine")
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	// Initial workspace load before anything probes.
	if err := a.ReloadWorkspace(ctx); err != nil {
		a.logger.Warn().Err(err).
			Str(log.FieldEvent, "config.initial_load_failed").
			Msg("starting without workspace channels")
	}

	g, ctx := errgroup.WithContext(ctx)

	// Engine lifecycle (scheduler, coordination, watch sessions, janitor).
	g.Go(func() error {
		if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	})

	// Workspace watcher is best-effort: a watch failure must not take the
	// daemon down.
	g.Go(func() error {
		err := config.WatchWorkspace(ctx, a.cfg.WorkspaceFile, a.applyWorkspace)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn().Err(err).
				Str(log.FieldEvent, "config.watcher_failed").
				Msg("workspace watcher stopped; edits require manual reload")
		}
		return nil
	})

	// SIGHUP trigger for manual reload.
	if a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading workspace")

					if err := a.ReloadWorkspace(context.Background()); err != nil {
						a.logger.Warn().
							Err(err).
							Str(log.FieldEvent, "config.reload_failed").
							Msg("workspace reload failed")
					}
				}
			}
		})
	}

	// Server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
