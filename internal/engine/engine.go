// SPDX-License-Identifier: MIT

// Package engine wires the monitoring subsystems into one facade: channel
// registry, on-demand runs, watch session control, event subscriptions, and
// the coordination-aware lifecycle.
package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/netpulse-io/netpulse/internal/coordinate"
	"github.com/netpulse-io/netpulse/internal/events"
	"github.com/netpulse-io/netpulse/internal/guard"
	"github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/model"
	"github.com/netpulse-io/netpulse/internal/probe"
	"github.com/netpulse-io/netpulse/internal/runner"
	"github.com/netpulse-io/netpulse/internal/schedule"
	"github.com/netpulse-io/netpulse/internal/store"
	"github.com/netpulse-io/netpulse/internal/watch"
)

// Defaults for bulk on-demand runs.
const (
	DefaultBulkConcurrency = 8
	DefaultBulkRatePerSec  = 16

	// publishInterval paces the leader's shared-state fallback publishes
	// between state changes.
	publishInterval = 2 * time.Second

	// consentKey is the store custom blob recording script-probe consent.
	consentKey = "script_consent"
)

// Engine errors.
var (
	ErrChannelNotFound = errors.New("engine: channel not found")
	ErrChannelExists   = errors.New("engine: channel already registered")
	ErrScriptsDisabled = errors.New("engine: script probes disabled by host settings")
)

// Settings carries the host configuration the engine needs. The daemon maps
// the loaded config onto this before construction.
type Settings struct {
	DefaultIntervalSec     int
	HighCadenceIntervalSec int
	DefaultTimeoutMS       int
	DefaultThreshold       int
	DefaultJitterPct       int

	WatchDefaultDuration model.WatchDuration

	CoordinationEnabled bool
	CoordinationDir     string
	WindowID            string

	// QuietHours suppresses fishy suggestions; nil means never quiet.
	QuietHours func(time.Time) bool

	ScriptsEnabled bool
	Shell          string
	UserAgent      string

	BulkConcurrency int
	BulkRatePerSec  int

	JanitorInterval time.Duration
}

// Options wires an Engine.
type Options struct {
	Store    *store.Store
	Settings Settings

	// Client overrides the probe HTTP client; nil builds the hardened default.
	Client *http.Client

	// HostTasks runs host-task probes; nil fails them.
	HostTasks probe.HostTaskRunner
}

// consentRecord is the persisted script-probe consent blob.
type consentRecord struct {
	GrantedTS int64 `json:"grantedTs"`
}

// Engine is the in-process facade over the monitoring pipeline.
type Engine struct {
	settings Settings

	store       *store.Store
	hub         *events.Hub
	coordinator *coordinate.Coordinator
	guards      *guard.Evaluator
	dispatcher  *probe.Dispatcher
	runner      *runner.Runner
	scheduler   *schedule.Scheduler
	watch       *watch.Manager
	janitor     *store.Janitor

	mu       sync.Mutex
	channels map[string]model.Channel

	consent atomic.Bool

	bulk        singleflight.Group
	bulkLimiter *rate.Limiter
	bulkWorkers int

	logger zerolog.Logger
}

// New builds the engine and its subsystems. Call Run to start them.
func New(ctx context.Context, opts Options) (*Engine, error) {
	settings := opts.Settings
	if settings.BulkConcurrency <= 0 {
		settings.BulkConcurrency = DefaultBulkConcurrency
	}
	if settings.BulkRatePerSec <= 0 {
		settings.BulkRatePerSec = DefaultBulkRatePerSec
	}

	e := &Engine{
		settings:    settings,
		store:       opts.Store,
		hub:         events.NewHub(),
		channels:    make(map[string]model.Channel),
		bulkLimiter: rate.NewLimiter(rate.Limit(settings.BulkRatePerSec), settings.BulkConcurrency),
		bulkWorkers: settings.BulkConcurrency,
		logger:      log.WithComponent("engine"),
	}

	var rec consentRecord
	if found, err := e.store.GetCustom(ctx, consentKey, &rec); err != nil {
		e.logger.Warn().Err(err).
			Str(log.FieldEvent, "engine.consent_load_failed").
			Msg("could not load script consent record")
	} else if found && rec.GrantedTS > 0 {
		e.consent.Store(true)
	}

	e.coordinator = coordinate.New(coordinate.Options{
		Dir:      coordinationDir(settings, opts.Store),
		Disabled: !settings.CoordinationEnabled,
		WindowID: settings.WindowID,
	})

	e.guards = guard.New(nil)
	e.dispatcher = probe.NewDispatcher(probe.Options{
		Client:         opts.Client,
		UserAgent:      settings.UserAgent,
		Shell:          settings.Shell,
		ScriptsAllowed: e.ScriptsAllowed,
		HostTasks:      opts.HostTasks,
	})

	e.watch = watch.NewManager(watch.Options{
		Store:           e.store,
		Hub:             e.hub,
		DefaultDuration: settings.WatchDefaultDuration,
		QuietHours:      settings.QuietHours,
		OnWatchChange: func() {
			e.scheduler.RescheduleAll()
		},
		OnPauseChange: func(paused bool) {
			e.scheduler.SetPaused(paused)
			if paused {
				e.runner.CancelAll()
			}
		},
	})

	e.runner = runner.New(runner.Options{
		Store:            e.store,
		Guards:           e.guards,
		Dispatcher:       e.dispatcher,
		Hub:              e.hub,
		IsLeader:         e.coordinator.IsLeader,
		IsPaused:         e.watch.Paused,
		DefaultThreshold: settings.DefaultThreshold,
		DefaultTimeout:   time.Duration(settings.DefaultTimeoutMS) * time.Millisecond,
	})

	e.scheduler = schedule.New(schedule.Options{
		DefaultInterval:     time.Duration(settings.DefaultIntervalSec) * time.Second,
		HighCadenceInterval: time.Duration(settings.HighCadenceIntervalSec) * time.Second,
		DefaultJitterPct:    settings.DefaultJitterPct,
		State:               e.store.GetState,
		Watches:             e.watch,
		Run:                 e.scheduledRun,
	})

	e.janitor = store.NewJanitor(e.store, settings.JanitorInterval)

	if err := e.watch.Adopt(ctx); err != nil {
		e.logger.Warn().Err(err).
			Str(log.FieldEvent, "engine.adopt_failed").
			Msg("could not adopt persisted watch session")
	}
	return e, nil
}

func coordinationDir(s Settings, st *store.Store) string {
	if s.CoordinationDir != "" {
		return s.CoordinationDir
	}
	return st.Dir()
}

// Hub exposes the event streams for in-process subscribers.
func (e *Engine) Hub() *events.Hub {
	return e.hub
}

// Role returns the current coordination role.
func (e *Engine) Role() coordinate.Role {
	return e.coordinator.Role()
}

// IsLeader reports whether this process probes and writes durably.
func (e *Engine) IsLeader() bool {
	return e.coordinator.IsLeader()
}

// Run starts every subsystem and blocks until ctx is cancelled, then walks
// the shutdown choreography: cancel in-flight probes, keep the current
// session persisted as still active, and release leadership.
func (e *Engine) Run(ctx context.Context) error {
	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(e.coordinator.Run(runCtx))
	})
	g.Go(func() error {
		return ignoreCanceled(e.watch.Run(runCtx))
	})
	g.Go(func() error {
		e.scheduler.Start(runCtx)
		return nil
	})
	g.Go(func() error {
		e.janitor.Run(runCtx)
		return nil
	})
	g.Go(func() error {
		e.roleLoop(runCtx)
		return nil
	})
	g.Go(func() error {
		e.publishLoop(runCtx)
		return nil
	})
	g.Go(func() error {
		e.mirrorLoop(runCtx)
		return nil
	})

	e.logger.Info().
		Str(log.FieldEvent, "engine.started").
		Int("channels", e.ChannelCount()).
		Msg("engine running")

	err := g.Wait()

	e.runner.CancelAll()
	e.coordinator.Resign()
	e.logger.Info().
		Str(log.FieldEvent, "engine.stopped").
		Msg("engine stopped")
	return err
}

// roleLoop reacts to coordination transitions: a demotion aborts in-flight
// probes immediately so a follower never writes the store.
func (e *Engine) roleLoop(ctx context.Context) {
	sub := e.coordinator.RoleChanges()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-sub.C():
			if change.Old == coordinate.RoleLeader && change.New != coordinate.RoleLeader {
				e.runner.CancelAll()
			}
			if change.New == coordinate.RoleLeader {
				// Fresh leases should converge fast; re-arm every timer.
				e.scheduler.RescheduleAll()
			}
		}
	}
}

// publishLoop pushes the leader's per-channel snapshot to the shared-state
// file on every state change, with a ticker fallback so followers converge
// even on a quiet system.
func (e *Engine) publishLoop(ctx context.Context) {
	sub := e.hub.StateChanges.Subscribe()
	defer sub.Close()

	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.C():
			e.publishSnapshot(ctx)
		case <-ticker.C:
			e.publishSnapshot(ctx)
		}
	}
}

func (e *Engine) publishSnapshot(ctx context.Context) {
	if !e.coordinator.IsLeader() {
		return
	}
	states := e.store.States()
	snaps := make(map[string]model.ChannelSnapshot, len(states))
	for id, st := range states {
		snaps[id] = st.Snapshot()
	}
	if err := e.coordinator.Publish(ctx, snaps); err != nil && !errors.Is(err, coordinate.ErrNotLeader) {
		e.logger.Warn().Err(err).
			Str(log.FieldEvent, "engine.publish_failed").
			Msg("shared-state publish failed")
	}
}

// mirrorLoop translates shared-state revisions observed as follower into
// the same state-change events the runner emits, so local subscribers see
// one stream regardless of role.
func (e *Engine) mirrorLoop(ctx context.Context) {
	sub := e.coordinator.MirrorUpdates()
	defer sub.Close()

	last := make(map[string]model.State)
	for {
		select {
		case <-ctx.Done():
			return
		case upd := <-sub.C():
			e.applyMirror(upd, last)
		}
	}
}

// applyMirror diffs a mirrored snapshot against the previous revision and
// emits state changes for transitions. The first revision seeds the
// baseline silently.
func (e *Engine) applyMirror(upd coordinate.MirrorUpdate, last map[string]model.State) {
	for id, snap := range upd.Channels {
		old, seen := last[id]
		if seen && old != snap.State {
			e.hub.StateChanges.Publish(model.StateChangeEvent{
				ChannelID: id,
				OldState:  old,
				NewState:  snap.State,
				TS:        snap.TS,
			})
		}
		last[id] = snap.State
	}
	for id := range last {
		if _, ok := upd.Channels[id]; !ok {
			delete(last, id)
		}
	}
}

func (e *Engine) scheduledRun(ctx context.Context, ch model.Channel) {
	if _, err := e.runner.Run(ctx, ch); err != nil && !errors.Is(err, runner.ErrRunInFlight) {
		e.logger.Warn().Err(err).
			Str(log.FieldEvent, "engine.run_failed").
			Str(log.FieldChannel, ch.ID).
			Msg("scheduled probe run failed")
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
