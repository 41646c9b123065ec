// SPDX-License-Identifier: MIT
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/netpulse-io/netpulse/internal/coordinate"
	"github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/model"
	"github.com/netpulse-io/netpulse/internal/schedule"
)

// ApplyConfig replaces the channel set and guard registry in one step.
// Invalid channels were already excluded at load; this trusts its input.
func (e *Engine) ApplyConfig(channels []model.Channel, guards []model.Guard) {
	e.mu.Lock()
	e.channels = make(map[string]model.Channel, len(channels))
	for _, ch := range channels {
		e.channels[ch.ID] = ch
	}
	list := e.channelListLocked()
	e.mu.Unlock()

	e.guards.SetGuards(guards)
	e.scheduler.SetChannels(list)
	e.logger.Info().
		Str(log.FieldEvent, "engine.config_applied").
		Int("channels", len(list)).
		Int("guards", len(guards)).
		Msg("configuration applied")
}

// RegisterChannel adds one channel at runtime.
func (e *Engine) RegisterChannel(ch model.Channel) error {
	if err := ch.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	if _, exists := e.channels[ch.ID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChannelExists, ch.ID)
	}
	e.channels[ch.ID] = ch
	list := e.channelListLocked()
	e.mu.Unlock()

	e.scheduler.SetChannels(list)
	return nil
}

// DeregisterChannel removes a channel; its persisted history stays.
func (e *Engine) DeregisterChannel(id string) error {
	e.mu.Lock()
	if _, exists := e.channels[id]; !exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	delete(e.channels, id)
	list := e.channelListLocked()
	e.mu.Unlock()

	e.scheduler.SetChannels(list)
	e.watch.UnwatchChannel(id)
	return nil
}

// Channel returns one registered channel definition.
func (e *Engine) Channel(id string) (model.Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.channels[id]
	if !ok {
		return model.Channel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	return ch, nil
}

// Channels enumerates the registered channels sorted by id.
func (e *Engine) Channels() []model.Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channelListLocked()
}

// ChannelCount returns the registry size.
func (e *Engine) ChannelCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.channels)
}

func (e *Engine) channelListLocked() []model.Channel {
	list := make([]model.Channel, 0, len(e.channels))
	for _, ch := range e.channels {
		list = append(list, ch)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// RunChannelNow probes one channel immediately, outside its schedule.
func (e *Engine) RunChannelNow(ctx context.Context, id string) (model.Sample, error) {
	ch, err := e.Channel(id)
	if err != nil {
		return model.Sample{}, err
	}
	return e.runner.Run(ctx, ch)
}

// RunAllNow probes every channel, bounded by the bulk worker pool and rate
// limiter. Concurrent calls coalesce into one sweep.
func (e *Engine) RunAllNow(ctx context.Context) error {
	_, err, _ := e.bulk.Do("run-all", func() (any, error) {
		return nil, e.runAll(ctx)
	})
	return err
}

func (e *Engine) runAll(ctx context.Context) error {
	channels := e.Channels()
	sem := make(chan struct{}, e.bulkWorkers)

	for _, ch := range channels {
		if err := e.bulkLimiter.Wait(ctx); err != nil {
			return err
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		go func(ch model.Channel) {
			defer func() { <-sem }()
			e.scheduledRun(ctx, ch)
		}(ch)
	}
	// Drain: wait for the last workers to hand back their slots.
	for i := 0; i < e.bulkWorkers; i++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// StartWatch opens a watch session.
func (e *Engine) StartWatch(ctx context.Context, dur model.WatchDuration) (model.WatchSession, error) {
	return e.watch.Start(ctx, dur)
}

// StopWatch finalizes the active session.
func (e *Engine) StopWatch(ctx context.Context) (model.WatchSession, error) {
	return e.watch.Stop(ctx)
}

// PauseWatch suspends probing for the active session.
func (e *Engine) PauseWatch(ctx context.Context) error {
	return e.watch.Pause(ctx)
}

// ResumeWatch lifts a watch pause.
func (e *Engine) ResumeWatch(ctx context.Context) error {
	return e.watch.Resume(ctx)
}

// CurrentWatch returns the active session, or nil.
func (e *Engine) CurrentWatch() *model.WatchSession {
	return e.watch.Current()
}

// WatchHistory returns the finalized sessions, newest last.
func (e *Engine) WatchHistory() []model.WatchSession {
	return e.store.SessionHistory()
}

// WatchChannel adds an individual watch on one channel.
func (e *Engine) WatchChannel(id string, dur model.WatchDuration) (model.IndividualWatch, error) {
	if _, err := e.Channel(id); err != nil {
		return model.IndividualWatch{}, err
	}
	return e.watch.WatchChannel(id, dur), nil
}

// UnwatchChannel removes an individual watch.
func (e *Engine) UnwatchChannel(id string) {
	e.watch.UnwatchChannel(id)
}

// IndividualWatches returns the live individual-watch registry.
func (e *Engine) IndividualWatches() map[string]model.IndividualWatch {
	return e.watch.IndividualWatches()
}

// ExplainInterval reports how the channel's next interval was resolved.
func (e *Engine) ExplainInterval(id string) (schedule.Explanation, error) {
	expl, err := e.scheduler.Explain(id)
	if err != nil {
		return schedule.Explanation{}, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	return expl, nil
}

// Samples returns one channel's persisted samples inside [from, to].
func (e *Engine) Samples(id string, from, to int64) ([]model.Sample, error) {
	if _, err := e.Channel(id); err != nil {
		return nil, err
	}
	return e.store.SamplesInWindow(id, from, to), nil
}

// Outages returns a channel's outage records since the given timestamp.
func (e *Engine) Outages(id string, sinceTS int64) []model.Outage {
	return e.store.ListOutages(id, sinceTS)
}

// ScriptsAllowed reports whether task probes may execute: the host flag and
// the persisted consent record must both hold.
func (e *Engine) ScriptsAllowed() bool {
	return e.settings.ScriptsEnabled && e.consent.Load()
}

// GrantScriptConsent records one-time consent for task probes. Fails when
// the host settings disable script probes outright.
func (e *Engine) GrantScriptConsent(ctx context.Context) error {
	if !e.settings.ScriptsEnabled {
		return ErrScriptsDisabled
	}
	if e.consent.Load() {
		return nil
	}
	rec := consentRecord{GrantedTS: time.Now().UnixMilli()}
	if err := e.store.SetCustom(ctx, consentKey, rec); err != nil {
		return fmt.Errorf("persist consent: %w", err)
	}
	e.consent.Store(true)
	e.logger.Info().
		Str(log.FieldEvent, "engine.consent_granted").
		Msg("script probe consent granted")
	return nil
}

// ChannelStatus is one channel's live view in a status report.
type ChannelStatus struct {
	Channel    model.Channel      `json:"channel"`
	State      model.ChannelState `json:"state"`
	OpenOutage *model.Outage      `json:"openOutage,omitempty"`
}

// Status is the engine-wide snapshot served to diagnostic surfaces.
type Status struct {
	Role     coordinate.Role     `json:"role"`
	Revision uint64              `json:"revision,omitempty"`
	Paused   bool                `json:"paused"`
	Watch    *model.WatchSession `json:"watch,omitempty"`
	Channels []ChannelStatus     `json:"channels"`
}

// Status reports every channel's current state. Followers answer from the
// mirrored shared-state snapshot instead of the durable store.
func (e *Engine) Status() Status {
	role := e.coordinator.Role()
	status := Status{
		Role:   role,
		Paused: e.watch.Paused(),
		Watch:  e.watch.Current(),
	}

	var mirror map[string]model.ChannelSnapshot
	if role == coordinate.RoleFollower {
		mirror, status.Revision = e.coordinator.Mirror()
	}

	for _, ch := range e.Channels() {
		cs := ChannelStatus{Channel: ch}
		if mirror != nil {
			snap, ok := mirror[ch.ID]
			if !ok {
				cs.State = model.DefaultChannelState(ch.ID)
			} else {
				cs.State = model.ChannelState{
					ChannelID:           ch.ID,
					State:               snap.State,
					ConsecutiveFailures: snap.ConsecutiveFailures,
					LastTransitionTS:    snap.TS,
				}
			}
		} else {
			cs.State = e.store.GetState(ch.ID)
			if outage, ok := e.store.OpenOutageFor(ch.ID); ok {
				cs.OpenOutage = &outage
			}
		}
		status.Channels = append(status.Channels, cs)
	}
	return status
}
