// SPDX-License-Identifier: MIT

// Package watch implements time-boxed watch sessions, per-channel individual
// watches, and the fishy-sample heuristics that suggest opening one.
package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netpulse-io/netpulse/internal/events"
	"github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/metrics"
	"github.com/netpulse-io/netpulse/internal/model"
	"github.com/netpulse-io/netpulse/internal/store"
)

// Session lifecycle errors.
var (
	ErrWatchActive   = errors.New("watch: session already active")
	ErrNoActiveWatch = errors.New("watch: no active session")
)

// sessionSampleCap bounds the per-channel buffer of an unbounded session.
const sessionSampleCap = 1000

// Options configures a Manager.
type Options struct {
	Store *store.Store
	Hub   *events.Hub

	// DefaultDuration is used when Start is given a zero-valued duration.
	DefaultDuration model.WatchDuration

	// QuietHours suppresses fishy suggestions (and only those) when it
	// returns true for the current wall-clock time. Nil means never quiet.
	QuietHours func(time.Time) bool

	// OnWatchChange fires after any change that affects interval precedence:
	// session start/stop and individual watch add/remove.
	OnWatchChange func()

	// OnPauseChange fires when the active session is paused or resumed.
	OnPauseChange func(paused bool)
}

// Manager owns the current watch session and the individual-watch registry.
// It satisfies the scheduler's watch query and feeds off the sample stream.
type Manager struct {
	store         *store.Store
	hub           *events.Hub
	defaultDur    model.WatchDuration
	quietHours    func(time.Time) bool
	onWatchChange func()
	onPauseChange func(paused bool)

	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	current     *model.WatchSession
	individual  map[string]model.IndividualWatch
	disruptions int
	fishy       *fishyDetector

	// recheck wakes the run loop to re-arm the expiry timer.
	recheck chan struct{}
}

// NewManager builds a Manager. Call Adopt before Run to recover a session
// persisted by a previous process.
func NewManager(opts Options) *Manager {
	dur := opts.DefaultDuration
	if !dur.Forever && dur.MS <= 0 {
		dur = model.WatchDuration{MS: time.Hour.Milliseconds()}
	}
	m := &Manager{
		store:         opts.Store,
		hub:           opts.Hub,
		defaultDur:    dur,
		quietHours:    opts.QuietHours,
		onWatchChange: opts.OnWatchChange,
		onPauseChange: opts.OnPauseChange,
		logger:        log.WithComponent("watch"),
		now:           time.Now,
		individual:    make(map[string]model.IndividualWatch),
		fishy:         newFishyDetector(),
		recheck:       make(chan struct{}, 1),
	}
	return m
}

// Adopt recovers the persisted current session after a restart. A session
// whose deadline already passed, or that was left mid-finalization, is
// finalized; an unexpired one keeps running with its buffers intact.
func (m *Manager) Adopt(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.store.CurrentSession()
	if session == nil {
		return nil
	}
	now := unixMS(m.now())
	if !session.Active() {
		// Crash after EndTS was set but before current was cleared.
		return m.finalizeLocked(ctx, session, *session.EndTS)
	}
	if deadline, ok := session.Deadline(); ok && deadline <= now {
		m.logger.Info().
			Str(log.FieldSessionID, session.ID).
			Str(log.FieldEvent, "watch.adopt_expired").
			Msg("adopted session already past its deadline")
		return m.finalizeLocked(ctx, session, deadline)
	}
	m.current = session
	metrics.SetWatchActive(true)
	m.logger.Info().
		Str(log.FieldSessionID, session.ID).
		Str(log.FieldEvent, "watch.adopted").
		Msg("resumed persisted watch session")
	m.notifyWatchChange()
	return nil
}

// Start opens a new session. A zero duration falls back to the configured
// default.
func (m *Manager) Start(ctx context.Context, dur model.WatchDuration) (model.WatchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return model.WatchSession{}, ErrWatchActive
	}
	if !dur.Forever && dur.MS <= 0 {
		dur = m.defaultDur
	}
	session := &model.WatchSession{
		ID:       uuid.NewString(),
		StartTS:  unixMS(m.now()),
		Duration: dur,
		Samples:  make(map[string][]model.Sample),
	}
	if err := m.store.SetCurrentSession(ctx, session); err != nil {
		return model.WatchSession{}, err
	}
	m.current = session
	m.disruptions = 0
	metrics.IncWatchStarted()
	metrics.SetWatchActive(true)
	m.logger.Info().
		Str(log.FieldSessionID, session.ID).
		Str(log.FieldEvent, "watch.started").
		Str("duration", dur.String()).
		Msg("watch session started")
	m.notifyWatchChange()
	return session.Clone(), nil
}

// Stop finalizes the active session and returns it with stats attached.
func (m *Manager) Stop(ctx context.Context) (model.WatchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return model.WatchSession{}, ErrNoActiveWatch
	}
	session := m.current
	if err := m.finalizeLocked(ctx, session, unixMS(m.now())); err != nil {
		return model.WatchSession{}, err
	}
	return *session, nil
}

// Pause suspends probing for the active session.
func (m *Manager) Pause(ctx context.Context) error {
	return m.setPaused(ctx, true)
}

// Resume lifts a pause.
func (m *Manager) Resume(ctx context.Context) error {
	return m.setPaused(ctx, false)
}

func (m *Manager) setPaused(ctx context.Context, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNoActiveWatch
	}
	if m.current.Paused == paused {
		return nil
	}
	m.current.Paused = paused
	if err := m.store.SetCurrentSession(ctx, m.current); err != nil {
		return err
	}
	m.logger.Info().
		Str(log.FieldSessionID, m.current.ID).
		Bool("paused", paused).
		Str(log.FieldEvent, "watch.pause_changed").
		Msg("watch pause toggled")
	if m.onPauseChange != nil {
		m.onPauseChange(paused)
	}
	return nil
}

// Current returns a copy of the active session, or nil.
func (m *Manager) Current() *model.WatchSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	c := m.current.Clone()
	return &c
}

// Paused reports whether an active session is paused.
func (m *Manager) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.Paused
}

// GlobalWatchActive reports whether a session currently governs intervals.
func (m *Manager) GlobalWatchActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// IndividualWatchActive reports whether the channel has a live individual
// watch.
func (m *Manager) IndividualWatchActive(channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.individual[channelID]
	return ok && w.ActiveAt(unixMS(m.now()))
}

// WatchChannel registers an individual watch on one channel. A zero duration
// makes it unbounded.
func (m *Manager) WatchChannel(channelID string, dur model.WatchDuration) model.IndividualWatch {
	m.mu.Lock()
	w := model.IndividualWatch{
		ChannelID: channelID,
		StartTS:   unixMS(m.now()),
	}
	if !dur.Forever && dur.MS > 0 {
		expire := w.StartTS + dur.MS
		w.ExpireTS = &expire
	}
	m.individual[channelID] = w
	m.mu.Unlock()

	m.logger.Info().
		Str(log.FieldChannel, channelID).
		Str(log.FieldEvent, "watch.channel_added").
		Msg("individual watch added")
	m.notifyWatchChange()
	return w
}

// UnwatchChannel removes an individual watch if present.
func (m *Manager) UnwatchChannel(channelID string) {
	m.mu.Lock()
	_, ok := m.individual[channelID]
	delete(m.individual, channelID)
	m.mu.Unlock()

	if ok {
		m.logger.Info().
			Str(log.FieldChannel, channelID).
			Str(log.FieldEvent, "watch.channel_removed").
			Msg("individual watch removed")
		m.notifyWatchChange()
	}
}

// IndividualWatches returns a copy of the live individual-watch registry.
func (m *Manager) IndividualWatches() map[string]model.IndividualWatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := unixMS(m.now())
	out := make(map[string]model.IndividualWatch, len(m.individual))
	for id, w := range m.individual {
		if w.ActiveAt(now) {
			out[id] = w
		}
	}
	return out
}

// Run consumes the sample and state-change streams, accumulates session
// buffers, evaluates fishy triggers, and expires bounded sessions. Blocks
// until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	samples := m.hub.Samples.Subscribe()
	defer samples.Close()
	changes := m.hub.StateChanges.Subscribe()
	defer changes.Close()

	expiry := time.NewTimer(time.Hour)
	if !expiry.Stop() {
		<-expiry.C
	}
	defer expiry.Stop()

	armed := m.armExpiry(expiry, false)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-samples.C():
			m.handleSample(ctx, ev)
		case ev := <-changes.C():
			m.handleStateChange(ev)
		case <-m.recheck:
			armed = m.armExpiry(expiry, armed)
		case <-expiry.C:
			armed = false
			m.expire(ctx)
			armed = m.armExpiry(expiry, armed)
		}
	}
}

// armExpiry re-arms the timer for the active session's deadline. drained
// tracks whether the timer currently holds an unread fire.
func (m *Manager) armExpiry(t *time.Timer, armed bool) bool {
	if armed && !t.Stop() {
		<-t.C
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return false
	}
	deadline, ok := m.current.Deadline()
	if !ok {
		return false
	}
	wait := time.Duration(deadline-unixMS(m.now())) * time.Millisecond
	if wait < 0 {
		wait = 0
	}
	t.Reset(wait)
	return true
}

// expire finalizes the session once its deadline passes.
func (m *Manager) expire(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	deadline, ok := m.current.Deadline()
	if !ok || deadline > unixMS(m.now()) {
		return
	}
	if err := m.finalizeLocked(ctx, m.current, deadline); err != nil {
		m.logger.Error().Err(err).
			Str(log.FieldEvent, "watch.expire_failed").
			Msg("failed to finalize expired session")
	}
}

func (m *Manager) handleSample(ctx context.Context, ev model.SampleEvent) {
	m.mu.Lock()

	accumulated := false
	if m.current != nil && ev.Sample.Details["skipped"] == "" {
		buf := append(m.current.Samples[ev.ChannelID], ev.Sample)
		if len(buf) > sessionSampleCap {
			buf = buf[len(buf)-sessionSampleCap:]
		}
		m.current.Samples[ev.ChannelID] = buf
		accumulated = true
	}

	var fired []model.FishyEvent
	watched := m.current != nil
	if w, ok := m.individual[ev.ChannelID]; ok && w.ActiveAt(ev.Sample.TS) {
		watched = true
	}
	if !watched {
		fired = m.fishy.observe(ev)
	}
	// Snapshot under the lock: the live session keeps mutating (pause
	// toggles, later samples) while the store marshals.
	var session *model.WatchSession
	if accumulated {
		snap := m.current.Clone()
		session = &snap
	}
	m.mu.Unlock()

	if session != nil {
		if err := m.store.SetCurrentSession(ctx, session); err != nil {
			m.logger.Error().Err(err).
				Str(log.FieldSessionID, session.ID).
				Str(log.FieldEvent, "watch.persist_failed").
				Msg("failed to persist session buffer")
		}
	}
	for _, f := range fired {
		m.emitFishy(f)
	}
}

func (m *Manager) emitFishy(f model.FishyEvent) {
	if m.quietHours != nil && m.quietHours(m.now()) {
		m.logger.Debug().
			Str(log.FieldChannel, f.ChannelID).
			Str("trigger", string(f.Trigger)).
			Str(log.FieldEvent, "watch.fishy_suppressed").
			Msg("fishy trigger suppressed by quiet hours")
		return
	}
	metrics.IncFishy(string(f.Trigger))
	m.logger.Info().
		Str(log.FieldChannel, f.ChannelID).
		Str("trigger", string(f.Trigger)).
		Str("reason", f.Reason).
		Str(log.FieldEvent, "watch.fishy").
		Msg("fishy sample pattern detected")
	m.hub.Fishy.Publish(f)
}

func (m *Manager) handleStateChange(ev model.StateChangeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && ev.OldState == model.StateOnline && ev.NewState != model.StateOnline {
		m.disruptions++
	}
}

// finalizeLocked attaches stats, appends the session to history, and clears
// current. History append precedes the clear so a crash in between is
// recoverable: Adopt dedupes by session id.
func (m *Manager) finalizeLocked(ctx context.Context, session *model.WatchSession, endTS int64) error {
	if session.EndTS == nil {
		session.EndTS = &endTS
	}
	if session.Stats == nil {
		session.Stats = computeStats(session.Samples, m.disruptions)
	}
	if !m.inHistory(session.ID) {
		if err := m.store.AppendSessionHistory(ctx, *session); err != nil {
			return err
		}
	}
	if err := m.store.SetCurrentSession(ctx, nil); err != nil {
		return err
	}
	if m.current != nil && m.current.ID == session.ID {
		m.current = nil
	}
	m.disruptions = 0
	metrics.IncWatchFinalized()
	metrics.SetWatchActive(false)
	m.logger.Info().
		Str(log.FieldSessionID, session.ID).
		Int("samples", session.Stats.TotalSamples).
		Int("failures", session.Stats.Failures).
		Int("disruptions", session.Stats.Disruptions).
		Str(log.FieldEvent, "watch.finalized").
		Msg("watch session finalized")
	m.notifyWatchChange()
	return nil
}

func (m *Manager) inHistory(sessionID string) bool {
	for _, s := range m.store.SessionHistory() {
		if s.ID == sessionID {
			return true
		}
	}
	return false
}

func (m *Manager) notifyWatchChange() {
	select {
	case m.recheck <- struct{}{}:
	default:
	}
	if m.onWatchChange != nil {
		m.onWatchChange()
	}
}

func computeStats(samples map[string][]model.Sample, disruptions int) *model.WatchStats {
	stats := &model.WatchStats{
		Disruptions: disruptions,
		PerChannel:  make(map[string]model.ChannelWatchStats, len(samples)),
	}
	for id, buf := range samples {
		var points []latencyPoint
		cs := model.ChannelWatchStats{Samples: len(buf)}
		for _, s := range buf {
			if !s.Success {
				cs.Failures++
			}
			if s.LatencyMS != nil {
				points = append(points, latencyPoint{ts: s.TS, ms: *s.LatencyMS})
			}
		}
		if len(points) > 0 {
			cs.P50LatencyMS = percentile(points, 50)
			cs.P95LatencyMS = percentile(points, 95)
		}
		stats.TotalSamples += cs.Samples
		stats.Failures += cs.Failures
		stats.PerChannel[id] = cs
	}
	return stats
}

func unixMS(t time.Time) int64 {
	return t.UnixMilli()
}
