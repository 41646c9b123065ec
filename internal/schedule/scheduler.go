// SPDX-License-Identifier: MIT

// Package schedule decides when each channel probes next. A goroutine per
// channel arms a jittered timer, fires the run callback, and re-arms
// regardless of outcome; state changes trigger an immediate reschedule.
package schedule

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/metrics"
	"github.com/netpulse-io/netpulse/internal/model"
)

// Default cadence settings.
const (
	DefaultInterval    = 60 * time.Second
	DefaultHighCadence = 10 * time.Second
	DefaultJitterPct   = 10
)

// ErrChannelNotFound is returned for operations on an unscheduled channel.
var ErrChannelNotFound = errors.New("schedule: channel not found")

// WatchQuery is the pull-only view of the session manager the scheduler
// needs for precedence resolution.
type WatchQuery interface {
	GlobalWatchActive() bool
	IndividualWatchActive(channelID string) bool
}

// RunFunc executes one probe for the channel. Errors are the runner's to
// report; the scheduler re-arms either way.
type RunFunc func(ctx context.Context, ch model.Channel)

// Options wires a Scheduler.
type Options struct {
	DefaultInterval     time.Duration
	HighCadenceInterval time.Duration
	DefaultJitterPct    int

	// State supplies the channel state driving the adaptive layer.
	State func(channelID string) model.ChannelState

	// Watches answers precedence queries.
	Watches WatchQuery

	// Run fires the probe.
	Run RunFunc
}

// Scheduler owns one timer loop per channel.
type Scheduler struct {
	defaultInterval time.Duration
	highCadence     time.Duration
	defaultJitter   int

	state   func(channelID string) model.ChannelState
	watches WatchQuery
	run     RunFunc

	mu      sync.Mutex
	loops   map[string]*loop
	started bool
	ctx     context.Context

	paused atomic.Bool

	rngMu sync.Mutex
	rng   *rand.Rand

	logger zerolog.Logger
}

type loop struct {
	ch         model.Channel
	cancel     context.CancelFunc
	reschedule chan struct{}
	done       chan struct{}

	// launched flips under Scheduler.mu; done closes only for launched
	// loops, so drains must skip the rest.
	launched bool
}

// alwaysOff satisfies WatchQuery when no session manager is wired.
type alwaysOff struct{}

func (alwaysOff) GlobalWatchActive() bool           { return false }
func (alwaysOff) IndividualWatchActive(string) bool { return false }

// New creates a scheduler. Start must be called before channels fire.
func New(opts Options) *Scheduler {
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = DefaultInterval
	}
	if opts.HighCadenceInterval <= 0 {
		opts.HighCadenceInterval = DefaultHighCadence
	}
	if opts.DefaultJitterPct < 0 || opts.DefaultJitterPct > 100 {
		opts.DefaultJitterPct = DefaultJitterPct
	}
	if opts.State == nil {
		opts.State = func(id string) model.ChannelState { return model.DefaultChannelState(id) }
	}
	if opts.Watches == nil {
		opts.Watches = alwaysOff{}
	}
	return &Scheduler{
		defaultInterval: opts.DefaultInterval,
		highCadence:     opts.HighCadenceInterval,
		defaultJitter:   opts.DefaultJitterPct,
		state:           opts.State,
		watches:         opts.Watches,
		run:             opts.Run,
		loops:           make(map[string]*loop),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:          log.WithComponent("schedule"),
	}
}

// Start arms the loops for the current channel set. Blocks until ctx is
// cancelled and every loop has drained.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.started = true
	s.ctx = ctx
	for _, l := range s.loops {
		if !l.launched {
			s.launchLocked(ctx, l)
		}
	}
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	s.started = false
	remaining := make([]*loop, 0, len(s.loops))
	for _, l := range s.loops {
		if l.launched {
			remaining = append(remaining, l)
		}
	}
	s.mu.Unlock()
	for _, l := range remaining {
		<-l.done
	}
}

// launchLocked starts the loop goroutine. Caller holds s.mu: the
// cancel/launched transition and the started flag must move together.
func (s *Scheduler) launchLocked(ctx context.Context, l *loop) {
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.launched = true
	go s.runLoop(loopCtx, l)
}

// SetChannels replaces the scheduled channel set on configuration reload.
// Removed channels stop; new channels start; changed definitions restart
// with the new spec.
func (s *Scheduler) SetChannels(channels []model.Channel) {
	byID := make(map[string]model.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}

	s.mu.Lock()
	var stopped []*loop
	for id, l := range s.loops {
		if _, keep := byID[id]; !keep {
			if l.launched {
				l.cancel()
				stopped = append(stopped, l)
			}
			delete(s.loops, id)
		}
	}
	for id, ch := range byID {
		if l, ok := s.loops[id]; ok {
			l.ch = ch
			s.signal(l)
			continue
		}
		l := &loop{
			ch:         ch,
			reschedule: make(chan struct{}, 1),
			done:       make(chan struct{}),
		}
		s.loops[id] = l
		if s.started {
			s.launchLocked(s.ctx, l)
		}
	}
	s.mu.Unlock()

	for _, l := range stopped {
		<-l.done
	}
}

// Reschedule recomputes the channel's timer immediately. Wired to
// state-change events so a new state reflects in the cadence at once.
func (s *Scheduler) Reschedule(channelID string) {
	s.mu.Lock()
	l, ok := s.loops[channelID]
	if ok {
		s.signal(l)
	}
	s.mu.Unlock()
}

// RescheduleAll recomputes every channel's timer; used when a watch
// starts or stops.
func (s *Scheduler) RescheduleAll() {
	s.mu.Lock()
	for _, l := range s.loops {
		s.signal(l)
	}
	s.mu.Unlock()
}

func (s *Scheduler) signal(l *loop) {
	select {
	case l.reschedule <- struct{}{}:
	default:
	}
}

// SetPaused suspends or resumes firing. While paused, timers re-arm
// without running.
func (s *Scheduler) SetPaused(paused bool) {
	s.paused.Store(paused)
}

// Paused reports the pause flag.
func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// Explain resolves the channel's interval and reports how it was derived.
func (s *Scheduler) Explain(channelID string) (Explanation, error) {
	s.mu.Lock()
	l, ok := s.loops[channelID]
	var ch model.Channel
	if ok {
		ch = l.ch
	}
	s.mu.Unlock()
	if !ok {
		return Explanation{}, ErrChannelNotFound
	}
	return s.resolve(ch), nil
}

func (s *Scheduler) jitterPct(ch model.Channel) int {
	if ch.JitterPct != nil {
		return *ch.JitterPct
	}
	return s.defaultJitter
}

// jittered multiplies the interval by 1 + U(-jitter%, +jitter%).
func (s *Scheduler) jittered(d time.Duration, jitterPct int) time.Duration {
	if jitterPct <= 0 {
		return d
	}
	s.rngMu.Lock()
	u := s.rng.Float64()*2 - 1
	s.rngMu.Unlock()
	return time.Duration(float64(d) * (1 + u*float64(jitterPct)/100))
}

func (s *Scheduler) runLoop(ctx context.Context, l *loop) {
	defer close(l.done)
	for {
		s.mu.Lock()
		ch := l.ch
		s.mu.Unlock()

		e := s.resolve(ch)
		interval := s.jittered(e.FinalInterval, e.JitterPct)
		metrics.SetScheduleInterval(ch.ID, interval.Seconds())
		metrics.IncStrategy(string(e.Strategy))

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-l.reschedule:
			timer.Stop()
			continue
		case <-timer.C:
		}

		if s.paused.Load() {
			continue
		}
		s.fire(ctx, ch)
	}
}

// fire runs one probe, never letting a panic or error disturb the loop.
func (s *Scheduler) fire(ctx context.Context, ch model.Channel) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error().
				Str(log.FieldEvent, "schedule.run_panic").
				Str(log.FieldChannel, ch.ID).
				Interface("panic_value", rec).
				Msg("probe run panicked, timer re-armed")
		}
	}()
	if s.run != nil {
		s.run(ctx, ch)
	}
}
