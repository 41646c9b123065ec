// SPDX-License-Identifier: MIT

// Package runner owns the per-channel state machine: it gates probes on
// guards and coordination role, counts failure streaks, opens and closes
// outages, persists through the store, and emits the observable events.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netpulse-io/netpulse/internal/events"
	"github.com/netpulse-io/netpulse/internal/guard"
	"github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/metrics"
	"github.com/netpulse-io/netpulse/internal/model"
	"github.com/netpulse-io/netpulse/internal/probe"
	"github.com/netpulse-io/netpulse/internal/store"
)

// DefaultThreshold is the consecutive-failure count that confirms an
// outage when neither channel nor defaults override it.
const DefaultThreshold = 3

// ErrRunInFlight rejects a run while another probe for the same channel is
// still in flight.
var ErrRunInFlight = errors.New("runner: probe already in flight for channel")

// Dispatcher is the probe dispatch contract the runner depends on.
type Dispatcher interface {
	Dispatch(ctx context.Context, spec model.ProbeSpec, timeout time.Duration) model.ProbeResult
}

// GuardEvaluator is the precondition contract the runner depends on.
type GuardEvaluator interface {
	Evaluate(ctx context.Context, ids []string) (bool, map[string]guard.Result)
}

// Options wires a Runner.
type Options struct {
	Store      *store.Store
	Guards     GuardEvaluator
	Dispatcher Dispatcher
	Hub        *events.Hub

	// IsLeader gates durable writes and real probing.
	IsLeader func() bool

	// IsPaused short-circuits runs while a paused watch holds the scheduler.
	IsPaused func() bool

	DefaultThreshold int
	DefaultTimeout   time.Duration
}

// Runner executes probes for channels, one in flight per channel.
type Runner struct {
	store      *store.Store
	guards     GuardEvaluator
	dispatcher Dispatcher
	hub        *events.Hub
	isLeader   func() bool
	isPaused   func() bool

	defaultThreshold int
	defaultTimeout   time.Duration

	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	logger zerolog.Logger
	now    func() time.Time
}

// New creates a runner.
func New(opts Options) *Runner {
	threshold := opts.DefaultThreshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = probe.DefaultTimeout
	}
	isLeader := opts.IsLeader
	if isLeader == nil {
		isLeader = func() bool { return true }
	}
	isPaused := opts.IsPaused
	if isPaused == nil {
		isPaused = func() bool { return false }
	}
	return &Runner{
		store:            opts.Store,
		guards:           opts.Guards,
		dispatcher:       opts.Dispatcher,
		hub:              opts.Hub,
		isLeader:         isLeader,
		isPaused:         isPaused,
		defaultThreshold: threshold,
		defaultTimeout:   timeout,
		inflight:         make(map[string]context.CancelFunc),
		logger:           log.WithComponent("runner"),
		now:              time.Now,
	}
}

func (r *Runner) threshold(ch model.Channel) int {
	if ch.Threshold != nil {
		return *ch.Threshold
	}
	return r.defaultThreshold
}

func (r *Runner) timeout(ch model.Channel) time.Duration {
	if ch.TimeoutMS != nil {
		return time.Duration(*ch.TimeoutMS) * time.Millisecond
	}
	return r.defaultTimeout
}

// InFlight returns the number of channels with a probe in flight.
func (r *Runner) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// CancelAll aborts every in-flight probe. Called on pause, demotion, and
// shutdown.
func (r *Runner) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cancel := range r.inflight {
		cancel()
		r.logger.Debug().
			Str(log.FieldEvent, "runner.cancelled").
			Str(log.FieldChannel, id).
			Msg("in-flight probe cancelled")
	}
}

// Run probes the channel once and applies the state machine. Paused or
// follower runs short-circuit with a synthetic sample that is neither
// persisted nor counted.
func (r *Runner) Run(ctx context.Context, ch model.Channel) (model.Sample, error) {
	ts := r.now().UnixMilli()

	if r.isPaused() {
		return r.skip(ch, ts, "paused"), nil
	}
	if !r.isLeader() {
		return r.skip(ch, ts, "follower"), nil
	}

	runCtx, cancel, err := r.acquire(ctx, ch.ID)
	if err != nil {
		return model.Sample{}, err
	}
	defer r.release(ch.ID, cancel)

	if len(ch.Guards) > 0 {
		if passed, results := r.guards.Evaluate(runCtx, ch.Guards); !passed {
			return r.guardBlocked(runCtx, ch, ts, results)
		}
	}

	result := r.dispatcher.Dispatch(runCtx, ch.Probe, r.timeout(ch))
	sample := result.SampleAt(ts)
	if err := r.apply(runCtx, ch, sample); err != nil {
		return sample, err
	}
	return sample, nil
}

func (r *Runner) acquire(ctx context.Context, channelID string) (context.Context, context.CancelFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[channelID]; busy {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunInFlight, channelID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.inflight[channelID] = cancel
	return runCtx, cancel, nil
}

func (r *Runner) release(channelID string, cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	delete(r.inflight, channelID)
	r.mu.Unlock()
}

// skip builds the synthetic sample for paused/follower short-circuits.
func (r *Runner) skip(ch model.Channel, ts int64, why string) model.Sample {
	metrics.IncSample(ch.ID, "skipped")
	sample := model.Sample{
		TS:      ts,
		Success: false,
		Error:   "probe skipped: " + why,
		Details: map[string]string{"skipped": why},
	}
	r.hub.Samples.Publish(model.SampleEvent{
		ChannelID: ch.ID,
		Sample:    sample,
		State:     r.store.GetState(ch.ID).State,
	})
	return sample
}

// guardBlocked records a guard failure: the sample is classified guard,
// the state reads unknown, and neither the failure counter nor any open
// outage moves.
func (r *Runner) guardBlocked(ctx context.Context, ch model.Channel, ts int64, results map[string]guard.Result) (model.Sample, error) {
	details := make(map[string]string, len(results))
	var failed []string
	for id, res := range results {
		if res.Passed {
			details["guard:"+id] = "passed"
			continue
		}
		details["guard:"+id] = res.Error
		failed = append(failed, id)
	}
	sort.Strings(failed)

	sample := model.Sample{
		TS:      ts,
		Success: false,
		Class:   model.ClassGuard,
		Error:   "guards failed: " + strings.Join(failed, ", "),
		Details: details,
	}

	state := r.store.GetState(ch.ID)
	old := state.State
	if old != model.StateUnknown {
		state.State = model.StateUnknown
		state.LastTransitionTS = ts
	}

	if err := r.persist(ctx, ch.ID, state, sample); err != nil {
		return sample, err
	}
	r.emitSample(ch.ID, sample, state.State)
	if old != state.State {
		r.emitTransition(ch.ID, old, state.State, ts)
	}
	return sample, nil
}

// apply runs the state machine over one real probe outcome and persists
// the result.
func (r *Runner) apply(ctx context.Context, ch model.Channel, sample model.Sample) error {
	state := r.store.GetState(ch.ID)
	old := state.State
	ts := sample.TS

	var opened, closed *model.Outage

	if sample.Success {
		state.ConsecutiveFailures = 0
		state.FirstFailureTS = nil
		if state.State != model.StateOnline {
			state.State = model.StateOnline
			state.LastTransitionTS = ts
		}
		if state.OpenOutageID != "" {
			outage, err := r.store.CloseOutage(ctx, ch.ID, ts, sample.LatencyMS)
			if err != nil && !errors.Is(err, store.ErrNoOpenOutage) {
				return err
			}
			if err == nil {
				closed = &outage
			}
			state.OpenOutageID = ""
		}
	} else {
		state.ConsecutiveFailures++
		if state.FirstFailureTS == nil {
			first := ts
			state.FirstFailureTS = &first
		}
		if state.ConsecutiveFailures >= r.threshold(ch) {
			if state.State != model.StateOffline {
				state.State = model.StateOffline
				state.LastTransitionTS = ts
			}
			if state.OpenOutageID == "" {
				outage := model.Outage{
					ID:             uuid.New().String(),
					ChannelID:      ch.ID,
					FirstFailureTS: *state.FirstFailureTS,
					ConfirmedTS:    ts,
					FailureCount:   state.ConsecutiveFailures,
					Reason:         sample.Class,
				}
				if err := r.store.OpenOutage(ctx, outage); err != nil {
					return err
				}
				state.OpenOutageID = outage.ID
				opened = &outage
			}
		}
	}

	if err := r.persist(ctx, ch.ID, state, sample); err != nil {
		return err
	}

	r.emitSample(ch.ID, sample, state.State)
	if old != state.State {
		r.emitTransition(ch.ID, old, state.State, ts)
	}
	if opened != nil {
		metrics.IncOutageOpened()
		r.hub.OutageStarts.Publish(model.OutageEvent{Outage: *opened})
		r.logger.Warn().
			Str(log.FieldEvent, "runner.outage_start").
			Str(log.FieldChannel, ch.ID).
			Str(log.FieldClass, string(opened.Reason)).
			Int("failure_count", opened.FailureCount).
			Msg("outage confirmed")
	}
	if closed != nil {
		metrics.IncOutageClosed()
		r.hub.OutageEnds.Publish(model.OutageEvent{Outage: *closed})
		r.logger.Info().
			Str(log.FieldEvent, "runner.outage_end").
			Str(log.FieldChannel, ch.ID).
			Int64("duration_ms", *closed.DurationMS).
			Msg("outage recovered")
	}
	return nil
}

func (r *Runner) persist(ctx context.Context, channelID string, state model.ChannelState, sample model.Sample) error {
	state.ChannelID = channelID
	if err := r.store.SetState(ctx, state); err != nil {
		return err
	}
	if err := r.store.AppendSample(ctx, channelID, sample); err != nil {
		return err
	}
	metrics.SetChannelState(channelID, string(state.State))
	metrics.SetFailureStreak(channelID, state.ConsecutiveFailures)
	return nil
}

func (r *Runner) emitSample(channelID string, sample model.Sample, state model.State) {
	outcome := "failure"
	if sample.Success {
		outcome = "success"
	}
	metrics.IncSample(channelID, outcome)
	r.hub.Samples.Publish(model.SampleEvent{ChannelID: channelID, Sample: sample, State: state})
}

func (r *Runner) emitTransition(channelID string, from, to model.State, ts int64) {
	r.logger.Info().
		Str(log.FieldEvent, "runner.state_change").
		Str(log.FieldChannel, channelID).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("channel state changed")
	r.hub.StateChanges.Publish(model.StateChangeEvent{
		ChannelID: channelID,
		OldState:  from,
		NewState:  to,
		TS:        ts,
	})
}
