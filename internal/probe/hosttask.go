// SPDX-License-Identifier: MIT
package probe

import (
	"context"
	"strconv"
	"time"

	"github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/model"
)

// HostTaskEvent is a lifecycle edge observed while a host task runs.
type HostTaskEvent string

// Host task lifecycle events.
const (
	HostTaskStart        HostTaskEvent = "start"
	HostTaskProcessStart HostTaskEvent = "process-start"
	HostTaskProcessEnd   HostTaskEvent = "process-end"
)

// HostTaskRunner dispatches a named task to the embedding host. The runner
// reports lifecycle edges through observe and returns the task's exit code.
// Hosts without cancellation support may keep the task running past the
// probe deadline; the probe still reports a timeout.
type HostTaskRunner interface {
	Run(ctx context.Context, label string, observe func(HostTaskEvent)) (exitCode int, err error)
}

type hostTaskOutcome struct {
	exitCode int
	err      error
}

// hostTask dispatches the named host task and maps exit code 0 to success.
// On deadline the result is a timeout while the task continues in the
// background; its eventual exit is logged.
func (d *Dispatcher) hostTask(ctx context.Context, spec *model.HostTaskProbe) model.ProbeResult {
	if d.hostTasks == nil {
		return model.ProbeResult{
			Success: false,
			Class:   model.ClassTask,
			Error:   "no host task runner configured",
		}
	}

	start := time.Now()
	events := make(chan HostTaskEvent, 8)
	done := make(chan hostTaskOutcome, 1)
	go func() {
		code, err := d.hostTasks.Run(ctx, spec.Label, func(ev HostTaskEvent) {
			select {
			case events <- ev:
			default:
			}
		})
		close(events)
		done <- hostTaskOutcome{exitCode: code, err: err}
	}()

	seen := make(map[string]string)
	for {
		select {
		case ev, ok := <-events:
			if ok {
				seen[string(ev)] = strconv.FormatInt(time.Since(start).Milliseconds(), 10)
				continue
			}
			events = nil
		case outcome := <-done:
			// events is closed before done is sent; drain the buffer so no
			// lifecycle edge is lost.
			if events != nil {
				for ev := range events {
					seen[string(ev)] = strconv.FormatInt(time.Since(start).Milliseconds(), 10)
				}
			}
			return d.hostTaskResult(spec.Label, outcome, start, seen)
		case <-ctx.Done():
			// The host task keeps running; there is no portable cancel.
			d.logger.Warn().
				Str(log.FieldEvent, "probe.host_task_timeout").
				Str(log.FieldTarget, spec.Label).
				Msg("host task exceeded deadline and may still be running")
			go func() {
				outcome := <-done
				d.logger.Debug().
					Str(log.FieldEvent, "probe.host_task_late_exit").
					Str(log.FieldTarget, spec.Label).
					Int("exit_code", outcome.exitCode).
					Msg("timed-out host task finished")
			}()
			return model.ProbeResult{
				Success:   false,
				LatencyMS: model.LatencyMSPtr(time.Since(start).Milliseconds()),
				Class:     model.ClassTimeout,
				Error:     "host task deadline exceeded",
				Details:   seen,
			}
		}
	}
}

func (d *Dispatcher) hostTaskResult(label string, outcome hostTaskOutcome, start time.Time, seen map[string]string) model.ProbeResult {
	latency := time.Since(start).Milliseconds()
	if outcome.err != nil {
		return model.ProbeResult{
			Success:   false,
			LatencyMS: model.LatencyMSPtr(latency),
			Class:     model.ClassTask,
			Error:     outcome.err.Error(),
			Details:   seen,
		}
	}
	seen["exit_code"] = strconv.Itoa(outcome.exitCode)
	if outcome.exitCode != 0 {
		return model.ProbeResult{
			Success:   false,
			LatencyMS: model.LatencyMSPtr(latency),
			Class:     model.ClassTask,
			Error:     "host task " + label + " exited " + strconv.Itoa(outcome.exitCode),
			Details:   seen,
		}
	}
	return model.ProbeResult{
		Success:   true,
		LatencyMS: model.LatencyMSPtr(latency),
		Details:   seen,
	}
}
