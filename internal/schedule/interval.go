// SPDX-License-Identifier: MIT
package schedule

import (
	"fmt"
	"time"

	"github.com/netpulse-io/netpulse/internal/model"
)

// Strategy names the adaptive policy that produced an interval.
type Strategy string

// Adaptive strategies.
const (
	// StrategyWatch pins the fixed intensive cadence while a watch governs.
	StrategyWatch Strategy = "watch"

	// StrategyCrisis accelerates probing while a channel is offline so
	// recovery is detected sooner.
	StrategyCrisis Strategy = "crisis"

	// StrategyRecovery probes slightly faster while a failure streak is
	// still unconfirmed.
	StrategyRecovery Strategy = "recovery"

	// StrategyStable is the healthy-channel base cadence.
	StrategyStable Strategy = "stable"
)

// Source names the precedence level that supplied the base interval.
type Source string

// Interval precedence levels, highest first.
const (
	SourceChannelWatch  Source = "channel-watch"
	SourceChannelConfig Source = "channel-config"
	SourceGlobalWatch   Source = "global-watch"
	SourceDefaults      Source = "defaults"
)

// Interval floors and cap.
const (
	crisisFloor   = 10 * time.Second
	recoveryFloor = 15 * time.Second
	stableCap     = 600 * time.Second
)

// Explanation is the human-readable record of one interval resolution.
// FinalInterval is pre-jitter; the armed timer additionally applies
// ±JitterPct.
type Explanation struct {
	ChannelID     string        `json:"channelId"`
	Source        Source        `json:"source"`
	BaseInterval  time.Duration `json:"baseInterval"`
	Multiplier    float64       `json:"multiplier"`
	Strategy      Strategy      `json:"strategy"`
	Reason        string        `json:"reason"`
	FinalInterval time.Duration `json:"finalInterval"`
	JitterPct     int           `json:"jitterPct"`
}

// resolve walks the four-level precedence hierarchy and applies the
// adaptive layer. While a watch governs the channel no adaptive
// adjustment is made on top.
func (s *Scheduler) resolve(ch model.Channel) Explanation {
	priority := ch.Priority.Normalize()
	e := Explanation{
		ChannelID:  ch.ID,
		Multiplier: 1,
		JitterPct:  s.jitterPct(ch),
	}

	switch {
	case s.watches.IndividualWatchActive(ch.ID):
		e.Source = SourceChannelWatch
		e.Strategy = StrategyWatch
		e.BaseInterval = priority.WatchInterval()
		e.Reason = fmt.Sprintf("individual watch pins the %s intensive interval", priority)
	case ch.IntervalSec != nil:
		e.Source = SourceChannelConfig
		e.BaseInterval = time.Duration(*ch.IntervalSec) * time.Second
		e.Reason = "channel interval override"
	case s.watches.GlobalWatchActive():
		e.Source = SourceGlobalWatch
		e.Strategy = StrategyWatch
		e.BaseInterval = s.highCadence
		e.Reason = "global watch high cadence"
	default:
		e.Source = SourceDefaults
		e.BaseInterval = s.defaultInterval
		e.Reason = "system default interval"
	}

	if e.Strategy == StrategyWatch {
		e.FinalInterval = e.BaseInterval
		return e
	}

	state := s.state(ch.ID)
	switch {
	case state.State == model.StateOffline:
		e.Strategy = StrategyCrisis
		mult := 1.0 / float64(state.ConsecutiveFailures/3+2)
		if mult < 0.25 {
			mult = 0.25
		}
		mult *= priority.CrisisFactor()
		e.Multiplier = mult
		e.FinalInterval = floorDuration(scale(e.BaseInterval, mult), crisisFloor)
		e.Reason = fmt.Sprintf("offline with %d consecutive failures, probing accelerated", state.ConsecutiveFailures)
	case state.ConsecutiveFailures > 0:
		e.Strategy = StrategyRecovery
		mult := 1 - 0.1*float64(state.ConsecutiveFailures)
		if mult < 0.7 {
			mult = 0.7
		}
		e.Multiplier = mult
		e.FinalInterval = floorDuration(scale(e.BaseInterval, mult), recoveryFloor)
		e.Reason = fmt.Sprintf("unconfirmed failure streak of %d", state.ConsecutiveFailures)
	default:
		e.Strategy = StrategyStable
		e.FinalInterval = e.BaseInterval
		if e.FinalInterval > stableCap {
			e.FinalInterval = stableCap
			e.Reason += " (capped)"
		}
	}
	return e
}

func scale(d time.Duration, mult float64) time.Duration {
	return time.Duration(float64(d) * mult)
}

func floorDuration(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}
