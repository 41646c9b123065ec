// SPDX-License-Identifier: MIT
package model

import (
	"fmt"
	"strconv"
	"time"
)

// WatchDuration is the requested length of a watch session: either a finite
// millisecond count or unbounded.
type WatchDuration struct {
	Forever bool  `json:"forever,omitempty"`
	MS      int64 `json:"ms,omitempty"`
}

// ParseWatchDuration accepts "forever", a plain integer (milliseconds), or a
// Go duration string such as "1h" or "12h".
func ParseWatchDuration(s string) (WatchDuration, error) {
	if s == "forever" {
		return WatchDuration{Forever: true}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 1 {
			return WatchDuration{}, fmt.Errorf("watch duration must be positive: %q", s)
		}
		return WatchDuration{MS: ms}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return WatchDuration{}, fmt.Errorf("invalid watch duration %q", s)
	}
	if d < time.Millisecond {
		return WatchDuration{}, fmt.Errorf("watch duration must be positive: %q", s)
	}
	return WatchDuration{MS: d.Milliseconds()}, nil
}

// String renders the duration back to its configuration form.
func (d WatchDuration) String() string {
	if d.Forever {
		return "forever"
	}
	return time.Duration(d.MS * int64(time.Millisecond)).String()
}

// DeadlineFrom computes the session end for a start timestamp. ok is false
// for unbounded sessions.
func (d WatchDuration) DeadlineFrom(startTS int64) (int64, bool) {
	if d.Forever {
		return 0, false
	}
	return startTS + d.MS, true
}

// ChannelWatchStats summarizes one channel's samples inside a finalized
// session.
type ChannelWatchStats struct {
	Samples      int   `json:"samples"`
	Failures     int   `json:"failures"`
	P50LatencyMS int64 `json:"p50LatencyMs"`
	P95LatencyMS int64 `json:"p95LatencyMs"`
}

// WatchStats is computed once at session finalization.
type WatchStats struct {
	TotalSamples int `json:"totalSamples"`
	Failures     int `json:"failures"`

	// Disruptions counts state transitions away from online during the window.
	Disruptions int `json:"disruptions"`

	PerChannel map[string]ChannelWatchStats `json:"perChannel,omitempty"`
}

// WatchSession is a time-boxed intensified monitoring window.
type WatchSession struct {
	ID      string `json:"id"`
	StartTS int64  `json:"startTs"`

	// EndTS is nil while the session is active.
	EndTS *int64 `json:"endTs,omitempty"`

	Duration WatchDuration `json:"duration"`
	Paused   bool          `json:"paused,omitempty"`

	// Samples accumulates per-channel outcomes observed during the window.
	Samples map[string][]Sample `json:"samples"`

	// Stats is attached exactly once at finalization.
	Stats *WatchStats `json:"stats,omitempty"`
}

// Active reports whether the session has not been finalized.
func (s WatchSession) Active() bool {
	return s.EndTS == nil
}

// Deadline returns the scheduled end timestamp; ok is false for unbounded
// sessions.
func (s WatchSession) Deadline() (int64, bool) {
	return s.Duration.DeadlineFrom(s.StartTS)
}

// Clone returns a deep copy that shares no memory with the receiver.
func (s WatchSession) Clone() WatchSession {
	c := s
	if s.EndTS != nil {
		end := *s.EndTS
		c.EndTS = &end
	}
	if s.Samples != nil {
		c.Samples = make(map[string][]Sample, len(s.Samples))
		for id, buf := range s.Samples {
			c.Samples[id] = append([]Sample(nil), buf...)
		}
	}
	if s.Stats != nil {
		stats := *s.Stats
		if s.Stats.PerChannel != nil {
			stats.PerChannel = make(map[string]ChannelWatchStats, len(s.Stats.PerChannel))
			for id, cs := range s.Stats.PerChannel {
				stats.PerChannel[id] = cs
			}
		}
		c.Stats = &stats
	}
	return c
}

// IndividualWatch intensifies a single channel without opening a session.
type IndividualWatch struct {
	ChannelID string `json:"channelId"`
	StartTS   int64  `json:"startTs"`

	// ExpireTS is nil for unbounded individual watches.
	ExpireTS *int64 `json:"expireTs,omitempty"`
}

// ActiveAt reports whether the watch still governs its channel at ts.
func (w IndividualWatch) ActiveAt(ts int64) bool {
	return w.ExpireTS == nil || *w.ExpireTS > ts
}
