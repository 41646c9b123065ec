// SPDX-License-Identifier: MIT
package model

// SampleEvent is emitted for every recorded sample.
type SampleEvent struct {
	ChannelID string `json:"channelId"`
	Sample    Sample `json:"sample"`

	// State is the channel state after the sample was applied.
	State State `json:"state"`
}

// StateChangeEvent is emitted on every channel state transition.
type StateChangeEvent struct {
	ChannelID string `json:"channelId"`
	OldState  State  `json:"oldState"`
	NewState  State  `json:"newState"`
	TS        int64  `json:"ts"`
}

// OutageEvent is emitted when an outage opens or closes.
type OutageEvent struct {
	Outage Outage `json:"outage"`
}

// FishyTrigger names the heuristic that suggested a watch.
type FishyTrigger string

// Fishy trigger constants.
const (
	// FishyConsecutiveFailures fires on >= 3 consecutive failures.
	FishyConsecutiveFailures FishyTrigger = "consecutive-failures"

	// FishyLatencySpike fires when rolling p95 latency exceeds 1200 ms over a
	// 3-minute window holding at least 5 samples.
	FishyLatencySpike FishyTrigger = "latency-spike"

	// FishyNameFailures fires on >= 2 name-resolution failures within 2 minutes.
	FishyNameFailures FishyTrigger = "name-failures"
)

// IsValid checks whether the trigger is a known kind.
func (t FishyTrigger) IsValid() bool {
	switch t {
	case FishyConsecutiveFailures, FishyLatencySpike, FishyNameFailures:
		return true
	default:
		return false
	}
}

// FishyEvent suggests starting a watch session. Emitted at most once per
// channel and trigger until the condition clears.
type FishyEvent struct {
	ChannelID string       `json:"channelId"`
	Trigger   FishyTrigger `json:"trigger"`
	Reason    string       `json:"reason"`
	TS        int64        `json:"ts"`
}
