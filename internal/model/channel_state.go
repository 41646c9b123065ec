// SPDX-License-Identifier: MIT
package model

// ChannelState is the mutable per-channel record owned by the channel
// runner. It survives channel removal from configuration.
type ChannelState struct {
	ChannelID string `json:"channelId"`
	State     State  `json:"state"`

	// ConsecutiveFailures counts the current failure streak.
	ConsecutiveFailures int `json:"consecutiveFailures"`

	// FirstFailureTS marks the start of the current streak, cleared on success.
	FirstFailureTS *int64 `json:"firstFailureTs,omitempty"`

	// LastTransitionTS records when State last changed.
	LastTransitionTS int64 `json:"lastTransitionTs"`

	// OpenOutageID references the currently open outage, if any.
	OpenOutageID string `json:"openOutageId,omitempty"`
}

// DefaultChannelState returns the unknown state a channel starts in.
func DefaultChannelState(channelID string) ChannelState {
	return ChannelState{
		ChannelID: channelID,
		State:     StateUnknown,
	}
}

// Snapshot reduces the state to its cross-process published form.
func (s ChannelState) Snapshot() ChannelSnapshot {
	return ChannelSnapshot{
		State:               s.State,
		TS:                  s.LastTransitionTS,
		ConsecutiveFailures: s.ConsecutiveFailures,
	}
}
