// SPDX-License-Identifier: MIT
package model

import "fmt"

// Outage records a period during which a channel was offline. It opens when
// the failure threshold is crossed and closes on the first recovery.
type Outage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`

	// FirstFailureTS is the start of the failure streak that led here.
	FirstFailureTS int64 `json:"firstFailureTs"`

	// ConfirmedTS is when the threshold was crossed.
	ConfirmedTS int64 `json:"confirmedTs"`

	// RecoveredTS is nil while the outage is open.
	RecoveredTS *int64 `json:"recoveredTs,omitempty"`

	// FailureCount is the streak length at confirmation.
	FailureCount int `json:"failureCount"`

	// Reason is the classification of the confirming failure.
	Reason Classification `json:"reason"`

	// DurationMS is set at close time: RecoveredTS - ConfirmedTS.
	DurationMS *int64 `json:"durationMs,omitempty"`

	// RecoveryLatencyMS carries the latency of the recovering probe.
	RecoveryLatencyMS *int64 `json:"recoveryLatencyMs,omitempty"`
}

// Open reports whether the outage has not yet recovered.
func (o Outage) Open() bool {
	return o.RecoveredTS == nil
}

// Close marks the outage recovered at ts and derives the duration.
func (o *Outage) Close(ts int64, finalLatencyMS *int64) {
	o.RecoveredTS = &ts
	d := ts - o.ConfirmedTS
	o.DurationMS = &d
	o.RecoveryLatencyMS = finalLatencyMS
}

// Validate checks the outage timestamps against the record invariants.
func (o Outage) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("outage requires an id")
	}
	if o.ChannelID == "" {
		return fmt.Errorf("outage requires a channel id")
	}
	if o.ConfirmedTS < o.FirstFailureTS {
		return fmt.Errorf("outage %s: confirmation %d precedes first failure %d", o.ID, o.ConfirmedTS, o.FirstFailureTS)
	}
	if o.RecoveredTS != nil && *o.RecoveredTS <= o.ConfirmedTS {
		return fmt.Errorf("outage %s: recovery %d not after confirmation %d", o.ID, *o.RecoveredTS, o.ConfirmedTS)
	}
	if o.FailureCount < 1 {
		return fmt.Errorf("outage %s: failure count must be >= 1", o.ID)
	}
	return nil
}
