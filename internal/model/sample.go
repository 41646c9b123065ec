// SPDX-License-Identifier: MIT
package model

// Sample is one append-only probe outcome.
type Sample struct {
	// TS is the sample timestamp in Unix milliseconds.
	TS int64 `json:"ts"`

	Success bool `json:"success"`

	// LatencyMS is present on success and on measured failures; absent when
	// nothing was measured (guard block, paused, follower).
	LatencyMS *int64 `json:"latencyMs,omitempty"`

	Class   Classification    `json:"class,omitempty"`
	Error   string            `json:"error,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ProbeResult is the uniform outcome contract every probe variant returns.
type ProbeResult struct {
	Success   bool
	LatencyMS *int64
	Class     Classification
	Error     string
	Details   map[string]string
}

// SampleAt converts the result into a sample stamped at ts.
func (r ProbeResult) SampleAt(ts int64) Sample {
	s := Sample{
		TS:        ts,
		Success:   r.Success,
		LatencyMS: r.LatencyMS,
		Error:     r.Error,
		Details:   r.Details,
	}
	if !r.Success {
		s.Class = r.Class
	}
	return s
}

// LatencyMSPtr is a convenience for building optional latencies.
func LatencyMSPtr(ms int64) *int64 {
	return &ms
}
