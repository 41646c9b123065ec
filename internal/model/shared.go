// SPDX-License-Identifier: MIT
package model

// LeaderRecord identifies the process holding the coordination lease. The
// same record shape lives in the lock file and the shared-state header.
type LeaderRecord struct {
	PID      int    `json:"pid"`
	WindowID string `json:"windowId"`

	// LeaseTS is the last heartbeat in Unix milliseconds.
	LeaseTS int64 `json:"leaseTs"`
}

// ChannelSnapshot is the per-channel view the leader publishes for
// followers to mirror.
type ChannelSnapshot struct {
	State               State `json:"state"`
	TS                  int64 `json:"ts"`
	ConsecutiveFailures int   `json:"consecutiveFailures"`
}

// SharedState is the leader-published cross-process document. Revision
// advances monotonically with every publish.
type SharedState struct {
	Leader   LeaderRecord               `json:"leader"`
	Channels map[string]ChannelSnapshot `json:"channels"`
	Revision uint64                     `json:"revision"`
}
