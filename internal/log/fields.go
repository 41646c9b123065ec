// SPDX-License-Identifier: MIT
package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldRunID     = "run_id"
	FieldSessionID = "session_id"
	FieldWindowID  = "window_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Channel / probe fields
	FieldChannel = "channel_id"
	FieldVariant = "variant"
	FieldTarget  = "target"
	FieldOutcome = "outcome"
	FieldClass   = "class"
	FieldGuard   = "guard"
	FieldLatency = "latency_ms"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldRole     = "role"

	// Scheduling fields
	FieldStrategy   = "strategy"
	FieldIntervalMS = "interval_ms"

	// Store fields
	FieldPath    = "path"
	FieldKey     = "key"
	FieldAttempt = "attempt"
	FieldBytes   = "bytes"
)
