// SPDX-License-Identifier: MIT
package model

import (
	"fmt"
	"time"
)

// Priority weights a channel for adaptive scheduling.
type Priority string

// Priority constants order channels from most to least urgent.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// String implements fmt.Stringer.
func (p Priority) String() string {
	return string(p)
}

// IsValid checks whether the priority is valid. Empty counts as valid and
// normalizes to medium.
func (p Priority) IsValid() bool {
	switch p {
	case "", PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Normalize maps the empty priority to the medium default.
func (p Priority) Normalize() Priority {
	if p == "" {
		return PriorityMedium
	}
	return p
}

// WatchInterval returns the fixed intensive probing interval used while a
// watch governs the channel.
func (p Priority) WatchInterval() time.Duration {
	switch p.Normalize() {
	case PriorityCritical:
		return 10 * time.Second
	case PriorityHigh:
		return 15 * time.Second
	case PriorityLow:
		return 60 * time.Second
	default:
		return 30 * time.Second
	}
}

// CrisisFactor returns the priority multiplier applied to crisis-mode
// acceleration: urgent channels are probed harder while offline.
func (p Priority) CrisisFactor() float64 {
	switch p.Normalize() {
	case PriorityCritical:
		return 0.5
	case PriorityHigh:
		return 0.75
	case PriorityLow:
		return 1.5
	default:
		return 1.0
	}
}

// ParsePriority parses a string into a Priority.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if !p.IsValid() {
		return "", fmt.Errorf("invalid priority: %q", s)
	}
	return p.Normalize(), nil
}

// AllPriorities returns all defined priorities.
func AllPriorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
}
