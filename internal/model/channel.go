// SPDX-License-Identifier: MIT

// Package model holds the domain types shared by the monitoring engine:
// channels, guards, samples, outages, watch sessions, and the
// cross-process coordination records.
package model

import "fmt"

// Channel defines one monitored endpoint. Definitions are immutable between
// configuration reloads.
type Channel struct {
	ID    string    `json:"id" yaml:"id"`
	Label string    `json:"label,omitempty" yaml:"label,omitempty"`
	Probe ProbeSpec `json:"probe" yaml:"probe"`

	// Optional overrides; nil falls through to the configured defaults.
	IntervalSec *int `json:"intervalSec,omitempty" yaml:"intervalSec,omitempty"`
	TimeoutMS   *int `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
	Threshold   *int `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	JitterPct   *int `json:"jitterPct,omitempty" yaml:"jitterPct,omitempty"`

	Guards   []string `json:"guards,omitempty" yaml:"guards,omitempty"`
	Priority Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Validate checks the channel definition.
func (c Channel) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("channel requires an id")
	}
	if err := c.Probe.Validate(); err != nil {
		return fmt.Errorf("channel %q: %w", c.ID, err)
	}
	if c.IntervalSec != nil && *c.IntervalSec < 1 {
		return fmt.Errorf("channel %q: interval must be >= 1s", c.ID)
	}
	if c.TimeoutMS != nil && *c.TimeoutMS < 1 {
		return fmt.Errorf("channel %q: timeout must be >= 1ms", c.ID)
	}
	if c.Threshold != nil && *c.Threshold < 1 {
		return fmt.Errorf("channel %q: threshold must be >= 1", c.ID)
	}
	if c.JitterPct != nil && (*c.JitterPct < 0 || *c.JitterPct > 100) {
		return fmt.Errorf("channel %q: jitter must be within 0-100%%", c.ID)
	}
	if !c.Priority.IsValid() {
		return fmt.Errorf("channel %q: invalid priority %q", c.ID, c.Priority)
	}
	return nil
}

// DisplayName returns the label, falling back to the id.
func (c Channel) DisplayName() string {
	if c.Label != "" {
		return c.Label
	}
	return c.ID
}

// GuardVariant selects a guard mechanism.
type GuardVariant string

// Guard variant constants.
const (
	// GuardInterfaceUp passes iff a named network interface exists and is up.
	GuardInterfaceUp GuardVariant = "interface-up"

	// GuardNameResolvable passes iff a hostname resolves within a short timeout.
	GuardNameResolvable GuardVariant = "name-resolvable"
)

// IsValid checks whether the guard variant is valid.
func (v GuardVariant) IsValid() bool {
	switch v {
	case GuardInterfaceUp, GuardNameResolvable:
		return true
	default:
		return false
	}
}

// Guard defines a precondition evaluated before probing a channel.
type Guard struct {
	ID      string       `json:"id" yaml:"id"`
	Variant GuardVariant `json:"variant" yaml:"variant"`

	// Interface names the network interface for interface-up guards.
	Interface string `json:"interface,omitempty" yaml:"interface,omitempty"`

	// Hostname and TimeoutMS configure name-resolvable guards.
	Hostname  string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	TimeoutMS *int   `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
}

// Validate checks the guard definition.
func (g Guard) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("guard requires an id")
	}
	if !g.Variant.IsValid() {
		return fmt.Errorf("guard %q: invalid variant %q", g.ID, g.Variant)
	}
	switch g.Variant {
	case GuardInterfaceUp:
		if g.Interface == "" {
			return fmt.Errorf("guard %q: interface-up requires an interface name", g.ID)
		}
	case GuardNameResolvable:
		if g.Hostname == "" {
			return fmt.Errorf("guard %q: name-resolvable requires a hostname", g.ID)
		}
	}
	if g.TimeoutMS != nil && *g.TimeoutMS < 1 {
		return fmt.Errorf("guard %q: timeout must be >= 1ms", g.ID)
	}
	return nil
}
