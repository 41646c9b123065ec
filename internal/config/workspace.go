// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/model"
)

// WorkspaceDefaults overrides the host defaults for every channel in the
// document.
type WorkspaceDefaults struct {
	IntervalSec *int `yaml:"intervalSec,omitempty"`
	TimeoutMS   *int `yaml:"timeoutMs,omitempty"`
	Threshold   *int `yaml:"threshold,omitempty"`
	JitterPct   *int `yaml:"jitterPct,omitempty"`
}

// Workspace is the channel document: defaults, guard definitions, and the
// channel list.
type Workspace struct {
	Defaults WorkspaceDefaults `yaml:"defaults,omitempty"`
	Guards   []model.Guard     `yaml:"guards,omitempty"`
	Channels []model.Channel   `yaml:"channels,omitempty"`
}

// LoadWorkspace reads and validates the channel document. Malformed channels
// and guards are excluded with a warning; the rest load normally. A missing
// file yields an empty workspace.
func LoadWorkspace(path string) (Workspace, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-chosen path
	if errors.Is(err, os.ErrNotExist) {
		return Workspace{}, nil
	}
	if err != nil {
		return Workspace{}, fmt.Errorf("read workspace: %w", err)
	}

	var ws Workspace
	if err := yaml.Unmarshal(raw, &ws); err != nil {
		return Workspace{}, fmt.Errorf("parse workspace %s: %w", path, err)
	}
	return ws.validated(), nil
}

// validated drops entries that fail validation or collide on id, keeping
// the remainder usable.
func (ws Workspace) validated() Workspace {
	logger := log.WithComponent("config")
	out := Workspace{Defaults: ws.Defaults}

	seenGuards := make(map[string]bool, len(ws.Guards))
	for _, g := range ws.Guards {
		if err := g.Validate(); err != nil {
			logger.Warn().
				Str(log.FieldEvent, "config.guard_excluded").
				Str(log.FieldGuard, g.ID).
				Err(err).
				Msg("guard excluded from workspace")
			continue
		}
		if seenGuards[g.ID] {
			logger.Warn().
				Str(log.FieldEvent, "config.guard_excluded").
				Str(log.FieldGuard, g.ID).
				Msg("duplicate guard id excluded")
			continue
		}
		seenGuards[g.ID] = true
		out.Guards = append(out.Guards, g)
	}

	seen := make(map[string]bool, len(ws.Channels))
	for _, ch := range ws.Channels {
		if err := ch.Validate(); err != nil {
			logger.Warn().
				Str(log.FieldEvent, "config.channel_excluded").
				Str(log.FieldChannel, ch.ID).
				Err(err).
				Msg("channel excluded from workspace")
			continue
		}
		if seen[ch.ID] {
			logger.Warn().
				Str(log.FieldEvent, "config.channel_excluded").
				Str(log.FieldChannel, ch.ID).
				Msg("duplicate channel id excluded")
			continue
		}
		if bad := unknownGuardRef(ch, seenGuards); bad != "" {
			logger.Warn().
				Str(log.FieldEvent, "config.channel_excluded").
				Str(log.FieldChannel, ch.ID).
				Str(log.FieldGuard, bad).
				Msg("channel references unknown guard")
			continue
		}
		seen[ch.ID] = true
		out.Channels = append(out.Channels, ch)
	}
	return out
}

func unknownGuardRef(ch model.Channel, known map[string]bool) string {
	for _, id := range ch.Guards {
		if !known[id] {
			return id
		}
	}
	return ""
}

// ApplyDefaults fills nil channel overrides from the workspace defaults
// block. The interval default is deliberately not folded in: an explicit
// per-channel interval outranks a global watch, a document-wide default must
// not. DefaultIntervalSec surfaces it at the defaults precedence level
// instead.
func (ws Workspace) ApplyDefaults() []model.Channel {
	channels := make([]model.Channel, len(ws.Channels))
	for i, ch := range ws.Channels {
		if ch.TimeoutMS == nil && ws.Defaults.TimeoutMS != nil {
			v := *ws.Defaults.TimeoutMS
			ch.TimeoutMS = &v
		}
		if ch.Threshold == nil && ws.Defaults.Threshold != nil {
			v := *ws.Defaults.Threshold
			ch.Threshold = &v
		}
		if ch.JitterPct == nil && ws.Defaults.JitterPct != nil {
			v := *ws.Defaults.JitterPct
			ch.JitterPct = &v
		}
		channels[i] = ch
	}
	return channels
}

// DefaultIntervalSec returns the workspace interval default, falling back
// to the host value.
func (ws Workspace) DefaultIntervalSec(host int) int {
	if ws.Defaults.IntervalSec != nil && *ws.Defaults.IntervalSec >= 1 {
		return *ws.Defaults.IntervalSec
	}
	return host
}
