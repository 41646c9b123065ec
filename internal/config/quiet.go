// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"strings"
	"time"
)

// QuietHoursRange is a daily local-time window such as "22:00-07:00". A
// window whose end precedes its start spans midnight.
type QuietHoursRange struct {
	startMin int
	endMin   int
}

// ParseQuietHours parses "HH:MM-HH:MM".
func ParseQuietHours(s string) (QuietHoursRange, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return QuietHoursRange{}, fmt.Errorf("quiet hours must be HH:MM-HH:MM, got %q", s)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return QuietHoursRange{}, fmt.Errorf("quiet hours start: %w", err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return QuietHoursRange{}, fmt.Errorf("quiet hours end: %w", err)
	}
	if start == end {
		return QuietHoursRange{}, fmt.Errorf("quiet hours window is empty: %q", s)
	}
	return QuietHoursRange{startMin: start, endMin: end}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether t's local wall-clock time falls in the window.
func (r QuietHoursRange) Contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	if r.startMin < r.endMin {
		return minute >= r.startMin && minute < r.endMin
	}
	// Spans midnight: inside before end or after start.
	return minute >= r.startMin || minute < r.endMin
}

// String renders the window back to its configuration form.
func (r QuietHoursRange) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d",
		r.startMin/60, r.startMin%60, r.endMin/60, r.endMin%60)
}
