// SPDX-License-Identifier: MIT

package model

import (
	"encoding/json"
	"testing"
)

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"online valid", StateOnline, true},
		{"offline valid", StateOffline, true},
		{"unknown valid", StateUnknown, true},
		{"invalid empty", State(""), false},
		{"invalid degraded", State("degraded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.want {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestState_UnmarshalJSON(t *testing.T) {
	var s State
	if err := json.Unmarshal([]byte(`"offline"`), &s); err != nil {
		t.Fatalf("unmarshal valid state: %v", err)
	}
	if s != StateOffline {
		t.Errorf("got %v, want offline", s)
	}

	if err := json.Unmarshal([]byte(`"bogus"`), &s); err == nil {
		t.Error("expected error for invalid state")
	}
}

func TestClassification_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		class Classification
		want  bool
	}{
		{"empty valid on success", Classification(""), true},
		{"timeout", ClassTimeout, true},
		{"name-resolution", ClassNameResolution, true},
		{"socket", ClassSocket, true},
		{"tls", ClassTLS, true},
		{"http", ClassHTTP, true},
		{"task", ClassTask, true},
		{"guard", ClassGuard, true},
		{"invalid", Classification("dns"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.class.IsValid(); got != tt.want {
				t.Errorf("Classification.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPriority_WatchInterval(t *testing.T) {
	tests := []struct {
		name     string
		priority Priority
		wantSec  int
	}{
		{"critical", PriorityCritical, 10},
		{"high", PriorityHigh, 15},
		{"medium", PriorityMedium, 30},
		{"low", PriorityLow, 60},
		{"empty defaults to medium", Priority(""), 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := int(tt.priority.WatchInterval().Seconds()); got != tt.wantSec {
				t.Errorf("WatchInterval() = %ds, want %ds", got, tt.wantSec)
			}
		})
	}
}

func TestPriority_CrisisFactor(t *testing.T) {
	tests := []struct {
		name     string
		priority Priority
		want     float64
	}{
		{"critical", PriorityCritical, 0.5},
		{"high", PriorityHigh, 0.75},
		{"medium", PriorityMedium, 1.0},
		{"low", PriorityLow, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.priority.CrisisFactor(); got != tt.want {
				t.Errorf("CrisisFactor() = %v, want %v", got, tt.want)
			}
		})
	}
}
