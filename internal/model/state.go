// SPDX-License-Identifier: MIT
package model

import (
	"encoding/json"
	"fmt"
)

// State represents the reachability verdict for a channel.
type State string

// State constants define all possible channel states.
const (
	// StateOnline indicates the last probe succeeded.
	StateOnline State = "online"

	// StateOffline indicates consecutive failures reached the channel threshold.
	StateOffline State = "offline"

	// StateUnknown indicates no verdict yet, or a guard blocked probing.
	StateUnknown State = "unknown"
)

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// IsValid checks whether the state is valid.
func (s State) IsValid() bool {
	switch s {
	case StateOnline, StateOffline, StateUnknown:
		return true
	default:
		return false
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	state := State(str)
	if !state.IsValid() {
		return fmt.Errorf("invalid channel state: %q", str)
	}

	*s = state
	return nil
}

// ParseState parses a string into a State.
func ParseState(s string) (State, error) {
	state := State(s)
	if !state.IsValid() {
		return "", fmt.Errorf("invalid channel state: %q", s)
	}
	return state, nil
}

// AllStates returns all defined channel states.
func AllStates() []State {
	return []State{StateOnline, StateOffline, StateUnknown}
}
