// SPDX-License-Identifier: MIT
package events

import "github.com/netpulse-io/netpulse/internal/model"

// Hub bundles the engine's event streams. The runner publishes samples,
// state changes, and outage edges; the session manager publishes fishy
// suggestions.
type Hub struct {
	Samples      *Stream[model.SampleEvent]
	StateChanges *Stream[model.StateChangeEvent]
	OutageStarts *Stream[model.OutageEvent]
	OutageEnds   *Stream[model.OutageEvent]
	Fishy        *Stream[model.FishyEvent]
}

// NewHub creates the standard stream set.
func NewHub() *Hub {
	return &Hub{
		Samples:      NewStream[model.SampleEvent]("samples", 0),
		StateChanges: NewStream[model.StateChangeEvent]("state_changes", 0),
		OutageStarts: NewStream[model.OutageEvent]("outage_starts", 0),
		OutageEnds:   NewStream[model.OutageEvent]("outage_ends", 0),
		Fishy:        NewStream[model.FishyEvent]("fishy", 0),
	}
}
