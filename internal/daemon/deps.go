// SPDX-License-Identifier: MIT

package daemon

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/netpulse-io/netpulse/internal/engine"
)

// Deps contains dependencies required by the daemon Manager.
// This allows for clean dependency injection and easier testing.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// Engine is the monitoring engine whose lifecycle the daemon owns
	Engine *engine.Engine

	// APIHandler is the HTTP handler for the local control API
	APIHandler http.Handler

	// MetricsHandler is the HTTP handler for Prometheus metrics (nil disables
	// the metrics listener)
	MetricsHandler http.Handler
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.Engine == nil {
		return ErrMissingEngine
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
