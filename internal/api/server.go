// SPDX-License-Identifier: MIT

// Package api exposes the local HTTP control surface: status and history
// reads, probe triggers, watch session control, and configuration reload.
// The listener is expected to bind loopback only.
package api

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/netpulse-io/netpulse/internal/engine"
	"github.com/netpulse-io/netpulse/internal/health"
)

const (
	mutationRateLimitPerMin = 60
	mutationRateWindow      = time.Minute
)

// Options wires the router to its collaborators.
type Options struct {
	Engine *engine.Engine
	Health *health.Manager

	// ReloadConfig re-reads the workspace document and applies it to the
	// engine. Nil disables the reload endpoint.
	ReloadConfig func(ctx context.Context) error

	Version string
}

// Server carries the handler state behind the router.
type Server struct {
	engine  *engine.Engine
	health  *health.Manager
	reload  func(ctx context.Context) error
	version string
}

// NewRouter builds the HTTP control surface.
func NewRouter(opts Options) *chi.Mux {
	s := &Server{
		engine:  opts.Engine,
		health:  opts.Health,
		reload:  opts.ReloadConfig,
		version: opts.Version,
	}

	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)

	if s.health != nil {
		r.Get("/healthz", s.health.ServeHealth)
		r.Get("/readyz", s.health.ServeReady)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/version", s.handleVersion)

		r.Get("/channels", s.handleListChannels)
		r.Get("/channels/{id}", s.handleChannelDetail)
		r.Get("/channels/{id}/samples", s.handleChannelSamples)
		r.Get("/channels/{id}/outages", s.handleChannelOutages)
		r.Get("/channels/{id}/interval", s.handleExplainInterval)

		r.Get("/watch", s.handleCurrentWatch)
		r.Get("/watch/history", s.handleWatchHistory)
		r.Get("/watch/channels", s.handleIndividualWatches)

		// Mutating surface shares one per-IP budget.
		r.Group(func(r chi.Router) {
			r.Use(mutationRateLimit(mutationRateLimitPerMin, mutationRateWindow))

			r.Post("/channels", s.handleRegisterChannel)
			r.Delete("/channels/{id}", s.handleDeregisterChannel)
			r.Post("/channels/{id}/run", s.handleRunChannel)
			r.Post("/run", s.handleRunAll)

			r.Post("/watch", s.handleStartWatch)
			r.Delete("/watch", s.handleStopWatch)
			r.Post("/watch/pause", s.handlePauseWatch)
			r.Post("/watch/resume", s.handleResumeWatch)
			r.Put("/channels/{id}/watch", s.handleWatchChannel)
			r.Delete("/channels/{id}/watch", s.handleUnwatchChannel)

			r.Post("/consent/scripts", s.handleGrantScriptConsent)
			r.Post("/config/reload", s.handleReloadConfig)
		})
	})

	return r
}
