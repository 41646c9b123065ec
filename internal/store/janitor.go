// SPDX-License-Identifier: MIT
package store

import (
	"context"
	"time"

	"github.com/netpulse-io/netpulse/internal/log"
)

// Janitor runs the retention sweep on an interval until its context is
// cancelled.
type Janitor struct {
	store    *Store
	interval time.Duration
	done     chan struct{}
}

// NewJanitor creates a sweep loop for the store. A non-positive interval
// defaults to one hour.
func NewJanitor(s *Store, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		store:    s,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (j *Janitor) Run(ctx context.Context) {
	defer close(j.done)
	logger := log.WithComponent("store")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.store.Sweep(ctx, time.Now()); err != nil {
				logger.Warn().
					Str(log.FieldEvent, "store.sweep_failed").
					Err(err).
					Msg("retention sweep failed")
			}
		}
	}
}

// Done is closed once Run has returned.
func (j *Janitor) Done() <-chan struct{} {
	return j.done
}
