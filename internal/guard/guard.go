// SPDX-License-Identifier: MIT

// Package guard evaluates probe preconditions: a named network interface
// being up, or a hostname resolving within a short timeout. Evaluation is
// stateless; results are never cached.
package guard

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/rs/zerolog"

	"github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/metrics"
	"github.com/netpulse-io/netpulse/internal/model"
)

// DefaultResolveTimeout bounds name-resolvable checks without an explicit
// timeout.
const DefaultResolveTimeout = 2 * time.Second

// Result is the outcome of one guard check.
type Result struct {
	Passed  bool              `json:"passed"`
	Error   string            `json:"error,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Evaluator resolves guard ids against their definitions and runs the
// checks.
type Evaluator struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	guards map[string]model.Guard

	// Swappable for tests.
	interfaces func(ctx context.Context) ([]gopsnet.InterfaceStat, error)
	lookupHost func(ctx context.Context, host string) ([]string, error)
}

// New creates an evaluator over the given guard definitions.
func New(guards []model.Guard) *Evaluator {
	byID := make(map[string]model.Guard, len(guards))
	for _, g := range guards {
		byID[g.ID] = g
	}
	resolver := &net.Resolver{}
	return &Evaluator{
		logger: log.WithComponent("guard"),
		guards: byID,
		interfaces: func(ctx context.Context) ([]gopsnet.InterfaceStat, error) {
			return gopsnet.InterfacesWithContext(ctx)
		},
		lookupHost: resolver.LookupHost,
	}
}

// SetGuards replaces the guard definitions on configuration reload. Safe to
// call while probes are evaluating.
func (e *Evaluator) SetGuards(guards []model.Guard) {
	byID := make(map[string]model.Guard, len(guards))
	for _, g := range guards {
		byID[g.ID] = g
	}
	e.mu.Lock()
	e.guards = byID
	e.mu.Unlock()
}

func (e *Evaluator) guard(id string) (model.Guard, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	g, ok := e.guards[id]
	return g, ok
}

// Evaluate runs every named guard and reports whether all passed. An
// unknown guard id fails closed: the channel reads unknown rather than
// probing blind.
func (e *Evaluator) Evaluate(ctx context.Context, ids []string) (bool, map[string]Result) {
	results := make(map[string]Result, len(ids))
	all := true
	for _, id := range ids {
		g, ok := e.guard(id)
		if !ok {
			results[id] = Result{Passed: false, Error: fmt.Sprintf("guard %q not defined", id)}
			all = false
			metrics.IncGuardFailure(id)
			continue
		}
		r := e.evaluateOne(ctx, g)
		results[id] = r
		if !r.Passed {
			all = false
			metrics.IncGuardFailure(id)
			e.logger.Debug().
				Str(log.FieldEvent, "guard.blocked").
				Str(log.FieldGuard, id).
				Str(log.FieldVariant, string(g.Variant)).
				Str("reason", r.Error).
				Msg("guard did not pass")
		}
	}
	return all, results
}

func (e *Evaluator) evaluateOne(ctx context.Context, g model.Guard) Result {
	switch g.Variant {
	case model.GuardInterfaceUp:
		return e.interfaceUp(ctx, g)
	case model.GuardNameResolvable:
		return e.nameResolvable(ctx, g)
	default:
		return Result{Passed: false, Error: fmt.Sprintf("unknown guard variant %q", g.Variant)}
	}
}

func (e *Evaluator) interfaceUp(ctx context.Context, g model.Guard) Result {
	ifaces, err := e.interfaces(ctx)
	if err != nil {
		return Result{Passed: false, Error: fmt.Sprintf("list interfaces: %v", err)}
	}
	for _, iface := range ifaces {
		if iface.Name != g.Interface {
			continue
		}
		for _, flag := range iface.Flags {
			if strings.EqualFold(flag, "up") {
				return Result{
					Passed:  true,
					Details: map[string]string{"interface": iface.Name},
				}
			}
		}
		return Result{
			Passed:  false,
			Error:   fmt.Sprintf("interface %q is down", g.Interface),
			Details: map[string]string{"interface": iface.Name},
		}
	}
	return Result{Passed: false, Error: fmt.Sprintf("interface %q not found", g.Interface)}
}

func (e *Evaluator) nameResolvable(ctx context.Context, g model.Guard) Result {
	timeout := DefaultResolveTimeout
	if g.TimeoutMS != nil {
		timeout = time.Duration(*g.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := e.lookupHost(ctx, g.Hostname)
	if err != nil {
		return Result{
			Passed:  false,
			Error:   fmt.Sprintf("resolve %q: %v", g.Hostname, err),
			Details: map[string]string{"hostname": g.Hostname},
		}
	}
	if len(addrs) == 0 {
		return Result{
			Passed:  false,
			Error:   fmt.Sprintf("resolve %q: no addresses", g.Hostname),
			Details: map[string]string{"hostname": g.Hostname},
		}
	}
	return Result{
		Passed:  true,
		Details: map[string]string{"hostname": g.Hostname, "first_addr": addrs[0]},
	}
}
