// SPDX-License-Identifier: MIT

// Package probe dispatches the wire-level checks behind every channel
// variant. Each probe honors a hard timeout, observes cancellation, and
// returns the uniform ProbeResult contract with a failure classification.
package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/metrics"
	"github.com/netpulse-io/netpulse/internal/model"
	"github.com/netpulse-io/netpulse/internal/platform/httpx"
	"github.com/netpulse-io/netpulse/internal/telemetry"
)

// DefaultTimeout bounds probes whose channel carries no timeout override.
const DefaultTimeout = 5 * time.Second

// DefaultUserAgent identifies the monitor on web probes.
const DefaultUserAgent = "netpulse/1.0"

// ErrScriptsDisabled is returned inside a task-probe result when the
// consent gate has not been passed.
var ErrScriptsDisabled = errors.New("probe: script probes disabled or consent not granted")

// Options configures a Dispatcher.
type Options struct {
	// Client issues web probes; nil builds the hardened default.
	Client *http.Client

	// UserAgent overrides the web probe user agent.
	UserAgent string

	// Shell is the default interpreter for task probes.
	Shell string

	// ScriptsAllowed gates task probes; nil denies.
	ScriptsAllowed func() bool

	// HostTasks runs host-task probes; nil fails them.
	HostTasks HostTaskRunner
}

// Dispatcher invokes the probe variant matching a channel's spec.
type Dispatcher struct {
	client         *http.Client
	userAgent      string
	shell          string
	scriptsAllowed func() bool
	hostTasks      HostTaskRunner

	dialer   *net.Dialer
	resolver *net.Resolver

	logger zerolog.Logger
	tracer trace.Tracer
}

// NewDispatcher creates a dispatcher with the given options.
func NewDispatcher(opts Options) *Dispatcher {
	client := opts.Client
	if client == nil {
		client = httpx.NewClient(httpx.Options{Timeout: DefaultTimeout})
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	allowed := opts.ScriptsAllowed
	if allowed == nil {
		allowed = func() bool { return false }
	}
	return &Dispatcher{
		client:         client,
		userAgent:      ua,
		shell:          opts.Shell,
		scriptsAllowed: allowed,
		hostTasks:      opts.HostTasks,
		dialer:         &net.Dialer{},
		resolver:       &net.Resolver{},
		logger:         log.WithComponent("probe"),
		tracer:         otel.Tracer("netpulse/probe"),
	}
}

// Dispatch runs the probe with a hard deadline. Cancellation of ctx aborts
// the probe within one I/O wait.
func (d *Dispatcher) Dispatch(ctx context.Context, spec model.ProbeSpec, timeout time.Duration) model.ProbeResult {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := d.tracer.Start(ctx, "probe."+string(spec.Variant),
		trace.WithAttributes(
			attribute.String(telemetry.ProbeVariantKey, string(spec.Variant)),
			attribute.String(telemetry.ProbeTargetKey, spec.Target()),
		))
	defer span.End()

	start := time.Now()
	var result model.ProbeResult
	switch spec.Variant {
	case model.ProbeWeb:
		result = d.web(ctx, spec.Web)
	case model.ProbeSocket:
		result = d.socket(ctx, spec.Socket)
	case model.ProbeName:
		result = d.name(ctx, spec.Name)
	case model.ProbeTask:
		result = d.task(ctx, spec.Task)
	case model.ProbeHostTask:
		result = d.hostTask(ctx, spec.HostTask)
	default:
		result = model.ProbeResult{Success: false, Error: "unknown probe variant " + string(spec.Variant)}
	}

	elapsed := time.Since(start)
	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	span.SetAttributes(
		attribute.Bool(telemetry.ProbeSuccessKey, result.Success),
		attribute.String(telemetry.ProbeClassKey, string(result.Class)),
	)
	metrics.ObserveProbe(string(spec.Variant), outcome, elapsed.Seconds())

	d.logger.Debug().
		Str(log.FieldEvent, "probe.dispatch").
		Str(log.FieldVariant, string(spec.Variant)).
		Str(log.FieldTarget, spec.Target()).
		Str(log.FieldOutcome, outcome).
		Str(log.FieldClass, string(result.Class)).
		Dur("elapsed", elapsed).
		Msg("probe dispatched")
	return result
}

// measured builds a failure result carrying the elapsed latency: the
// round trip happened, even if it ended badly.
func measured(class model.Classification, start time.Time, err error) model.ProbeResult {
	return model.ProbeResult{
		Success:   false,
		LatencyMS: model.LatencyMSPtr(time.Since(start).Milliseconds()),
		Class:     class,
		Error:     err.Error(),
	}
}

// classifyNetErr maps a transport error onto the failure taxonomy.
func classifyNetErr(err error) model.Classification {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.ClassNameResolution
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ClassTimeout
	}
	if isTLSError(err) {
		return model.ClassTLS
	}
	return model.ClassSocket
}

func isTLSError(err error) bool {
	var (
		recordErr  tls.RecordHeaderError
		verifyErr  *tls.CertificateVerificationError
		authErr    x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &authErr) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr)
}
