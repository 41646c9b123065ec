// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for netpulse.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Probe attributes
	ProbeVariantKey = "probe.variant"
	ProbeTargetKey  = "probe.target"
	ProbeSuccessKey = "probe.success"
	ProbeClassKey   = "probe.class"
	ProbeLatencyKey = "probe.latency_ms"

	// Channel attributes
	ChannelIDKey       = "channel.id"
	ChannelStateKey    = "channel.state"
	ChannelPriorityKey = "channel.priority"

	// Coordination attributes
	CoordinationRoleKey     = "coordination.role"
	CoordinationRevisionKey = "coordination.revision"

	// Watch attributes
	WatchSessionIDKey = "watch.session_id"
	WatchTriggerKey   = "watch.trigger"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// ProbeAttributes creates probe-related span attributes.
func ProbeAttributes(variant, target string, success bool, latencyMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ProbeVariantKey, variant),
		attribute.String(ProbeTargetKey, target),
		attribute.Bool(ProbeSuccessKey, success),
		attribute.Int64(ProbeLatencyKey, latencyMS),
	}
}

// ChannelAttributes creates channel-related span attributes.
func ChannelAttributes(id, state string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if id != "" {
		attrs = append(attrs, attribute.String(ChannelIDKey, id))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(ChannelStateKey, state))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
