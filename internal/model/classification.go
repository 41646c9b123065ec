// SPDX-License-Identifier: MIT
package model

import "fmt"

// Classification tags a failed sample with the layer that failed.
type Classification string

// Classification constants cover every failure layer a probe can report.
const (
	// ClassTimeout indicates the probe exceeded its deadline.
	ClassTimeout Classification = "timeout"

	// ClassNameResolution indicates a DNS lookup failed.
	ClassNameResolution Classification = "name-resolution"

	// ClassSocket indicates a TCP connect failed.
	ClassSocket Classification = "socket"

	// ClassTLS indicates a TLS handshake failed.
	ClassTLS Classification = "tls"

	// ClassHTTP indicates an HTTP response violated the expectation rules.
	ClassHTTP Classification = "http"

	// ClassTask indicates a task or host-task exited non-zero or refused to run.
	ClassTask Classification = "task"

	// ClassGuard indicates a guard blocked the probe before dispatch.
	ClassGuard Classification = "guard"
)

// String implements fmt.Stringer.
func (c Classification) String() string {
	return string(c)
}

// IsValid checks whether the classification is a known tag. The empty
// classification is valid on successful samples.
func (c Classification) IsValid() bool {
	switch c {
	case "", ClassTimeout, ClassNameResolution, ClassSocket, ClassTLS, ClassHTTP, ClassTask, ClassGuard:
		return true
	default:
		return false
	}
}

// ParseClassification parses a string into a Classification.
func ParseClassification(s string) (Classification, error) {
	c := Classification(s)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid classification: %q", s)
	}
	return c, nil
}
