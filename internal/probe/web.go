// SPDX-License-Identifier: MIT
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"golang.org/x/net/idna"

	"github.com/netpulse-io/netpulse/internal/model"
)

// maxBodyBytes caps how much response body a body-regex rule may read.
const maxBodyBytes = 1 << 20

// web issues a minimal-verb request and evaluates the expectation rules.
// Default expectation: any 2xx-3xx status. A body regex forces a GET.
func (d *Dispatcher) web(ctx context.Context, spec *model.WebProbe) model.ProbeResult {
	target, err := normalizeURL(spec.URL)
	if err != nil {
		return model.ProbeResult{Success: false, Class: model.ClassHTTP, Error: err.Error()}
	}

	method := http.MethodHead
	if spec.BodyRegex != "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return model.ProbeResult{Success: false, Class: model.ClassHTTP, Error: err.Error()}
	}
	req.Header.Set("User-Agent", d.userAgent)

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return measured(classifyNetErr(err), start, err)
	}
	defer func() { _ = resp.Body.Close() }()

	latency := time.Since(start).Milliseconds()
	result := model.ProbeResult{
		LatencyMS: model.LatencyMSPtr(latency),
		Details:   map[string]string{"status": fmt.Sprintf("%d", resp.StatusCode)},
	}

	if !statusAccepted(spec, resp.StatusCode) {
		result.Class = model.ClassHTTP
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}

	if h := spec.RequiredHeader; h != nil {
		if got := resp.Header.Get(h.Name); got != h.Value {
			result.Class = model.ClassHTTP
			result.Error = fmt.Sprintf("header %q: want %q, got %q", h.Name, h.Value, got)
			return result
		}
	}

	if spec.BodyRegex != "" {
		re, err := regexp.Compile(spec.BodyRegex)
		if err != nil {
			result.Class = model.ClassHTTP
			result.Error = fmt.Sprintf("body regex: %v", err)
			return result
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return measured(classifyNetErr(err), start, err)
		}
		if !re.Match(body) {
			result.Class = model.ClassHTTP
			result.Error = fmt.Sprintf("body does not match %q", spec.BodyRegex)
			return result
		}
	}

	result.Success = true
	return result
}

// statusAccepted applies the status rules in precedence order: explicit
// membership, closed range, auth-reachable policy, then the 2xx-3xx
// default.
func statusAccepted(spec *model.WebProbe, status int) bool {
	if len(spec.ExpectStatus) > 0 {
		for _, want := range spec.ExpectStatus {
			if status == want {
				return true
			}
		}
		return false
	}
	if spec.StatusMin != nil && spec.StatusMax != nil {
		return status >= *spec.StatusMin && status <= *spec.StatusMax
	}
	if spec.AuthReachable && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
		return true
	}
	return status >= 200 && status <= 399
}

// normalizeURL applies IDNA lookup normalization to the host so unicode
// hostnames dial their punycode form.
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err == nil && ascii != host {
		port := u.Port()
		if port != "" {
			u.Host = ascii + ":" + port
		} else {
			u.Host = ascii
		}
	}
	return u.String(), nil
}
