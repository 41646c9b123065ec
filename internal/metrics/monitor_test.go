// SPDX-License-Identifier: MIT

package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netpulse-io/netpulse/internal/metrics"
)

func TestPromhttpExposure(t *testing.T) {
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	if _, err := srv.Client().Get(srv.URL); err != nil {
		t.Fatal(err)
	}
}

func scrape(t *testing.T) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	promhttp.Handler().ServeHTTP(recorder, req)
	body, err := io.ReadAll(recorder.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	return string(body)
}

func TestSetChannelStateExclusive(t *testing.T) {
	metrics.SetChannelState("office-wifi", "offline")

	body := scrape(t)
	if !strings.Contains(body, `netpulse_channel_state{channel="office-wifi",state="offline"} 1`) {
		t.Error("expected offline gauge set to 1")
	}
	if !strings.Contains(body, `netpulse_channel_state{channel="office-wifi",state="online"} 0`) {
		t.Error("expected online gauge set to 0")
	}

	metrics.SetChannelState("office-wifi", "online")
	body = scrape(t)
	if !strings.Contains(body, `netpulse_channel_state{channel="office-wifi",state="online"} 1`) {
		t.Error("expected online gauge flipped to 1")
	}
	if !strings.Contains(body, `netpulse_channel_state{channel="office-wifi",state="offline"} 0`) {
		t.Error("expected offline gauge flipped to 0")
	}
}

func TestSetCoordinationRoleExclusive(t *testing.T) {
	metrics.SetCoordinationRole("leader")

	body := scrape(t)
	if !strings.Contains(body, `netpulse_coordination_role{role="leader"} 1`) {
		t.Error("expected leader gauge set to 1")
	}
	if !strings.Contains(body, `netpulse_coordination_role{role="follower"} 0`) {
		t.Error("expected follower gauge set to 0")
	}
}

func TestCountersDoNotPanic(t *testing.T) {
	metrics.ObserveProbe("web", "success", 0.042)
	metrics.IncSample("office-wifi", "failure")
	metrics.IncGuardFailure("vpn")
	metrics.SetFailureStreak("office-wifi", 2)
	metrics.IncOutageOpened()
	metrics.IncOutageClosed()
	metrics.SetOpenOutages(1)
	metrics.SetScheduleInterval("office-wifi", 30)
	metrics.IncStrategy("crisis")
	metrics.IncStoreWriteRetry()
	metrics.IncStoreCorrupt()
	metrics.SetStoreDocumentBytes("channelStates.json", 2048)
	metrics.IncHeartbeat()
	metrics.IncTakeover()
	metrics.IncWatchStarted()
	metrics.IncWatchFinalized()
	metrics.SetWatchActive(true)
	metrics.IncFishy("latency-spike")
	metrics.RecordEventDropped("samples")
	metrics.RecordHTTPRequest("/api/status", http.MethodGet, 200, 0.001)

	body := scrape(t)
	if !strings.Contains(body, "netpulse_fishy_triggers_total") {
		t.Error("expected fishy counter to be exposed")
	}
}
