// SPDX-License-Identifier: MIT
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Probe metrics
	probeDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netpulse_probe_duration_seconds",
		Help:    "Probe dispatch duration by variant and outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"variant", "outcome"}) // outcome=success|failure

	samplesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netpulse_samples_total",
		Help: "Recorded samples per channel by outcome",
	}, []string{"channel", "outcome"}) // outcome=success|failure|skipped

	guardFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netpulse_guard_failures_total",
		Help: "Guard evaluations that blocked a probe, per guard",
	}, []string{"guard"})

	// Channel state metrics
	channelState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netpulse_channel_state",
		Help: "Current channel state (1 for the active state)",
	}, []string{"channel", "state"}) // state=online|offline|unknown

	channelFailureStreak = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netpulse_channel_consecutive_failures",
		Help: "Current consecutive failure streak per channel",
	}, []string{"channel"})

	// Outage metrics
	outagesOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpulse_outages_opened_total",
		Help: "Total number of outages opened",
	})
	outagesClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpulse_outages_closed_total",
		Help: "Total number of outages closed by recovery",
	})
	outagesOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netpulse_outages_open",
		Help: "Number of currently open outages",
	})

	// Scheduler metrics
	scheduleIntervalSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netpulse_schedule_interval_seconds",
		Help: "Last armed probing interval per channel",
	}, []string{"channel"})

	scheduleStrategyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netpulse_schedule_strategy_total",
		Help: "Interval resolutions by adaptive strategy",
	}, []string{"strategy"}) // strategy=watch|crisis|recovery|stable

	// Store metrics
	storeWriteRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpulse_store_write_retries_total",
		Help: "Store write attempts that needed a retry",
	})
	storeWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpulse_store_write_failures_total",
		Help: "Store writes that failed after all retries",
	})
	storeCorruptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpulse_store_corrupt_quarantined_total",
		Help: "Corrupt store files quarantined on read",
	})
	storeDocumentBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netpulse_store_document_bytes",
		Help: "Serialized size of each persisted document",
	}, []string{"file"})

	// Coordination metrics
	coordinationRole = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netpulse_coordination_role",
		Help: "Current coordination role (1 for the active role)",
	}, []string{"role"}) // role=initializing|leader|follower

	heartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpulse_coordination_heartbeats_total",
		Help: "Lease heartbeats written as leader",
	})
	takeoversTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpulse_coordination_takeovers_total",
		Help: "Stale-lease takeovers performed",
	})

	// Watch metrics
	watchSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netpulse_watch_sessions_total",
		Help: "Watch sessions by lifecycle edge",
	}, []string{"edge"}) // edge=started|finalized

	watchActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "netpulse_watch_active",
		Help: "Whether a watch session is currently active",
	})

	fishyTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netpulse_fishy_triggers_total",
		Help: "Fishy suggestions emitted per trigger kind",
	}, []string{"trigger"})

	// Event fan-out metrics
	eventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netpulse_events_dropped_total",
		Help: "Events dropped on subscriber backpressure per stream",
	}, []string{"stream"})

	// API metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netpulse_http_requests_total",
		Help: "Control API requests by route, method and status",
	}, []string{"route", "method", "status"})

	httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netpulse_http_request_duration_seconds",
		Help:    "Control API request duration by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

var (
	stateLabels = []string{"online", "offline", "unknown"}
	roleLabels  = []string{"initializing", "leader", "follower"}
)

func ObserveProbe(variant, outcome string, seconds float64) {
	probeDurationSeconds.WithLabelValues(variant, outcome).Observe(seconds)
}

func IncSample(channel, outcome string) {
	samplesTotal.WithLabelValues(channel, outcome).Inc()
}

func IncGuardFailure(guard string) { guardFailuresTotal.WithLabelValues(guard).Inc() }

// SetChannelState flips the state gauge so exactly one label carries 1.
func SetChannelState(channel, state string) {
	for _, s := range stateLabels {
		v := 0.0
		if s == state {
			v = 1.0
		}
		channelState.WithLabelValues(channel, s).Set(v)
	}
}

func SetFailureStreak(channel string, n int) {
	channelFailureStreak.WithLabelValues(channel).Set(float64(n))
}

func IncOutageOpened()     { outagesOpenedTotal.Inc() }
func IncOutageClosed()     { outagesClosedTotal.Inc() }
func SetOpenOutages(n int) { outagesOpen.Set(float64(n)) }

func SetScheduleInterval(channel string, seconds float64) {
	scheduleIntervalSeconds.WithLabelValues(channel).Set(seconds)
}

func IncStrategy(strategy string) { scheduleStrategyTotal.WithLabelValues(strategy).Inc() }

func IncStoreWriteRetry()   { storeWriteRetriesTotal.Inc() }
func IncStoreWriteFailure() { storeWriteFailuresTotal.Inc() }
func IncStoreCorrupt()      { storeCorruptTotal.Inc() }

func SetStoreDocumentBytes(file string, n int) {
	storeDocumentBytes.WithLabelValues(file).Set(float64(n))
}

// SetCoordinationRole flips the role gauge so exactly one label carries 1.
func SetCoordinationRole(role string) {
	for _, r := range roleLabels {
		v := 0.0
		if r == role {
			v = 1.0
		}
		coordinationRole.WithLabelValues(r).Set(v)
	}
}

func IncHeartbeat() { heartbeatsTotal.Inc() }
func IncTakeover()  { takeoversTotal.Inc() }

func IncWatchStarted()   { watchSessionsTotal.WithLabelValues("started").Inc() }
func IncWatchFinalized() { watchSessionsTotal.WithLabelValues("finalized").Inc() }

func SetWatchActive(active bool) {
	if active {
		watchActive.Set(1)
	} else {
		watchActive.Set(0)
	}
}

func IncFishy(trigger string) { fishyTriggersTotal.WithLabelValues(trigger).Inc() }

func RecordEventDropped(stream string) { eventsDroppedTotal.WithLabelValues(stream).Inc() }

func RecordHTTPRequest(route, method string, status int, seconds float64) {
	httpRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(route).Observe(seconds)
}
