// SPDX-License-Identifier: MIT
package watch

import (
	"fmt"
	"sort"
	"time"

	"github.com/netpulse-io/netpulse/internal/model"
)

// Fishy trigger thresholds.
const (
	fishyConsecutiveFailures = 3

	fishyLatencyWindow     = 3 * time.Minute
	fishyLatencyThresholdMS = int64(1200)
	fishyLatencyMinSamples = 5

	fishyNameWindow   = 2 * time.Minute
	fishyNameFailures = 2
)

type latencyPoint struct {
	ts int64
	ms int64
}

// fishyDetector evaluates the three watch-suggestion heuristics over the
// live sample stream. Each trigger latches per channel until its condition
// clears, so a fourth consecutive failure does not re-emit.
type fishyDetector struct {
	consecutive map[string]int
	latencies   map[string][]latencyPoint
	nameFails   map[string][]int64
	latched     map[string]bool
}

func newFishyDetector() *fishyDetector {
	return &fishyDetector{
		consecutive: make(map[string]int),
		latencies:   make(map[string][]latencyPoint),
		nameFails:   make(map[string][]int64),
		latched:     make(map[string]bool),
	}
}

func latchKey(channelID string, trigger model.FishyTrigger) string {
	return channelID + "|" + string(trigger)
}

// observe folds one sample in and returns any newly fired suggestions.
func (d *fishyDetector) observe(ev model.SampleEvent) []model.FishyEvent {
	sample := ev.Sample
	id := ev.ChannelID

	// Synthetic skip samples and guard blocks say nothing about the wire.
	if sample.Details["skipped"] != "" || sample.Class == model.ClassGuard {
		return nil
	}

	if sample.Success {
		d.consecutive[id] = 0
	} else {
		d.consecutive[id]++
	}
	if sample.LatencyMS != nil {
		d.latencies[id] = append(d.latencies[id], latencyPoint{ts: sample.TS, ms: *sample.LatencyMS})
	}
	if !sample.Success && sample.Class == model.ClassNameResolution {
		d.nameFails[id] = append(d.nameFails[id], sample.TS)
	}
	d.trim(id, sample.TS)

	var fired []model.FishyEvent
	fired = d.check(fired, id, model.FishyConsecutiveFailures, sample.TS,
		d.consecutive[id] >= fishyConsecutiveFailures,
		fmt.Sprintf("≥%d consecutive failures", fishyConsecutiveFailures))
	p95, enough := d.p95(id)
	fired = d.check(fired, id, model.FishyLatencySpike, sample.TS,
		enough && p95 > fishyLatencyThresholdMS,
		fmt.Sprintf("rolling p95 latency %d ms over %s", p95, fishyLatencyWindow))
	fired = d.check(fired, id, model.FishyNameFailures, sample.TS,
		len(d.nameFails[id]) >= fishyNameFailures,
		fmt.Sprintf("≥%d name-resolution failures in %s", fishyNameFailures, fishyNameWindow))
	return fired
}

// check emits the trigger when its condition holds and is not latched;
// a cleared condition unlatches.
func (d *fishyDetector) check(fired []model.FishyEvent, id string, trigger model.FishyTrigger, ts int64, condition bool, reason string) []model.FishyEvent {
	key := latchKey(id, trigger)
	if !condition {
		delete(d.latched, key)
		return fired
	}
	if d.latched[key] {
		return fired
	}
	d.latched[key] = true
	return append(fired, model.FishyEvent{
		ChannelID: id,
		Trigger:   trigger,
		Reason:    reason,
		TS:        ts,
	})
}

func (d *fishyDetector) trim(id string, now int64) {
	latCutoff := now - fishyLatencyWindow.Milliseconds()
	lats := d.latencies[id]
	first := 0
	for first < len(lats) && lats[first].ts < latCutoff {
		first++
	}
	d.latencies[id] = lats[first:]

	nameCutoff := now - fishyNameWindow.Milliseconds()
	fails := d.nameFails[id]
	first = 0
	for first < len(fails) && fails[first] < nameCutoff {
		first++
	}
	d.nameFails[id] = fails[first:]
}

func (d *fishyDetector) p95(id string) (int64, bool) {
	points := d.latencies[id]
	if len(points) < fishyLatencyMinSamples {
		return 0, false
	}
	return percentile(points, 95), true
}

func percentile(points []latencyPoint, pct int) int64 {
	values := make([]int64, len(points))
	for i, p := range points {
		values[i] = p.ms
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	idx := (len(values)*pct + 99) / 100
	if idx > 0 {
		idx--
	}
	return values[idx]
}
