// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse-io/netpulse/internal/model"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := New(context.Background(), t.TempDir(), opts)
	require.NoError(t, err)
	return s
}

func TestGetStateDefault(t *testing.T) {
	s := newTestStore(t, Options{})
	st := s.GetState("never-seen")
	assert.Equal(t, model.StateUnknown, st.State)
	assert.Equal(t, "never-seen", st.ChannelID)
	assert.Zero(t, st.ConsecutiveFailures)
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(ctx, dir, Options{})
	require.NoError(t, err)

	first := int64(500)
	state := model.ChannelState{
		ChannelID:           "office-wifi",
		State:               model.StateOffline,
		ConsecutiveFailures: 3,
		FirstFailureTS:      &first,
		LastTransitionTS:    1000,
		OpenOutageID:        "o-1",
	}
	require.NoError(t, s.SetState(ctx, state))

	// A fresh store over the same directory must load the identical value.
	reopened, err := New(ctx, dir, Options{})
	require.NoError(t, err)
	if diff := cmp.Diff(state, reopened.GetState("office-wifi")); diff != "" {
		t.Errorf("state round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendSampleOrderingAndWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	for _, ts := range []int64{100, 200, 150, 300} {
		require.NoError(t, s.AppendSample(ctx, "api", model.Sample{TS: ts, Success: true}))
	}

	all := s.SamplesInWindow("api", 0, 1<<60)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i].TS, all[i-1].TS, "samples must be non-decreasing")
	}

	window := s.SamplesInWindow("api", 150, 250)
	require.Len(t, window, 2)
	assert.Equal(t, int64(200), window[0].TS)
	assert.Equal(t, int64(200), window[1].TS) // 150 clamped up to 200

	assert.Nil(t, s.SamplesInWindow("api", 400, 500))
	assert.Nil(t, s.SamplesInWindow("unknown-channel", 0, 1000))
}

func TestAppendSampleRingCap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{SampleCap: 5})

	base := time.Now().UnixMilli()
	for i := 0; i < 6; i++ {
		require.NoError(t, s.AppendSample(ctx, "api", model.Sample{TS: base + int64(i), Success: true}))
	}

	kept := s.SamplesInWindow("api", 0, 1<<62)
	require.Len(t, kept, 5)
	assert.Equal(t, base+1, kept[0].TS, "oldest sample must be evicted")
}

func TestAppendSampleRetentionWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{SampleRetention: time.Hour})

	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	now := time.Now().UnixMilli()
	require.NoError(t, s.AppendSample(ctx, "api", model.Sample{TS: old, Success: true}))
	require.NoError(t, s.AppendSample(ctx, "api", model.Sample{TS: now, Success: true}))

	kept := s.SamplesInWindow("api", 0, 1<<62)
	require.Len(t, kept, 1)
	assert.Equal(t, now, kept[0].TS)
}

func TestOutageLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	o := model.Outage{
		ID:             "o-1",
		ChannelID:      "web-a",
		FirstFailureTS: 1000,
		ConfirmedTS:    60000,
		FailureCount:   3,
		Reason:         model.ClassTimeout,
	}
	require.NoError(t, s.OpenOutage(ctx, o))

	open, ok := s.OpenOutageFor("web-a")
	require.True(t, ok)
	assert.Equal(t, "o-1", open.ID)

	closed, err := s.CloseOutage(ctx, "web-a", 80000, model.LatencyMSPtr(55))
	require.NoError(t, err)
	require.NotNil(t, closed.RecoveredTS)
	assert.Equal(t, int64(80000), *closed.RecoveredTS)
	require.NotNil(t, closed.DurationMS)
	assert.Equal(t, int64(20000), *closed.DurationMS)

	_, ok = s.OpenOutageFor("web-a")
	assert.False(t, ok)

	_, err = s.CloseOutage(ctx, "web-a", 90000, nil)
	assert.ErrorIs(t, err, ErrNoOpenOutage)
}

func TestOutageCapEviction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{OutageCap: 3})

	for i := 0; i < 4; i++ {
		o := model.Outage{
			ID:             string(rune('a' + i)),
			ChannelID:      "api",
			FirstFailureTS: int64(i * 100),
			ConfirmedTS:    int64(i*100 + 10),
			FailureCount:   1,
			Reason:         model.ClassHTTP,
		}
		ts := int64(i*100 + 20)
		o.RecoveredTS = &ts
		require.NoError(t, s.OpenOutage(ctx, o))
	}

	got := s.ListOutages("", 0)
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].ID, "oldest outage must be evicted")
}

func TestListOutagesFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	mk := func(id, ch string, confirmed int64) model.Outage {
		return model.Outage{ID: id, ChannelID: ch, FirstFailureTS: confirmed - 5, ConfirmedTS: confirmed, FailureCount: 1, Reason: model.ClassSocket}
	}
	require.NoError(t, s.OpenOutage(ctx, mk("o1", "a", 100)))
	require.NoError(t, s.OpenOutage(ctx, mk("o2", "b", 200)))
	require.NoError(t, s.OpenOutage(ctx, mk("o3", "a", 300)))

	assert.Len(t, s.ListOutages("", 0), 3)
	assert.Len(t, s.ListOutages("a", 0), 2)
	assert.Len(t, s.ListOutages("a", 200), 1)
	assert.Empty(t, s.ListOutages("c", 0))
}

func TestSessionCurrentAndHistory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(ctx, dir, Options{HistoryCap: 2})
	require.NoError(t, err)

	assert.Nil(t, s.CurrentSession())

	sess := model.WatchSession{
		ID:       "w-1",
		StartTS:  1000,
		Duration: model.WatchDuration{MS: 60000},
		Samples:  map[string][]model.Sample{},
	}
	require.NoError(t, s.SetCurrentSession(ctx, &sess))

	got := s.CurrentSession()
	require.NotNil(t, got)
	assert.Equal(t, "w-1", got.ID)

	// Current survives a reopen ("still active" on restart).
	reopened, err := New(ctx, dir, Options{})
	require.NoError(t, err)
	require.NotNil(t, reopened.CurrentSession())

	end := int64(61000)
	sess.EndTS = &end
	require.NoError(t, s.AppendSessionHistory(ctx, sess))
	require.NoError(t, s.SetCurrentSession(ctx, nil))
	assert.Nil(t, s.CurrentSession())
	assert.Len(t, s.SessionHistory(), 1)

	for i := 0; i < 2; i++ {
		extra := sess
		extra.ID = "w-extra"
		require.NoError(t, s.AppendSessionHistory(ctx, extra))
	}
	history := s.SessionHistory()
	require.Len(t, history, 2, "history must respect its cap")
	assert.Equal(t, "w-extra", history[0].ID)
}

func TestCustomBlobRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	type consent struct {
		Granted bool  `json:"granted"`
		TS      int64 `json:"ts"`
	}
	require.NoError(t, s.SetCustom(ctx, "script consent!", consent{Granted: true, TS: 123}))

	// Key sanitization keeps the file name shell-safe.
	_, err := os.Stat(filepath.Join(s.Dir(), "custom_script-consent-.json"))
	assert.NoError(t, err)

	var got consent
	ok, err := s.GetCustom(ctx, "script consent!", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Granted)
	assert.Equal(t, int64(123), got.TS)

	ok, err = s.GetCustom(ctx, "never-set", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorruptDocumentQuarantined(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileChannelStates), []byte(`{"office": {`), 0o600))

	s, err := New(ctx, dir, Options{})
	require.NoError(t, err)

	// Corrupt file falls back to the default view.
	st := s.GetState("office")
	assert.Equal(t, model.StateUnknown, st.State)

	matches, err := filepath.Glob(filepath.Join(dir, FileChannelStates+".corrupt.*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1, "corrupt file must be quarantined")
}

func TestStaleTempCleanupOnOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	target := filepath.Join(dir, FileOutages)
	require.NoError(t, os.WriteFile(target, []byte(`[]`), 0o600))
	stale := target + ".tmp.1700000000000.deadbeef"
	require.NoError(t, os.WriteFile(stale, []byte(`[{"id":"half`), 0o600))

	_, err := New(ctx, dir, Options{})
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale temp file must be removed")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data), "target must keep the previous good version")
}

func TestSweepRetention(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{HistoryRetention: 24 * time.Hour})

	now := time.Now()
	oldTS := now.Add(-48 * time.Hour).UnixMilli()
	freshTS := now.Add(-time.Hour).UnixMilli()

	old := model.WatchSession{ID: "old", StartTS: oldTS, Duration: model.WatchDuration{MS: 1000}, Samples: map[string][]model.Sample{}}
	fresh := model.WatchSession{ID: "fresh", StartTS: freshTS, Duration: model.WatchDuration{MS: 1000}, Samples: map[string][]model.Sample{}}
	require.NoError(t, s.AppendSessionHistory(ctx, old))
	require.NoError(t, s.AppendSessionHistory(ctx, fresh))

	rec := oldTS + 100
	closedOld := model.Outage{ID: "closed-old", ChannelID: "a", FirstFailureTS: oldTS, ConfirmedTS: oldTS + 10, RecoveredTS: &rec, FailureCount: 1, Reason: model.ClassHTTP}
	openOld := model.Outage{ID: "open-old", ChannelID: "b", FirstFailureTS: oldTS, ConfirmedTS: oldTS + 10, FailureCount: 1, Reason: model.ClassHTTP}
	require.NoError(t, s.OpenOutage(ctx, closedOld))
	require.NoError(t, s.OpenOutage(ctx, openOld))

	removed, err := s.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	history := s.SessionHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "fresh", history[0].ID)

	outages := s.ListOutages("", 0)
	require.Len(t, outages, 1)
	assert.Equal(t, "open-old", outages[0].ID, "open outages survive the sweep")
}

func TestSweepNoopWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	removed, err := s.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
}
