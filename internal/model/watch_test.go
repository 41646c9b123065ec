// SPDX-License-Identifier: MIT

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWatchDuration(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    WatchDuration
		wantErr bool
	}{
		{"one hour", "1h", WatchDuration{MS: 3600000}, false},
		{"twelve hours", "12h", WatchDuration{MS: 43200000}, false},
		{"forever", "forever", WatchDuration{Forever: true}, false},
		{"plain milliseconds", "90000", WatchDuration{MS: 90000}, false},
		{"zero rejected", "0", WatchDuration{}, true},
		{"negative rejected", "-5000", WatchDuration{}, true},
		{"garbage rejected", "soon", WatchDuration{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWatchDuration(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWatchDuration_DeadlineFrom(t *testing.T) {
	t.Run("finite", func(t *testing.T) {
		d := WatchDuration{MS: 60000}
		end, ok := d.DeadlineFrom(1000)
		require.True(t, ok)
		assert.Equal(t, int64(61000), end)
	})

	t.Run("forever", func(t *testing.T) {
		d := WatchDuration{Forever: true}
		_, ok := d.DeadlineFrom(1000)
		assert.False(t, ok)
	})
}

func TestWatchSession_Active(t *testing.T) {
	s := WatchSession{ID: "w1", StartTS: 1000, Duration: WatchDuration{MS: 60000}}
	assert.True(t, s.Active())

	end := int64(61000)
	s.EndTS = &end
	assert.False(t, s.Active())
}

func TestIndividualWatch_ActiveAt(t *testing.T) {
	exp := int64(5000)
	bounded := IndividualWatch{ChannelID: "api", StartTS: 1000, ExpireTS: &exp}
	assert.True(t, bounded.ActiveAt(4999))
	assert.False(t, bounded.ActiveAt(5000))

	unbounded := IndividualWatch{ChannelID: "api", StartTS: 1000}
	assert.True(t, unbounded.ActiveAt(999999999))
}

func TestOutage_CloseDerivesDuration(t *testing.T) {
	o := Outage{
		ID:             "o1",
		ChannelID:      "web-a",
		FirstFailureTS: 1000,
		ConfirmedTS:    60000,
		FailureCount:   3,
		Reason:         ClassTimeout,
	}
	require.True(t, o.Open())
	require.NoError(t, o.Validate())

	o.Close(80000, LatencyMSPtr(42))
	require.False(t, o.Open())
	require.NotNil(t, o.DurationMS)
	assert.Equal(t, int64(20000), *o.DurationMS)
	require.NotNil(t, o.RecoveryLatencyMS)
	assert.Equal(t, int64(42), *o.RecoveryLatencyMS)
	assert.NoError(t, o.Validate())
}

func TestOutage_ValidateOrdering(t *testing.T) {
	rec := int64(500)
	tests := []struct {
		name   string
		outage Outage
	}{
		{"confirmation before first failure", Outage{ID: "o", ChannelID: "c", FirstFailureTS: 100, ConfirmedTS: 50, FailureCount: 1, Reason: ClassHTTP}},
		{"recovery not after confirmation", Outage{ID: "o", ChannelID: "c", FirstFailureTS: 100, ConfirmedTS: 500, RecoveredTS: &rec, FailureCount: 1, Reason: ClassHTTP}},
		{"zero failure count", Outage{ID: "o", ChannelID: "c", FirstFailureTS: 100, ConfirmedTS: 500, FailureCount: 0, Reason: ClassHTTP}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.outage.Validate())
		})
	}
}

func TestProbeResult_SampleAt(t *testing.T) {
	t.Run("failure keeps classification", func(t *testing.T) {
		r := ProbeResult{Success: false, Class: ClassSocket, Error: "connection refused", LatencyMS: LatencyMSPtr(12)}
		s := r.SampleAt(1234)
		assert.Equal(t, int64(1234), s.TS)
		assert.False(t, s.Success)
		assert.Equal(t, ClassSocket, s.Class)
		require.NotNil(t, s.LatencyMS)
		assert.Equal(t, int64(12), *s.LatencyMS)
	})

	t.Run("success drops classification", func(t *testing.T) {
		r := ProbeResult{Success: true, Class: ClassHTTP, LatencyMS: LatencyMSPtr(80)}
		s := r.SampleAt(1234)
		assert.True(t, s.Success)
		assert.Empty(t, s.Class)
	})
}
