// SPDX-License-Identifier: MIT

package coordinate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/netpulse-io/netpulse/internal/model"
	"github.com/netpulse-io/netpulse/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeLockRecord(t *testing.T, dir string, rec model.LeaderRecord) {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, store.FileLock), data, 0o600))
}

func readLockRecord(t *testing.T, dir string) model.LeaderRecord {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, store.FileLock))
	require.NoError(t, err)
	var rec model.LeaderRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec
}

func TestElectionAbsentLockBecomesLeader(t *testing.T) {
	dir := t.TempDir()
	c := New(Options{Dir: dir})
	c.elect(context.Background())

	assert.Equal(t, RoleLeader, c.Role())
	rec := readLockRecord(t, dir)
	assert.Equal(t, c.WindowID(), rec.WindowID)
	assert.Equal(t, os.Getpid(), rec.PID)
}

func TestElectionFreshLeaseBecomesFollower(t *testing.T) {
	dir := t.TempDir()
	writeLockRecord(t, dir, model.LeaderRecord{
		PID:      99999,
		WindowID: "other-window",
		LeaseTS:  time.Now().UnixMilli(),
	})

	c := New(Options{Dir: dir})
	c.elect(context.Background())

	assert.Equal(t, RoleFollower, c.Role())
	// The foreign record must be untouched: followers never write the lock.
	assert.Equal(t, "other-window", readLockRecord(t, dir).WindowID)
}

func TestElectionFutureDatedLeaseBecomesFollower(t *testing.T) {
	dir := t.TempDir()
	// A peer with a skewed clock heartbeats into the future; its lease
	// must still read as live.
	writeLockRecord(t, dir, model.LeaderRecord{
		PID:      99999,
		WindowID: "skewed-window",
		LeaseTS:  time.Now().Add(10 * time.Second).UnixMilli(),
	})

	c := New(Options{Dir: dir, LeaseTimeout: 300 * time.Millisecond})
	c.elect(context.Background())

	assert.Equal(t, RoleFollower, c.Role())
	assert.Equal(t, "skewed-window", readLockRecord(t, dir).WindowID)
}

func TestElectionStaleLeaseTakeover(t *testing.T) {
	dir := t.TempDir()
	writeLockRecord(t, dir, model.LeaderRecord{
		PID:      99999,
		WindowID: "dead-window",
		LeaseTS:  time.Now().Add(-time.Second).UnixMilli(),
	})

	c := New(Options{Dir: dir, LeaseTimeout: 300 * time.Millisecond})
	c.elect(context.Background())

	assert.Equal(t, RoleLeader, c.Role())
	assert.Equal(t, c.WindowID(), readLockRecord(t, dir).WindowID)
}

func TestFollowerDetectsStaleLeaseOnPoll(t *testing.T) {
	dir := t.TempDir()
	leaseTS := time.Now().UnixMilli()
	writeLockRecord(t, dir, model.LeaderRecord{PID: 1, WindowID: "leader-a", LeaseTS: leaseTS})

	c := New(Options{Dir: dir, LeaseTimeout: 300 * time.Millisecond})
	c.elect(context.Background())
	require.Equal(t, RoleFollower, c.Role())

	// Advance the clock past the lease window instead of sleeping.
	c.now = func() time.Time {
		return time.UnixMilli(leaseTS).Add(500 * time.Millisecond)
	}
	c.pollAsFollower(context.Background())

	assert.Equal(t, RoleLeader, c.Role())
}

func TestCorruptLockTriggersElection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, store.FileLock), []byte("{\"pid\": 12"), 0o600))

	c := New(Options{Dir: dir})
	c.elect(context.Background())

	assert.Equal(t, RoleLeader, c.Role())
	// The corrupt record was quarantined for forensics.
	matches, err := filepath.Glob(filepath.Join(dir, store.FileLock+".corrupt.*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestPublishAndMirror(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	leader := New(Options{Dir: dir})
	leader.elect(ctx)
	require.Equal(t, RoleLeader, leader.Role())

	snap := map[string]model.ChannelSnapshot{
		"web-a": {State: model.StateOffline, TS: 1000, ConsecutiveFailures: 3},
	}
	require.NoError(t, leader.Publish(ctx, snap))
	require.NoError(t, leader.Publish(ctx, snap))

	follower := New(Options{Dir: dir})
	follower.setRole(RoleFollower)
	sub := follower.MirrorUpdates()
	defer sub.Close()

	follower.pollShared(ctx)
	mirror, rev := follower.Mirror()
	assert.Equal(t, uint64(2), rev)
	assert.Equal(t, model.StateOffline, mirror["web-a"].State)

	select {
	case update := <-sub.C():
		assert.Equal(t, uint64(2), update.Revision)
	default:
		t.Fatal("expected a mirror update")
	}

	// Re-polling the same revision must not re-publish.
	follower.pollShared(ctx)
	select {
	case <-sub.C():
		t.Fatal("unexpected update for unchanged revision")
	default:
	}
}

func TestPublishRequiresLeadership(t *testing.T) {
	c := New(Options{Dir: t.TempDir()})
	c.setRole(RoleFollower)
	err := c.Publish(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotLeader)
}

func TestHeartbeatDemotesOnStolenLease(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c := New(Options{Dir: dir})
	c.elect(ctx)
	require.Equal(t, RoleLeader, c.Role())

	// Another process stole the lock and holds a fresh lease.
	writeLockRecord(t, dir, model.LeaderRecord{
		PID:      4242,
		WindowID: "thief",
		LeaseTS:  time.Now().UnixMilli(),
	})
	c.heartbeat(ctx)

	assert.Equal(t, RoleFollower, c.Role())
}

func TestResignRemovesLock(t *testing.T) {
	dir := t.TempDir()
	c := New(Options{Dir: dir})
	c.elect(context.Background())
	require.Equal(t, RoleLeader, c.Role())

	c.Resign()
	_, err := os.Stat(filepath.Join(dir, store.FileLock))
	assert.True(t, os.IsNotExist(err))
}

func TestDisabledCoordinationIsAlwaysLeader(t *testing.T) {
	c := New(Options{Dir: t.TempDir(), Disabled: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, c.IsLeader, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRoleChangeAnnounced(t *testing.T) {
	c := New(Options{Dir: t.TempDir()})
	sub := c.RoleChanges()
	defer sub.Close()

	c.elect(context.Background())

	select {
	case change := <-sub.C():
		assert.Equal(t, RoleInitializing, change.Old)
		assert.Equal(t, RoleLeader, change.New)
	default:
		t.Fatal("expected a role change event")
	}
}
