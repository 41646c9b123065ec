// SPDX-License-Identifier: MIT

// Package coordinate elects one leader among the processes sharing a state
// directory. The leader holds a lease in a lock file, refreshed by
// heartbeat, and publishes per-channel snapshots to a shared-state file
// that followers poll and mirror in memory.
package coordinate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/netpulse-io/netpulse/internal/events"
	"github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/metrics"
	"github.com/netpulse-io/netpulse/internal/model"
	"github.com/netpulse-io/netpulse/internal/store"
)

// Role is the coordination role of this process.
type Role string

// Role constants.
const (
	RoleInitializing Role = "initializing"
	RoleLeader       Role = "leader"
	RoleFollower     Role = "follower"
)

// Default lease tuning: the lease window is three heartbeats, so a leader
// must miss three consecutive refreshes before followers may take over.
const (
	DefaultHeartbeatInterval = 100 * time.Millisecond
	DefaultLeaseTimeout      = 300 * time.Millisecond
)

// ErrNotLeader is returned when a leader-only operation is attempted by a
// follower.
var ErrNotLeader = errors.New("coordinate: not leader")

// RoleChange announces a role transition.
type RoleChange struct {
	Old Role
	New Role
}

// MirrorUpdate carries a freshly observed shared-state revision to follower
// subscribers.
type MirrorUpdate struct {
	Revision uint64
	Channels map[string]model.ChannelSnapshot
}

// Options configures a Coordinator.
type Options struct {
	// Dir is the coordination directory; the lock and shared-state files
	// live here.
	Dir string

	// Disabled skips election entirely; the process is leader by fiat.
	Disabled bool

	// WindowID identifies this process instance; empty generates one.
	WindowID string

	HeartbeatInterval time.Duration
	LeaseTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.WindowID == "" {
		o.WindowID = uuid.New().String()
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = DefaultLeaseTimeout
	}
	return o
}

// Coordinator runs the election loop for one process.
type Coordinator struct {
	opts   Options
	pid    int
	logger zerolog.Logger

	roleChanges *events.Stream[RoleChange]
	mirrors     *events.Stream[MirrorUpdate]

	mu       sync.RWMutex
	role     Role
	disabled bool
	revision uint64
	mirror   map[string]model.ChannelSnapshot

	now func() time.Time
}

// New creates a coordinator. Run must be called to start the election loop.
func New(opts Options) *Coordinator {
	opts = opts.withDefaults()
	c := &Coordinator{
		opts:        opts,
		pid:         os.Getpid(),
		logger:      log.WithComponent("coordinate"),
		roleChanges: events.NewStream[RoleChange]("role_changes", 0),
		mirrors:     events.NewStream[MirrorUpdate]("mirror_updates", 0),
		role:        RoleInitializing,
		disabled:    opts.Disabled,
		mirror:      make(map[string]model.ChannelSnapshot),
		now:         time.Now,
	}
	metrics.SetCoordinationRole(string(RoleInitializing))
	return c
}

// Role returns the current coordination role.
func (c *Coordinator) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// IsLeader reports whether this process may schedule probes and write the
// durable store.
func (c *Coordinator) IsLeader() bool {
	return c.Role() == RoleLeader
}

// WindowID returns this process's opaque window identifier.
func (c *Coordinator) WindowID() string {
	return c.opts.WindowID
}

// RoleChanges subscribes to role transitions.
func (c *Coordinator) RoleChanges() *events.Subscription[RoleChange] {
	return c.roleChanges.Subscribe()
}

// MirrorUpdates subscribes to shared-state revisions observed as follower.
func (c *Coordinator) MirrorUpdates() *events.Subscription[MirrorUpdate] {
	return c.mirrors.Subscribe()
}

// Mirror returns the last mirrored snapshot and its revision.
func (c *Coordinator) Mirror() (map[string]model.ChannelSnapshot, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]model.ChannelSnapshot, len(c.mirror))
	for id, snap := range c.mirror {
		out[id] = snap
	}
	return out, c.revision
}

func (c *Coordinator) lockPath() string {
	return filepath.Join(c.opts.Dir, store.FileLock)
}

func (c *Coordinator) sharedPath() string {
	return filepath.Join(c.opts.Dir, store.FileSharedState)
}

func (c *Coordinator) record() model.LeaderRecord {
	return model.LeaderRecord{
		PID:      c.pid,
		WindowID: c.opts.WindowID,
		LeaseTS:  c.now().UnixMilli(),
	}
}

func (c *Coordinator) setRole(role Role) {
	c.mu.Lock()
	old := c.role
	c.role = role
	c.mu.Unlock()
	if old == role {
		return
	}
	metrics.SetCoordinationRole(string(role))
	c.logger.Info().
		Str(log.FieldEvent, "coordinate.role_change").
		Str(log.FieldRole, string(role)).
		Str("old_role", string(old)).
		Msg("coordination role changed")
	c.roleChanges.Publish(RoleChange{Old: old, New: role})
}

// Run drives the election loop until ctx is cancelled. It never returns an
// error for coordination trouble: an unwritable directory degrades to
// disabled coordination and the process continues as sole leader.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.disabled {
		c.setRole(RoleLeader)
		<-ctx.Done()
		return nil
	}
	if err := os.MkdirAll(c.opts.Dir, 0o700); err != nil {
		c.degrade(err)
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	c.elect(ctx)
	for {
		select {
		case <-ctx.Done():
			c.Resign()
			return nil
		case <-ticker.C:
			if c.isDisabled() {
				continue
			}
			switch c.Role() {
			case RoleLeader:
				c.heartbeat(ctx)
			default:
				c.pollAsFollower(ctx)
			}
		}
	}
}

func (c *Coordinator) isDisabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disabled
}

// degrade disables coordination after a permission-style failure; the
// process keeps monitoring as a single leader. Surfaced once.
func (c *Coordinator) degrade(err error) {
	c.mu.Lock()
	already := c.disabled
	c.disabled = true
	c.mu.Unlock()
	if !already {
		c.logger.Warn().
			Str(log.FieldEvent, "coordinate.disabled").
			Str(log.FieldPath, c.opts.Dir).
			Err(err).
			Msg("coordination files unwritable, continuing as sole leader")
	}
	c.setRole(RoleLeader)
}

// elect runs the startup election: exclusive-create wins leadership, a
// fresh foreign lease means follower, a stale one is taken over.
func (c *Coordinator) elect(ctx context.Context) {
	rec := c.record()
	data, err := json.Marshal(rec)
	if err != nil {
		c.degrade(err)
		return
	}

	f, err := os.OpenFile(c.lockPath(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err == nil {
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			c.degrade(errors.Join(werr, cerr))
			return
		}
		c.promote(ctx)
		return
	}
	if !errors.Is(err, os.ErrExist) {
		c.degrade(err)
		return
	}

	holder, ok := c.readLock(ctx)
	if ok && c.leaseFresh(holder) {
		c.setRole(RoleFollower)
		c.pollAsFollower(ctx)
		return
	}
	c.takeover(ctx)
}

func (c *Coordinator) leaseFresh(rec model.LeaderRecord) bool {
	age := c.now().UnixMilli() - rec.LeaseTS
	// A future-dated lease (clock skew across processes) reads as fresh;
	// skew must not authorize taking over a live leader.
	if age < 0 {
		age = 0
	}
	return age < c.opts.LeaseTimeout.Milliseconds()
}

// readLock returns the current lock record. A corrupt or absent lock reads
// as not ok, which triggers election.
func (c *Coordinator) readLock(ctx context.Context) (model.LeaderRecord, bool) {
	data, err := store.ReadFileValidated(ctx, c.lockPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			store.Quarantine(ctx, c.lockPath())
		}
		return model.LeaderRecord{}, false
	}
	var rec model.LeaderRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		store.Quarantine(ctx, c.lockPath())
		return model.LeaderRecord{}, false
	}
	return rec, true
}

func (c *Coordinator) writeLock(ctx context.Context) error {
	data, err := json.Marshal(c.record())
	if err != nil {
		return fmt.Errorf("marshal lock record: %w", err)
	}
	return store.WriteFileAtomic(ctx, c.lockPath(), data)
}

// heartbeat refreshes the lease. A foreign record in the lock file means
// the lease was stolen; the leader demotes itself immediately.
func (c *Coordinator) heartbeat(ctx context.Context) {
	if rec, ok := c.readLock(ctx); ok && rec.WindowID != c.opts.WindowID {
		if c.leaseFresh(rec) {
			c.logger.Warn().
				Str(log.FieldEvent, "coordinate.lease_stolen").
				Str(log.FieldWindowID, rec.WindowID).
				Int("holder_pid", rec.PID).
				Msg("lock held by another live process, demoting")
			c.setRole(RoleFollower)
			return
		}
	}
	if err := c.writeLock(ctx); err != nil {
		if os.IsPermission(err) {
			c.degrade(err)
			return
		}
		c.logger.Warn().
			Str(log.FieldEvent, "coordinate.heartbeat_failed").
			Err(err).
			Msg("lease refresh failed")
		return
	}
	metrics.IncHeartbeat()
}

// pollAsFollower watches the lease and mirrors shared state. A stale lease
// authorizes takeover.
func (c *Coordinator) pollAsFollower(ctx context.Context) {
	rec, ok := c.readLock(ctx)
	if !ok || !c.leaseFresh(rec) {
		c.takeover(ctx)
		return
	}
	if rec.WindowID == c.opts.WindowID {
		// Our own record with a fresh lease: a demotion raced a heartbeat.
		c.promote(ctx)
		return
	}
	c.pollShared(ctx)
}

// takeover atomically replaces a stale lock record with our own.
func (c *Coordinator) takeover(ctx context.Context) {
	if err := c.writeLock(ctx); err != nil {
		if os.IsPermission(err) {
			c.degrade(err)
			return
		}
		c.logger.Warn().
			Str(log.FieldEvent, "coordinate.takeover_failed").
			Err(err).
			Msg("stale-lease takeover failed")
		return
	}
	// Confirm the write stuck; a concurrent takeover can still win the
	// rename race.
	if rec, ok := c.readLock(ctx); ok && rec.WindowID != c.opts.WindowID {
		c.setRole(RoleFollower)
		return
	}
	metrics.IncTakeover()
	c.logger.Info().
		Str(log.FieldEvent, "coordinate.takeover").
		Msg("stale lease taken over")
	c.promote(ctx)
}

// promote seeds the in-memory view from shared state, then assumes
// leadership.
func (c *Coordinator) promote(ctx context.Context) {
	if shared, ok := c.readShared(ctx); ok {
		c.mu.Lock()
		c.revision = shared.Revision
		c.mirror = shared.Channels
		if c.mirror == nil {
			c.mirror = make(map[string]model.ChannelSnapshot)
		}
		c.mu.Unlock()
	}
	c.setRole(RoleLeader)
}

func (c *Coordinator) readShared(ctx context.Context) (model.SharedState, bool) {
	data, err := store.ReadFileValidated(ctx, c.sharedPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			store.Quarantine(ctx, c.sharedPath())
		}
		return model.SharedState{}, false
	}
	var shared model.SharedState
	if err := json.Unmarshal(data, &shared); err != nil {
		store.Quarantine(ctx, c.sharedPath())
		return model.SharedState{}, false
	}
	return shared, true
}

// pollShared mirrors the leader's snapshot when the revision advances.
// Revisions are observed in non-decreasing order; an older file (a new
// leader that has not published yet) is ignored.
func (c *Coordinator) pollShared(ctx context.Context) {
	shared, ok := c.readShared(ctx)
	if !ok {
		return
	}
	c.mu.Lock()
	if shared.Revision <= c.revision && c.revision != 0 {
		c.mu.Unlock()
		return
	}
	c.revision = shared.Revision
	c.mirror = shared.Channels
	if c.mirror == nil {
		c.mirror = make(map[string]model.ChannelSnapshot)
	}
	update := MirrorUpdate{Revision: shared.Revision, Channels: c.mirror}
	c.mu.Unlock()

	c.mirrors.Publish(update)
}

// Publish writes the per-channel snapshot for followers to mirror. Leader
// only; the revision counter advances with every publish.
func (c *Coordinator) Publish(ctx context.Context, channels map[string]model.ChannelSnapshot) error {
	if !c.IsLeader() {
		return ErrNotLeader
	}
	if c.isDisabled() {
		return nil
	}

	c.mu.Lock()
	c.revision++
	shared := model.SharedState{
		Leader:   c.record(),
		Channels: channels,
		Revision: c.revision,
	}
	c.mirror = channels
	c.mu.Unlock()

	data, err := json.MarshalIndent(shared, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal shared state: %w", err)
	}
	if err := store.WriteFileAtomic(ctx, c.sharedPath(), data); err != nil {
		if os.IsPermission(err) {
			c.degrade(err)
			return nil
		}
		return err
	}
	return nil
}

// Resign releases leadership by deleting the lock file. Called on clean
// shutdown; followers elect a successor on their next poll.
func (c *Coordinator) Resign() {
	if c.Role() != RoleLeader || c.isDisabled() {
		return
	}
	if err := os.Remove(c.lockPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn().
			Str(log.FieldEvent, "coordinate.resign_failed").
			Err(err).
			Msg("could not remove lock file on shutdown")
		return
	}
	c.logger.Info().
		Str(log.FieldEvent, "coordinate.resigned").
		Msg("leadership released")
}
