// SPDX-License-Identifier: MIT

// Package store persists the monitor's durable state as human-readable JSON
// documents under one per-user directory. Every write is atomic and
// crash-safe; every read validates structure and quarantines corruption
// instead of failing the caller.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/netpulse-io/netpulse/internal/log"
	"github.com/netpulse-io/netpulse/internal/metrics"
	"github.com/netpulse-io/netpulse/internal/model"
)

// Persisted file names under the state directory.
const (
	FileChannelStates = "channelStates.json"
	FileCurrentWatch  = "currentWatch.json"
	FileWatchHistory  = "watchHistory.json"
	FileOutages       = "outages.json"

	// FileLock and FileSharedState belong to the coordinator but live in the
	// same directory and follow the same write discipline.
	FileLock        = "leader.lock"
	FileSharedState = "shared-state.json"
)

// Default retention and cap settings.
const (
	DefaultSampleCap        = 1000
	DefaultHistoryCap       = 100
	DefaultOutageCap        = 500
	DefaultSampleRetention  = 7 * 24 * time.Hour
	DefaultHistoryRetention = 30 * 24 * time.Hour
)

// ErrNoOpenOutage is returned when closing an outage for a channel that has
// none open.
var ErrNoOpenOutage = errors.New("store: no open outage")

// Options tunes retention and caps. Zero values pick the defaults.
type Options struct {
	SampleCap        int
	HistoryCap       int
	OutageCap        int
	SampleRetention  time.Duration
	HistoryRetention time.Duration
}

func (o Options) withDefaults() Options {
	if o.SampleCap <= 0 {
		o.SampleCap = DefaultSampleCap
	}
	if o.HistoryCap <= 0 {
		o.HistoryCap = DefaultHistoryCap
	}
	if o.OutageCap <= 0 {
		o.OutageCap = DefaultOutageCap
	}
	if o.SampleRetention <= 0 {
		o.SampleRetention = DefaultSampleRetention
	}
	if o.HistoryRetention <= 0 {
		o.HistoryRetention = DefaultHistoryRetention
	}
	return o
}

// channelRecord is the persisted per-channel entry: the mutable state plus
// the recent-sample ring buffer.
type channelRecord struct {
	State   model.ChannelState `json:"state"`
	Samples []model.Sample     `json:"samples,omitempty"`
}

// Store owns the durable documents. In-memory copies stay authoritative when
// a write fails; the next successful write converges the disk view.
type Store struct {
	dir    string
	opts   Options
	logger zerolog.Logger

	mu       sync.RWMutex
	channels map[string]*channelRecord
	current  *model.WatchSession
	history  []model.WatchSession
	outages  []model.Outage
}

// New opens the store rooted at dir, creating it if needed, removing stale
// temp files from interrupted writes, and loading every document.
func New(ctx context.Context, dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	s := &Store{
		dir:      dir,
		opts:     opts.withDefaults(),
		logger:   log.WithComponent("store"),
		channels: make(map[string]*channelRecord),
	}
	s.cleanupTemp(ctx)
	s.load(ctx)
	return s, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(file string) string {
	return filepath.Join(s.dir, file)
}

// cleanupTemp removes leftovers of writes interrupted by a crash. The target
// files are untouched; a temp sibling never became visible.
func (s *Store) cleanupTemp(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.Contains(e.Name(), ".tmp.") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		logger := log.WithContext(ctx, s.logger)
		logger.Info().
			Str(log.FieldEvent, "store.temp_cleanup").
			Int("removed", removed).
			Msg("removed stale temp files")
	}
}

func (s *Store) load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = readDoc(ctx, s.path(FileChannelStates), map[string]*channelRecord{})
	s.current = readDoc[*model.WatchSession](ctx, s.path(FileCurrentWatch), nil)
	s.history = readDoc(ctx, s.path(FileWatchHistory), []model.WatchSession{})
	s.outages = readDoc(ctx, s.path(FileOutages), []model.Outage{})
}

// readDoc loads one document, falling back to def on absence and
// quarantining corruption.
func readDoc[T any](ctx context.Context, path string, def T) T {
	data, err := ReadFileValidated(ctx, path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			Quarantine(ctx, path)
		}
		return def
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		Quarantine(ctx, path)
		return def
	}
	return v
}

// writeDoc serializes with two-space indentation and persists atomically.
func writeDoc(ctx context.Context, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := WriteFileAtomic(ctx, path, data); err != nil {
		return err
	}
	metrics.SetStoreDocumentBytes(filepath.Base(path), len(data))
	return nil
}

// GetState returns the channel's state, defaulting to unknown when the
// channel has never been seen.
func (s *Store) GetState(channelID string) model.ChannelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.channels[channelID]; ok {
		return rec.State
	}
	return model.DefaultChannelState(channelID)
}

// States returns a copy of every known channel state.
func (s *Store) States() map[string]model.ChannelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.ChannelState, len(s.channels))
	for id, rec := range s.channels {
		out[id] = rec.State
	}
	return out
}

// SetState replaces the channel's state record and persists.
func (s *Store) SetState(ctx context.Context, state model.ChannelState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.channels[state.ChannelID]
	if !ok {
		rec = &channelRecord{}
		s.channels[state.ChannelID] = rec
	}
	rec.State = state
	return writeDoc(ctx, s.path(FileChannelStates), s.channels)
}

// AppendSample appends to the channel's ring buffer, enforcing
// non-decreasing timestamps, the retention window, and the size cap.
func (s *Store) AppendSample(ctx context.Context, channelID string, sample model.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.channels[channelID]
	if !ok {
		rec = &channelRecord{State: model.DefaultChannelState(channelID)}
		s.channels[channelID] = rec
	}

	if n := len(rec.Samples); n > 0 && sample.TS < rec.Samples[n-1].TS {
		sample.TS = rec.Samples[n-1].TS
	}
	rec.Samples = append(rec.Samples, sample)

	cutoff := sample.TS - s.opts.SampleRetention.Milliseconds()
	firstKept := 0
	for firstKept < len(rec.Samples)-1 && rec.Samples[firstKept].TS < cutoff {
		firstKept++
	}
	rec.Samples = rec.Samples[firstKept:]

	if over := len(rec.Samples) - s.opts.SampleCap; over > 0 {
		rec.Samples = rec.Samples[over:]
		s.logger.Debug().
			Str(log.FieldEvent, "store.samples_trimmed").
			Str(log.FieldChannel, channelID).
			Int("dropped", over).
			Msg("sample ring over cap, oldest dropped")
	}

	return writeDoc(ctx, s.path(FileChannelStates), s.channels)
}

// SamplesInWindow returns the channel's samples with from <= ts <= to, in
// timestamp order.
func (s *Store) SamplesInWindow(channelID string, from, to int64) []model.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.channels[channelID]
	if !ok {
		return nil
	}
	lo := sort.Search(len(rec.Samples), func(i int) bool { return rec.Samples[i].TS >= from })
	hi := sort.Search(len(rec.Samples), func(i int) bool { return rec.Samples[i].TS > to })
	if lo >= hi {
		return nil
	}
	out := make([]model.Sample, hi-lo)
	copy(out, rec.Samples[lo:hi])
	return out
}

// OpenOutage appends a new outage, evicting the oldest past the cap.
func (s *Store) OpenOutage(ctx context.Context, o model.Outage) error {
	if err := o.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outages = append(s.outages, o)
	if over := len(s.outages) - s.opts.OutageCap; over > 0 {
		s.outages = s.outages[over:]
	}
	s.updateOpenGaugeLocked()
	return writeDoc(ctx, s.path(FileOutages), s.outages)
}

// OpenOutageFor returns the channel's open outage, if any.
func (s *Store) OpenOutageFor(channelID string) (model.Outage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.outages) - 1; i >= 0; i-- {
		if s.outages[i].ChannelID == channelID && s.outages[i].Open() {
			return s.outages[i], true
		}
	}
	return model.Outage{}, false
}

// CloseOutage closes the channel's open outage at recoveryTS and returns the
// closed record.
func (s *Store) CloseOutage(ctx context.Context, channelID string, recoveryTS int64, finalLatencyMS *int64) (model.Outage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.outages) - 1; i >= 0; i-- {
		if s.outages[i].ChannelID != channelID || !s.outages[i].Open() {
			continue
		}
		s.outages[i].Close(recoveryTS, finalLatencyMS)
		s.updateOpenGaugeLocked()
		if err := writeDoc(ctx, s.path(FileOutages), s.outages); err != nil {
			return model.Outage{}, err
		}
		return s.outages[i], nil
	}
	return model.Outage{}, fmt.Errorf("%w: channel %s", ErrNoOpenOutage, channelID)
}

// ListOutages filters by channel ("" for all) and confirmation time.
func (s *Store) ListOutages(channelID string, sinceTS int64) []model.Outage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Outage
	for _, o := range s.outages {
		if channelID != "" && o.ChannelID != channelID {
			continue
		}
		if o.ConfirmedTS < sinceTS {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (s *Store) updateOpenGaugeLocked() {
	open := 0
	for _, o := range s.outages {
		if o.Open() {
			open++
		}
	}
	metrics.SetOpenOutages(open)
}

// CurrentSession returns the active watch session or nil.
func (s *Store) CurrentSession() *model.WatchSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// SetCurrentSession replaces (or clears, with nil) the current session.
func (s *Store) SetCurrentSession(ctx context.Context, session *model.WatchSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = session
	return writeDoc(ctx, s.path(FileCurrentWatch), session)
}

// AppendSessionHistory adds a finalized session, evicting the oldest past
// the cap.
func (s *Store) AppendSessionHistory(ctx context.Context, session model.WatchSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, session)
	if over := len(s.history) - s.opts.HistoryCap; over > 0 {
		s.history = s.history[over:]
	}
	return writeDoc(ctx, s.path(FileWatchHistory), s.history)
}

// SessionHistory returns a copy of the finalized sessions, oldest first.
func (s *Store) SessionHistory() []model.WatchSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.WatchSession, len(s.history))
	copy(out, s.history)
	return out
}

// SetCustom persists an opaque blob for an external caller.
func (s *Store) SetCustom(ctx context.Context, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeDoc(ctx, s.path(customFile(key)), value)
}

// GetCustom loads an opaque blob into out; ok is false when absent.
func (s *Store) GetCustom(ctx context.Context, key string, out any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	path := s.path(customFile(key))
	data, err := ReadFileValidated(ctx, path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		Quarantine(ctx, path)
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		Quarantine(ctx, path)
		return false, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func customFile(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return "custom_" + b.String() + ".json"
}

// Sweep removes session-history entries and closed outages that started
// before the history-retention cutoff. Open outages are kept so the open
// reference on a channel state never dangles.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.opts.HistoryRetention).UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	keptHistory := s.history[:0]
	for _, h := range s.history {
		if h.StartTS < cutoff {
			removed++
			continue
		}
		keptHistory = append(keptHistory, h)
	}
	s.history = keptHistory

	keptOutages := s.outages[:0]
	for _, o := range s.outages {
		if !o.Open() && o.FirstFailureTS < cutoff {
			removed++
			continue
		}
		keptOutages = append(keptOutages, o)
	}
	s.outages = keptOutages

	if removed == 0 {
		return 0, nil
	}
	err := errors.Join(
		writeDoc(ctx, s.path(FileWatchHistory), s.history),
		writeDoc(ctx, s.path(FileOutages), s.outages),
	)
	if err == nil {
		s.logger.Info().
			Str(log.FieldEvent, "store.sweep").
			Int("removed", removed).
			Msg("retention sweep complete")
	}
	return removed, err
}
