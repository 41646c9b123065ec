// SPDX-License-Identifier: MIT
package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/netpulse-io/netpulse/internal/log"
)

// debounceWindow coalesces editor write bursts into one reload.
const debounceWindow = 250 * time.Millisecond

// WatchWorkspace watches the channel document and invokes onChange with each
// freshly loaded workspace. The parent directory is watched so atomic
// replace-by-rename saves are seen. Blocks until ctx is done.
func WatchWorkspace(ctx context.Context, path string, onChange func(Workspace)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger := log.WithComponent("config")
	target := filepath.Clean(path)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().
				Str(log.FieldEvent, "config.watch_error").
				Err(err).
				Msg("workspace watcher error")
		case <-timerC:
			ws, err := LoadWorkspace(path)
			if err != nil {
				logger.Warn().
					Str(log.FieldEvent, "config.reload_failed").
					Str(log.FieldPath, path).
					Err(err).
					Msg("workspace reload failed, keeping previous channel set")
				continue
			}
			logger.Info().
				Str(log.FieldEvent, "config.reloaded").
				Str(log.FieldPath, path).
				Int("channels", len(ws.Channels)).
				Msg("workspace reloaded")
			onChange(ws)
		}
	}
}
