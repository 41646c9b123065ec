// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse-io/netpulse/internal/config"
	"github.com/netpulse-io/netpulse/internal/engine"
	"github.com/netpulse-io/netpulse/internal/store"
)

const appWorkspace = `
channels:
  - id: api
    probe:
      variant: web
      web:
        url: https://api.example.com/health
  - id: db
    probe:
      variant: socket
      socket:
        host: 127.0.0.1
        port: 5432
`

func newTestApp(t *testing.T) (*App, *engine.Engine, string) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	st, err := store.New(ctx, dir, store.Options{})
	require.NoError(t, err)
	eng, err := engine.New(ctx, engine.Options{Store: st})
	require.NoError(t, err)

	cfg := config.AppConfig{
		StateDir:      dir,
		WorkspaceFile: filepath.Join(dir, "channels.yaml"),
	}
	app := NewApp(zerolog.New(zerolog.NewTestWriter(t)), cfg, eng)
	return app, eng, cfg.WorkspaceFile
}

func TestReloadWorkspaceAppliesChannels(t *testing.T) {
	app, eng, path := newTestApp(t)
	require.NoError(t, os.WriteFile(path, []byte(appWorkspace), 0o600))

	require.NoError(t, app.ReloadWorkspace(context.Background()))
	assert.Equal(t, 2, eng.ChannelCount())
}

func TestReloadWorkspaceMissingFileIsEmpty(t *testing.T) {
	app, eng, _ := newTestApp(t)

	require.NoError(t, app.ReloadWorkspace(context.Background()))
	assert.Equal(t, 0, eng.ChannelCount())
}

func TestRunRequiresManager(t *testing.T) {
	app, _, _ := newTestApp(t)
	assert.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)
}

func TestRunLoadsWorkspaceAndStops(t *testing.T) {
	app, eng, path := newTestApp(t)
	require.NoError(t, os.WriteFile(path, []byte(appWorkspace), 0o600))

	m, err := NewManager(DefaultServerConfig("127.0.0.1:0", ""), Deps{
		Logger:     zerolog.New(zerolog.NewTestWriter(t)),
		Engine:     eng,
		APIHandler: http.NewServeMux(),
	})
	require.NoError(t, err)
	app.SetManager(m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return eng.ChannelCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}
