// SPDX-License-Identifier: MIT

package daemon

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse-io/netpulse/internal/engine"
	"github.com/netpulse-io/netpulse/internal/store"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	ctx := context.Background()
	st, err := store.New(ctx, t.TempDir(), store.Options{})
	require.NoError(t, err)
	eng, err := engine.New(ctx, engine.Options{Store: st})
	require.NoError(t, err)

	return Deps{
		Logger:     zerolog.New(zerolog.NewTestWriter(t)),
		Engine:     eng,
		APIHandler: http.NewServeMux(),
	}
}

func TestNewManagerValidatesDeps(t *testing.T) {
	deps := testDeps(t)

	tests := []struct {
		name    string
		mutate  func(*Deps)
		wantErr error
	}{
		{"missing engine", func(d *Deps) { d.Engine = nil }, ErrMissingEngine},
		{"missing api handler", func(d *Deps) { d.APIHandler = nil }, ErrMissingAPIHandler},
		{"missing logger", func(d *Deps) { d.Logger = zerolog.Nop().Level(zerolog.Disabled) }, ErrMissingLogger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := deps
			tt.mutate(&d)
			_, err := NewManager(DefaultServerConfig("127.0.0.1:0", ""), d)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	m, err := NewManager(DefaultServerConfig("127.0.0.1:0", ""), deps)
	require.NoError(t, err)
	assert.NotNil(t, m)
}

func TestManagerStartAndShutdown(t *testing.T) {
	m, err := NewManager(DefaultServerConfig("127.0.0.1:0", "127.0.0.1:0"), testDeps(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	// Give the listeners a moment, then signal shutdown.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}
}

func TestManagerShutdownBeforeStart(t *testing.T) {
	m, err := NewManager(DefaultServerConfig("127.0.0.1:0", ""), testDeps(t))
	require.NoError(t, err)

	assert.ErrorIs(t, m.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestShutdownHooksRunInLIFOOrder(t *testing.T) {
	m, err := NewManager(DefaultServerConfig("127.0.0.1:0", ""), testDeps(t))
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	hook := func(name string) ShutdownHook {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	m.RegisterShutdownHook("first", hook("first"))
	m.RegisterShutdownHook("second", hook("second"))
	m.RegisterShutdownHook("third", hook("third"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestManagerDoubleShutdownIsIdempotent(t *testing.T) {
	m, err := NewManager(DefaultServerConfig("127.0.0.1:0", ""), testDeps(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// A second shutdown after the first is a no-op.
	assert.NoError(t, m.Shutdown(context.Background()))
}
