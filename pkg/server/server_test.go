package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/sharebox/pkg/adapter"
	"github.com/marmos91/sharebox/pkg/auth"
	"github.com/marmos91/sharebox/pkg/lock"
	"github.com/marmos91/sharebox/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter blocks in Serve until stopped, or fails immediately.
type fakeAdapter struct {
	protocol string
	port     int
	failWith error

	backend *adapter.Backend
	stopped atomic.Int32
	stop    chan struct{}
}

func newFake(protocol string, port int) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, port: port, stop: make(chan struct{})}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	if f.failWith != nil {
		return f.failWith
	}
	select {
	case <-ctx.Done():
	case <-f.stop:
	}
	return nil
}

func (f *fakeAdapter) SetBackend(b *adapter.Backend) { f.backend = b }

func (f *fakeAdapter) Stop(context.Context) error {
	if f.stopped.Add(1) == 1 {
		close(f.stop)
	}
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Port() int        { return f.port }

func newBackend(t *testing.T) *adapter.Backend {
	t.Helper()
	root, err := storage.NewRoot(t.TempDir())
	require.NoError(t, err)
	store, err := auth.NewStaticStore(nil)
	require.NoError(t, err)
	return &adapter.Backend{Root: root, Auth: auth.New(store), Locks: lock.NewRegistry()}
}

func TestNew(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
	assert.Panics(t, func() { New(&adapter.Backend{}) })

	srv := New(newBackend(t))
	assert.NotNil(t, srv.Backend().Sink)
}

func TestAddAdapter(t *testing.T) {
	srv := New(newBackend(t))

	a := newFake("FILESRV", 4450)
	require.NoError(t, srv.AddAdapter(a))
	assert.Same(t, srv.Backend(), a.backend)

	assert.Error(t, srv.AddAdapter(newFake("FILESRV", 4451)))
	assert.Error(t, srv.AddAdapter(newFake("OTHER", 4450)))
	assert.NoError(t, srv.AddAdapter(newFake("EPHEMERAL", 0)))
	assert.NoError(t, srv.AddAdapter(newFake("EPHEMERAL2", 0)))
	assert.Len(t, srv.Adapters(), 3)

	assert.Panics(t, func() { _ = srv.AddAdapter(nil) })
}

func TestServe(t *testing.T) {
	t.Run("NoAdapters", func(t *testing.T) {
		srv := New(newBackend(t))
		assert.Error(t, srv.Serve(context.Background()))
	})

	t.Run("ContextCancellationStopsAll", func(t *testing.T) {
		srv := New(newBackend(t))
		a, b := newFake("A", 1), newFake("B", 2)
		require.NoError(t, srv.AddAdapter(a))
		require.NoError(t, srv.AddAdapter(b))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- srv.Serve(ctx) }()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return")
		}
		assert.Equal(t, int32(1), a.stopped.Load())
		assert.Equal(t, int32(1), b.stopped.Load())

		assert.ErrorIs(t, srv.Serve(context.Background()), ErrAlreadyServed)
	})

	t.Run("AdapterFailureStopsOthers", func(t *testing.T) {
		srv := New(newBackend(t))
		healthy := newFake("A", 1)
		broken := newFake("B", 2)
		broken.failWith = errors.New("bind failed")
		require.NoError(t, srv.AddAdapter(healthy))
		require.NoError(t, srv.AddAdapter(broken))

		err := srv.Serve(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bind failed")
		assert.Equal(t, int32(1), healthy.stopped.Load())
	})
}
