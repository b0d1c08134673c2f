package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/sharebox/internal/logger"
	"github.com/marmos91/sharebox/pkg/adapter"
	"github.com/marmos91/sharebox/pkg/metrics"
)

// DefaultStopTimeout bounds the Stop() calls issued during shutdown.
const DefaultStopTimeout = 30 * time.Second

// ErrAlreadyServed is returned when Serve is called a second time.
var ErrAlreadyServed = errors.New("server: Serve already called")

// ShareServer manages the lifecycle of the protocol adapters that share one
// storage backend.
//
// Lifecycle:
//  1. Creation: New() with the shared backend
//  2. Registration: AddAdapter() for each adapter
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: Context cancellation triggers graceful shutdown of all adapters
//
// Example usage:
//
//	srv := server.New(backend)
//	srv.AddAdapter(filesrv.New(cfg, serverMetrics))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
//	    log.Fatal(err)
//	}
type ShareServer struct {
	backend *adapter.Backend

	// mu protects adapters and served
	mu       sync.RWMutex
	adapters []adapter.Adapter
	served   bool

	stopTimeout time.Duration
}

// New creates a ShareServer around the shared backend.
//
// Panics if the backend is missing its root, authenticator or lock registry
// (programmer error). A nil Sink is replaced by a no-op sink.
func New(backend *adapter.Backend) *ShareServer {
	if backend == nil || backend.Root == nil {
		panic("storage root cannot be nil")
	}
	if backend.Auth == nil {
		panic("authenticator cannot be nil")
	}
	if backend.Locks == nil {
		panic("lock registry cannot be nil")
	}
	if backend.Sink == nil {
		backend.Sink = metrics.NewNoopSink()
	}

	return &ShareServer{
		backend:     backend,
		adapters:    make([]adapter.Adapter, 0, 2),
		stopTimeout: DefaultStopTimeout,
	}
}

// SetStopTimeout overrides how long shutdown waits on each adapter's Stop().
func (s *ShareServer) SetStopTimeout(d time.Duration) {
	if d > 0 {
		s.stopTimeout = d
	}
}

// AddAdapter injects the shared backend into a and registers it.
//
// Returns an error if another adapter already serves the same protocol or the
// same non-zero port.
//
// Panics if a is nil or Serve() has already been called.
func (s *ShareServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	a.SetBackend(s.backend)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// Serve starts all registered adapters and blocks until the context is
// cancelled or an adapter fails.
//
// When either happens every adapter receives Stop() in reverse registration
// order and Serve waits for all of them to return.
//
// Returns:
//   - ctx.Err() if shutdown was triggered by context cancellation
//   - the first adapter error otherwise
func (s *ShareServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	s.served = true
	if len(s.adapters) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	s.mu.Unlock()

	logger.Info("Starting sharebox with %d adapter(s), root %s", len(adapters), s.backend.Root.Path())

	errChan := make(chan adapterError, len(adapters))
	var wg sync.WaitGroup

	for _, adp := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()

			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			err := a.Serve(ctx)
			switch {
			case err != nil && ctx.Err() == nil:
				logger.Error("%s adapter failed: %v", protocol, err)
				errChan <- adapterError{protocol: protocol, err: err}
			case err != nil:
				logger.Warn("%s adapter stopped: %v", protocol, err)
			case ctx.Err() == nil:
				// Returning early without an error still takes the server down.
				errChan <- adapterError{protocol: protocol, err: errors.New("stopped unexpectedly")}
			default:
				logger.Info("%s adapter stopped", protocol)
			}
		}(adp)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		s.stopAllAdapters(adapters)
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		s.stopAllAdapters(adapters)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	wg.Wait()
	logger.Info("sharebox stopped (locks held: %d)", s.backend.Locks.Len())

	return shutdownErr
}

type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters calls Stop() on each adapter in reverse registration order.
// Errors are logged; the remaining adapters are still stopped.
func (s *ShareServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stop signal sent", protocol)
		}
	}
}

// Adapters returns a snapshot of the registered adapters.
func (s *ShareServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// Backend returns the shared backend.
func (s *ShareServer) Backend() *adapter.Backend {
	return s.backend
}
