package adapter

import (
	"context"

	"github.com/marmos91/sharebox/pkg/auth"
	"github.com/marmos91/sharebox/pkg/lock"
	"github.com/marmos91/sharebox/pkg/metrics"
	"github.com/marmos91/sharebox/pkg/storage"
)

// Backend bundles the services shared by every adapter: the sandboxed
// storage root, the credential check, the per-path lock table and the
// action/connection event sink.
//
// All adapters served by one server share a single Backend, so a path locked
// through one adapter is busy for all of them.
type Backend struct {
	Root  *storage.Root
	Auth  *auth.Authenticator
	Locks *lock.Registry
	Sink  metrics.Sink
}

// Adapter represents a protocol server that can be managed by server.Server.
//
// Lifecycle:
//  1. Creation: Adapter is created with protocol-specific configuration
//  2. Backend injection: SetBackend() provides the shared services
//  3. Startup: Serve() starts the protocol server and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetBackend() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is cancelled
	// or an unrecoverable error occurs.
	//
	// When the context is cancelled, Serve must stop accepting connections,
	// wait for active sessions (with timeout) and return nil. If Serve returns
	// before cancellation, the server treats it as fatal and stops every
	// other adapter.
	Serve(ctx context.Context) error

	// SetBackend injects the shared services. Called exactly once before Serve().
	SetBackend(b *Backend)

	// Stop initiates graceful shutdown. It must be idempotent and safe to call
	// concurrently with Serve().
	Stop(ctx context.Context) error

	// Protocol returns the human-readable protocol name for logging and metrics.
	Protocol() string

	// Port returns the TCP port the adapter is listening on, or the configured
	// port before Serve() has bound it.
	Port() int
}
