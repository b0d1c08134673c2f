package filesrv

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/sharebox/internal/logger"
	"github.com/marmos91/sharebox/internal/ratelimiter"
	"github.com/marmos91/sharebox/pkg/adapter"
	"github.com/marmos91/sharebox/pkg/metrics"
	"github.com/marmos91/sharebox/pkg/protocol"
	"github.com/marmos91/sharebox/pkg/transfer"
)

// Rejection reasons reported to ServerMetrics.RecordConnectionRejected.
const (
	rejectMaxConnections = "max_connections"
	rejectRateLimit      = "rate_limit"
)

// FileServerAdapter implements the adapter.Adapter interface for the
// line-oriented file transfer protocol.
//
// Architecture:
// FileServerAdapter owns the TCP listener and the connection lifecycle. Each
// accepted connection gets its own goroutine running a FileServerConnection,
// which holds the session state machine. The accept loop never waits on a
// session, so one slow client cannot stall the others.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. shutdownCtx cancelled and idle sessions closed
//  4. Wait for in-flight commands to complete (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
//
// Thread safety:
// All methods are safe for concurrent use. The shutdown mechanism uses sync.Once
// so Stop() may be called multiple times.
type FileServerAdapter struct {
	config FileServerConfig

	// listener is closed during shutdown to stop accepting connections
	listener net.Listener

	// backend holds the shared root, authenticator, locks and sink
	backend *adapter.Backend

	engine  *transfer.Engine
	metrics metrics.ServerMetrics

	// limiter throttles new connections per client host. nil when disabled.
	limiter *ratelimiter.KeyedLimiter

	// activeConns tracks running sessions for graceful shutdown
	activeConns sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// ready is closed once the listener is bound
	ready chan struct{}
	addr  atomic.Value

	connCount atomic.Int32

	// connSemaphore caps concurrent sessions. nil means unlimited.
	connSemaphore chan struct{}

	// shutdownCtx is passed to every session and cancelled on shutdown
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc

	// activeConnections maps remote address to *FileServerConnection
	activeConnections sync.Map
}

// New creates a new FileServerAdapter with the specified configuration.
//
// The adapter is not started until Serve() is called, and SetBackend() must be
// called first.
//
// Parameters:
//   - config: Server configuration (port, timeouts, limits)
//   - serverMetrics: Optional metrics collector (nil for no metrics)
//
// Panics if config validation fails.
func New(config FileServerConfig, serverMetrics metrics.ServerMetrics) *FileServerAdapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid file server config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("File server connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("File server connection limit: unlimited")
	}

	var limiter *ratelimiter.KeyedLimiter
	if config.RateLimit.ConnectionsPerSecond > 0 {
		limiter = ratelimiter.NewKeyed(config.RateLimit.ConnectionsPerSecond, config.RateLimit.Burst, ratelimiter.DefaultIdleTTL)
		logger.Debug("File server admission rate: %.2f/s burst %d per host",
			config.RateLimit.ConnectionsPerSecond, config.RateLimit.Burst)
	}

	if serverMetrics == nil {
		serverMetrics = metrics.NewNoopServerMetrics()
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &FileServerAdapter{
		config:         config,
		engine:         transfer.New(config.ChunkSize),
		metrics:        serverMetrics,
		limiter:        limiter,
		shutdown:       make(chan struct{}),
		ready:          make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// SetBackend injects the shared services.
//
// Called exactly once before Serve(), no synchronization needed. A nil Sink is
// replaced by a no-op sink.
func (s *FileServerAdapter) SetBackend(b *adapter.Backend) {
	if b != nil && b.Sink == nil {
		cp := *b
		cp.Sink = metrics.NewNoopSink()
		b = &cp
	}
	s.backend = b
	logger.Debug("File server backend configured")
}

// Serve binds the configured address and serves until the context is
// cancelled or Stop() is called.
//
// Returns:
//   - nil on graceful shutdown
//   - error if the listener fails to start or shutdown had to force-close
func (s *FileServerAdapter) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to create file server listener on %s: %w", s.config.Addr(), err)
	}
	return s.ServeListener(ctx, listener)
}

// ServeListener serves on an already bound listener. The adapter takes
// ownership of the listener and closes it on shutdown.
func (s *FileServerAdapter) ServeListener(ctx context.Context, listener net.Listener) error {
	if s.backend == nil || s.backend.Root == nil || s.backend.Auth == nil || s.backend.Locks == nil {
		_ = listener.Close()
		return fmt.Errorf("file server backend not configured")
	}

	s.listener = listener
	s.addr.Store(listener.Addr())
	close(s.ready)

	logger.Info("File server listening on %s (root %s)", listener.Addr(), s.backend.Root.Path())
	logger.Debug("File server config: max_connections=%d chunk_size=%d read_timeout=%v write_timeout=%v idle_timeout=%v",
		s.config.MaxConnections, s.config.ChunkSize, s.config.ReadTimeout, s.config.WriteTimeout, s.config.IdleTimeout)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("File server shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(ctx)
	}

	for {
		tcpConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting file server connection: %v", err)
				continue
			}
		}

		if reason, ok := s.admit(tcpConn); !ok {
			s.reject(tcpConn, reason)
			continue
		}

		s.activeConns.Add(1)
		s.connCount.Add(1)

		conn := s.newConn(tcpConn)
		connAddr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, conn)

		s.metrics.RecordConnectionAccepted()
		currentConns := s.connCount.Load()
		s.metrics.SetActiveConnections(currentConns)

		logger.Debug("File server connection accepted from %s (active: %d)", connAddr, currentConns)

		go func(addr string) {
			defer func() {
				s.activeConnections.Delete(addr)

				s.activeConns.Done()
				s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}

				s.metrics.RecordConnectionClosed()
				currentConns := s.connCount.Load()
				s.metrics.SetActiveConnections(currentConns)

				logger.Debug("File server connection closed from %s (active: %d)", addr, currentConns)
			}()

			conn.Serve(s.shutdownCtx)
		}(connAddr)
	}
}

// admit applies the per-host rate limit and the connection cap. On success the
// caller owns a semaphore slot.
func (s *FileServerAdapter) admit(conn net.Conn) (string, bool) {
	if s.limiter.Enabled() && !s.limiter.Allow(remoteHost(conn)) {
		return rejectRateLimit, false
	}

	if s.connSemaphore != nil {
		select {
		case s.connSemaphore <- struct{}{}:
		default:
			return rejectMaxConnections, false
		}
	}
	return "", true
}

// reject tells the client why and closes the connection. The write is bounded
// so a client that never reads cannot stall the accept loop.
func (s *FileServerAdapter) reject(conn net.Conn, reason string) {
	s.metrics.RecordConnectionRejected(reason)
	logger.Warn("File server rejected connection from %s: %s", conn.RemoteAddr(), reason)

	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = conn.Write(protocol.Error(protocol.MsgTooMany).Encode())
	_ = conn.Close()
}

func remoteHost(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// initiateShutdown signals the server to begin graceful shutdown.
//
// Safe to call multiple times. Closes the listener, cancels shutdownCtx, and
// closes sessions that are waiting for their next command; sessions in the
// middle of a command keep running until it finishes or ShutdownTimeout expires.
func (s *FileServerAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("File server shutdown initiated")

		close(s.shutdown)

		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing file server listener: %v", err)
			}
		}

		s.cancelRequests()

		s.activeConnections.Range(func(key, value any) bool {
			if c := value.(*FileServerConnection); c.idle() {
				logger.Debug("Closing idle session from %s", key)
				c.close()
			}
			return true
		})
	})
}

// gracefulShutdown waits for active connections to complete or timeout.
//
// Returns nil if all sessions finished, or an error if ShutdownTimeout
// expired and remaining connections were force-closed.
func (s *FileServerAdapter) gracefulShutdown() error {
	activeCount := s.connCount.Load()
	logger.Info("File server graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		activeCount, s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("File server graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("File server shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, s.config.ShutdownTimeout)

		s.forceCloseConnections()

		return fmt.Errorf("file server shutdown timeout: %d connections force-closed", remaining)
	}
}

// forceCloseConnections closes every tracked connection. Blocked reads and
// writes fail immediately and the session goroutines unwind, releasing their
// locks and temp files.
func (s *FileServerAdapter) forceCloseConnections() {
	logger.Info("Force-closing active file server connections")

	closedCount := 0
	s.activeConnections.Range(func(key, value any) bool {
		if err := value.(*FileServerConnection).close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", key, err)
		} else {
			closedCount++
			s.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closedCount > 0 {
		logger.Info("Force-closed %d connection(s)", closedCount)
	}
}

// Stop initiates graceful shutdown of the file server.
//
// The context bounds how long Stop waits for sessions. If ctx is nil the
// configured ShutdownTimeout applies and remaining connections are force-closed.
func (s *FileServerAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		remaining := s.connCount.Load()
		logger.Warn("File server shutdown context cancelled: %d connection(s) still active: %v",
			remaining, ctx.Err())
		s.forceCloseConnections()
		return ctx.Err()
	}
}

// logMetrics periodically logs the active connection count. It exits when
// ctx is cancelled or the server shuts down.
func (s *FileServerAdapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("File server metrics: active_connections=%d locks_held=%d",
				s.connCount.Load(), s.backend.Locks.Len())
		}
	}
}

// GetActiveConnections returns the current number of active sessions.
func (s *FileServerAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// Ready is closed once the listener is bound.
func (s *FileServerAdapter) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address, or nil before Serve has bound it.
func (s *FileServerAdapter) Addr() net.Addr {
	addr, _ := s.addr.Load().(net.Addr)
	return addr
}

func (s *FileServerAdapter) newConn(tcpConn net.Conn) *FileServerConnection {
	return NewFileServerConnection(s, tcpConn)
}

// Port returns the bound TCP port, or the configured port before Serve().
func (s *FileServerAdapter) Port() int {
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return s.config.Port
}

// Protocol returns "FILESRV" for logging and metrics.
func (s *FileServerAdapter) Protocol() string {
	return "FILESRV"
}
