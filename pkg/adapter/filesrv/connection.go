package filesrv

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/sharebox/internal/logger"
	"github.com/marmos91/sharebox/pkg/metrics"
	"github.com/marmos91/sharebox/pkg/protocol"
)

// FileServerConnection serves one client: it reads command lines, drives the
// session state machine and writes replies. Commands on one connection are
// strictly sequential.
type FileServerConnection struct {
	server *FileServerAdapter
	conn   net.Conn

	// stream applies the configured deadlines to every read and write
	stream *deadlineConn
	reader *protocol.LineReader

	session *Session

	// busy is set while a command is being processed
	busy      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewFileServerConnection wraps an accepted connection.
func NewFileServerConnection(server *FileServerAdapter, conn net.Conn) *FileServerConnection {
	cfg := server.config
	stream := &deadlineConn{
		Conn:         conn,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		idleTimeout:  cfg.IdleTimeout,
	}

	return &FileServerConnection{
		server: server,
		conn:   conn,
		stream: stream,
		reader: protocol.NewLineReader(stream, cfg.MaxLineBytes),
		session: &Session{
			ID:       uuid.NewString(),
			ClientID: conn.RemoteAddr().String(),
			State:    StateUnauthenticated,
		},
	}
}

// Serve handles all commands for this connection until the client leaves,
// an error occurs or the server shuts down.
//
// Panics are recovered so a single misbehaving session cannot take the server
// down. Every lock taken by a handler is released by its own deferred guard, so
// unwinding here never leaves a path busy.
func (c *FileServerConnection) Serve(ctx context.Context) {
	sink := c.server.backend.Sink
	sess := c.session

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in session %s from %s: %v", sess.ID, sess.ClientID, r)
		}
		_ = c.close()
		sess.State = StateClosed
		sink.RecordConnection(sess.ClientID, metrics.EventDisconnect, 0)
	}()

	sink.RecordConnection(sess.ClientID, metrics.EventConnect, 0)
	logger.Debug("Session %s opened from %s", sess.ID, sess.ClientID)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Session %s closed due to context cancellation", sess.ID)
			return
		case <-c.server.shutdown:
			logger.Debug("Session %s closed due to server shutdown", sess.ID)
			return
		default:
		}

		closeConn, err := c.handleRequest(ctx)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				logger.Debug("Session %s closed by client", sess.ID)
			case errors.As(err, &netErr) && netErr.Timeout():
				logger.Debug("Session %s timed out: %v", sess.ID, err)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				logger.Debug("Session %s cancelled: %v", sess.ID, err)
			default:
				logger.Debug("Session %s connection error: %v", sess.ID, err)
			}
			return
		}
		if closeConn {
			logger.Debug("Session %s ended (user %q)", sess.ID, sess.Username)
			return
		}
	}
}

// handleRequest waits for one command line and processes it.
//
// Returns closeConn=true when the session ended normally (logout or failed
// authentication) and a non-nil error on connection faults.
func (c *FileServerConnection) handleRequest(ctx context.Context) (bool, error) {
	c.stream.setIdle(true)
	line, err := c.reader.ReadLine()
	c.stream.setIdle(false)

	c.busy.Store(true)
	defer c.busy.Store(false)

	if errors.Is(err, protocol.ErrLineTooLong) {
		logger.Debug("Session %s sent an oversized command", c.session.ID)
		return false, c.reply(protocol.Error(protocol.MsgTooLong))
	}
	if err != nil {
		return false, err
	}

	cmd, ok := protocol.ParseCommand(line)
	if !ok {
		return false, nil
	}

	return c.dispatch(ctx, cmd)
}

// reply writes one response line.
func (c *FileServerConnection) reply(resp protocol.Response) error {
	_, err := c.stream.Write(resp.Encode())
	return err
}

// readAnswer reads a single reply line from the client in the middle of a
// command (overwrite confirmation, download ack). An oversized line is
// returned as empty so callers treat it as a negative answer.
func (c *FileServerConnection) readAnswer() (string, error) {
	line, err := c.reader.ReadLine()
	if errors.Is(err, protocol.ErrLineTooLong) {
		return "", nil
	}
	return line, err
}

// idle reports whether the session is waiting for its next command.
func (c *FileServerConnection) idle() bool {
	return !c.busy.Load()
}

func (c *FileServerConnection) close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// deadlineConn refreshes the read or write deadline before every I/O call.
// While idle is set, reads use the idle timeout instead of the read timeout.
// A zero timeout clears the deadline.
type deadlineConn struct {
	net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
	idle         bool
}

func (d *deadlineConn) setIdle(idle bool) {
	d.idle = idle
}

func (d *deadlineConn) Read(p []byte) (int, error) {
	timeout := d.readTimeout
	if d.idle {
		timeout = d.idleTimeout
	}
	if d.readTimeout > 0 || d.idleTimeout > 0 {
		if err := d.Conn.SetReadDeadline(deadline(timeout)); err != nil {
			return 0, err
		}
	}
	return d.Conn.Read(p)
}

func (d *deadlineConn) Write(p []byte) (int, error) {
	if d.writeTimeout > 0 {
		if err := d.Conn.SetWriteDeadline(deadline(d.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return d.Conn.Write(p)
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
