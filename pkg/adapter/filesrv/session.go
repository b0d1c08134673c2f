package filesrv

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/sharebox/internal/logger"
	"github.com/marmos91/sharebox/pkg/metrics"
	"github.com/marmos91/sharebox/pkg/protocol"
)

// State is the session's position in its lifecycle.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is the per-connection protocol state. It is owned by a single
// connection goroutine and never shared.
type Session struct {
	// ID identifies the session in logs.
	ID string
	// ClientID is the peer's "addr:port", reported to the metrics sink.
	ClientID string
	State    State
	// Username is set once CONNECT succeeds.
	Username string
}

// handlerFunc processes one authenticated command. A returned
// *protocol.RequestError is answered and the session continues; any other
// error is a connection fault.
type handlerFunc func(c *FileServerConnection, ctx context.Context, cmd protocol.Command) error

var handlers = map[string]handlerFunc{
	protocol.VerbDir:       (*FileServerConnection).handleDir,
	protocol.VerbSubfolder: (*FileServerConnection).handleSubfolder,
	protocol.VerbDelete:    (*FileServerConnection).handleDelete,
	protocol.VerbUpload:    (*FileServerConnection).handleUpload,
	protocol.VerbDownload:  (*FileServerConnection).handleDownload,
}

// dispatch routes a command according to the session state.
func (c *FileServerConnection) dispatch(ctx context.Context, cmd protocol.Command) (closeConn bool, err error) {
	sess := c.session
	m := c.server.metrics

	m.RecordCommandStart(cmd.Verb)
	start := time.Now()
	errKind := ""
	defer func() {
		m.RecordCommandEnd(cmd.Verb)
		m.RecordCommand(cmd.Verb, time.Since(start), errKind)
	}()

	if logger.IsDebug() {
		logger.Debug("Session %s [%s] %s", sess.ID, sess.State, redact(cmd))
	}

	if sess.State == StateUnauthenticated {
		if cmd.Verb != protocol.VerbConnect {
			errKind = protocol.KindProtocol.String()
			return false, c.reply(protocol.Error(protocol.MsgConnectFirst))
		}
		closeConn, err = c.handleConnect(cmd)
		if closeConn {
			errKind = protocol.KindAuth.String()
		}
		return closeConn, err
	}

	switch cmd.Verb {
	case protocol.VerbLogout, protocol.VerbQuit, protocol.VerbExit:
		logger.Info("User %s logged out (session %s)", sess.Username, sess.ID)
		return true, c.reply(protocol.Disconnected(protocol.MsgGoodbye))
	}

	handler, ok := handlers[cmd.Verb]
	if !ok {
		errKind = protocol.KindProtocol.String()
		return false, c.reply(protocol.Error(protocol.MsgUnknown))
	}

	err = handler(c, ctx, cmd)

	var reqErr *protocol.RequestError
	if errors.As(err, &reqErr) {
		errKind = reqErr.Kind.String()
		logger.Debug("Session %s %s failed: %v", sess.ID, cmd.Verb, reqErr)
		if replyErr := c.reply(reqErr.Reply()); replyErr != nil {
			return false, replyErr
		}
		return reqErr.Fatal(), nil
	}
	if err != nil {
		errKind = "connection"
	}
	return false, err
}

// handleConnect authenticates the session. A wrong argument count keeps the
// connection open; a credential mismatch closes it.
func (c *FileServerConnection) handleConnect(cmd protocol.Command) (bool, error) {
	if len(cmd.Args) != 2 {
		return false, c.reply(protocol.Usage("CONNECT <username> <sha256_hex_password>").Reply())
	}

	sess := c.session
	sink := c.server.backend.Sink
	username, passwordHash := cmd.Args[0], cmd.Args[1]

	start := time.Now()
	ok := c.server.backend.Auth.Authenticate(username, passwordHash)
	elapsed := time.Since(start)

	if !ok {
		sink.RecordConnection(sess.ClientID, metrics.EventAuthFail, elapsed)
		logger.Warn("Authentication failed for user %q from %s (session %s)", username, sess.ClientID, sess.ID)
		return true, c.reply(protocol.AuthFailed().Reply())
	}

	sess.State = StateAuthenticated
	sess.Username = username
	sink.RecordConnection(sess.ClientID, metrics.EventAuthSuccess, elapsed)
	logger.Info("User %s authenticated from %s (session %s)", username, sess.ClientID, sess.ID)

	return false, c.reply(protocol.OK(protocol.MsgAuthenticated))
}

// redact hides CONNECT credentials from log lines.
func redact(cmd protocol.Command) string {
	if cmd.Verb == protocol.VerbConnect && len(cmd.Args) > 1 {
		return cmd.Verb + " " + cmd.Args[0] + " ****"
	}
	return cmd.String()
}
