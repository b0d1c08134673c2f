package filesrv

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/sharebox/pkg/adapter"
	"github.com/marmos91/sharebox/pkg/auth"
	"github.com/marmos91/sharebox/pkg/lock"
	"github.com/marmos91/sharebox/pkg/metrics"
	"github.com/marmos91/sharebox/pkg/storage"
	"github.com/stretchr/testify/require"
)

const (
	testUser     = "alice"
	testPassword = "secret"
)

// recordingSink captures every sink call.
type recordingSink struct {
	mu          sync.Mutex
	actions     []metrics.Action
	connections []metrics.Connection
}

func (s *recordingSink) RecordAction(kind metrics.ActionKind, path string, size int64, d time.Duration, clientID string, status metrics.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, metrics.Action{Kind: kind, Path: path, Size: size, Duration: d, ClientID: clientID, Status: status})
}

func (s *recordingSink) RecordConnection(clientID string, event metrics.ConnectionEvent, responseTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections = append(s.connections, metrics.Connection{ClientID: clientID, Event: event, ResponseTime: responseTime})
}

func (s *recordingSink) Actions() []metrics.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]metrics.Action(nil), s.actions...)
}

func (s *recordingSink) Events() []metrics.ConnectionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]metrics.ConnectionEvent, len(s.connections))
	for i, c := range s.connections {
		events[i] = c.Event
	}
	return events
}

type testServer struct {
	adapter *FileServerAdapter
	root    *storage.Root
	locks   *lock.Registry
	sink    *recordingSink
	addr    string
	cancel  context.CancelFunc
	done    chan error
}

// startServer runs an adapter on a loopback port and stops it on cleanup.
func startServer(t *testing.T, configure func(*FileServerConfig)) *testServer {
	t.Helper()

	root, err := storage.NewRoot(t.TempDir())
	require.NoError(t, err)

	store, err := auth.NewStaticStore(map[string]auth.Credential{
		testUser: {SHA256: auth.HashPassword(testPassword)},
	})
	require.NoError(t, err)

	cfg := FileServerConfig{
		Enabled:         true,
		ShutdownTimeout: 2 * time.Second,
	}
	if configure != nil {
		configure(&cfg)
	}

	srv := &testServer{
		root:  root,
		locks: lock.NewRegistry(),
		sink:  &recordingSink{},
		done:  make(chan error, 1),
	}
	srv.adapter = New(cfg, nil)
	srv.adapter.SetBackend(&adapter.Backend{
		Root:  root,
		Auth:  auth.New(store),
		Locks: srv.locks,
		Sink:  srv.sink,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	srv.cancel = cancel
	go func() { srv.done <- srv.adapter.ServeListener(ctx, ln) }()
	<-srv.adapter.Ready()

	t.Cleanup(func() {
		cancel()
		select {
		case <-srv.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

// rawClient speaks the wire protocol directly.
type rawClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *rawClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	return &rawClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// login dials and authenticates.
func login(t *testing.T, addr string) *rawClient {
	t.Helper()
	c := dial(t, addr)
	c.expect("CONNECT "+testUser+" "+auth.HashPassword(testPassword), "OK@Authenticated")
	return c
}

func (c *rawClient) send(line string) {
	c.t.Helper()
	_, err := io.WriteString(c.conn, line+"\n")
	require.NoError(c.t, err)
}

func (c *rawClient) write(data []byte) {
	c.t.Helper()
	_, err := c.conn.Write(data)
	require.NoError(c.t, err)
}

func (c *rawClient) line() string {
	c.t.Helper()
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(line, "\r\n")
}

func (c *rawClient) expect(cmd, want string) {
	c.t.Helper()
	c.send(cmd)
	require.Equal(c.t, want, c.line(), "reply to %q", cmd)
}

func (c *rawClient) readN(n int) []byte {
	c.t.Helper()
	buf := make([]byte, n)
	_, err := io.ReadFull(c.r, buf)
	require.NoError(c.t, err)
	return buf
}

// expectClosed asserts the server closed the connection.
func (c *rawClient) expectClosed() {
	c.t.Helper()
	_, err := c.r.ReadString('\n')
	require.ErrorIs(c.t, err, io.EOF)
}
