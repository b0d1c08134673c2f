// Package client is a Go client for the sharebox wire protocol.
//
// A Client wraps one connection and issues commands sequentially; it is not
// safe for concurrent use. Server-side failures are returned as *ServerError
// so callers can inspect the reply.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/marmos91/sharebox/pkg/auth"
	"github.com/marmos91/sharebox/pkg/protocol"
	"github.com/marmos91/sharebox/pkg/transfer"
)

// ErrUnexpectedReply is returned when the server answers with a status that
// does not fit the command in progress.
var ErrUnexpectedReply = errors.New("unexpected reply")

// ServerError is an ERROR@ or DISCONNECTED@ reply.
type ServerError struct {
	Status  protocol.Status
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server %s: %s", strings.ToLower(string(e.Status)), e.Message)
}

// Disconnected reports whether the server closed the session.
func (e *ServerError) Disconnected() bool {
	return e.Status == protocol.StatusDisconnected
}

// Config holds client options. Zero values select the defaults.
type Config struct {
	// ChunkSize is the transfer chunk size.
	ChunkSize int
	// MaxLineBytes bounds a reply line.
	MaxLineBytes int
	// Timeout bounds every network read and write. 0 means none.
	Timeout time.Duration
	// ExpectTrailer reads "OK@Download complete" after each download. Must
	// match the server's download_trailer setting.
	ExpectTrailer bool
}

// Client is a connected protocol client.
type Client struct {
	cfg    Config
	conn   net.Conn
	reader *protocol.LineReader
	engine *transfer.Engine
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string, cfg Config) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, cfg), nil
}

// New wraps an established connection.
func New(conn net.Conn, cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		conn:   conn,
		reader: protocol.NewLineReader(conn, cfg.MaxLineBytes),
		engine: transfer.New(cfg.ChunkSize),
	}
}

// Close closes the connection without logging out.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Connect authenticates with a plaintext password, hashed locally.
func (c *Client) Connect(username, password string) error {
	return c.ConnectHash(username, auth.HashPassword(password))
}

// ConnectHash authenticates with a precomputed sha256 hex digest.
func (c *Client) ConnectHash(username, passwordHash string) error {
	_, err := c.roundTrip(protocol.StatusOK, protocol.VerbConnect, username, passwordHash)
	return err
}

// Dir returns the recursive listing. Directories carry a trailing "/".
func (c *Client) Dir() ([]string, error) {
	resp, err := c.roundTrip(protocol.StatusOK, protocol.VerbDir)
	if err != nil {
		return nil, err
	}
	if resp.Payload == protocol.EmptyListing || resp.Payload == "" {
		return nil, nil
	}
	return strings.Split(resp.Payload, ","), nil
}

// Subfolder runs "create" or "delete" on a directory.
func (c *Client) Subfolder(action, path string) error {
	_, err := c.roundTrip(protocol.StatusOK, protocol.VerbSubfolder, strings.ToLower(action), path)
	return err
}

// Delete removes a file.
func (c *Client) Delete(path string) error {
	_, err := c.roundTrip(protocol.StatusOK, protocol.VerbDelete, path)
	return err
}

// Upload sends size bytes from src to remote and returns the stored path.
// When the target already exists, overwrite decides the answer to the
// server's prompt; declining yields a *ServerError ("Upload cancelled").
func (c *Client) Upload(remote string, src io.Reader, size int64, overwrite bool) (string, error) {
	if err := c.send(protocol.FormatCommand(protocol.VerbUpload, remote, fmt.Sprint(size))); err != nil {
		return "", err
	}

	resp, err := c.readResponse()
	if err != nil {
		return "", err
	}

	if resp.Status == protocol.StatusOK && resp.Payload == protocol.PayloadExists {
		answer := protocol.AnswerKeep
		if overwrite {
			answer = protocol.AnswerOverwrite
		}
		if err := c.send([]byte(answer + "\n")); err != nil {
			return "", err
		}
		if resp, err = c.readResponse(); err != nil {
			return "", err
		}
	}

	if err := expect(resp, protocol.StatusReady); err != nil {
		return "", err
	}
	if announced, err := resp.Size(); err != nil || announced != size {
		return "", fmt.Errorf("%w: server expects %q bytes, have %d", ErrUnexpectedReply, resp.Payload, size)
	}

	c.refreshDeadline()
	if _, err := c.engine.SendExact(c.conn, io.LimitReader(src, size)); err != nil {
		return "", err
	}

	final, err := c.readResponse()
	if err != nil {
		return "", err
	}
	if err := expect(final, protocol.StatusOK); err != nil {
		return "", err
	}
	return strings.TrimPrefix(final.Payload, "Upload complete: "), nil
}

// UploadFile uploads a local file.
func (c *Client) UploadFile(local, remote string, overwrite bool) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	return c.Upload(remote, f, info.Size(), overwrite)
}

// Download writes remote into dst and returns the number of bytes received.
func (c *Client) Download(remote string, dst io.Writer) (int64, error) {
	resp, err := c.roundTrip(protocol.StatusFileInfo, protocol.VerbDownload, remote)
	if err != nil {
		return 0, err
	}
	size, err := resp.Size()
	if err != nil {
		return 0, err
	}

	if err := c.send([]byte(protocol.AckReady + "\n")); err != nil {
		return 0, err
	}

	c.refreshDeadline()
	n, err := c.engine.RecvExact(c.reader, size, dst)
	if err != nil {
		return n, err
	}

	if c.cfg.ExpectTrailer {
		trailer, err := c.readResponse()
		if err != nil {
			return n, err
		}
		if err := expect(trailer, protocol.StatusOK); err != nil {
			return n, err
		}
	}
	return n, nil
}

// DownloadFile downloads remote into a local file. A partially written file
// is removed.
func (c *Client) DownloadFile(remote, local string) (int64, error) {
	f, err := os.Create(local)
	if err != nil {
		return 0, err
	}

	n, err := c.Download(remote, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(local)
	}
	return n, err
}

// Logout ends the session and closes the connection.
func (c *Client) Logout() error {
	defer func() { _ = c.conn.Close() }()
	_, err := c.roundTrip(protocol.StatusDisconnected, protocol.VerbLogout)
	var se *ServerError
	if errors.As(err, &se) && se.Disconnected() {
		return nil
	}
	return err
}

func (c *Client) roundTrip(want protocol.Status, verb string, args ...string) (protocol.Response, error) {
	if err := c.send(protocol.FormatCommand(verb, args...)); err != nil {
		return protocol.Response{}, err
	}
	resp, err := c.readResponse()
	if err != nil {
		return resp, err
	}
	return resp, expect(resp, want)
}

func (c *Client) send(line []byte) error {
	c.refreshDeadline()
	_, err := c.conn.Write(line)
	return err
}

func (c *Client) readResponse() (protocol.Response, error) {
	c.refreshDeadline()
	line, err := c.reader.ReadLine()
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.ParseResponse(line)
}

func (c *Client) refreshDeadline() {
	if c.cfg.Timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	}
}

// expect turns ERROR/DISCONNECTED into *ServerError and any other mismatch
// into ErrUnexpectedReply.
func expect(resp protocol.Response, want protocol.Status) error {
	if resp.Status == want {
		return nil
	}
	switch resp.Status {
	case protocol.StatusError, protocol.StatusDisconnected:
		return &ServerError{Status: resp.Status, Message: resp.Payload}
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedReply, resp)
}
