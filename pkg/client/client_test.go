package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/sharebox/pkg/adapter"
	"github.com/marmos91/sharebox/pkg/adapter/filesrv"
	"github.com/marmos91/sharebox/pkg/auth"
	"github.com/marmos91/sharebox/pkg/lock"
	"github.com/marmos91/sharebox/pkg/protocol"
	"github.com/marmos91/sharebox/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	addr  string
	root  *storage.Root
	locks *lock.Registry
}

func startServer(t *testing.T, trailer bool) *fixture {
	t.Helper()

	root, err := storage.NewRoot(t.TempDir())
	require.NoError(t, err)

	bcryptHash, err := auth.BcryptDigest(auth.HashPassword("hunter2"), 4)
	require.NoError(t, err)

	store, err := auth.NewStaticStore(map[string]auth.Credential{
		"alice": {SHA256: auth.HashPassword("secret")},
		"bob":   {Bcrypt: bcryptHash},
	})
	require.NoError(t, err)

	locks := lock.NewRegistry()
	srv := filesrv.New(filesrv.FileServerConfig{
		Enabled:         true,
		ChunkSize:       1024,
		DownloadTrailer: trailer,
		ShutdownTimeout: 2 * time.Second,
	}, nil)
	srv.SetBackend(&adapter.Backend{Root: root, Auth: auth.New(store), Locks: locks})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &fixture{addr: ln.Addr().String(), root: root, locks: locks}
}

func connect(t *testing.T, f *fixture, cfg Config) *Client {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	c, err := Dial(context.Background(), f.addr, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Connect("alice", "secret"))
	return c
}

func TestConnect(t *testing.T) {
	f := startServer(t, false)

	t.Run("Bcrypt", func(t *testing.T) {
		c, err := Dial(context.Background(), f.addr, Config{})
		require.NoError(t, err)
		defer c.Close()
		assert.NoError(t, c.Connect("bob", "hunter2"))
	})

	t.Run("WrongPassword", func(t *testing.T) {
		c, err := Dial(context.Background(), f.addr, Config{})
		require.NoError(t, err)
		defer c.Close()

		err = c.Connect("alice", "nope")
		var se *ServerError
		require.ErrorAs(t, err, &se)
		assert.True(t, se.Disconnected())
		assert.Equal(t, protocol.MsgAuthFailed, se.Message)
	})
}

func TestRoundTrip(t *testing.T) {
	for _, trailer := range []bool{false, true} {
		f := startServer(t, trailer)
		c := connect(t, f, Config{ExpectTrailer: trailer})

		listing, err := c.Dir()
		require.NoError(t, err)
		assert.Empty(t, listing)

		data := make([]byte, 10_000)
		_, err = rand.Read(data)
		require.NoError(t, err)

		stored, err := c.Upload("media/clip.mp4", bytes.NewReader(data), int64(len(data)), false)
		require.NoError(t, err)
		assert.Equal(t, "media/VS001.mp4", stored)

		var out bytes.Buffer
		n, err := c.Download(stored, &out)
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), n)
		assert.Equal(t, data, out.Bytes())

		listing, err = c.Dir()
		require.NoError(t, err)
		assert.Equal(t, []string{"media/", "media/VS001.mp4"}, listing)

		require.NoError(t, c.Delete(stored))
		require.NoError(t, c.Subfolder("delete", "media"))
		assert.Equal(t, 0, f.locks.Len())

		require.NoError(t, c.Logout())
	}
}

func TestUploadOverwrite(t *testing.T) {
	f := startServer(t, false)
	c := connect(t, f, Config{})

	stored, err := c.Upload("TS010.txt", bytes.NewReader([]byte("v1")), 2, false)
	require.NoError(t, err)
	require.Equal(t, "TS010.txt", stored)

	_, err = c.Upload("TS010.txt", bytes.NewReader([]byte("v2")), 2, false)
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Upload cancelled", se.Message)

	_, err = c.Upload("TS010.txt", bytes.NewReader([]byte("v3")), 2, true)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.root.Path(), "TS010.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v3", string(data))
}

func TestFileHelpers(t *testing.T) {
	f := startServer(t, false)
	c := connect(t, f, Config{})

	local := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(local, []byte("# notes"), 0644))

	stored, err := c.UploadFile(local, "docs/notes.md", false)
	require.NoError(t, err)
	assert.Equal(t, "docs/TS001.md", stored)

	dst := filepath.Join(t.TempDir(), "copy.md")
	_, err = c.DownloadFile(stored, dst)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "# notes", string(got))

	missing := filepath.Join(t.TempDir(), "missing.md")
	_, err = c.DownloadFile("docs/ghost.md", missing)
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "File not found", se.Message)
	assert.NoFileExists(t, missing)
}

func TestErrors(t *testing.T) {
	f := startServer(t, false)
	c := connect(t, f, Config{})

	var se *ServerError

	err := c.Delete("ghost.txt")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "File does not exist", se.Message)

	err = c.Delete("../../etc/passwd")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, protocol.MsgInvalidPath, se.Message)

	require.NoError(t, c.Subfolder("create", "a/b"))
	err = c.Subfolder("delete", "a")
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Disconnected())
}

// Two sessions racing on one path: exactly one wins the lock.
func TestConcurrentDeleteAndUpload(t *testing.T) {
	f := startServer(t, false)
	target := filepath.Join(f.root.Path(), "TS001.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	for i := 0; i < 20; i++ {
		deleter := connect(t, f, Config{})
		uploader := connect(t, f, Config{})

		var wg sync.WaitGroup
		var deleteErr, uploadErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			deleteErr = deleter.Delete("TS001.txt")
		}()
		go func() {
			defer wg.Done()
			_, uploadErr = uploader.Upload("TS001.txt", bytes.NewReader([]byte("y")), 1, true)
		}()
		wg.Wait()

		for _, err := range []error{deleteErr, uploadErr} {
			if err == nil {
				continue
			}
			var se *ServerError
			require.ErrorAs(t, err, &se)
			assert.Contains(t, []string{protocol.MsgBusy, "File does not exist"}, se.Message)
		}
		assert.Equal(t, 0, f.locks.Len())

		if _, ok := storage.IsRegularFile(target); !ok {
			require.NoError(t, os.WriteFile(target, []byte("x"), 0644))
		}
	}
}
