// Package transfer moves raw file bytes across a connection in fixed-size
// chunks. It does no framing of its own: the byte count is agreed beforehand
// through the line protocol (READY@<size> or FILEINFO@<size>).
package transfer

import (
	"errors"
	"fmt"
	"io"
)

// DefaultChunkSize is used when Engine.ChunkSize is not set.
const DefaultChunkSize = 4096

// ErrShortRead is returned by RecvExact when the peer stops sending before the
// announced number of bytes arrived.
var ErrShortRead = errors.New("transfer incomplete")

// Engine streams bytes in chunks of ChunkSize. The zero value uses
// DefaultChunkSize. An Engine is stateless and safe for concurrent use.
type Engine struct {
	ChunkSize int
}

// New returns an Engine with the given chunk size (0 means default).
func New(chunkSize int) *Engine {
	return &Engine{ChunkSize: chunkSize}
}

func (e *Engine) chunkSize() int {
	if e == nil || e.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return e.ChunkSize
}

// SendExact copies src to w until src is exhausted, one chunk at a time.
// Callers that announced a size up front should bound src with
// io.LimitReader so the peer never receives more than it expects.
func (e *Engine) SendExact(w io.Writer, src io.Reader) (int64, error) {
	buf := globalBufferPool.get(e.chunkSize())
	defer globalBufferPool.put(buf)

	var sent int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			written, err := w.Write(buf[:n])
			sent += int64(written)
			if err != nil {
				return sent, fmt.Errorf("send: %w", err)
			}
			if written != n {
				return sent, fmt.Errorf("send: %w", io.ErrShortWrite)
			}
		}
		if readErr == io.EOF {
			return sent, nil
		}
		if readErr != nil {
			return sent, fmt.Errorf("read source: %w", readErr)
		}
	}
}

// RecvExact reads exactly size bytes from r and writes them to dst.
//
// If the peer closes early it returns ErrShortRead with the count received so
// far. If dst fails, the remaining announced bytes are still drained from r so
// the connection stays aligned on the next command line, and the write error
// is returned.
func (e *Engine) RecvExact(r io.Reader, size int64, dst io.Writer) (int64, error) {
	if size < 0 {
		return 0, fmt.Errorf("negative transfer size %d", size)
	}

	chunk := e.chunkSize()
	buf := globalBufferPool.get(chunk)
	defer globalBufferPool.put(buf)

	var received int64
	for received < size {
		want := int64(chunk)
		if remaining := size - received; remaining < want {
			want = remaining
		}

		n, readErr := r.Read(buf[:want])
		if n > 0 {
			received += int64(n)
			if _, err := dst.Write(buf[:n]); err != nil {
				drained, drainErr := io.CopyN(io.Discard, r, size-received)
				received += drained
				if drainErr != nil {
					return received, fmt.Errorf("%w: received %d of %d bytes", ErrShortRead, received, size)
				}
				return received, fmt.Errorf("write destination: %w", err)
			}
		}

		if readErr != nil {
			if received == size {
				break
			}
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				return received, fmt.Errorf("%w: received %d of %d bytes", ErrShortRead, received, size)
			}
			return received, fmt.Errorf("%w: %v", ErrShortRead, readErr)
		}
	}

	return received, nil
}
