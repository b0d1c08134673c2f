package transfer

import "sync"

// ============================================================================
// Chunk Buffer Pool
// ============================================================================
//
// Every upload and download borrows one chunk buffer for its whole duration.
// Pooling by size class keeps long-running servers from allocating a fresh
// buffer per transfer while still allowing the chunk size to be tuned.

const (
	smallBufferSize  = 4 << 10  // default chunk size
	mediumBufferSize = 64 << 10 // tuned for LAN throughput
	largeBufferSize  = 1 << 20  // upper bound worth pooling
)

type bufferPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

func newPool(size int) sync.Pool {
	return sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	}
}

var globalBufferPool = &bufferPool{
	small:  newPool(smallBufferSize),
	medium: newPool(mediumBufferSize),
	large:  newPool(largeBufferSize),
}

// get returns a slice of exactly size bytes, backed by a pooled buffer when
// size fits a class. Oversized requests are allocated directly.
func (p *bufferPool) get(size int) []byte {
	var bufPtr *[]byte

	switch {
	case size <= smallBufferSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= mediumBufferSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= largeBufferSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	buf := *bufPtr
	return buf[:size]
}

// put returns buf to its class. Buffers that did not come from a class are
// left to the garbage collector.
func (p *bufferPool) put(buf []byte) {
	if buf == nil {
		return
	}

	full := buf[:cap(buf)]
	switch cap(buf) {
	case smallBufferSize:
		p.small.Put(&full)
	case mediumBufferSize:
		p.medium.Put(&full)
	case largeBufferSize:
		p.large.Put(&full)
	}
}
