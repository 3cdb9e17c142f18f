// Package ringbuf provides a bounded byte buffer that keeps the most recent
// bytes written to it.
package ringbuf

import (
	"os"
	"sync"
)

// Buffer is a thread-safe circular byte buffer. It implements io.Writer and
// silently overwrites the oldest data when full.
type Buffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
	pos  int
	full bool
}

// New creates a ring buffer with the given capacity in bytes.
func New(size int) *Buffer {
	if size <= 0 {
		size = 1024 * 1024
	}
	return &Buffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write implements io.Writer.
func (rb *Buffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if n >= rb.size {
		copy(rb.buf, p[n-rb.size:])
		rb.pos = 0
		rb.full = true
		return n, nil
	}

	space := rb.size - rb.pos
	if n <= space {
		copy(rb.buf[rb.pos:], p)
		rb.pos += n
		if rb.pos == rb.size {
			rb.pos = 0
			rb.full = true
		}
	} else {
		copy(rb.buf[rb.pos:], p[:space])
		copy(rb.buf, p[space:])
		rb.pos = n - space
		rb.full = true
	}
	return n, nil
}

// Len returns the number of bytes currently held.
func (rb *Buffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.full {
		return rb.size
	}
	return rb.pos
}

// Bytes returns the contents in chronological order.
func (rb *Buffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.snapshotLocked()
}

// Drain returns the contents in chronological order and empties the buffer.
func (rb *Buffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := rb.snapshotLocked()
	rb.pos = 0
	rb.full = false
	return out
}

func (rb *Buffer) snapshotLocked() []byte {
	if !rb.full {
		out := make([]byte, rb.pos)
		copy(out, rb.buf[:rb.pos])
		return out
	}
	out := make([]byte, rb.size)
	copy(out, rb.buf[rb.pos:])
	copy(out[rb.size-rb.pos:], rb.buf[:rb.pos])
	return out
}

// DumpToFile writes the contents to path in chronological order.
func (rb *Buffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
