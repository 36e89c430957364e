package pool

import (
	"sync/atomic"

	"github.com/ajitpratap0/reservoir/pkg/reservoirerrors"
)

// Buffer is an owned handle to a byte region. It is not safe for concurrent
// use. After Release the handle is dead: Bytes returns nil and writes fail.
type Buffer struct {
	buf      []byte
	bucket   *bucket // nil for oversized and direct buffers
	pool     *BufferPool
	released atomic.Bool
}

// Bytes returns the written contents, or nil after release.
func (b *Buffer) Bytes() []byte {
	if b.released.Load() {
		return nil
	}
	return b.buf
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int {
	if b.released.Load() {
		return 0
	}
	return len(b.buf)
}

// Cap returns the capacity of the underlying region.
func (b *Buffer) Cap() int {
	if b.released.Load() {
		return 0
	}
	return cap(b.buf)
}

// Pooled reports whether the buffer returns to a bucket on release.
func (b *Buffer) Pooled() bool {
	return b.bucket != nil
}

// Write appends p. Growing past the tier capacity is allowed; such a buffer
// is discarded on release.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.released.Load() {
		return 0, errReleased("write")
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteString appends s.
func (b *Buffer) WriteString(s string) (int, error) {
	if b.released.Load() {
		return 0, errReleased("write")
	}
	b.buf = append(b.buf, s...)
	return len(s), nil
}

// WriteByte appends c.
func (b *Buffer) WriteByte(c byte) error {
	if b.released.Load() {
		return errReleased("write")
	}
	b.buf = append(b.buf, c)
	return nil
}

// Reset sets the length to zero, keeping the capacity.
func (b *Buffer) Reset() {
	if b.released.Load() {
		return
	}
	b.buf = b.buf[:0]
}

// Release returns the buffer to its pool. The second call on the same
// handle returns an ownership error and has no effect.
func (b *Buffer) Release() error {
	if !b.released.CompareAndSwap(false, true) {
		return errReleased("release")
	}
	buf := b.buf[:0]
	b.buf = nil
	if b.bucket != nil {
		b.bucket.put(buf)
		b.pool.inUse.Add(-1)
	}
	return nil
}

func errReleased(op string) error {
	return reservoirerrors.New(reservoirerrors.ErrorTypeOwnership, "buffer already released").
		WithDetail("operation", op)
}
