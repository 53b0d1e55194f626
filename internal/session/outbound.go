package session

import (
	"errors"
	"fmt"
)

var (
	// ErrMessagePending is returned when a message is queued while the
	// previous one has not been fully written.
	ErrMessagePending = errors.New("previous message still pending")
	// ErrMessageTooLarge is returned for a message over the buffer capacity.
	ErrMessageTooLarge = errors.New("message exceeds buffer capacity")
)

// OutboundBuffer holds at most one message awaiting transmission, with the
// offset of the first byte not yet written.
type OutboundBuffer struct {
	buf []byte
	n   int
	off int
}

// NewOutboundBuffer creates a buffer holding messages of up to capacity bytes.
func NewOutboundBuffer(capacity int) *OutboundBuffer {
	return &OutboundBuffer{buf: make([]byte, capacity)}
}

// Store places p in the buffer. It fails without touching the buffer when
// a message is still pending or p does not fit.
func (b *OutboundBuffer) Store(p []byte) error {
	if b.Pending() {
		return ErrMessagePending
	}
	if len(p) > len(b.buf) {
		return fmt.Errorf("%d bytes, limit %d: %w", len(p), len(b.buf), ErrMessageTooLarge)
	}
	b.n = copy(b.buf, p)
	b.off = 0
	return nil
}

// Pending reports whether unwritten bytes remain.
func (b *OutboundBuffer) Pending() bool {
	return b.off < b.n
}

// Remaining returns the bytes not yet written.
func (b *OutboundBuffer) Remaining() []byte {
	return b.buf[b.off:b.n]
}

// Message returns the whole pending message, written or not.
func (b *OutboundBuffer) Message() []byte {
	if !b.Pending() {
		return nil
	}
	return b.buf[:b.n]
}

// Advance records that n more bytes were written.
func (b *OutboundBuffer) Advance(n int) {
	b.off += n
	if b.off >= b.n {
		b.Reset()
	}
}

// Reset drops any pending message.
func (b *OutboundBuffer) Reset() {
	b.n = 0
	b.off = 0
}

// Cap returns the largest message the buffer accepts.
func (b *OutboundBuffer) Cap() int {
	return len(b.buf)
}
