package realtime

import (
	"errors"
	"sync"
)

var (
	// ErrSessionClosed is returned by Send after the session has closed.
	ErrSessionClosed = errors.New("realtime: session closed")

	// ErrSlowConsumer is returned by Send when the outbound buffer is full.
	ErrSlowConsumer = errors.New("realtime: outbound buffer full")
)

// Session is one authenticated push connection.
type Session interface {
	ID() string
	UserID() string

	// Send enqueues an encoded frame without blocking.
	Send(frame []byte) error

	// Close stops delivery. Frames already queued may still be flushed.
	Close() error
}

// Outbox is a bounded FIFO of encoded frames with exactly one consumer.
// Enqueue never blocks and never panics after Close.
//
// Thread Safety:
//   - Enqueue and Close are safe for concurrent use.
//   - C must be drained by a single goroutine.
type Outbox struct {
	mu     sync.RWMutex
	ch     chan []byte
	closed bool
}

// NewOutbox creates an outbox holding up to size frames.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 1
	}
	return &Outbox{ch: make(chan []byte, size)}
}

// Enqueue adds a frame. It returns ErrSessionClosed after Close and
// ErrSlowConsumer when the buffer is full.
func (o *Outbox) Enqueue(frame []byte) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		return ErrSessionClosed
	}
	select {
	case o.ch <- frame:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// C returns the channel the writer drains. It is closed by Close once the
// remaining frames have been received.
func (o *Outbox) C() <-chan []byte {
	return o.ch
}

// Close marks the outbox closed and closes C. Safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}

// Closed reports whether Close has been called.
func (o *Outbox) Closed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}
