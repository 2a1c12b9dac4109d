// Package transport holds pieces shared by the websocket and TCP hosts.
package transport

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutboxClosed is returned by Push after Close.
var ErrOutboxClosed = errors.New("outbox closed")

// ErrOutboxFull is returned by Push when the queue has no free slot.
var ErrOutboxFull = errors.New("outbox full")

// Outbox is a bounded, non-blocking queue of encoded messages for one
// connection. The dispatcher pushes while holding its lock, so Push never waits;
// a single writer goroutine drains Messages.
type Outbox struct {
	connID string
	queue  chan string

	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox holding at most size messages.
//
// Precondition: connID must be non-empty.
// Postcondition: Returns an open Outbox. A non-positive size defaults to 64.
func NewOutbox(connID string, size int) *Outbox {
	if size <= 0 {
		size = 64
	}
	return &Outbox{
		connID: connID,
		queue:  make(chan string, size),
	}
}

// Push enqueues payload.
//
// Postcondition: payload is queued, or ErrOutboxClosed / ErrOutboxFull is returned.
func (o *Outbox) Push(payload string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("connection %s: %w", o.connID, ErrOutboxClosed)
	}
	select {
	case o.queue <- payload:
		return nil
	default:
		return fmt.Errorf("connection %s: %w", o.connID, ErrOutboxFull)
	}
}

// Messages returns the queue the writer goroutine drains. It is closed by Close.
func (o *Outbox) Messages() <-chan string {
	return o.queue
}

// Close stops accepting messages and closes the queue. Safe to call repeatedly.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.queue)
	}
}

// IsClosed reports whether Close has been called.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
