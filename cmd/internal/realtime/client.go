package realtime

import (
	"sync"

	v1 "github.com/nirjar1012/newChat/shared/contracts/realtime/v1"

	"go.uber.org/atomic"
)

const defaultSendQueueSize = 64

// Client is the outbound handle of one live transport session.
//
// Design notes:
// - Send is never closed by the relay, so concurrent broadcasters cannot panic.
// - done is closed exactly once by Close; Deliver refuses envelopes afterwards.
// - Envelopes handed to one Client are written in the order Deliver accepted them.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	dropped *atomic.Int64
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
		dropped:   atomic.NewInt64(0),
	}
}

// Deliver enqueues env without blocking.
// It returns false when the client is shutting down or its queue is full.
func (c *Client) Deliver(env v1.Envelope) bool {
	if c == nil {
		return false
	}

	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		c.dropped.Inc()
		return false
	}
}

// Dropped returns how many envelopes were discarded because the queue was full.
func (c *Client) Dropped() int64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
