package actor

import (
	"context"
	"sync"

	"github.com/pilatus-run/pilatus/recipe"
)

// Message is one unit of work dispatched to a device's handler runtime. Type
// names a registered handler; Body is the handler's input, asserted to its
// concrete type inside the handler (spec §4.3 names this "runtime type
// identity" dispatch).
type Message struct {
	Type string
	Body interface{}
}

// Reply is what an ask eventually receives back from a device's handler.
type Reply struct {
	Value interface{}
	Err   error
}

// envelope pairs a message with the reply channel a tell left nil and an
// ask populated, plus the ctx the sender issued it under.
type envelope struct {
	ctx   context.Context
	msg   Message
	reply chan Reply
}

// Mailbox is a bounded, single-consumer message queue. A device's handler
// runtime is the sole reader; any number of senders may write. Once closed,
// further sends fail with AbortedError. Envelopes already queued are still
// handled when the last strong Sender closed the mailbox, and answered with
// AbortedError when the runtime's context was cancelled (see Runtime.Run).
type Mailbox struct {
	device recipe.DeviceID
	queue  chan *envelope

	mu     sync.Mutex
	closed bool
}

// NewMailbox creates a bounded mailbox for device with room for capacity
// pending messages.
func NewMailbox(device recipe.DeviceID, capacity int) *Mailbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Mailbox{
		device: device,
		queue:  make(chan *envelope, capacity),
	}
}

// Device returns the ID of the device this mailbox belongs to.
func (m *Mailbox) Device() recipe.DeviceID { return m.device }

// Depth returns the number of messages currently queued, for metrics.
func (m *Mailbox) Depth() int { return len(m.queue) }

// Capacity returns the mailbox's bound.
func (m *Mailbox) Capacity() int { return cap(m.queue) }

func (m *Mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// tryEnqueue attempts a non-blocking send. It returns BusyError if the
// mailbox is full and AbortedError if it has been closed.
func (m *Mailbox) tryEnqueue(e *envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &AbortedError{Device: m.device}
	}

	select {
	case m.queue <- e:
		return nil
	default:
		return &BusyError{Device: m.device}
	}
}

// Close marks the mailbox closed. It is idempotent. The handler runtime
// calls this on exit so that any sender racing to enqueue a message sees
// AbortedError instead of blocking forever or leaking into a dead queue.
func (m *Mailbox) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.queue)
}

// receive is used only by the handler runtime that owns this mailbox.
func (m *Mailbox) receive() (*envelope, bool) {
	e, ok := <-m.queue
	return e, ok
}
