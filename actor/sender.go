package actor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pilatus-run/pilatus/recipe"
)

// refcount is shared between a Sender and every clone/WeakSender derived
// from it, emulating the strong/weak reference-counted mailbox handle the
// spec describes (§4.2): the mailbox is torn down once the last strong
// sender is closed, and a weak sender can observe that without keeping it
// alive itself.
type refcount struct {
	n       int64
	mailbox *Mailbox
}

func newRefcount(mailbox *Mailbox) *refcount {
	return &refcount{n: 1, mailbox: mailbox}
}

// Sender is a strong reference to a device's mailbox: while at least one
// Sender (or a clone of it) is open, the device's handler runtime is kept
// alive. Close it when done holding the device open.
type Sender struct {
	device recipe.DeviceID
	shared *refcount
	closed int32
}

func newSender(device recipe.DeviceID, mailbox *Mailbox) *Sender {
	return &Sender{device: device, shared: newRefcount(mailbox)}
}

// Device returns the ID of the device this sender targets.
func (s *Sender) Device() recipe.DeviceID { return s.device }

// Clone returns a new strong sender sharing this one's refcount, i.e. both
// must be closed before the mailbox is eligible for teardown.
func (s *Sender) Clone() *Sender {
	atomic.AddInt64(&s.shared.n, 1)
	return &Sender{device: s.device, shared: s.shared}
}

// Weak returns a weak sender derived from this one. A weak sender never
// keeps the device alive; Upgrade it to send.
func (s *Sender) Weak() *WeakSender {
	return &WeakSender{device: s.device, shared: s.shared}
}

// Close releases this sender's strong reference. Once every strong sender
// derived from the same registration has been closed, the mailbox is
// closed, which causes the handler runtime to drain and exit.
func (s *Sender) Close() {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	if atomic.AddInt64(&s.shared.n, -1) == 0 {
		s.shared.mailbox.Close()
	}
}

// Tell enqueues msg without waiting for a reply (spec §4.2's fire-and-forget
// send). It returns BusyError if the mailbox is full and AbortedError if
// the device has shut down.
func (s *Sender) Tell(ctx context.Context, msgType string, body interface{}) error {
	outcome := s.shared.mailbox.tryEnqueue(&envelope{ctx: ctx, msg: Message{Type: msgType, Body: body}})
	recordSend(s.device, msgType, outcome)
	return outcome
}

// Ask enqueues msg and blocks until a reply arrives, ctx is done, or
// timeout elapses, whichever comes first.
func (s *Sender) Ask(ctx context.Context, msgType string, body interface{}, timeout time.Duration) (interface{}, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	reply := make(chan Reply, 1)
	e := &envelope{ctx: ctx, msg: Message{Type: msgType, Body: body}, reply: reply}

	if err := s.shared.mailbox.tryEnqueue(e); err != nil {
		recordSend(s.device, msgType, err)
		return nil, err
	}
	recordSend(s.device, msgType, nil)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		recordAsk(s.device, msgType, r.Err)
		return r.Value, r.Err
	case <-ctx.Done():
		recordAsk(s.device, msgType, ctx.Err())
		return nil, ctx.Err()
	case <-timer.C:
		err := &TimeoutError{Device: s.device, Timeout: timeout}
		recordAsk(s.device, msgType, err)
		return nil, err
	}
}

// WeakSender observes a device's mailbox without keeping it alive. Upgrade
// must succeed before it can be used to send.
type WeakSender struct {
	device recipe.DeviceID
	shared *refcount
}

// Device returns the ID of the device this weak sender targets.
func (w *WeakSender) Device() recipe.DeviceID { return w.device }

// Upgrade returns a new strong Sender if the device is still alive, or
// UnknownDeviceError if the last strong sender has already been closed.
func (w *WeakSender) Upgrade() (*Sender, error) {
	for {
		cur := atomic.LoadInt64(&w.shared.n)
		if cur <= 0 {
			return nil, &UnknownDeviceError{Device: w.device}
		}
		if atomic.CompareAndSwapInt64(&w.shared.n, cur, cur+1) {
			return &Sender{device: w.device, shared: w.shared}, nil
		}
	}
}

// TypedSender is a generic, compile-time-typed view over a Sender for
// callers that always send one message shape to one device kind. The
// message type name used on the wire is the body's fmt.Sprintf("%T", ...)
// representation, matching the runtime type identity dispatch the handler
// table keys on (spec §4.3).
type TypedSender[M any] struct {
	inner *Sender
}

// NewTypedSender wraps an existing strong sender.
func NewTypedSender[M any](s *Sender) TypedSender[M] {
	return TypedSender[M]{inner: s}
}

// MessageTypeName returns the dispatch key for M.
func MessageTypeName[M any]() string {
	var zero M
	return fmt.Sprintf("%T", zero)
}

// Tell sends msg without waiting for a reply.
func (t TypedSender[M]) Tell(ctx context.Context, msg M) error {
	return t.inner.Tell(ctx, MessageTypeName[M](), msg)
}

// Ask sends msg and waits for a reply, type-asserting it back to R.
func Ask[M any, R any](ctx context.Context, t TypedSender[M], msg M, timeout time.Duration) (R, error) {
	var zero R
	val, err := t.inner.Ask(ctx, MessageTypeName[M](), msg, timeout)
	if err != nil {
		return zero, err
	}
	if val == nil {
		return zero, nil
	}
	typed, ok := val.(R)
	if !ok {
		return zero, fmt.Errorf("reply has unexpected type %T", val)
	}
	return typed, nil
}

// Close releases the underlying sender's strong reference.
func (t TypedSender[M]) Close() { t.inner.Close() }
