package actor

import "context"

// Task represents work a FollowUp handler kicked off that continues after
// the handler function itself has returned. The runtime keeps the device
// alive until every outstanding Task finishes (spec §4.3's "two-step"
// handler shape).
type Task interface {
	Done() <-chan struct{}
	Err() error
}

// SimpleTask is a Task backed by a channel, for handlers that spawn a
// goroutine and want a ready-made way to report when it finishes.
type SimpleTask struct {
	done chan struct{}
	err  error
}

// NewSimpleTask creates a Task in the not-yet-done state.
func NewSimpleTask() *SimpleTask {
	return &SimpleTask{done: make(chan struct{})}
}

// Finish marks the task done with the given error, exactly once.
func (t *SimpleTask) Finish(err error) {
	select {
	case <-t.done:
		return
	default:
	}
	t.err = err
	close(t.done)
}

// Done implements Task.
func (t *SimpleTask) Done() <-chan struct{} { return t.done }

// Err implements Task.
func (t *SimpleTask) Err() error { return t.err }

// PlainFunc handles a message to completion, ignoring the sender's
// cancellation signal. It is the simplest handler shape: dequeue, run,
// reply.
type PlainFunc func(ctx context.Context, body interface{}) (interface{}, error)

// CancellableFunc handles a message like PlainFunc, but is given the
// envelope's own context, which is cancelled if the asker gives up (its own
// ctx is cancelled, or Ask returns, for instance because its timeout
// expired, and the caller abandons the reply). Use this for handlers whose work should stop early when nobody is
// waiting on the result anymore.
type CancellableFunc func(ctx context.Context, body interface{}) (interface{}, error)

// FollowUpFunc starts asynchronous work and returns immediately with a Task
// that completes later. If the message was sent with Ask, the reply is
// deferred until the Task finishes; the runtime will not consider the
// device fully stopped until every outstanding Task has finished, even
// after its mailbox is closed.
type FollowUpFunc func(ctx context.Context, body interface{}) (Task, error)

// Handler is a tagged union of the three handler shapes a message type can
// be registered under. Exactly one field should be set.
type Handler struct {
	Plain       PlainFunc
	Cancellable CancellableFunc
	FollowUp    FollowUpFunc
}

// HandlerTable maps message type names to the handler that serves them, the
// shape a Runtime is constructed from.
type HandlerTable map[string]Handler
