package actor

import (
	"context"
	"fmt"
	"sync"

	"github.com/pilatus-run/pilatus/logging"
	"github.com/pilatus-run/pilatus/recipe"
)

// Runtime drives one device's mailbox: it is the single reader of the
// device's Mailbox and the owner of its HandlerTable, matching spec §4.3's
// "handler runtime" component. One Runtime exists per live device; it
// exits once its mailbox is closed and every FollowUp task it started has
// finished.
type Runtime struct {
	device   recipe.DeviceID
	mailbox  *Mailbox
	handlers HandlerTable
	tasks    sync.WaitGroup
}

// NewRuntime builds a runtime for device, reading from mailbox and
// dispatching by message type through handlers.
func NewRuntime(device recipe.DeviceID, mailbox *Mailbox, handlers HandlerTable) *Runtime {
	return &Runtime{device: device, mailbox: mailbox, handlers: handlers}
}

// Run reads and dispatches messages until ctx is cancelled or the mailbox
// is closed (every strong Sender derived from it was Close'd). On
// cancellation it closes the mailbox and answers anything still queued with
// AbortedError; on closure it first handles every message already queued.
// Either way it waits for outstanding FollowUp tasks before returning.
func (r *Runtime) Run(ctx context.Context) {
	log := logging.Get("actor runtime").WithField("device", r.device)
	log.Debug("runtime started")

	for {
		select {
		case <-ctx.Done():
			r.mailbox.Close()
			r.drain()
			r.tasks.Wait()
			clearMailboxDepth(r.device)
			log.Debug("runtime stopped: context cancelled")
			return
		case e, ok := <-r.mailbox.queue:
			if !ok {
				r.tasks.Wait()
				clearMailboxDepth(r.device)
				log.Debug("runtime stopped: mailbox closed")
				return
			}
			if ctx.Err() != nil {
				r.reply(e, Reply{Err: &AbortedError{Device: r.device}})
				continue
			}
			setMailboxDepth(r.device, r.mailbox.Depth())
			r.dispatch(e)
		}
	}
}

func (r *Runtime) dispatch(e *envelope) {
	defer func() {
		if p := recover(); p != nil {
			logging.Get("actor runtime").WithField("device", r.device).WithField("message_type", e.msg.Type).Errorf("handler panicked: %v", p)
			r.reply(e, Reply{Err: fmt.Errorf("handler for %q on device %s panicked: %v", e.msg.Type, r.device, p)})
		}
	}()

	h, ok := r.handlers[e.msg.Type]
	if !ok {
		r.reply(e, Reply{Err: &UnknownMessageTypeError{Device: r.device, MessageType: e.msg.Type}})
		return
	}

	switch {
	case h.FollowUp != nil:
		task, err := h.FollowUp(e.ctx, e.msg.Body)
		if err != nil {
			r.reply(e, Reply{Err: err})
			return
		}
		r.tasks.Add(1)
		go func() {
			defer r.tasks.Done()
			<-task.Done()
			r.reply(e, Reply{Err: task.Err()})
		}()

	case h.Cancellable != nil:
		val, err := h.Cancellable(e.ctx, e.msg.Body)
		r.reply(e, Reply{Value: val, Err: err})

	case h.Plain != nil:
		val, err := h.Plain(context.Background(), e.msg.Body)
		r.reply(e, Reply{Value: val, Err: err})

	default:
		r.reply(e, Reply{Err: &UnknownMessageTypeError{Device: r.device, MessageType: e.msg.Type}})
	}
}

func (r *Runtime) reply(e *envelope, rep Reply) {
	if e.reply == nil {
		return
	}
	select {
	case e.reply <- rep:
	default:
	}
}

// drain replies AbortedError to every envelope still sitting in the
// mailbox after it has been closed, so no asker is left waiting forever.
func (r *Runtime) drain() {
	for {
		select {
		case e, ok := <-r.mailbox.queue:
			if !ok {
				return
			}
			r.reply(e, Reply{Err: &AbortedError{Device: r.device}})
		default:
			return
		}
	}
}
