package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilatus-run/pilatus/recipe"
)

func TestRuntime_PlainHandler_RepliesToAsk(t *testing.T) {
	device := recipe.NewDeviceID()
	mailbox := NewMailbox(device, 4)
	sender := newSender(device, mailbox)

	rt := NewRuntime(device, mailbox, HandlerTable{
		"echo": Handler{Plain: func(ctx context.Context, body interface{}) (interface{}, error) {
			return body, nil
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	val, err := sender.Ask(context.Background(), "echo", "hello", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", val)
}

func TestRuntime_UnknownMessageType(t *testing.T) {
	device := recipe.NewDeviceID()
	mailbox := NewMailbox(device, 4)
	sender := newSender(device, mailbox)

	rt := NewRuntime(device, mailbox, HandlerTable{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	_, err := sender.Ask(context.Background(), "missing", nil, time.Second)
	require.Error(t, err)
	var unk *UnknownMessageTypeError
	assert.ErrorAs(t, err, &unk)
}

func TestRuntime_ClosedMailbox_AbortsQueuedAsk(t *testing.T) {
	device := recipe.NewDeviceID()
	mailbox := NewMailbox(device, 4)
	sender := newSender(device, mailbox)

	blocked := make(chan struct{})
	rt := NewRuntime(device, mailbox, HandlerTable{
		"block": Handler{Plain: func(ctx context.Context, body interface{}) (interface{}, error) {
			<-blocked
			return nil, nil
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go rt.Run(ctx)

	// occupy the runtime so the second message sits queued.
	go func() { _, _ = sender.Ask(context.Background(), "block", nil, 5*time.Second) }()
	time.Sleep(20 * time.Millisecond)

	resultCh := make(chan error, 1)
	go func() {
		_, err := sender.Ask(context.Background(), "block", nil, 5*time.Second)
		resultCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	close(blocked)

	err := <-resultCh
	require.Error(t, err)
	var aborted *AbortedError
	assert.ErrorAs(t, err, &aborted)
}

func TestRuntime_FollowUpHandler_DefersReplyUntilTaskDone(t *testing.T) {
	device := recipe.NewDeviceID()
	mailbox := NewMailbox(device, 4)
	sender := newSender(device, mailbox)

	task := NewSimpleTask()
	rt := NewRuntime(device, mailbox, HandlerTable{
		"job": Handler{FollowUp: func(ctx context.Context, body interface{}) (Task, error) {
			return task, nil
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.Run(ctx)

	resultCh := make(chan error, 1)
	go func() {
		_, err := sender.Ask(context.Background(), "job", nil, 2*time.Second)
		resultCh <- err
	}()

	select {
	case <-resultCh:
		t.Fatal("ask resolved before follow-up task finished")
	case <-time.After(50 * time.Millisecond):
	}

	task.Finish(nil)
	require.NoError(t, <-resultCh)
}

func TestRuntime_CancellableHandler_SeesEnvelopeContext(t *testing.T) {
	device := recipe.NewDeviceID()
	mailbox := NewMailbox(device, 4)
	sender := newSender(device, mailbox)

	cancelSeen := make(chan struct{}, 1)
	rt := NewRuntime(device, mailbox, HandlerTable{
		"watch": Handler{Cancellable: func(ctx context.Context, body interface{}) (interface{}, error) {
			<-ctx.Done()
			cancelSeen <- struct{}{}
			return nil, ctx.Err()
		}},
	})

	runtimeCtx, cancelRuntime := context.WithCancel(context.Background())
	defer cancelRuntime()
	go rt.Run(runtimeCtx)

	askCtx, cancelAsk := context.WithCancel(context.Background())
	go func() { _, _ = sender.Ask(askCtx, "watch", nil, 2*time.Second) }()

	time.Sleep(20 * time.Millisecond)
	cancelAsk()

	select {
	case <-cancelSeen:
	case <-time.After(time.Second):
		t.Fatal("cancellable handler did not observe ask context cancellation")
	}
}
