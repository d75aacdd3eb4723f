package actor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilatus-run/pilatus/recipe"
)

func TestMailbox_TryEnqueue_BusyWhenFull(t *testing.T) {
	m := NewMailbox(recipe.NewDeviceID(), 1)
	require.NoError(t, m.tryEnqueue(&envelope{ctx: context.Background(), msg: Message{Type: "a"}}))

	err := m.tryEnqueue(&envelope{ctx: context.Background(), msg: Message{Type: "b"}})
	require.Error(t, err)
	var busy *BusyError
	assert.ErrorAs(t, err, &busy)
}

func TestMailbox_TryEnqueue_AbortedWhenClosed(t *testing.T) {
	m := NewMailbox(recipe.NewDeviceID(), 4)
	m.Close()

	err := m.tryEnqueue(&envelope{ctx: context.Background(), msg: Message{Type: "a"}})
	var aborted *AbortedError
	assert.ErrorAs(t, err, &aborted)
}

func TestMailbox_Close_Idempotent(t *testing.T) {
	m := NewMailbox(recipe.NewDeviceID(), 1)
	assert.NotPanics(t, func() {
		m.Close()
		m.Close()
	})
}

func TestMailbox_DepthAndCapacity(t *testing.T) {
	m := NewMailbox(recipe.NewDeviceID(), 3)
	assert.Equal(t, 3, m.Capacity())
	assert.Equal(t, 0, m.Depth())
	require.NoError(t, m.tryEnqueue(&envelope{ctx: context.Background(), msg: Message{Type: "a"}}))
	assert.Equal(t, 1, m.Depth())
}
