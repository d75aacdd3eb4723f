package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilatus-run/pilatus/recipe"
)

func spawnEcho(t *testing.T, sys *System, device recipe.DeviceID, types []string) *Sender {
	t.Helper()
	sender, mailbox := sys.Register(device, 4, types)
	handlers := make(HandlerTable, len(types))
	for _, ty := range types {
		handlers[ty] = Handler{Plain: func(ctx context.Context, body interface{}) (interface{}, error) {
			return body, nil
		}}
	}
	rt := NewRuntime(device, mailbox, handlers)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go rt.Run(ctx)
	return sender
}

func TestSystem_RegisterAndGetSender(t *testing.T) {
	sys := NewSystem()
	device := recipe.NewDeviceID()
	spawnEcho(t, sys, device, []string{"ping"})

	sender, err := sys.GetSender(device)
	require.NoError(t, err)
	defer sender.Close()

	val, err := sender.Ask(context.Background(), "ping", "hi", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hi", val)
}

func TestSystem_GetSender_UnknownDevice(t *testing.T) {
	sys := NewSystem()
	_, err := sys.GetSender(recipe.NewDeviceID())
	require.Error(t, err)
	var unk *UnknownDeviceError
	assert.ErrorAs(t, err, &unk)
}

func TestSystem_ListDevicesForMessageType(t *testing.T) {
	sys := NewSystem()
	a, b := recipe.NewDeviceID(), recipe.NewDeviceID()
	spawnEcho(t, sys, a, []string{"shared", "only-a"})
	spawnEcho(t, sys, b, []string{"shared"})

	shared := sys.ListDevicesForMessageType("shared")
	assert.ElementsMatch(t, []recipe.DeviceID{a, b}, shared)

	onlyA := sys.ListDevicesForMessageType("only-a")
	assert.Equal(t, []recipe.DeviceID{a}, onlyA)

	union := sys.ListDevicesForMessageTypes([]string{"only-a", "shared"})
	assert.ElementsMatch(t, []recipe.DeviceID{a, b}, union)
}

func TestSystem_AskUnique_AmbiguousWhenMultipleHandlers(t *testing.T) {
	sys := NewSystem()
	a, b := recipe.NewDeviceID(), recipe.NewDeviceID()
	spawnEcho(t, sys, a, []string{"shared"})
	spawnEcho(t, sys, b, []string{"shared"})

	_, err := sys.AskUnique(context.Background(), "shared", nil, time.Second)
	require.Error(t, err)
	var amb *AmbiguousHandlerError
	assert.ErrorAs(t, err, &amb)
}

func TestSystem_AskUnique_UnknownMessageType(t *testing.T) {
	sys := NewSystem()
	_, err := sys.AskUnique(context.Background(), "nothing", nil, time.Second)
	require.Error(t, err)
	var unk *UnknownMessageTypeError
	assert.ErrorAs(t, err, &unk)
}

func TestSystem_ForgetSenders(t *testing.T) {
	sys := NewSystem()
	device := recipe.NewDeviceID()
	spawnEcho(t, sys, device, []string{"ping"})

	sys.ForgetSenders([]recipe.DeviceID{device})
	_, err := sys.GetSender(device)
	require.Error(t, err)
}
