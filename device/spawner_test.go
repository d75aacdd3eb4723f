package device

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilatus-run/pilatus/actor"
	"github.com/pilatus-run/pilatus/recipe"
)

func cameraHandler(reject bool) *Handler {
	return &Handler{
		DeviceType: "camera",
		Validate: func(ctx context.Context, params recipe.ParamsWithoutVariables) error {
			if reject {
				return errors.New("rejected")
			}
			return nil
		},
		Handlers: func(dctx Context) actor.HandlerTable {
			return actor.HandlerTable{
				"ping": actor.Handler{Plain: func(ctx context.Context, body interface{}) (interface{}, error) {
					return dctx.DeviceID.String(), nil
				}},
				actor.MessageTypeName[UpdateParamsMessage](): actor.Handler{Plain: func(ctx context.Context, body interface{}) (interface{}, error) {
					return nil, nil
				}},
			}
		},
	}
}

func TestRegistry_Validate_UnknownType(t *testing.T) {
	reg := NewRegistry()
	err := reg.Validate("unknown", recipe.NewDeviceID(), nil)
	require.Error(t, err)
	var unk *UnknownDeviceTypeError
	assert.ErrorAs(t, err, &unk)
}

func TestSpawner_Spawn_RejectsInvalidParams(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(cameraHandler(true))
	spawner := NewSpawner(actor.NewSystem(), reg, 4)

	_, err := spawner.Spawn(context.Background(), recipe.NewDeviceID(), "camera", []byte(`{}`), nil)
	require.Error(t, err)
}

func TestSpawner_Spawn_RegistersWithSystem(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(cameraHandler(false))
	sys := actor.NewSystem()
	spawner := NewSpawner(sys, reg, 4)

	id := recipe.NewDeviceID()
	handle, err := spawner.Spawn(context.Background(), id, "camera", []byte(`{}`), nil)
	require.NoError(t, err)
	defer handle.Stop()

	sender, err := sys.GetSender(id)
	require.NoError(t, err)
	defer sender.Close()

	val, err := sender.Ask(context.Background(), "ping", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, id.String(), val)
}

func TestNotifier_ApplyParams_SendsUpdate(t *testing.T) {
	reg := NewRegistry()
	received := make(chan recipe.ParamsWithoutVariables, 1)
	reg.MustRegister(&Handler{
		DeviceType: "camera",
		Validate:   func(context.Context, recipe.ParamsWithoutVariables) error { return nil },
		Handlers: func(dctx Context) actor.HandlerTable {
			return actor.HandlerTable{
				actor.MessageTypeName[UpdateParamsMessage](): actor.Handler{Plain: func(ctx context.Context, body interface{}) (interface{}, error) {
					msg := body.(UpdateParamsMessage)
					received <- msg.Params
					return nil, nil
				}},
			}
		},
	})
	sys := actor.NewSystem()
	spawner := NewSpawner(sys, reg, 4)
	id := recipe.NewDeviceID()
	handle, err := spawner.Spawn(context.Background(), id, "camera", []byte(`{}`), nil)
	require.NoError(t, err)
	defer handle.Stop()

	notifier := NewNotifier(sys)
	newParams := recipe.ParamsWithoutVariables(`{"fps":60}`)
	require.NoError(t, notifier.ApplyParams(id, newParams))

	select {
	case got := <-received:
		var tree map[string]interface{}
		require.NoError(t, json.Unmarshal(got, &tree))
		assert.Equal(t, float64(60), tree["fps"])
	case <-time.After(time.Second):
		t.Fatal("notifier did not deliver update")
	}
}

func TestNotifier_ApplyParams_UnknownDevice(t *testing.T) {
	notifier := NewNotifier(actor.NewSystem())
	err := notifier.ApplyParams(recipe.NewDeviceID(), nil)
	require.Error(t, err)
}
