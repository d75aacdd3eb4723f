package device

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilatus-run/pilatus/recipe"
)

func TestActionSet_RunSetup_MatchesGlobPattern(t *testing.T) {
	set := NewActionSet()
	var ran []string
	require.NoError(t, set.OnSetup("camera.*", func(ctx context.Context, dctx Context) error {
		ran = append(ran, "camera")
		return nil
	}))
	require.NoError(t, set.OnSetup("*", func(ctx context.Context, dctx Context) error {
		ran = append(ran, "any")
		return nil
	}))

	err := set.RunSetup(context.Background(), "camera.rgb", Context{DeviceID: recipe.NewDeviceID()})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"camera", "any"}, ran)
}

func TestActionSet_RunSetup_AggregatesFailures(t *testing.T) {
	set := NewActionSet()
	require.NoError(t, set.OnSetup("*", func(ctx context.Context, dctx Context) error {
		return errors.New("boom-1")
	}))
	require.NoError(t, set.OnSetup("*", func(ctx context.Context, dctx Context) error {
		return errors.New("boom-2")
	}))

	err := set.RunSetup(context.Background(), "camera", Context{DeviceID: recipe.NewDeviceID()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom-1")
	assert.Contains(t, err.Error(), "boom-2")
}

func TestActionSet_RunTeardown_RecoversPanic(t *testing.T) {
	set := NewActionSet()
	require.NoError(t, set.OnTeardown("*", func(ctx context.Context, dctx Context) {
		panic("teardown exploded")
	}))

	assert.NotPanics(t, func() {
		set.RunTeardown(context.Background(), "camera", Context{DeviceID: recipe.NewDeviceID()})
	})
}

func TestActionSet_OnSetup_RejectsInvalidPattern(t *testing.T) {
	set := NewActionSet()
	err := set.OnSetup("[", func(ctx context.Context, dctx Context) error { return nil })
	require.Error(t, err)
}
