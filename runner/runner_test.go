package runner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilatus-run/pilatus/actor"
	"github.com/pilatus-run/pilatus/device"
	"github.com/pilatus-run/pilatus/recipe"
)

func testCameraHandler() *device.Handler {
	return &device.Handler{
		DeviceType: "camera",
		Validate:   func(ctx context.Context, params recipe.ParamsWithoutVariables) error { return nil },
		Handlers: func(dctx device.Context) actor.HandlerTable {
			return actor.HandlerTable{
				"ping": actor.Handler{Plain: func(ctx context.Context, body interface{}) (interface{}, error) {
					return dctx.DeviceID.String(), nil
				}},
				actor.MessageTypeName[device.UpdateParamsMessage](): actor.Handler{Plain: func(ctx context.Context, body interface{}) (interface{}, error) {
					return nil, nil
				}},
			}
		},
	}
}

func setupRunner(t *testing.T) (*Runner, *recipe.Service, func()) {
	t.Helper()
	root := t.TempDir()
	reg := device.NewRegistry()
	reg.MustRegister(testCameraHandler())

	svc, err := recipe.NewService(root, reg)
	require.NoError(t, err)

	sys := actor.NewSystem()
	spawner := device.NewSpawner(sys, reg, 4)
	svc.AttachNotifier(device.NewNotifier(sys))

	r := New(svc, spawner, sys)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	return r, svc, func() {
		cancel()
		<-done
	}
}

func waitForGeneration(t *testing.T, r *Runner, min uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Generation() >= min {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("generation never reached %d (stuck at %d)", min, r.Generation())
}

func TestRunner_SpawnsInitialGeneration(t *testing.T) {
	r, svc, stop := setupRunner(t)
	defer stop()

	_, err := svc.AddDevice("default", "camera", mustTestName(t, "cam-1"), rawTestParams(t, map[string]interface{}{"fps": 30}))
	require.NoError(t, err)
	require.NoError(t, svc.CommitActiveRecipe())

	// AddDevice happened before Run's first spawn race is possible since
	// setupRunner starts Run immediately; force a respawn via activation of
	// the same recipe is not supported, so assert eventual consistency by
	// re-running spawnGeneration indirectly through a recipe switch.
	_, err = svc.AddRecipe("alt", nil)
	require.NoError(t, err)
	require.NoError(t, r.RequestActivate("alt"))
	waitForGeneration(t, r, 2)

	assert.Equal(t, recipe.RecipeID("alt"), svc.ActiveID())
}

func TestRunner_RespawnsOnActivate(t *testing.T) {
	r, svc, stop := setupRunner(t)
	defer stop()

	devID, err := svc.AddDevice("default", "camera", mustTestName(t, "cam-1"), rawTestParams(t, map[string]interface{}{"fps": 30}))
	require.NoError(t, err)
	require.NoError(t, svc.CommitActiveRecipe())

	_, err = svc.AddRecipe("alt", nil)
	require.NoError(t, err)
	_, err = svc.AddDevice("alt", "camera", mustTestName(t, "cam-2"), rawTestParams(t, map[string]interface{}{"fps": 15}))
	require.NoError(t, err)

	gen0 := r.Generation()
	require.NoError(t, r.RequestActivate("alt"))
	waitForGeneration(t, r, gen0+1)

	assert.Equal(t, 1, r.ActiveDeviceCount())

	// the old generation's device should eventually be torn down.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sender, err := r.system.GetSender(devID)
		if err != nil {
			break
		}
		sender.Close()
		time.Sleep(5 * time.Millisecond)
	}
	_, err = r.system.GetSender(devID)
	assert.Error(t, err)
}

func TestRunner_ActivateRejectsUncommittedChanges(t *testing.T) {
	r, svc, stop := setupRunner(t)
	defer stop()

	_, err := svc.AddDevice("default", "camera", mustTestName(t, "cam-1"), rawTestParams(t, map[string]interface{}{"fps": 30}))
	require.NoError(t, err)

	_, err = svc.AddRecipe("alt", nil)
	require.NoError(t, err)

	err = r.RequestActivate("alt")
	require.Error(t, err)
}

func TestHealthCheck_ReportsCheckFailure(t *testing.T) {
	check := NewHealthCheck("test", time.Hour, func() error { return assertErr })
	done := make(chan struct{})
	go check.Run(done)
	time.Sleep(20 * time.Millisecond)
	close(done)

	ok, _, err := check.Status()
	assert.False(t, ok)
	assert.Equal(t, assertErr, err)
}

var assertErr = errExample{}

type errExample struct{}

func (errExample) Error() string { return "example failure" }

func mustTestName(t *testing.T, raw string) recipe.Name {
	t.Helper()
	n, err := recipe.NewName(raw)
	require.NoError(t, err)
	return n
}

func rawTestParams(t *testing.T, v interface{}) recipe.ParamsWithVariables {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return recipe.ParamsWithVariables(data)
}
