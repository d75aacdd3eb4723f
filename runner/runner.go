package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pilatus-run/pilatus/actor"
	"github.com/pilatus-run/pilatus/device"
	"github.com/pilatus-run/pilatus/internal/errs"
	"github.com/pilatus-run/pilatus/logging"
	"github.com/pilatus-run/pilatus/recipe"
)

// Runner hosts the currently active recipe's devices: spec §4.8's "recipe
// runner." It owns one generation of spawned device handles at a time,
// rebuilt whenever the recipe service activates a different recipe, and
// drives the whole thing to a clean stop on shutdown.
type Runner struct {
	service *recipe.Service
	spawner *device.Spawner
	system  *actor.System
	log     *logrus.Entry

	mu         sync.Mutex
	generation uint64
	activeID   recipe.RecipeID
	handles    map[recipe.DeviceID]*device.Handle
	cancelGen  context.CancelFunc
}

// New builds a runner wired to service, spawner, and system. Call
// service.AttachNotifier with a device.Notifier built from the same system
// before starting the runner, so live parameter edits reach running
// devices.
func New(service *recipe.Service, spawner *device.Spawner, system *actor.System) *Runner {
	return &Runner{
		service: service,
		spawner: spawner,
		system:  system,
		log:     logging.Get("recipe runner"),
		handles: make(map[recipe.DeviceID]*device.Handle),
	}
}

// Generation returns the current generation counter, incremented every time
// the active recipe's devices are respawned.
func (r *Runner) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

// ActiveDeviceCount returns how many devices are running in the current
// generation.
func (r *Runner) ActiveDeviceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Run spawns the currently active recipe's devices and then blocks,
// respawning a fresh generation every time the recipe service reports a
// change that switched the active recipe, until ctx is cancelled. It
// returns nil on a clean shutdown; spawn failures for individual devices
// are logged and do not stop the runner, since a recipe with N devices
// where 1 fails to validate should still run the other N-1.
func (r *Runner) Run(ctx context.Context) error {
	changes, token := r.service.Subscribe()
	defer r.service.Unsubscribe(token)

	if err := r.spawnGeneration(ctx); err != nil {
		r.log.WithError(err).Error("initial generation spawned with errors")
	}

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.teardownLocked()
			r.mu.Unlock()
			r.log.Info("runner stopped")
			return nil

		case _, ok := <-changes:
			if !ok {
				return nil
			}
			newActive := r.service.ActiveID()
			r.mu.Lock()
			changed := newActive != r.activeID
			r.mu.Unlock()
			if !changed {
				continue
			}
			r.log.WithField("recipe", newActive).Info("active recipe changed, respawning generation")
			if err := r.spawnGeneration(ctx); err != nil {
				r.log.WithError(err).Error("generation respawned with errors")
			}
		}
	}
}

// RequestActivate asks the recipe service to switch the active recipe. The
// respawn itself happens asynchronously, driven by Run observing the
// resulting change broadcast; callers that need to wait for it to finish
// spawning should poll Generation().
func (r *Runner) RequestActivate(id recipe.RecipeID) error {
	return r.service.ActivateRecipe(id)
}

// spawnGeneration snapshots the active recipe, tears down the previous
// generation, spawns every device in the snapshot, and swaps the result in
// as the new generation. It is safe to call concurrently with itself (e.g. a
// rapid sequence of activations), though only the last call's generation
// survives.
func (r *Runner) spawnGeneration(ctx context.Context) error {
	id, active, vars := r.service.Snapshot()

	r.mu.Lock()
	r.teardownLocked()
	r.mu.Unlock()

	genCtx, cancel := context.WithCancel(ctx)
	handles := make(map[recipe.DeviceID]*device.Handle, active.Devices.Len())
	multi := errs.NewMulti(fmt.Sprintf("spawn recipe %q", id))

	active.Devices.Range(func(devID recipe.DeviceID, cfg *recipe.DeviceConfig) bool {
		resolved, _, err := recipe.Resolve(cfg.Params, vars)
		if err != nil {
			multi.Add(fmt.Errorf("device %s: resolve params: %w", devID, err))
			return true
		}
		h, err := r.spawner.Spawn(genCtx, devID, cfg.DeviceType, resolved, vars)
		if err != nil {
			multi.Add(fmt.Errorf("device %s: %w", devID, err))
			return true
		}
		handles[devID] = h
		return true
	})

	r.mu.Lock()
	r.teardownLocked()
	r.handles = handles
	r.activeID = id
	r.generation++
	r.cancelGen = cancel
	r.mu.Unlock()

	r.log.WithField("recipe", id).WithField("devices", len(handles)).Info("generation spawned")
	return multi.Err()
}

// teardownLocked removes every device in the current generation from the
// dispatch table and stops it. Caller must hold r.mu.
func (r *Runner) teardownLocked() {
	ids := make([]recipe.DeviceID, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.system.ForgetSenders(ids)
	for _, h := range r.handles {
		h.Stop()
	}
	r.handles = nil
	if r.cancelGen != nil {
		r.cancelGen()
		r.cancelGen = nil
	}
}
