package device

import (
	"context"

	"github.com/pilatus-run/pilatus/actor"
	"github.com/pilatus-run/pilatus/logging"
	"github.com/pilatus-run/pilatus/recipe"
)

// Handle is what the spawner returns for a running device instance: its
// strong sender (the caller, normally the runner, owns its lifetime) and a
// Stop function that cancels the instance's background goroutines.
type Handle struct {
	Sender *actor.Sender
	Stop   func()
}

// Spawner creates running device instances from a recipe's device configs,
// registering each with the actor system (spec §4.5: "device handle /
// spawner").
type Spawner struct {
	system          *actor.System
	registry        *Registry
	mailboxCapacity int
}

// NewSpawner builds a spawner backed by system and registry, giving each
// spawned device's mailbox room for mailboxCapacity pending messages.
func NewSpawner(system *actor.System, registry *Registry, mailboxCapacity int) *Spawner {
	if mailboxCapacity < 1 {
		mailboxCapacity = 1
	}
	return &Spawner{system: system, registry: registry, mailboxCapacity: mailboxCapacity}
}

// Spawn validates resolved against deviceType's handler and, if accepted,
// registers a mailbox and starts the device's Runtime (and optional
// background Run loop) under a context derived from ctx. The returned
// Handle's Stop function tears the instance down; its Sender is a strong
// reference the caller must eventually Close (Stop calls it for you).
func (s *Spawner) Spawn(ctx context.Context, id recipe.DeviceID, deviceType string, resolved recipe.ParamsWithoutVariables, vars recipe.Variables) (*Handle, error) {
	h, ok := s.registry.Get(deviceType)
	if !ok {
		return nil, &UnknownDeviceTypeError{DeviceType: deviceType}
	}
	if err := h.Validate(ctx, resolved); err != nil {
		return nil, err
	}

	dctx := Context{DeviceID: id, Variables: vars, Params: resolved}
	handlerTable := h.Handlers(dctx)

	types := make([]string, 0, len(handlerTable))
	for t := range handlerTable {
		types = append(types, t)
	}

	sender, mailbox := s.system.Register(id, s.mailboxCapacity, types)
	runtime := actor.NewRuntime(id, mailbox, handlerTable)

	runCtx, cancel := context.WithCancel(ctx)
	log := logging.Get("device spawner").WithField("device", id).WithField("type", deviceType)
	log.Info("spawning device")

	go runtime.Run(runCtx)
	if h.Run != nil {
		go h.Run(runCtx, dctx, sender.Clone())
	}

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		sender.Close()
		log.Info("device stopped")
	}
	return &Handle{Sender: sender, Stop: stop}, nil
}
