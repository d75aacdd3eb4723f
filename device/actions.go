package device

import (
	"context"
	"fmt"

	"github.com/gobwas/glob"

	"github.com/pilatus-run/pilatus/internal/errs"
	"github.com/pilatus-run/pilatus/logging"
)

// SetupAction runs against every device matching a type pattern when
// ActionSet.RunSetup is called for it (spec §10's supplemented
// "setup/teardown actions" feature, grounded on the plugin SDK's per-filter
// device setup actions). Neither the Spawner nor the runner calls RunSetup,
// so spawning a device runs no setup actions.
type SetupAction func(ctx context.Context, dctx Context) error

// TeardownAction mirrors SetupAction and runs when ActionSet.RunTeardown is
// called for a device, e.g. to release a handle Run acquired outside the
// actor system. Neither the Spawner nor the runner calls RunTeardown.
type TeardownAction func(ctx context.Context, dctx Context)

// ActionSet accumulates setup/teardown actions registered against a glob
// pattern over device_type, e.g. "camera.*" or "*".
type ActionSet struct {
	setup    []patternedAction
	teardown []patternedTeardown
}

type patternedAction struct {
	pattern glob.Glob
	raw     string
	action  SetupAction
}

type patternedTeardown struct {
	pattern glob.Glob
	raw     string
	action  TeardownAction
}

// NewActionSet creates an empty action set.
func NewActionSet() *ActionSet {
	return &ActionSet{}
}

// OnSetup registers action to run for every device whose type matches
// pattern (a gobwas/glob pattern, e.g. "camera.*").
func (a *ActionSet) OnSetup(pattern string, action SetupAction) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid setup action pattern %q: %w", pattern, err)
	}
	a.setup = append(a.setup, patternedAction{pattern: g, raw: pattern, action: action})
	return nil
}

// OnTeardown registers action to run for every device whose type matches
// pattern.
func (a *ActionSet) OnTeardown(pattern string, action TeardownAction) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid teardown action pattern %q: %w", pattern, err)
	}
	a.teardown = append(a.teardown, patternedTeardown{pattern: g, raw: pattern, action: action})
	return nil
}

// RunSetup executes every registered setup action whose pattern matches
// deviceType, in registration order, collecting all failures rather than
// stopping at the first.
func (a *ActionSet) RunSetup(ctx context.Context, deviceType string, dctx Context) error {
	multi := errs.NewMulti("device setup actions")
	log := logging.Get("device actions").WithField("device", dctx.DeviceID).WithField("type", deviceType)
	for _, pa := range a.setup {
		if !pa.pattern.Match(deviceType) {
			continue
		}
		if err := pa.action(ctx, dctx); err != nil {
			log.WithError(err).WithField("pattern", pa.raw).Error("setup action failed")
			multi.Add(fmt.Errorf("pattern %q: %w", pa.raw, err))
		}
	}
	return multi.Err()
}

// RunTeardown executes every registered teardown action whose pattern
// matches deviceType. Teardown actions cannot fail the operation they run
// alongside, so errors are only logged.
func (a *ActionSet) RunTeardown(ctx context.Context, deviceType string, dctx Context) {
	log := logging.Get("device actions").WithField("device", dctx.DeviceID).WithField("type", deviceType)
	for _, pa := range a.teardown {
		if !pa.pattern.Match(deviceType) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("pattern", pa.raw).Errorf("teardown action panicked: %v", r)
				}
			}()
			pa.action(ctx, dctx)
		}()
	}
}
