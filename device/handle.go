package device

import (
	"context"
	"fmt"

	"github.com/pilatus-run/pilatus/actor"
	"github.com/pilatus-run/pilatus/recipe"
)

// UpdateParamsMessage is the message type every spawned device is expected
// to register a handler for: it carries freshly resolved parameters after
// the recipe service accepts an edit to this device or to a variable it
// references (spec §4.5/§4.7).
type UpdateParamsMessage struct {
	Params recipe.ParamsWithoutVariables
}

// Handler is the contract a device type registers with the spawner,
// equivalent to the Synse SDK's DeviceHandler: a type name, a validation
// function run before any spawn or parameter update is accepted, and the
// constructors for the message handlers and optional background loop that
// make up its running instance.
type Handler struct {
	// DeviceType names the kind of device this handler serves, matching
	// DeviceConfig.DeviceType.
	DeviceType string

	// Validate checks a fully resolved parameter document, returning a
	// descriptive error if rejected. It must not mutate any shared state.
	Validate func(ctx context.Context, params recipe.ParamsWithoutVariables) error

	// Handlers builds the message-type dispatch table for one running
	// instance of this device type, closing over dctx.
	Handlers func(dctx Context) actor.HandlerTable

	// Run, if non-nil, is started as a goroutine alongside the instance's
	// Runtime and is handed a clone of its strong sender so it can send
	// itself follow-up messages (e.g. a periodic poll loop). It must return
	// promptly once ctx is cancelled.
	Run func(ctx context.Context, dctx Context, self *actor.Sender)
}

// UnknownDeviceTypeError means no Handler is registered for a device_type
// named in a recipe.
type UnknownDeviceTypeError struct {
	DeviceType string
}

func (e *UnknownDeviceTypeError) Error() string {
	return fmt.Sprintf("no device handler registered for type %q", e.DeviceType)
}

// Registry is the set of known device types. It implements
// recipe.DeviceValidator so the recipe service can validate parameters
// without importing this package.
type Registry struct {
	handlers map[string]*Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*Handler)}
}

// MustRegister adds h to the registry, panicking on a duplicate device
// type; intended for use at process wiring time, not in request paths.
func (r *Registry) MustRegister(h *Handler) {
	if _, exists := r.handlers[h.DeviceType]; exists {
		panic(fmt.Sprintf("device type %q already registered", h.DeviceType))
	}
	r.handlers[h.DeviceType] = h
}

// Get returns the handler for deviceType, if registered.
func (r *Registry) Get(deviceType string) (*Handler, bool) {
	h, ok := r.handlers[deviceType]
	return h, ok
}

// Types returns every registered device type name.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

// Validate implements recipe.DeviceValidator.
func (r *Registry) Validate(deviceType string, id recipe.DeviceID, resolved recipe.ParamsWithoutVariables) error {
	h, ok := r.handlers[deviceType]
	if !ok {
		return &UnknownDeviceTypeError{DeviceType: deviceType}
	}
	return h.Validate(context.Background(), resolved)
}
