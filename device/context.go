package device

import "github.com/pilatus-run/pilatus/recipe"

// Context is the triple every device handler is constructed from: its own
// identity, a snapshot of the store's variable bindings at spawn time, and
// its fully resolved parameters (spec §4.5). Handlers that need the live
// variable table rather than a point-in-time copy should register for
// UpdateParamsMessage instead of reaching back into the recipe service.
type Context struct {
	DeviceID  recipe.DeviceID
	Variables recipe.Variables
	Params    recipe.ParamsWithoutVariables
}
