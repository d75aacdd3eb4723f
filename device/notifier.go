package device

import (
	"context"

	"github.com/pilatus-run/pilatus/actor"
	"github.com/pilatus-run/pilatus/recipe"
)

// Notifier implements recipe.ActiveNotifier by pushing UpdateParamsMessage
// to a running device's mailbox, if one is currently registered for it. A
// device that is not currently spawned (recipe not active, or mid-restart)
// simply misses the live update; its next spawn will pick up the latest
// resolved params from the store directly.
type Notifier struct {
	system *actor.System
}

// NewNotifier wraps system for use as a recipe.ActiveNotifier.
func NewNotifier(system *actor.System) *Notifier {
	return &Notifier{system: system}
}

// ApplyParams implements recipe.ActiveNotifier.
func (n *Notifier) ApplyParams(id recipe.DeviceID, resolved recipe.ParamsWithoutVariables) error {
	sender, err := n.system.GetSender(id)
	if err != nil {
		return err
	}
	defer sender.Close()

	return sender.Tell(context.Background(), actor.MessageTypeName[UpdateParamsMessage](), UpdateParamsMessage{Params: resolved})
}
