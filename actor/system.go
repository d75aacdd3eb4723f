package actor

import (
	"context"
	"time"

	"github.com/pilatus-run/pilatus/recipe"
)

// System is the actor runtime's facade (spec §4.1): the single entry point
// other components use to register a freshly spawned device, look up a
// sender for an existing one, list the devices that declared a handler for
// a message type, and ask the single device that handles one (AskUnique).
type System struct {
	table *DispatchTable
}

// NewSystem creates an empty actor system.
func NewSystem() *System {
	return &System{table: NewDispatchTable()}
}

// Register creates a mailbox and strong sender for device and records it in
// the dispatch table under the given message types. The caller (normally
// the device spawner) owns the returned Sender and the Mailbox feeds a
// Runtime's Run loop; the dispatch table itself only ever holds a weak
// reference, so registering a device does not by itself keep it alive.
func (s *System) Register(device recipe.DeviceID, capacity int, types []string) (*Sender, *Mailbox) {
	mailbox := NewMailbox(device, capacity)
	sender := newSender(device, mailbox)
	s.table.Register(device, sender.Weak(), types)
	return sender, mailbox
}

// GetSender returns a strong sender for device if it is currently alive.
func (s *System) GetSender(device recipe.DeviceID) (*Sender, error) {
	weak, ok := s.table.Lookup(device)
	if !ok {
		return nil, &UnknownDeviceError{Device: device}
	}
	return weak.Upgrade()
}

// GetWeakSender returns a weak sender for device, regardless of whether it
// is currently alive.
func (s *System) GetWeakSender(device recipe.DeviceID) (*WeakSender, error) {
	weak, ok := s.table.Lookup(device)
	if !ok {
		return nil, &UnknownDeviceError{Device: device}
	}
	return weak, nil
}

// GetTypedSender is GetSender with a compile-time message type attached.
func GetTypedSender[M any](s *System, device recipe.DeviceID) (TypedSender[M], error) {
	sender, err := s.GetSender(device)
	if err != nil {
		return TypedSender[M]{}, err
	}
	return NewTypedSender[M](sender), nil
}

// ListDevicesForMessageType returns every registered device that declared a
// handler for msgType.
func (s *System) ListDevicesForMessageType(msgType string) []recipe.DeviceID {
	return s.table.DevicesForType(msgType)
}

// ListDevicesForMessageTypes returns the union of devices handling any of
// msgTypes.
func (s *System) ListDevicesForMessageTypes(msgTypes []string) []recipe.DeviceID {
	return s.table.DevicesForTypes(msgTypes)
}

// AskUnique asks msgType of whichever single device declared a handler for
// it. It fails with UnknownMessageTypeError if no device handles it, or
// AmbiguousHandlerError if more than one does (spec §4.4).
func (s *System) AskUnique(ctx context.Context, msgType string, body interface{}, timeout time.Duration) (interface{}, error) {
	candidates := s.table.DevicesForType(msgType)
	switch len(candidates) {
	case 0:
		return nil, &UnknownMessageTypeError{MessageType: msgType}
	case 1:
		sender, err := s.GetSender(candidates[0])
		if err != nil {
			return nil, err
		}
		defer sender.Close()
		return sender.Ask(ctx, msgType, body, timeout)
	default:
		return nil, &AmbiguousHandlerError{MessageType: msgType, Candidates: candidates}
	}
}

// ForgetSenders removes devices from the dispatch table so future lookups
// fail with UnknownDeviceError, without forcing their mailboxes closed.
// Used during graceful shutdown to stop routing new work to devices whose
// owning recipe is being torn down while any in-flight asks drain
// naturally (spec §4.1).
func (s *System) ForgetSenders(devices []recipe.DeviceID) {
	for _, d := range devices {
		s.table.Unregister(d)
	}
}

// Len returns the number of devices currently registered.
func (s *System) Len() int { return s.table.Len() }
