package actor

import (
	"fmt"
	"time"

	"github.com/pilatus-run/pilatus/recipe"
)

// UnknownDeviceError means no device with the given ID is currently
// registered with the system (or its strong reference has already expired).
type UnknownDeviceError struct {
	Device recipe.DeviceID
}

func (e *UnknownDeviceError) Error() string {
	return fmt.Sprintf("unknown device %s", e.Device)
}

// UnknownMessageTypeError means the target device has no handler registered
// for the message type that was sent.
type UnknownMessageTypeError struct {
	Device      recipe.DeviceID
	MessageType string
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("device %s has no handler for message type %q", e.Device, e.MessageType)
}

// AmbiguousHandlerError means more than one device claims to handle a
// message type where the caller asked for exactly one (spec §4.4).
type AmbiguousHandlerError struct {
	MessageType string
	Candidates  []recipe.DeviceID
}

func (e *AmbiguousHandlerError) Error() string {
	return fmt.Sprintf("message type %q is handled by %d devices, expected exactly one", e.MessageType, len(e.Candidates))
}

// BusyError means the device's mailbox is at capacity and the send was not
// willing to block (spec §4.2).
type BusyError struct {
	Device recipe.DeviceID
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("device %s mailbox is full", e.Device)
}

// AbortedError means the message was discarded before being handled,
// because the device's mailbox was closed or the device shut down while
// the message was in flight.
type AbortedError struct {
	Device recipe.DeviceID
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("message to device %s was aborted", e.Device)
}

// TimeoutError means an ask did not receive a reply within its deadline.
type TimeoutError struct {
	Device  recipe.DeviceID
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ask to device %s timed out after %s", e.Device, e.Timeout)
}
