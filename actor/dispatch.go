package actor

import (
	"sync"

	"github.com/pilatus-run/pilatus/recipe"
)

// deviceEntry is what the dispatch table keeps for a registered device: a
// weak reference (registration never keeps a device alive on its own) plus
// the set of message types it declared handlers for.
type deviceEntry struct {
	weak  *WeakSender
	types map[string]bool
}

// DispatchTable maps device IDs to their registered senders and message
// types, and maintains the reverse index (message type -> devices) that
// backs ListDevicesForMessageType (spec §4.3/§4.4).
type DispatchTable struct {
	mu      sync.RWMutex
	devices map[recipe.DeviceID]*deviceEntry
	byType  map[string]map[recipe.DeviceID]bool
}

// NewDispatchTable creates an empty dispatch table.
func NewDispatchTable() *DispatchTable {
	return &DispatchTable{
		devices: make(map[recipe.DeviceID]*deviceEntry),
		byType:  make(map[string]map[recipe.DeviceID]bool),
	}
}

// Register records device's weak sender and the message types it handles,
// replacing any prior registration for the same device ID.
func (d *DispatchTable) Register(device recipe.DeviceID, weak *WeakSender, types []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.unregisterLocked(device)

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
		if d.byType[t] == nil {
			d.byType[t] = make(map[recipe.DeviceID]bool)
		}
		d.byType[t][device] = true
	}
	d.devices[device] = &deviceEntry{weak: weak, types: typeSet}
	registeredDevices.Set(float64(len(d.devices)))
}

// Unregister removes device from the table entirely.
func (d *DispatchTable) Unregister(device recipe.DeviceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unregisterLocked(device)
	registeredDevices.Set(float64(len(d.devices)))
}

func (d *DispatchTable) unregisterLocked(device recipe.DeviceID) {
	entry, ok := d.devices[device]
	if !ok {
		return
	}
	for t := range entry.types {
		delete(d.byType[t], device)
		if len(d.byType[t]) == 0 {
			delete(d.byType, t)
		}
	}
	delete(d.devices, device)
}

// Lookup returns the weak sender registered for device.
func (d *DispatchTable) Lookup(device recipe.DeviceID) (*WeakSender, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.devices[device]
	if !ok {
		return nil, false
	}
	return entry.weak, true
}

// HandlesType reports whether device declared a handler for msgType.
func (d *DispatchTable) HandlesType(device recipe.DeviceID, msgType string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.devices[device]
	return ok && entry.types[msgType]
}

// DevicesForType returns every registered device that declared a handler
// for msgType, in no particular order.
func (d *DispatchTable) DevicesForType(msgType string) []recipe.DeviceID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := d.byType[msgType]
	out := make([]recipe.DeviceID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// DevicesForTypes returns the union of DevicesForType across msgTypes, each
// device appearing at most once.
func (d *DispatchTable) DevicesForTypes(msgTypes []string) []recipe.DeviceID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[recipe.DeviceID]bool)
	for _, t := range msgTypes {
		for id := range d.byType[t] {
			seen[id] = true
		}
	}
	out := make([]recipe.DeviceID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// Len returns the number of registered devices.
func (d *DispatchTable) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.devices)
}
