package actor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pilatus-run/pilatus/recipe"
)

func TestDispatchTable_RegisterReplacesPriorEntry(t *testing.T) {
	table := NewDispatchTable()
	device := recipe.NewDeviceID()
	mailbox := NewMailbox(device, 1)
	sender := newSender(device, mailbox)

	table.Register(device, sender.Weak(), []string{"a", "b"})
	assert.True(t, table.HandlesType(device, "a"))
	assert.ElementsMatch(t, []recipe.DeviceID{device}, table.DevicesForType("b"))

	table.Register(device, sender.Weak(), []string{"c"})
	assert.False(t, table.HandlesType(device, "a"))
	assert.True(t, table.HandlesType(device, "c"))
	assert.Equal(t, 1, table.Len())
}

func TestDispatchTable_Unregister(t *testing.T) {
	table := NewDispatchTable()
	device := recipe.NewDeviceID()
	mailbox := NewMailbox(device, 1)
	sender := newSender(device, mailbox)

	table.Register(device, sender.Weak(), []string{"a"})
	table.Unregister(device)

	_, ok := table.Lookup(device)
	assert.False(t, ok)
	assert.Empty(t, table.DevicesForType("a"))
}
