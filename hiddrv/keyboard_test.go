package hiddrv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/usbforge/hidhost/hid"
)

var bootKeyboardDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xA1, 0x01, // Collection (Application)
	0x05, 0x07, //   Usage Page (Keyboard/Keypad)
	0x19, 0xE0, //   Usage Minimum (Left Control)
	0x29, 0xE7, //   Usage Maximum (Right GUI)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data,Var,Abs)
	0x95, 0x01, //   Report Count (1)
	0x75, 0x08, //   Report Size (8)
	0x81, 0x01, //   Input (Const)
	0x95, 0x06, //   Report Count (6)
	0x75, 0x08, //   Report Size (8)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x65, //   Logical Maximum (101)
	0x19, 0x00, //   Usage Minimum (0)
	0x29, 0x65, //   Usage Maximum (101)
	0x81, 0x00, //   Input (Data,Array)
	0xC0, // End Collection
}

func newKeyboardDevice(t *testing.T) (*hid.Device, *[]Event) {
	t.Helper()
	dev, err := hid.Parse(bootKeyboardDescriptor)
	require.NoError(t, err)

	var events []Event
	reg := hid.NewRegistry(zap.NewNop())
	reg.Register(NewKeyboardDriver(zap.NewNop(), func(e Event) {
		events = append(events, e)
	}))
	reg.Bind(dev)
	require.NotNil(t, dev.Collections[0].Driver())
	return dev, &events
}

func TestKeyboardPressAndRelease(t *testing.T) {
	dev, events := newKeyboardDevice(t)

	// Key A (0x04) goes down.
	require.NoError(t, dev.HandleReport([]byte{0x00, 0x00, 0x04, 0, 0, 0, 0, 0}))
	require.Len(t, *events, 1)
	assert.Equal(t, &KeyEvent{HIDCode: 0x04, Scancode: 0x1e, Pressed: true}, (*events)[0].Key)

	// Still held: no new events.
	require.NoError(t, dev.HandleReport([]byte{0x00, 0x00, 0x04, 0, 0, 0, 0, 0}))
	require.Len(t, *events, 1)

	// Released.
	require.NoError(t, dev.HandleReport([]byte{0x00, 0x00, 0x00, 0, 0, 0, 0, 0}))
	require.Len(t, *events, 2)
	assert.Equal(t, &KeyEvent{HIDCode: 0x04, Scancode: 0x1e, Pressed: false}, (*events)[1].Key)
}

func TestKeyboardRollover(t *testing.T) {
	dev, events := newKeyboardDevice(t)

	// A and B down together, then B replaced by C.
	require.NoError(t, dev.HandleReport([]byte{0x00, 0x00, 0x04, 0x05, 0, 0, 0, 0}))
	require.Len(t, *events, 2)
	assert.True(t, (*events)[0].Key.Pressed)
	assert.True(t, (*events)[1].Key.Pressed)

	require.NoError(t, dev.HandleReport([]byte{0x00, 0x00, 0x04, 0x06, 0, 0, 0, 0}))
	require.Len(t, *events, 4)
	assert.Equal(t, &KeyEvent{HIDCode: 0x06, Scancode: 0x2e, Pressed: true}, (*events)[2].Key)
	assert.Equal(t, &KeyEvent{HIDCode: 0x05, Scancode: 0x30, Pressed: false}, (*events)[3].Key)
}

func TestKeyboardModifiers(t *testing.T) {
	dev, events := newKeyboardDevice(t)

	// Left Shift (bit 1) down.
	require.NoError(t, dev.HandleReport([]byte{0x02, 0x00, 0, 0, 0, 0, 0, 0}))
	require.Len(t, *events, 1)
	assert.Equal(t, &KeyEvent{HIDCode: 0xE1, Scancode: 0x2a, Pressed: true}, (*events)[0].Key)

	// Right GUI joins: extended scancode.
	require.NoError(t, dev.HandleReport([]byte{0x82, 0x00, 0, 0, 0, 0, 0, 0}))
	require.Len(t, *events, 2)
	assert.Equal(t, &KeyEvent{HIDCode: 0xE7, Scancode: 0xe05c, Pressed: true}, (*events)[1].Key)

	// All released.
	require.NoError(t, dev.HandleReport([]byte{0x00, 0x00, 0, 0, 0, 0, 0, 0}))
	require.Len(t, *events, 4)
	assert.False(t, (*events)[2].Key.Pressed)
	assert.False(t, (*events)[3].Key.Pressed)
}

func TestKeyboardUnknownUsageDropped(t *testing.T) {
	dev, events := newKeyboardDevice(t)

	// 0x60 is within the descriptor's usage range but past the translation
	// table: no event, no panic.
	require.NoError(t, dev.HandleReport([]byte{0x00, 0x00, 0x60, 0, 0, 0, 0, 0}))
	assert.Empty(t, *events)
}
