package hiddrv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/usbforge/hidhost/hid"
)

var bootMouseDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x02, // Usage (Mouse)
	0xA1, 0x01, // Collection (Application)
	0x09, 0x01, //   Usage (Pointer)
	0xA1, 0x00, //   Collection (Physical)
	0x05, 0x09, //     Usage Page (Button)
	0x19, 0x01, //     Usage Minimum (1)
	0x29, 0x03, //     Usage Maximum (3)
	0x15, 0x00, //     Logical Minimum (0)
	0x25, 0x01, //     Logical Maximum (1)
	0x95, 0x03, //     Report Count (3)
	0x75, 0x01, //     Report Size (1)
	0x81, 0x02, //     Input (Data,Var,Abs)
	0x95, 0x01, //     Report Count (1)
	0x75, 0x05, //     Report Size (5)
	0x81, 0x01, //     Input (Const)
	0x05, 0x01, //     Usage Page (Generic Desktop)
	0x09, 0x30, //     Usage (X)
	0x09, 0x31, //     Usage (Y)
	0x09, 0x38, //     Usage (Wheel)
	0x15, 0x81, //     Logical Minimum (-127)
	0x25, 0x7F, //     Logical Maximum (127)
	0x75, 0x08, //     Report Size (8)
	0x95, 0x03, //     Report Count (3)
	0x81, 0x06, //     Input (Data,Var,Rel)
	0xC0, //   End Collection
	0xC0, // End Collection
}

func newMouseDevice(t *testing.T, options func() MouseOptions) (*hid.Device, *[]Event) {
	t.Helper()
	dev, err := hid.Parse(bootMouseDescriptor)
	require.NoError(t, err)

	var events []Event
	reg := hid.NewRegistry(zap.NewNop())
	reg.Register(NewMouseDriver(zap.NewNop(), func(e Event) {
		events = append(events, e)
	}, options))
	reg.Bind(dev)
	require.NotNil(t, dev.Collections[0].Driver())
	return dev, &events
}

func TestMouseMovement(t *testing.T) {
	dev, events := newMouseDevice(t, nil)

	// Left button held, X +5, raw Y -3, wheel +1. Y is negated by
	// default, so the raw -3 surfaces as +3.
	require.NoError(t, dev.HandleReport([]byte{0x01, 0x05, 0xFD, 0x01}))
	require.Len(t, *events, 1)
	assert.Equal(t, &MouseEvent{
		Buttons: MouseButtonLeft,
		DX:      5,
		DY:      3,
		Wheel:   1,
	}, (*events)[0].Mouse)

	// Deltas do not leak into the next report; buttons are re-read.
	require.NoError(t, dev.HandleReport([]byte{0x04, 0x00, 0x00, 0x00}))
	require.Len(t, *events, 2)
	assert.Equal(t, &MouseEvent{Buttons: MouseButtonMiddle}, (*events)[1].Mouse)
}

func TestMouseButtonRelease(t *testing.T) {
	dev, events := newMouseDevice(t, nil)

	require.NoError(t, dev.HandleReport([]byte{0x03, 0x00, 0x00, 0x00}))
	require.NoError(t, dev.HandleReport([]byte{0x02, 0x00, 0x00, 0x00}))
	require.Len(t, *events, 2)
	assert.Equal(t, MouseButtonLeft|MouseButtonRight, (*events)[0].Mouse.Buttons)
	assert.Equal(t, MouseButtonRight, (*events)[1].Mouse.Buttons)
}

func TestMouseYNegatedByDefault(t *testing.T) {
	dev, events := newMouseDevice(t, nil)

	require.NoError(t, dev.HandleReport([]byte{0x00, 0x00, 0x0A, 0x00}))
	require.Len(t, *events, 1)
	assert.Equal(t, int32(-10), (*events)[0].Mouse.DY)
}

func TestMouseInvertY(t *testing.T) {
	dev, events := newMouseDevice(t, func() MouseOptions {
		return MouseOptions{InvertY: true}
	})

	// InvertY passes the raw HID delta through.
	require.NoError(t, dev.HandleReport([]byte{0x00, 0x00, 0x0A, 0x00}))
	require.Len(t, *events, 1)
	assert.Equal(t, int32(10), (*events)[0].Mouse.DY)
}
