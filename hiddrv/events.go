// Package hiddrv provides generic consumers for parsed HID collections:
// a keyboard driver and a mouse driver, both emitting decoded input events
// through a publisher supplied at construction.
package hiddrv

// KeyEvent is one key transition. HIDCode is the Keyboard/Keypad usage ID;
// Scancode is its PS/2 set-1 translation (extended codes carry the 0xE0
// prefix in the high byte).
type KeyEvent struct {
	HIDCode  uint8  `json:"hidCode"`
	Scancode uint16 `json:"scancode"`
	Pressed  bool   `json:"pressed"`
}

// MouseButton bits reported in MouseEvent.Buttons.
const (
	MouseButtonLeft uint32 = 1 << iota
	MouseButtonRight
	MouseButtonMiddle
)

// MouseEvent is the committed state of one mouse report.
type MouseEvent struct {
	Buttons uint32 `json:"buttons"`
	DX      int32  `json:"dx"`
	DY      int32  `json:"dy"`
	Wheel   int32  `json:"wheel"`
}

// Event is a oneOf input event: exactly one field is set.
type Event struct {
	Key   *KeyEvent   `json:"key,omitempty"`
	Mouse *MouseEvent `json:"mouse,omitempty"`
}

// Publisher delivers events to whatever sits downstream of a driver.
type Publisher func(Event)
