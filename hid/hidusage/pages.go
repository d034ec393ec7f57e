// Package hidusage names the usage pages and usage IDs this repository's
// drivers care about. The values come from the USB-IF HID Usage Tables.
package hidusage

// Usage pages.
const (
	PageGenericDesktop uint16 = 0x01
	PageSimulation     uint16 = 0x02
	PageKeyboardKeypad uint16 = 0x07
	PageLED            uint16 = 0x08
	PageButton         uint16 = 0x09
	PageConsumer       uint16 = 0x0C
	PageDigitizer      uint16 = 0x0D
	PageVendorStart    uint16 = 0xFF00
)

// Generic Desktop usages.
const (
	Pointer  uint16 = 0x01
	Mouse    uint16 = 0x02
	Joystick uint16 = 0x04
	Gamepad  uint16 = 0x05
	Keyboard uint16 = 0x06
	Keypad   uint16 = 0x07

	X     uint16 = 0x30
	Y     uint16 = 0x31
	Z     uint16 = 0x32
	Wheel uint16 = 0x38
)

// Keyboard/Keypad usages: the modifier key block reported as absolute
// variable bits.
const (
	KeyLeftControl  uint16 = 0xE0
	KeyLeftShift    uint16 = 0xE1
	KeyLeftAlt      uint16 = 0xE2
	KeyLeftGUI      uint16 = 0xE3
	KeyRightControl uint16 = 0xE4
	KeyRightShift   uint16 = 0xE5
	KeyRightAlt     uint16 = 0xE6
	KeyRightGUI     uint16 = 0xE7
)
