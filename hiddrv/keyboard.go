package hiddrv

import (
	"go.uber.org/zap"

	"github.com/usbforge/hidhost/hid"
	"github.com/usbforge/hidhost/hid/hidusage"
)

// keyRollover is the number of simultaneous key slots a boot-protocol
// keyboard reports.
const keyRollover = 8

// hidToPS2 translates Keyboard/Keypad usage IDs to PS/2 set-1 make codes.
// https://download.microsoft.com/download/1/6/1/161ba512-40e2-4cc9-843a-923143f3456c/translate.pdf
var hidToPS2 = []uint16{
	0x0, 0x0, 0x0, 0x0, 0x1e, 0x30, 0x2e, 0x20, 0x12, 0x21, 0x22, 0x23, 0x17,
	0x24, 0x25, 0x26, 0x32, 0x31, 0x18, 0x19, 0x10, 0x13, 0x1f, 0x14, 0x16, 0x2f,
	0x11, 0x2d, 0x15, 0x2c, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a,
	0x0b, 0x1c, 0x01, 0x0e, 0x0f, 0x39, 0x0c, 0x0d, 0x1a, 0x1b, 0x2b, 0x2b, 0x27,
	0x28, 0x29, 0x33, 0x34, 0x35, 0x3a,
}

// modifierToPS2 maps the eight modifier usages (0xE0..0xE7) to scancodes.
// Extended codes carry the 0xE0 prefix in the high byte.
var modifierToPS2 = []uint16{
	0x1d, 0x2a, 0x38, 0xe05b,
	0xe01d, 0x59, 0xe038, 0xe05c,
}

// NewKeyboardDriver returns the generic keyboard driver: Generic Desktop /
// Keyboard application collections with modifier bits delivered as absolute
// variables and pressed keys as array data. Key transitions are derived by
// diffing consecutive reports at Finish.
func NewKeyboardDriver(log *zap.Logger, publish Publisher) *hid.Driver {
	return &hid.Driver{
		Name:      "generic-keyboard",
		UsagePage: hidusage.PageGenericDesktop,
		UsageID:   hidusage.Keyboard,
		Init: func(c *hid.Collection) (hid.Handler, error) {
			log.Debug("keyboard driver attached",
				zap.Uint16("usagePage", c.UsagePage),
				zap.Uint16("usageId", c.UsageID))
			return &keyboardHandler{log: log, publish: publish}, nil
		},
	}
}

type keyboardHandler struct {
	log     *zap.Logger
	publish Publisher

	current [keyRollover]uint8
	last    [keyRollover]uint8
	idx     int

	modifiers     uint8
	lastModifiers uint8
}

func (k *keyboardHandler) Begin(c *hid.Collection) {}

func (k *keyboardHandler) Absolute(c *hid.Collection, item *hid.ReportItem, page uint16, usage uint32, value int64) {
	if page != hidusage.PageKeyboardKeypad {
		k.log.Warn("unsupported keyboard usage page", zap.Uint16("usagePage", page))
		return
	}
	if usage < uint32(hidusage.KeyLeftControl) || usage > uint32(hidusage.KeyRightGUI) {
		k.log.Warn("unexpected absolute keyboard usage", zap.Uint32("usage", usage))
		return
	}
	bit := uint8(1) << (usage - uint32(hidusage.KeyLeftControl))
	if value != 0 {
		k.modifiers |= bit
	} else {
		k.modifiers &^= bit
	}
}

func (k *keyboardHandler) Array(c *hid.Collection, item *hid.ReportItem, page uint16, usage uint32) {
	if page != hidusage.PageKeyboardKeypad {
		k.log.Warn("unsupported keyboard usage page", zap.Uint16("usagePage", page))
		return
	}
	if k.idx >= keyRollover {
		return
	}
	k.current[k.idx] = uint8(usage)
	k.idx++
}

func (k *keyboardHandler) Relative(c *hid.Collection, item *hid.ReportItem, page uint16, usage uint32, value int64) {
	k.log.Debug("ignoring relative data on keyboard collection", zap.Uint32("usage", usage))
}

// Finish diffs the freshly accumulated key slots against the previous
// report's and emits one event per transition, then rotates the state for
// the next report.
func (k *keyboardHandler) Finish(c *hid.Collection) {
	for _, code := range k.current {
		if code != 0 && !contains(k.last[:], code) {
			k.emitKey(code, true)
		}
	}
	for _, code := range k.last {
		if code != 0 && !contains(k.current[:], code) {
			k.emitKey(code, false)
		}
	}

	for i := 0; i < 8; i++ {
		bit := uint8(1) << i
		if k.modifiers&bit != 0 && k.lastModifiers&bit == 0 {
			k.emitModifier(i, true)
		} else if k.modifiers&bit == 0 && k.lastModifiers&bit != 0 {
			k.emitModifier(i, false)
		}
	}

	k.last = k.current
	k.current = [keyRollover]uint8{}
	k.lastModifiers = k.modifiers
	k.modifiers = 0
	k.idx = 0
}

func (k *keyboardHandler) emitKey(code uint8, pressed bool) {
	if int(code) >= len(hidToPS2) {
		k.log.Warn("unrecognized key usage", zap.Uint8("hidCode", code))
		return
	}
	k.publish(Event{Key: &KeyEvent{
		HIDCode:  code,
		Scancode: hidToPS2[code],
		Pressed:  pressed,
	}})
}

func (k *keyboardHandler) emitModifier(idx int, pressed bool) {
	k.publish(Event{Key: &KeyEvent{
		HIDCode:  uint8(hidusage.KeyLeftControl) + uint8(idx),
		Scancode: modifierToPS2[idx],
		Pressed:  pressed,
	}})
}

func contains(codes []uint8, code uint8) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
