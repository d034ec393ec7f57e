package hiddrv

import (
	"go.uber.org/zap"

	"github.com/usbforge/hidhost/hid"
	"github.com/usbforge/hidhost/hid/hidusage"
)

// MouseOptions tunes the mouse driver. The vertical axis is negated by
// default (HID reports positive Y as downward motion); InvertY restores the
// raw HID direction.
type MouseOptions struct {
	InvertY bool `json:"invertY" yaml:"invertY"`
}

// NewMouseDriver returns the generic mouse driver: Generic Desktop / Mouse
// application collections, relative X/Y/Wheel plus Button-page state. One
// MouseEvent is published per completed input report. options is consulted
// per report and may be nil for defaults.
func NewMouseDriver(log *zap.Logger, publish Publisher, options func() MouseOptions) *hid.Driver {
	if options == nil {
		options = func() MouseOptions { return MouseOptions{} }
	}
	return &hid.Driver{
		Name:      "generic-mouse",
		UsagePage: hidusage.PageGenericDesktop,
		UsageID:   hidusage.Mouse,
		Init: func(c *hid.Collection) (hid.Handler, error) {
			log.Debug("mouse driver attached",
				zap.Uint16("usagePage", c.UsagePage),
				zap.Uint16("usageId", c.UsageID))
			return &mouseHandler{log: log, publish: publish, options: options}, nil
		},
	}
}

type mouseHandler struct {
	log     *zap.Logger
	publish Publisher
	options func() MouseOptions

	buttons uint32
	dx      int32
	dy      int32
	wheel   int32
}

func (m *mouseHandler) Begin(c *hid.Collection) {
	m.dx = 0
	m.dy = 0
	m.wheel = 0
}

func (m *mouseHandler) Relative(c *hid.Collection, item *hid.ReportItem, page uint16, usage uint32, value int64) {
	if page != hidusage.PageGenericDesktop {
		m.log.Warn("unsupported mouse usage page", zap.Uint16("usagePage", page))
		return
	}
	switch uint16(usage) {
	case hidusage.X:
		m.dx += int32(value)
	case hidusage.Y:
		// Positive HID Y points down; flip to the upward convention here
		// so Finish only has to undo it when InvertY asks for raw deltas.
		m.dy -= int32(value)
	case hidusage.Wheel:
		m.wheel += int32(value)
	default:
		m.log.Warn("unsupported mouse usage", zap.Uint32("usage", usage))
	}
}

func (m *mouseHandler) Absolute(c *hid.Collection, item *hid.ReportItem, page uint16, usage uint32, value int64) {
	if page != hidusage.PageButton {
		m.log.Warn("unsupported mouse usage page", zap.Uint16("usagePage", page))
		return
	}
	if usage == 0 || usage > 32 {
		return
	}
	if value != 0 {
		m.buttons |= 1 << (usage - 1)
	} else {
		m.buttons &^= 1 << (usage - 1)
	}
}

func (m *mouseHandler) Array(c *hid.Collection, item *hid.ReportItem, page uint16, usage uint32) {
	m.log.Debug("ignoring array data on mouse collection", zap.Uint32("usage", usage))
}

func (m *mouseHandler) Finish(c *hid.Collection) {
	dy := m.dy
	if m.options().InvertY {
		// Undo the default negation: raw HID direction.
		dy = -dy
	}
	m.publish(Event{Mouse: &MouseEvent{
		Buttons: m.buttons,
		DX:      m.dx,
		DY:      dy,
		Wheel:   m.wheel,
	}})
}
