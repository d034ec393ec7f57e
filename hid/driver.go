package hid

// Handler receives decoded input for one matched collection. Begin and
// Finish bracket every input report delivered to the collection, letting an
// implementation accumulate fields and commit them atomically.
//
// The usage page and usage passed to the data callbacks are the resolved
// per-field values; handlers must trust those rather than the collection's.
type Handler interface {
	// Begin is called before any fields of an input report are delivered.
	Begin(c *Collection)
	// Array delivers one active usage of an array-style field: the field's
	// extracted value selects which usage fired.
	Array(c *Collection, item *ReportItem, usagePage uint16, usage uint32)
	// Relative delivers a relative variable field, already mapped to its
	// physical range.
	Relative(c *Collection, item *ReportItem, usagePage uint16, usage uint32, value int64)
	// Absolute delivers an absolute variable field, already mapped to its
	// physical range.
	Absolute(c *Collection, item *ReportItem, usagePage uint16, usage uint32, value int64)
	// Finish is called after all fields of an input report were delivered.
	Finish(c *Collection)
}

// Driver is a registration record for a HID consumer. UsagePage and UsageID
// filter the top-level collections the driver is offered; zero matches
// anything. Init is invoked once per matched collection and returns the
// Handler that will receive its input, or an error to decline the
// collection (it then stays available to other drivers).
type Driver struct {
	Name      string
	UsagePage uint16
	UsageID   uint16

	Init func(c *Collection) (Handler, error)
}

func (d *Driver) matches(c *Collection) bool {
	if d.UsagePage != 0 && d.UsagePage != c.UsagePage {
		return false
	}
	if d.UsageID != 0 && d.UsageID != c.UsageID {
		return false
	}
	return true
}
