package hid

// CollectionType is the type byte of a Collection main item. Values above
// 0x7F are vendor-defined.
type CollectionType uint8

const (
	CollectionTypePhysical CollectionType = iota
	CollectionTypeApplication
	CollectionTypeLogical
	CollectionTypeReport
	CollectionTypeNamedArray
	CollectionTypeUsageSwitch
	CollectionTypeUsageModifier
)

func (c CollectionType) String() string {
	switch c {
	case CollectionTypePhysical:
		return "physical"
	case CollectionTypeApplication:
		return "application"
	case CollectionTypeLogical:
		return "logical"
	case CollectionTypeReport:
		return "report"
	case CollectionTypeNamedArray:
		return "named-array"
	case CollectionTypeUsageSwitch:
		return "usage-switch"
	case CollectionTypeUsageModifier:
		return "usage-modifier"
	}
	if c >= 0x80 {
		return "vendor"
	}
	return "reserved"
}

// DataFlags is the flag byte of an Input/Output/Feature item.
type DataFlags uint32

const (
	DataFlagConstant DataFlags = 1 << iota // 0 = data, 1 = constant
	DataFlagVariable                       // 0 = array, 1 = variable
	DataFlagRelative                       // 0 = absolute, 1 = relative
	DataFlagWrap
	DataFlagNonLinear
	DataFlagNoPreferred
	DataFlagNullState
	DataFlagVolatile
	DataFlagBufferedBytes
)

func (d DataFlags) IsConstant() bool { return d&DataFlagConstant != 0 }
func (d DataFlags) IsVariable() bool { return d&DataFlagVariable != 0 }
func (d DataFlags) IsArray() bool    { return !d.IsVariable() }
func (d DataFlags) IsRelative() bool { return d&DataFlagRelative != 0 }

// MainItemType distinguishes the three data-carrying main items. Collections
// are represented separately in the tree.
type MainItemType uint8

const (
	MainItemTypeInput MainItemType = iota
	MainItemTypeOutput
	MainItemTypeFeature
)

func (m MainItemType) String() string {
	switch m {
	case MainItemTypeInput:
		return "input"
	case MainItemTypeOutput:
		return "output"
	case MainItemTypeFeature:
		return "feature"
	}
	return "unknown"
}

// Usage is a 32-bit usage value: usage page in the high 16 bits, usage ID
// in the low 16. A Usage local item with a 4-byte payload carries both.
type Usage uint32

func NewUsage(page, id uint16) Usage {
	return Usage(uint32(page)<<16 | uint32(id))
}

func (u Usage) Page() uint16 { return uint16(u >> 16) }
func (u Usage) ID() uint16   { return uint16(u) }

// ReportItem is one materialized field descriptor: a value snapshot of the
// parser's global state at the main item that produced it, bound to a single
// usage (or to a usage range for array-style fields, where UsageID is 0).
type ReportItem struct {
	Type  MainItemType `json:"type"`
	Flags DataFlags    `json:"flags"`

	UsagePage    uint16 `json:"usagePage"`
	UsageID      uint16 `json:"usageId,omitempty"`
	UsageMinimum uint32 `json:"usageMinimum,omitempty"`
	UsageMaximum uint32 `json:"usageMaximum,omitempty"`

	ReportID    uint8  `json:"reportId,omitempty"`
	ReportSize  uint32 `json:"reportSize"`
	ReportCount uint32 `json:"reportCount"`

	LogicalMinimum  int32 `json:"logicalMinimum"`
	LogicalMaximum  int32 `json:"logicalMaximum"`
	PhysicalMinimum int32 `json:"physicalMinimum"`
	PhysicalMaximum int32 `json:"physicalMaximum"`

	UnitExponent uint32 `json:"unitExponent,omitempty"`
	Unit         uint32 `json:"unit,omitempty"`
}

// hasUsage reports whether the item carries any usage information at all.
// Items without it (typically constant padding) are skipped by the
// dispatcher while still consuming their bits.
func (ri *ReportItem) hasUsage() bool {
	return ri.UsageID != 0 || ri.UsageMinimum != 0 || ri.UsageMaximum != 0
}

// MainItem is a oneOf node in a collection's item list: exactly one of
// Item and Collection is set.
type MainItem struct {
	Item       *ReportItem `json:"item,omitempty"`
	Collection *Collection `json:"collection,omitempty"`
}

// Collection is a grouping node of the parsed descriptor tree. The tree is
// exclusively owned by its Device; nothing is shared between collections.
type Collection struct {
	Type      CollectionType `json:"type"`
	UsagePage uint16         `json:"usagePage"`
	UsageID   uint16         `json:"usageId"`
	Items     []MainItem     `json:"items"`

	driver  *Driver
	handler Handler
}

// Driver returns the driver attached to this collection, if any.
func (c *Collection) Driver() *Driver {
	return c.driver
}

// Walk visits every main item of the collection and its descendants in
// descriptor order. Returning false stops the walk.
func (c *Collection) Walk(fn func(mi MainItem) bool) bool {
	for _, mi := range c.Items {
		if !fn(mi) {
			return false
		}
		if mi.Collection != nil {
			if !mi.Collection.Walk(fn) {
				return false
			}
		}
	}
	return true
}
