package hid

// Report descriptor item prefix byte: [tag:4][type:2][size:2].
// The constants below carry the upper 6 bits; the low 2 bits encode the
// payload size class and are masked off before tag comparison.
const (
	tagInput         = 0x80
	tagOutput        = 0x90
	tagFeature       = 0xB0
	tagCollection    = 0xA0
	tagEndCollection = 0xC0

	tagUsagePage       = 0x04
	tagLogicalMinimum  = 0x14
	tagLogicalMaximum  = 0x24
	tagPhysicalMinimum = 0x34
	tagPhysicalMaximum = 0x44
	tagUnitExponent    = 0x54
	tagUnit            = 0x64
	tagReportSize      = 0x74
	tagReportID        = 0x84
	tagReportCount     = 0x94
	tagPush            = 0xA4
	tagPop             = 0xB4

	tagUsage             = 0x08
	tagUsageMinimum      = 0x18
	tagUsageMaximum      = 0x28
	tagDesignatorIndex   = 0x38
	tagDesignatorMinimum = 0x48
	tagDesignatorMaximum = 0x58
	tagStringIndex       = 0x68
	tagStringMinimum     = 0x78
	tagStringMaximum     = 0x88
	tagDelimiter         = 0xA8
)

// Tag is a full item prefix byte.
type Tag uint8

// ItemType is the 2-bit item class of a prefix byte.
type ItemType uint8

const (
	ItemTypeMain ItemType = iota
	ItemTypeGlobal
	ItemTypeLocal
	ItemTypeReserved
)

func (t Tag) Type() ItemType {
	return ItemType(t >> 2 & 0x03)
}

// Prefix strips the size class, leaving tag and type bits for comparison
// against the tag constants.
func (t Tag) Prefix() uint8 {
	return uint8(t) & 0xFC
}

// PayloadSize decodes the 2-bit size class. Size class 3 means a 4-byte
// payload, not 3.
func (t Tag) PayloadSize() int {
	switch t & 0x03 {
	case 0:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	default:
		return 4
	}
}
