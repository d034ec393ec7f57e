package hid

import (
	"fmt"

	"go.uber.org/zap"
)

// maxUsageStack bounds the number of pending Usage local items between two
// main items. Descriptors needing more are rejected outright rather than
// silently truncated.
const maxUsageStack = 32

// globalState persists across main items and across collection boundaries
// until changed, or saved/restored by Push/Pop.
type globalState struct {
	usagePage       uint16
	logicalMinimum  int32
	logicalMaximum  int32
	physicalMinimum int32
	physicalMaximum int32
	unitExponent    uint32
	unit            uint32
	reportSize      uint32
	reportCount     uint32
	reportID        uint8
	hasReportID     bool
}

// localState is reset after every main item. The usage stack carries the
// usages pending for the next Input/Output/Feature or Collection item.
type localState struct {
	usages       []Usage
	usageMinimum uint32
	usageMaximum uint32
}

func (l *localState) reset() {
	l.usages = l.usages[:0]
	l.usageMinimum = 0
	l.usageMaximum = 0
}

// pop removes and returns the most recently pushed usage.
func (l *localState) pop() (Usage, bool) {
	if len(l.usages) == 0 {
		return 0, false
	}
	u := l.usages[len(l.usages)-1]
	l.usages = l.usages[:len(l.usages)-1]
	return u, true
}

type parser struct {
	log  *zap.Logger
	data []byte
	pos  int

	global      globalState
	globalStack []globalState

	usesReportID bool
}

type ParseOption func(*parseOptions)

type parseOptions struct {
	log *zap.Logger
}

// WithLogger routes skipped-item diagnostics to the given logger.
func WithLogger(log *zap.Logger) ParseOption {
	return func(o *parseOptions) {
		o.log = log
	}
}

// Parse decodes a HID report descriptor into a Device holding the tree of
// top-level collections.
//
// Parsing is best-effort in the way the descriptor language demands: items
// the parser does not understand are logged and skipped, because a partial
// parse is preferable to refusing the device. Structural damage — a
// truncated item, an unterminated collection, a usage stack past its
// bound — fails the parse.
func Parse(data []byte, opts ...ParseOption) (*Device, error) {
	options := parseOptions{
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	p := &parser{
		log:  options.log,
		data: data,
	}

	var collections []*Collection
	local := &localState{}
	for p.pos < len(p.data) {
		it, n, err := decodeItem(p.data, p.pos)
		if err != nil {
			return nil, err
		}
		p.pos += n

		switch it.tag.Type() {
		case ItemTypeMain:
			switch it.tag.Prefix() {
			case tagCollection:
				c, err := p.parseCollection(it, local)
				if err != nil {
					return nil, err
				}
				collections = append(collections, c)
				local.reset()
			default:
				// Input/Output/Feature outside any collection carries no
				// usage context worth keeping.
				p.log.Warn("main item outside collection, skipping",
					zap.Uint8("tag", it.tag.Prefix()))
				local.reset()
			}
		case ItemTypeGlobal:
			p.applyGlobal(it)
		case ItemTypeLocal:
			if err := p.applyLocal(it, local); err != nil {
				return nil, err
			}
		default:
			p.log.Warn("reserved item type, skipping", zap.Uint8("tag", uint8(it.tag)))
		}
	}

	return &Device{
		Collections:  collections,
		UsesReportID: p.usesReportID,
		log:          options.log,
	}, nil
}

// parseCollection consumes items following an already-decoded Collection
// item until the matching End Collection, recursing for nested collections.
// The collection's own usage comes off the parent's usage stack, except for
// Logical collections, which carry no usage identity.
func (p *parser) parseCollection(open item, parent *localState) (*Collection, error) {
	c := &Collection{
		Type:      CollectionType(open.uvalue()),
		UsagePage: p.global.usagePage,
	}
	if c.Type != CollectionTypeLogical {
		if u, ok := parent.pop(); ok {
			c.UsageID = u.ID()
			if page := u.Page(); page != 0 {
				c.UsagePage = page
			}
		}
	}

	local := &localState{}
	for p.pos < len(p.data) {
		it, n, err := decodeItem(p.data, p.pos)
		if err != nil {
			return nil, err
		}
		p.pos += n

		switch it.tag.Type() {
		case ItemTypeMain:
			switch it.tag.Prefix() {
			case tagEndCollection:
				return c, nil
			case tagCollection:
				child, err := p.parseCollection(it, local)
				if err != nil {
					return nil, err
				}
				c.Items = append(c.Items, MainItem{Collection: child})
				local.reset()
			case tagInput:
				c.appendItems(p.materialize(MainItemTypeInput, DataFlags(it.uvalue()), local))
				local.reset()
			case tagOutput:
				c.appendItems(p.materialize(MainItemTypeOutput, DataFlags(it.uvalue()), local))
				local.reset()
			case tagFeature:
				c.appendItems(p.materialize(MainItemTypeFeature, DataFlags(it.uvalue()), local))
				local.reset()
			default:
				p.log.Warn("unknown main item, skipping", zap.Uint8("tag", it.tag.Prefix()))
				local.reset()
			}
		case ItemTypeGlobal:
			p.applyGlobal(it)
		case ItemTypeLocal:
			if err := p.applyLocal(it, local); err != nil {
				return nil, err
			}
		default:
			p.log.Warn("reserved item type, skipping", zap.Uint8("tag", uint8(it.tag)))
		}
	}
	return nil, fmt.Errorf("collection (type %s) not terminated before end of descriptor", c.Type)
}

func (p *parser) applyGlobal(it item) {
	switch it.tag.Prefix() {
	case tagUsagePage:
		p.global.usagePage = uint16(it.uvalue())
	case tagLogicalMinimum:
		p.global.logicalMinimum = it.svalue()
	case tagLogicalMaximum:
		p.global.logicalMaximum = int32(it.uvalue())
	case tagPhysicalMinimum:
		p.global.physicalMinimum = it.svalue()
	case tagPhysicalMaximum:
		p.global.physicalMaximum = int32(it.uvalue())
	case tagUnitExponent:
		p.global.unitExponent = it.uvalue()
	case tagUnit:
		p.global.unit = it.uvalue()
	case tagReportSize:
		p.global.reportSize = it.uvalue()
	case tagReportCount:
		p.global.reportCount = it.uvalue()
	case tagReportID:
		p.global.reportID = uint8(it.uvalue())
		p.global.hasReportID = true
		p.usesReportID = true
	case tagPush:
		p.globalStack = append(p.globalStack, p.global)
	case tagPop:
		if len(p.globalStack) == 0 {
			p.log.Warn("pop with empty global state stack, skipping")
			return
		}
		p.global = p.globalStack[len(p.globalStack)-1]
		p.globalStack = p.globalStack[:len(p.globalStack)-1]
	default:
		p.log.Warn("unknown global item, skipping", zap.Uint8("tag", it.tag.Prefix()))
	}
}

func (p *parser) applyLocal(it item, local *localState) error {
	switch it.tag.Prefix() {
	case tagUsage:
		if len(local.usages) >= maxUsageStack {
			return fmt.Errorf("usage stack overflow (limit %d)", maxUsageStack)
		}
		local.usages = append(local.usages, Usage(it.uvalue()))
	case tagUsageMinimum:
		local.usageMinimum = it.uvalue()
	case tagUsageMaximum:
		local.usageMaximum = it.uvalue()
	default:
		// Designators, string indices and delimiters carry no information
		// this engine consumes.
		p.log.Debug("unhandled local item, skipping", zap.Uint8("tag", it.tag.Prefix()))
	}
	return nil
}

func (c *Collection) appendItems(items []*ReportItem) {
	for _, ri := range items {
		c.Items = append(c.Items, MainItem{Item: ri})
	}
}

// materialize expands the pending local state and the current global state
// into concrete field descriptors for one Input/Output/Feature item.
//
// With usages pending, each popped usage yields one field of count 1; the
// last one popped (the first pushed) absorbs whatever of the report count
// remains, so a usage list shorter than the count ends with the leftover
// slots repeating that usage. Fields are emitted in push order: the report's
// first field belongs to the first usage pushed.
//
// With no usages pending, a single field covers the whole report count;
// UsageID stays 0 and the usage range comes from Usage Minimum/Maximum,
// which at dispatch time selects array-style usage resolution.
func (p *parser) materialize(typ MainItemType, flags DataFlags, local *localState) []*ReportItem {
	base := ReportItem{
		Type:  typ,
		Flags: flags,

		UsagePage:    p.global.usagePage,
		UsageMinimum: local.usageMinimum,
		UsageMaximum: local.usageMaximum,

		ReportID:    p.global.reportID,
		ReportSize:  p.global.reportSize,
		ReportCount: p.global.reportCount,

		LogicalMinimum:  p.global.logicalMinimum,
		LogicalMaximum:  p.global.logicalMaximum,
		PhysicalMinimum: p.global.physicalMinimum,
		PhysicalMaximum: p.global.physicalMaximum,

		UnitExponent: p.global.unitExponent,
		Unit:         p.global.unit,
	}
	if base.PhysicalMinimum == 0 && base.PhysicalMaximum == 0 {
		base.PhysicalMinimum = base.LogicalMinimum
		base.PhysicalMaximum = base.LogicalMaximum
	}

	if len(local.usages) == 0 {
		ri := base
		return []*ReportItem{&ri}
	}

	items := make([]*ReportItem, 0, len(local.usages))
	produced := int64(0)
	for {
		u, ok := local.pop()
		if !ok {
			break
		}
		ri := base
		ri.UsageID = u.ID()
		if page := u.Page(); page != 0 {
			ri.UsagePage = page
		}
		ri.ReportCount = 1
		if len(local.usages) == 0 {
			remainder := int64(base.ReportCount) - produced
			if remainder < 0 {
				remainder = 0
			}
			ri.ReportCount = uint32(remainder)
		}
		produced += int64(ri.ReportCount)
		items = append(items, &ri)
	}
	// Undo the pop order so fields line up with the push order.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items
}
