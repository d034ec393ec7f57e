package hid

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/usbforge/hidhost/pkg/bits"
)

// HandleReport walks the collection tree against one interrupt-IN payload,
// extracting every input field and delivering it to the attached handlers.
//
// When the device uses report IDs, the payload's first byte names the report
// and only fields belonging to it are present — fields of other report IDs
// occupy no bits in this payload and are skipped without moving the bit
// cursor. Fields of collections without a driver still consume their bits so
// the cursor stays aligned for whatever follows them.
func (d *Device) HandleReport(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty input report")
	}
	reportID := uint8(0)
	if d.UsesReportID {
		reportID = data[0]
		if reportID == 0 {
			return fmt.Errorf("input report with reserved report ID 0")
		}
		data = data[1:]
	}

	r := bits.NewReader(data)
	for _, c := range d.Collections {
		if c.handler != nil {
			c.handler.Begin(c)
		}
		err := d.dispatchCollection(c, reportID, r)
		if c.handler != nil {
			c.handler.Finish(c)
		}
		if err != nil {
			return err
		}
	}
	if rem := r.Remaining(); rem >= 8 {
		d.log.Debug("trailing input report bits", zap.Uint8("reportId", reportID), zap.Int("bits", rem))
	}
	return nil
}

func (d *Device) dispatchCollection(c *Collection, reportID uint8, r *bits.Reader) error {
	for _, mi := range c.Items {
		if mi.Collection != nil {
			if err := d.dispatchCollection(mi.Collection, reportID, r); err != nil {
				return err
			}
			continue
		}

		item := mi.Item
		if item.Type != MainItemTypeInput {
			continue
		}
		if d.UsesReportID && item.ReportID != reportID {
			continue
		}

		if c.handler == nil || !item.hasUsage() {
			if err := r.Skip(int(item.ReportSize * item.ReportCount)); err != nil {
				return fmt.Errorf("input report underrun at bit %d: %w", r.Offset(), err)
			}
			continue
		}

		usageBase := uint32(item.UsageID)
		if usageBase == 0 {
			usageBase = item.UsageMinimum
		}

		for i := uint32(0); i < item.ReportCount; i++ {
			raw, err := r.Read(int(item.ReportSize))
			if err != nil {
				return fmt.Errorf("input report underrun at bit %d: %w", r.Offset(), err)
			}
			value := int64(raw)
			if item.LogicalMinimum < 0 {
				value = bits.SignExtend(raw, int(item.ReportSize))
			}
			if value < int64(item.LogicalMinimum) || value > int64(item.LogicalMaximum) {
				// Out of logical range means "no event", not an error.
				continue
			}

			if item.Flags.IsArray() {
				// The extracted value selects which usage is active.
				c.handler.Array(c, item, item.UsagePage, usageBase+uint32(value))
				continue
			}

			physical := scalePhysical(item, value)
			usage := usageBase + i
			if item.Flags.IsRelative() {
				c.handler.Relative(c, item, item.UsagePage, usage, physical)
			} else {
				c.handler.Absolute(c, item, item.UsagePage, usage, physical)
			}
		}
	}
	return nil
}

// scalePhysical maps a logical value onto the item's physical range with
// truncating integer arithmetic. Callers needing sub-unit precision must
// rescale via Unit Exponent themselves.
func scalePhysical(item *ReportItem, value int64) int64 {
	span := int64(item.LogicalMaximum) - int64(item.LogicalMinimum)
	if span == 0 {
		return int64(item.PhysicalMinimum)
	}
	return (int64(item.PhysicalMaximum)-int64(item.PhysicalMinimum))*
		(value-int64(item.LogicalMinimum))/span + int64(item.PhysicalMinimum)
}
