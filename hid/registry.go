package hid

import (
	"sync"

	"go.uber.org/zap"
)

// Registry matches parsed collections against registered drivers. Both
// registration order and device arrival order are honored: a device binds to
// the first matching driver, and a collection no driver wanted is kept so a
// driver registered later can still claim it.
//
// One mutex guards both lists for the whole scan-and-mutate sequence, so a
// collection cannot be matched twice by a registration racing a device
// arrival.
type Registry struct {
	log *zap.Logger

	mu       sync.Mutex
	drivers  []*Driver
	orphaned []*Collection
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{log: log}
}

// Register adds a driver and retroactively offers it every collection that
// is still driverless.
func (r *Registry) Register(d *Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drivers = append(r.drivers, d)
	r.log.Info("registered HID driver",
		zap.String("driver", d.Name),
		zap.Uint16("usagePage", d.UsagePage),
		zap.Uint16("usageId", d.UsageID))

	kept := r.orphaned[:0]
	for _, c := range r.orphaned {
		if !r.tryAttach(d, c) {
			kept = append(kept, c)
		}
	}
	r.orphaned = kept
}

// Bind offers every top-level collection of a freshly parsed device to the
// registered drivers, first match wins. Unmatched collections are remembered
// for future registrations.
func (r *Registry) Bind(dev *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range dev.Collections {
		bound := false
		for _, d := range r.drivers {
			if r.tryAttach(d, c) {
				bound = true
				break
			}
		}
		if !bound {
			r.orphaned = append(r.orphaned, c)
		}
	}
}

func (r *Registry) tryAttach(d *Driver, c *Collection) bool {
	if !d.matches(c) {
		return false
	}
	handler, err := d.Init(c)
	if err != nil {
		r.log.Warn("driver declined collection",
			zap.String("driver", d.Name),
			zap.Uint16("usagePage", c.UsagePage),
			zap.Uint16("usageId", c.UsageID),
			zap.Error(err))
		return false
	}
	c.driver = d
	c.handler = handler
	// A driver owns the whole hierarchy under its collection: direct
	// children are stamped without a separate Init negotiation.
	for _, mi := range c.Items {
		if mi.Collection != nil {
			mi.Collection.driver = d
			mi.Collection.handler = handler
		}
	}
	r.log.Info("attached HID driver",
		zap.String("driver", d.Name),
		zap.Uint16("usagePage", c.UsagePage),
		zap.Uint16("usageId", c.UsageID))
	return true
}

// Release forgets any driverless collections belonging to dev. Called on
// device teardown so the orphan list does not pin a disconnected device's
// tree.
func (r *Registry) Release(dev *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.orphaned[:0]
	for _, c := range r.orphaned {
		owned := false
		for _, dc := range dev.Collections {
			if dc == c {
				owned = true
				break
			}
		}
		if !owned {
			kept = append(kept, c)
		}
	}
	r.orphaned = kept
}
