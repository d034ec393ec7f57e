package hid

import (
	"go.uber.org/zap"
)

// Device is the owning root of a parsed report descriptor. The collection
// tree hangs off it for the device's lifetime and is never shared; dropping
// the Device (after Close) releases the whole tree.
type Device struct {
	Collections  []*Collection
	UsesReportID bool

	log *zap.Logger
}

// Close tears down attached driver handlers. Handlers that hold resources
// implement Close; the tree itself needs no explicit teardown.
func (d *Device) Close() error {
	var firstErr error
	seen := make(map[Handler]struct{})
	for _, c := range d.Collections {
		var walk func(c *Collection)
		walk = func(c *Collection) {
			if c.handler != nil {
				if _, ok := seen[c.handler]; !ok {
					seen[c.handler] = struct{}{}
					if closer, ok := c.handler.(interface{ Close() error }); ok {
						if err := closer.Close(); err != nil && firstErr == nil {
							firstErr = err
						}
					}
				}
			}
			c.handler = nil
			c.driver = nil
			for _, mi := range c.Items {
				if mi.Collection != nil {
					walk(mi.Collection)
				}
			}
		}
		walk(c)
	}
	return firstErr
}

// Walk visits every main item of every top-level collection.
func (d *Device) Walk(fn func(mi MainItem) bool) {
	for _, c := range d.Collections {
		if !c.Walk(fn) {
			return
		}
	}
}
