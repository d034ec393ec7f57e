package hid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopHandler struct{}

func (nopHandler) Begin(*Collection) {}

func (nopHandler) Array(*Collection, *ReportItem, uint16, uint32) {}

func (nopHandler) Relative(*Collection, *ReportItem, uint16, uint32, int64) {}

func (nopHandler) Absolute(*Collection, *ReportItem, uint16, uint32, int64) {}

func (nopHandler) Finish(*Collection) {}

func TestRegistryBindFirstMatchWins(t *testing.T) {
	dev, err := Parse(mouseDescriptor)
	require.NoError(t, err)

	reg := NewRegistry(zap.NewNop())
	first := &Driver{
		Name:      "mouse-a",
		UsagePage: 0x01,
		UsageID:   0x02,
		Init:      func(*Collection) (Handler, error) { return nopHandler{}, nil },
	}
	second := &Driver{
		Name: "wildcard",
		Init: func(*Collection) (Handler, error) { return nopHandler{}, nil },
	}
	reg.Register(first)
	reg.Register(second)
	reg.Bind(dev)

	assert.Same(t, first, dev.Collections[0].Driver())
}

func TestRegistryFilterMismatchGoesDriverless(t *testing.T) {
	dev, err := Parse(mouseDescriptor)
	require.NoError(t, err)

	reg := NewRegistry(zap.NewNop())
	reg.Register(&Driver{
		Name:      "keyboard",
		UsagePage: 0x01,
		UsageID:   0x06,
		Init:      func(*Collection) (Handler, error) { return nopHandler{}, nil },
	})
	reg.Bind(dev)
	assert.Nil(t, dev.Collections[0].Driver())
}

func TestRegistryLateBinding(t *testing.T) {
	dev, err := Parse(mouseDescriptor)
	require.NoError(t, err)

	reg := NewRegistry(zap.NewNop())
	reg.Bind(dev)
	require.Nil(t, dev.Collections[0].Driver())

	inits := 0
	drv := &Driver{
		Name:      "mouse",
		UsagePage: 0x01,
		UsageID:   0x02,
		Init: func(*Collection) (Handler, error) {
			inits++
			return nopHandler{}, nil
		},
	}
	reg.Register(drv)

	assert.Same(t, drv, dev.Collections[0].Driver())
	assert.Equal(t, 1, inits)

	// Direct children are stamped with the same driver, without their own
	// Init round.
	child := dev.Collections[0].Items[0].Collection
	require.NotNil(t, child)
	assert.Same(t, drv, child.Driver())

	// Registering again must not re-init an already-bound collection.
	reg.Register(&Driver{
		Name: "wildcard",
		Init: func(*Collection) (Handler, error) { return nopHandler{}, nil },
	})
	assert.Same(t, drv, dev.Collections[0].Driver())
	assert.Equal(t, 1, inits)
}

func TestRegistryInitFailureStaysDriverless(t *testing.T) {
	dev, err := Parse(mouseDescriptor)
	require.NoError(t, err)

	reg := NewRegistry(zap.NewNop())
	reg.Register(&Driver{
		Name:      "picky",
		UsagePage: 0x01,
		UsageID:   0x02,
		Init:      func(*Collection) (Handler, error) { return nil, errors.New("not today") },
	})
	reg.Bind(dev)
	require.Nil(t, dev.Collections[0].Driver())

	// A later driver can still claim it.
	drv := &Driver{
		Name: "fallback",
		Init: func(*Collection) (Handler, error) { return nopHandler{}, nil },
	}
	reg.Register(drv)
	assert.Same(t, drv, dev.Collections[0].Driver())
}

func TestRegistryRelease(t *testing.T) {
	dev, err := Parse(mouseDescriptor)
	require.NoError(t, err)

	reg := NewRegistry(zap.NewNop())
	reg.Bind(dev)
	reg.Release(dev)

	// After release, registering a matching driver must not touch the
	// departed device's collections.
	inits := 0
	reg.Register(&Driver{
		Name: "wildcard",
		Init: func(*Collection) (Handler, error) {
			inits++
			return nopHandler{}, nil
		},
	})
	assert.Zero(t, inits)
	assert.Nil(t, dev.Collections[0].Driver())
}
