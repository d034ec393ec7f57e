package hidsvc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/usbforge/hidhost/hid"
	"github.com/usbforge/hidhost/internal/usb"
)

// openDevice is one device the service is actively polling.
type openDevice struct {
	log    *zap.Logger
	usbDev usb.Device
	hidDev *hid.Device

	mu     sync.Mutex
	closed bool
}

// setupDevice brings a freshly announced HID interface to the polling state:
// descriptors fetched and parsed, protocol selected, drivers bound, and the
// first interrupt-IN transfer armed.
func (s *Service) setupDevice(ctx context.Context, addr Address, dev usb.Device, iface usb.Interface) (*openDevice, error) {
	if iface.Class != usb.ClassHID {
		return nil, fmt.Errorf("interface %d is not HID class (class 0x%02x)", iface.Number, iface.Class)
	}

	desc, err := s.fetchReportDescriptor(ctx, dev, iface)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch report descriptor: %w", err)
	}

	// Boot-subclass interfaces come up in the boot protocol; switch to the
	// report protocol so the report descriptor actually describes the data.
	if iface.Subclass == usb.SubclassBoot {
		_, err = dev.ControlTransfer(ctx, usb.SetupRequest{
			RequestType: usb.DirectionOut | usb.TypeClass | usb.RecipientInterface,
			Request:     usb.RequestSetProtocol,
			Value:       usb.ProtocolValueReport,
			Index:       uint16(iface.Number),
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to set report protocol: %w", err)
		}
	}

	// Idle rate 0: the device only reports on change.
	_, err = dev.ControlTransfer(ctx, usb.SetupRequest{
		RequestType: usb.DirectionOut | usb.TypeClass | usb.RecipientInterface,
		Request:     usb.RequestSetIdle,
		Index:       uint16(iface.Number),
	}, nil)
	if err != nil {
		s.log.Warn("SET_IDLE rejected", zap.String("addr", addr.String()), zap.Error(err))
	}

	hidDev, err := hid.Parse(desc, hid.WithLogger(s.log.Named("parser")))
	if err != nil {
		return nil, fmt.Errorf("failed to parse report descriptor: %w", err)
	}
	if err := s.cacheDescriptor(addr, desc); err != nil {
		s.log.Warn("failed to cache descriptor", zap.String("addr", addr.String()), zap.Error(err))
	}

	s.registry.Bind(hidDev)

	ep, err := interruptInEndpoint(iface)
	if err != nil {
		return nil, err
	}
	if err := dev.ConfigureEndpoint(ep); err != nil {
		return nil, fmt.Errorf("failed to configure endpoint 0x%02x: %w", ep.Address, err)
	}

	open := &openDevice{
		log:    s.log.Named("poll").With(zap.String("addr", addr.String())),
		usbDev: dev,
		hidDev: hidDev,
	}
	if err := open.arm(ep); err != nil {
		open.close()
		return nil, fmt.Errorf("failed to arm interrupt transfer: %w", err)
	}
	return open, nil
}

func interruptInEndpoint(iface usb.Interface) (usb.Endpoint, error) {
	for _, ep := range iface.Endpoints {
		if ep.IsInterruptIn() {
			return ep, nil
		}
	}
	return usb.Endpoint{}, fmt.Errorf("interface %d has no interrupt-IN endpoint", iface.Number)
}

// arm submits the polling transfer. Each successful completion dispatches
// the report and resubmits; a failed completion stops the loop (the next
// backend event decides the device's fate).
func (o *openDevice) arm(ep usb.Endpoint) error {
	t := &usb.Transfer{
		Endpoint: ep,
		Data:     make([]byte, ep.MaxPacketSize),
	}
	t.Complete = func(c usb.Completion) {
		if c.Err != nil {
			o.log.Warn("interrupt transfer failed", zap.Error(c.Err))
			return
		}
		if err := o.hidDev.HandleReport(c.Data); err != nil {
			o.log.Warn("failed to dispatch input report", zap.Error(err))
		}
		o.mu.Lock()
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return
		}
		if err := o.usbDev.SubmitInterrupt(t); err != nil {
			o.log.Warn("failed to resubmit interrupt transfer", zap.Error(err))
		}
	}
	return o.usbDev.SubmitInterrupt(t)
}

func (o *openDevice) close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.hidDev.Close()
	if err := o.usbDev.Close(); err != nil {
		o.log.Warn("failed to close transport device", zap.Error(err))
	}
}

// fetchReportDescriptor reads the HID descriptor to learn the report
// descriptor's length, then reads the report descriptor itself.
func (s *Service) fetchReportDescriptor(ctx context.Context, dev usb.Device, iface usb.Interface) ([]byte, error) {
	hidDesc := make([]byte, 9)
	n, err := dev.ControlTransfer(ctx, usb.SetupRequest{
		RequestType: usb.DirectionIn | usb.TypeStandard | usb.RecipientInterface,
		Request:     usb.RequestGetDescriptor,
		Value:       uint16(usb.DescriptorTypeHID) << 8,
		Index:       uint16(iface.Number),
		Length:      uint16(len(hidDesc)),
	}, hidDesc)
	if err != nil {
		return nil, fmt.Errorf("GET_DESCRIPTOR (HID) failed: %w", err)
	}
	if n < 9 {
		return nil, fmt.Errorf("short HID descriptor: %d bytes", n)
	}
	if hidDesc[1] != usb.DescriptorTypeHID {
		return nil, fmt.Errorf("unexpected descriptor type 0x%02x", hidDesc[1])
	}
	// bNumDescriptors is at [5]; each entry is type + 16-bit length. The
	// first entry is required to be the report descriptor.
	if hidDesc[5] < 1 || hidDesc[6] != usb.DescriptorTypeReport {
		return nil, fmt.Errorf("HID descriptor lists no report descriptor")
	}
	length := binary.LittleEndian.Uint16(hidDesc[7:9])
	if length == 0 {
		return nil, fmt.Errorf("report descriptor has zero length")
	}

	desc := make([]byte, length)
	n, err = dev.ControlTransfer(ctx, usb.SetupRequest{
		RequestType: usb.DirectionIn | usb.TypeStandard | usb.RecipientInterface,
		Request:     usb.RequestGetDescriptor,
		Value:       uint16(usb.DescriptorTypeReport) << 8,
		Index:       uint16(iface.Number),
		Length:      length,
	}, desc)
	if err != nil {
		return nil, fmt.Errorf("GET_DESCRIPTOR (report) failed: %w", err)
	}
	if n != int(length) {
		return nil, fmt.Errorf("short report descriptor: got %d of %d bytes", n, length)
	}
	return desc, nil
}
