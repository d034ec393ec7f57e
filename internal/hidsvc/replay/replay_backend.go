// Package replay is a hidsvc backend that plays captured devices from a
// YAML file: each capture carries a report descriptor and a sequence of
// input reports, served as a virtual USB device. It backs demos and
// integration tests; it is not a transport.
package replay

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ghodss/yaml"
	"go.uber.org/zap"

	"github.com/usbforge/hidhost/internal/hidsvc"
	"github.com/usbforge/hidhost/internal/usb"
)

// Capture is the on-disk format of a replay file.
type Capture struct {
	Devices []CaptureDevice `json:"devices"`
}

type CaptureDevice struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Interface CaptureInterface `json:"interface"`
	// Descriptor and Reports are hex encoded; whitespace is ignored.
	Descriptor string   `json:"descriptor"`
	Reports    []string `json:"reports"`
	// IntervalMs is the pause between replayed reports. Defaults to the
	// endpoint's bInterval in milliseconds.
	IntervalMs int `json:"intervalMs"`
}

type CaptureInterface struct {
	Number   uint8           `json:"number"`
	Subclass uint8           `json:"subclass"`
	Protocol uint8           `json:"protocol"`
	Endpoint CaptureEndpoint `json:"endpoint"`
}

type CaptureEndpoint struct {
	Address       uint8  `json:"address"`
	MaxPacketSize uint16 `json:"maxPacketSize"`
	Interval      uint8  `json:"interval"`
}

type Backend struct {
	log   *zap.Logger
	path  string
	ready chan struct{}
}

func NewBackend(log *zap.Logger, path string) *Backend {
	return &Backend{
		log:   log,
		path:  path,
		ready: make(chan struct{}),
	}
}

func (b *Backend) Ready() <-chan struct{} {
	return b.ready
}

func (b *Backend) Start(ctx context.Context, pub hidsvc.BackendPublisher) error {
	capture, err := loadCapture(b.path)
	if err != nil {
		return err
	}

	event := hidsvc.BackendEvent{}
	for _, cdev := range capture.Devices {
		dev, iface, err := newDevice(b.log.Named(cdev.ID), cdev)
		if err != nil {
			return fmt.Errorf("capture device %s: %w", cdev.ID, err)
		}
		event.Connected = append(event.Connected, hidsvc.BackendDevice{
			ID:        cdev.ID,
			Name:      cdev.Name,
			Device:    dev,
			Interface: iface,
		})
	}

	select {
	case <-b.ready:
	default:
		close(b.ready)
	}
	pub(ctx, event)
	b.log.Info("replay backend started", zap.Int("devices", len(event.Connected)))
	<-ctx.Done()
	return nil
}

func loadCapture(path string) (Capture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Capture{}, fmt.Errorf("failed to read capture file: %w", err)
	}
	var capture Capture
	if err := yaml.Unmarshal(raw, &capture); err != nil {
		return Capture{}, fmt.Errorf("failed to parse capture file: %w", err)
	}
	return capture, nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}

// device serves a capture as a usb.Device: descriptors over control
// transfers, reports over interrupt completions. Once the report sequence
// is exhausted, the next completion fails with io.EOF and polling stops.
type device struct {
	log        *zap.Logger
	iface      usb.Interface
	descriptor []byte
	reports    [][]byte
	interval   time.Duration

	mu     sync.Mutex
	next   int
	closed bool
}

func newDevice(log *zap.Logger, cdev CaptureDevice) (*device, usb.Interface, error) {
	descriptor, err := decodeHex(cdev.Descriptor)
	if err != nil {
		return nil, usb.Interface{}, fmt.Errorf("bad descriptor hex: %w", err)
	}
	if len(descriptor) == 0 {
		return nil, usb.Interface{}, fmt.Errorf("empty report descriptor")
	}
	reports := make([][]byte, 0, len(cdev.Reports))
	for i, r := range cdev.Reports {
		data, err := decodeHex(r)
		if err != nil {
			return nil, usb.Interface{}, fmt.Errorf("bad report %d hex: %w", i, err)
		}
		reports = append(reports, data)
	}

	ep := usb.Endpoint{
		Address:       cdev.Interface.Endpoint.Address | 0x80,
		Attributes:    0x03,
		MaxPacketSize: cdev.Interface.Endpoint.MaxPacketSize,
		Interval:      cdev.Interface.Endpoint.Interval,
	}
	if ep.MaxPacketSize == 0 {
		ep.MaxPacketSize = 64
	}
	iface := usb.Interface{
		Number:    cdev.Interface.Number,
		Class:     usb.ClassHID,
		Subclass:  cdev.Interface.Subclass,
		Protocol:  cdev.Interface.Protocol,
		Endpoints: []usb.Endpoint{ep},
	}

	interval := time.Duration(cdev.IntervalMs) * time.Millisecond
	if interval == 0 {
		interval = time.Duration(ep.Interval) * time.Millisecond
	}

	return &device{
		log:        log,
		iface:      iface,
		descriptor: descriptor,
		reports:    reports,
		interval:   interval,
	}, iface, nil
}

func (d *device) ControlTransfer(ctx context.Context, req usb.SetupRequest, buf []byte) (int, error) {
	switch {
	case req.Request == usb.RequestGetDescriptor && req.Value>>8 == uint16(usb.DescriptorTypeHID):
		return copy(buf, d.hidDescriptor()), nil
	case req.Request == usb.RequestGetDescriptor && req.Value>>8 == uint16(usb.DescriptorTypeReport):
		return copy(buf, d.descriptor), nil
	case req.Request == usb.RequestSetProtocol, req.Request == usb.RequestSetIdle:
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported control request 0x%02x", req.Request)
	}
}

// hidDescriptor synthesizes the 9-byte HID descriptor a real device would
// carry, pointing at the capture's report descriptor.
func (d *device) hidDescriptor() []byte {
	desc := []byte{
		9,
		usb.DescriptorTypeHID,
		0x11, 0x01, // bcdHID 1.11
		0, // country code
		1, // one class descriptor follows
		usb.DescriptorTypeReport,
		0, 0,
	}
	binary.LittleEndian.PutUint16(desc[7:9], uint16(len(d.descriptor)))
	return desc
}

func (d *device) ConfigureEndpoint(ep usb.Endpoint) error {
	if ep.Address != d.iface.Endpoints[0].Address {
		return fmt.Errorf("unknown endpoint 0x%02x", ep.Address)
	}
	return nil
}

func (d *device) SubmitInterrupt(t *usb.Transfer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("device is closed")
	}
	idx := d.next
	d.next++

	time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return
		}
		if idx >= len(d.reports) {
			t.Complete(usb.Completion{Err: io.EOF})
			return
		}
		n := copy(t.Data, d.reports[idx])
		t.Complete(usb.Completion{Data: t.Data[:n]})
	})
	return nil
}

func (d *device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
