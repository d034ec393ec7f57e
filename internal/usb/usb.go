// Package usb defines the boundary between the HID service and whatever
// provides USB connectivity. Transports implement Device; the service only
// ever issues control transfers and arms interrupt-IN polling through these
// interfaces.
package usb

import "context"

// Standard and class-specific request codes used against HID interfaces.
const (
	RequestGetDescriptor uint8 = 0x06

	// HID class requests (HID 1.11 §7.2).
	RequestSetIdle     uint8 = 0x0A
	RequestSetProtocol uint8 = 0x0B
)

// Descriptor types.
const (
	DescriptorTypeHID    uint8 = 0x21
	DescriptorTypeReport uint8 = 0x22
)

// Interface class/subclass/protocol values for HID.
const (
	ClassHID uint8 = 0x03

	SubclassBoot uint8 = 0x01

	ProtocolKeyboard uint8 = 0x01
	ProtocolMouse    uint8 = 0x02
)

// SET_PROTOCOL wValue.
const (
	ProtocolValueBoot   uint16 = 0x00
	ProtocolValueReport uint16 = 0x01
)

// bmRequestType fields.
const (
	DirectionIn  uint8 = 0x80
	DirectionOut uint8 = 0x00

	TypeStandard uint8 = 0x00
	TypeClass    uint8 = 0x20

	RecipientInterface uint8 = 0x01
)

// SetupRequest is the 8-byte SETUP packet of a control transfer.
type SetupRequest struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

// Interface describes one interface of a configured device as the transport
// discovered it.
type Interface struct {
	Number    uint8
	Class     uint8
	Subclass  uint8
	Protocol  uint8
	Endpoints []Endpoint
}

// Endpoint is one endpoint descriptor of an interface.
type Endpoint struct {
	Address       uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

const (
	endpointDirectionIn   = 0x80
	transferTypeMask      = 0x03
	transferTypeInterrupt = 0x03
)

// IsInterruptIn reports whether the endpoint is an interrupt endpoint with
// device-to-host direction.
func (e Endpoint) IsInterruptIn() bool {
	return e.Address&endpointDirectionIn != 0 &&
		e.Attributes&transferTypeMask == transferTypeInterrupt
}

// Transfer is one queued interrupt transfer. The transport fills Data up to
// its capacity and invokes Complete exactly once per submission. Resubmitting
// from inside the callback is allowed.
type Transfer struct {
	Endpoint Endpoint
	Data     []byte
	Complete func(Completion)
}

// Completion reports the outcome of a transfer. Data is only valid when Err
// is nil.
type Completion struct {
	Data []byte
	Err  error
}

// Device is the transport's handle for one connected USB device.
type Device interface {
	// ControlTransfer performs a control request on endpoint 0. For IN
	// requests the response is written to buf and the number of bytes
	// transferred is returned.
	ControlTransfer(ctx context.Context, req SetupRequest, buf []byte) (int, error)

	// ConfigureEndpoint prepares an endpoint for transfer submission.
	ConfigureEndpoint(ep Endpoint) error

	// SubmitInterrupt queues an interrupt transfer. The call returns once
	// the transfer is queued; completion is delivered asynchronously.
	SubmitInterrupt(t *Transfer) error

	Close() error
}
