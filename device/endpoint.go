package device

import (
	"fmt"

	"github.com/ardnew/cdcecho/device/hal"
)

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	EndpointTypeControl     = hal.TransferControl
	EndpointTypeIsochronous = hal.TransferIsochronous
	EndpointTypeBulk        = hal.TransferBulk
	EndpointTypeInterrupt   = hal.TransferInterrupt
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = hal.DirectionIn
)

// Endpoint is an endpoint provisioned by a BusAllocator. Its packet buffer
// lives in the bus allocator's arena.
type Endpoint struct {
	bus           *BusAllocator
	address       uint8
	attributes    uint8
	maxPacketSize uint16
	interval      uint8
	region        *Region
}

// Address returns the endpoint address including the direction bit.
func (e *Endpoint) Address() uint8 {
	return e.address
}

// Number returns the endpoint number (0-15).
func (e *Endpoint) Number() uint8 {
	return e.address & 0x0F
}

// Direction returns EndpointDirectionIn or EndpointDirectionOut.
func (e *Endpoint) Direction() uint8 {
	return e.address & EndpointDirectionIn
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *Endpoint) IsIn() bool {
	return e.Direction() == EndpointDirectionIn
}

// TransferType returns the transfer type.
func (e *Endpoint) TransferType() uint8 {
	return e.attributes & 0x03
}

// MaxPacketSize returns the maximum packet size.
func (e *Endpoint) MaxPacketSize() uint16 {
	return e.maxPacketSize
}

// Interval returns the polling interval.
func (e *Endpoint) Interval() uint8 {
	return e.interval
}

// Region returns the arena region backing the endpoint.
func (e *Endpoint) Region() *Region {
	return e.region
}

// Stall halts the endpoint.
func (e *Endpoint) Stall() {
	e.bus.ctrl.SetStalled(e.address, true)
}

// Unstall clears the endpoint halt.
func (e *Endpoint) Unstall() {
	e.bus.ctrl.SetStalled(e.address, false)
}

// IsStalled reports whether the endpoint is halted.
func (e *Endpoint) IsStalled() bool {
	return e.bus.ctrl.IsStalled(e.address)
}

// Descriptor returns the endpoint descriptor.
func (e *Endpoint) Descriptor() EndpointDescriptor {
	return EndpointDescriptor{
		EndpointAddress: e.address,
		Attributes:      e.attributes,
		MaxPacketSize:   e.maxPacketSize,
		Interval:        e.interval,
	}
}

// EndpointIn is the device-to-host half of an endpoint.
type EndpointIn struct {
	Endpoint
}

// Write stages one packet for the host. It returns pkg.ErrWouldBlock while
// the previous packet has not been collected. A nil or empty data stages a
// zero-length packet.
func (e *EndpointIn) Write(data []byte) (int, error) {
	return e.bus.ctrl.Write(e.address, data)
}

// EndpointOut is the host-to-device half of an endpoint.
type EndpointOut struct {
	Endpoint
}

// Read copies one received packet into buf. It returns pkg.ErrWouldBlock
// when no packet is waiting.
func (e *EndpointOut) Read(buf []byte) (int, error) {
	return e.bus.ctrl.Read(e.address, buf)
}

// TransferTypeName returns a human-readable transfer type name.
func TransferTypeName(t uint8) string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	case EndpointTypeInterrupt:
		return "Interrupt"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// DirectionName returns a human-readable direction name.
func DirectionName(dir uint8) string {
	if dir&EndpointDirectionIn != 0 {
		return "IN"
	}
	return "OUT"
}
