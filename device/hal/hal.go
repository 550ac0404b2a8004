package hal

import "encoding/binary"

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	TransferControl     = 0x00
	TransferIsochronous = 0x01
	TransferBulk        = 0x02
	TransferInterrupt   = 0x03
)

// DirectionIn is the direction bit of an IN (device to host) endpoint address.
const DirectionIn = 0x80

// MaxEndpoints is the number of endpoint numbers per direction (0-15).
const MaxEndpoints = 16

// EndpointConfig describes an endpoint the controller should provision.
// A zero endpoint number in Address asks the controller to pick a free one.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval for interrupt endpoints
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&DirectionIn != 0
}

// TransferType returns the transfer type (control, bulk, interrupt, isochronous).
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// PacketBuffer is endpoint packet memory handed to the controller at
// allocation time. Controllers stage OUT packets into it and read IN
// packets out of it, the way a peripheral uses its dedicated packet RAM.
type PacketBuffer interface {
	// Len returns the buffer capacity in bytes.
	Len() int

	// Store copies data into the buffer and returns the number of bytes stored.
	Store(data []byte) int

	// Load copies the first n stored bytes into dst and returns the count copied.
	Load(dst []byte, n int) int
}

// Event identifies the kind of bus activity reported by Poll.
type Event uint8

// Poll events.
const (
	EventNone    Event = iota // Nothing happened
	EventReset                // Bus reset detected
	EventData                 // One or more endpoints have activity
	EventSuspend              // Bus idle; host requested suspend
	EventResume               // Bus activity resumed after suspend
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventReset:
		return "reset"
	case EventData:
		return "data"
	case EventSuspend:
		return "suspend"
	case EventResume:
		return "resume"
	default:
		return "unknown"
	}
}

// PollResult reports the controller events since the previous Poll.
// Bit n of each mask refers to endpoint number n.
type PollResult struct {
	Event Event

	// OutMask marks OUT endpoints holding a received packet.
	OutMask uint16

	// InCompleteMask marks IN endpoints whose packet was collected by the host.
	InCompleteMask uint16

	// SetupMask marks control endpoints holding a SETUP packet.
	SetupMask uint16
}

// Controller is the poll-driven interface to a USB device controller.
//
// Every method returns immediately. Data operations report
// [github.com/ardnew/cdcecho/pkg.ErrWouldBlock] instead of waiting, and all
// bus state advances only through Poll. A Controller is owned by a single
// bus allocator and is not required to be safe for concurrent use by the
// device side.
type Controller interface {
	// AllocEndpoint provisions an endpoint backed by buf and returns its
	// final address. buf must hold at least MaxPacketSize bytes.
	AllocEndpoint(cfg EndpointConfig, buf PacketBuffer) (uint8, error)

	// Enable attaches the device to the bus once all endpoints are allocated.
	Enable()

	// Reset returns all endpoints to their post-reset state.
	Reset()

	// SetDeviceAddress programs the address assigned by the host.
	SetDeviceAddress(address uint8)

	// Read copies a received OUT packet into buf.
	// Returns ErrWouldBlock when no packet is staged.
	Read(address uint8, buf []byte) (int, error)

	// Write stages an IN packet for the host to collect.
	// Returns ErrWouldBlock while the previous packet is still staged.
	Write(address uint8, data []byte) (int, error)

	// SetStalled sets or clears the halt condition of an endpoint.
	SetStalled(address uint8, stalled bool)

	// IsStalled reports the halt condition of an endpoint.
	IsStalled(address uint8) bool

	// Suspend enters low-power mode after a suspend event.
	Suspend()

	// Resume leaves low-power mode after a resume event.
	Resume()

	// Poll reports bus events and endpoint activity.
	Poll() PollResult
}

// SetupPacket represents a USB SETUP packet in the HAL layer.
// This is a fixed-size, zero-allocation structure for SETUP transactions.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return SetupPacketSize
}

// IsDeviceToHost returns true if the request has an IN data stage.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.RequestType&DirectionIn != 0
}
