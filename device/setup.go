package device

import (
	"fmt"

	"github.com/ardnew/cdcecho/device/hal"
	"github.com/ardnew/cdcecho/pkg"
)

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors (USB 2.0 Spec Table 9-6).
const (
	FeatureEndpointHalt       = 0x00 // Endpoint halt feature
	FeatureDeviceRemoteWakeup = 0x01 // Device remote wakeup
	FeatureTestMode           = 0x02 // Test mode
)

// Request type masks (USB 2.0 Spec Table 9-2).
const (
	RequestTypeDirectionMask = 0x80 // Direction bit mask
	RequestTypeTypeMask      = 0x60 // Type bits mask
	RequestTypeRecipientMask = 0x1F // Recipient bits mask
)

// Request type direction values.
const (
	RequestDirectionHostToDevice = 0x00 // Host to device
	RequestDirectionDeviceToHost = 0x80 // Device to host
)

// Request type values.
const (
	RequestTypeStandard = 0x00 // Standard request
	RequestTypeClass    = 0x20 // Class-specific request
	RequestTypeVendor   = 0x40 // Vendor-specific request
)

// Request recipient values.
const (
	RequestRecipientDevice    = 0x00 // Device recipient
	RequestRecipientInterface = 0x01 // Interface recipient
	RequestRecipientEndpoint  = 0x02 // Endpoint recipient
	RequestRecipientOther     = 0x03 // Other recipient
)

// SetupPacket is a SETUP packet with request decoding helpers.
type SetupPacket struct {
	hal.SetupPacket
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = hal.SetupPacketSize

// ParseSetupPacket decodes the 8 bytes of a SETUP packet into out.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if !hal.ParseSetupPacket(data, &out.SetupPacket) {
		return pkg.ErrSetupPacketTooShort
	}
	return nil
}

// Standard builds a standard request. The direction follows from the
// request: GET_STATUS, GET_DESCRIPTOR, GET_CONFIGURATION, GET_INTERFACE and
// SYNCH_FRAME read from the device, everything else writes.
func Standard(request, recipient uint8, value, index, length uint16) SetupPacket {
	dir := uint8(RequestDirectionHostToDevice)
	switch request {
	case RequestGetStatus, RequestGetDescriptor, RequestGetConfiguration,
		RequestGetInterface, RequestSynchFrame:
		dir = RequestDirectionDeviceToHost
	}
	return SetupPacket{hal.SetupPacket{
		RequestType: dir | RequestTypeStandard | recipient&RequestTypeRecipientMask,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}}
}

// DescriptorValue packs a descriptor type and index into wValue.
func DescriptorValue(descType, index uint8) uint16 {
	return uint16(descType)<<8 | uint16(index)
}

func (s *SetupPacket) Direction() uint8 { return s.RequestType & RequestTypeDirectionMask }
func (s *SetupPacket) Type() uint8      { return s.RequestType & RequestTypeTypeMask }
func (s *SetupPacket) Recipient() uint8 { return s.RequestType & RequestTypeRecipientMask }

// IsDeviceToHost reports an IN data stage.
func (s *SetupPacket) IsDeviceToHost() bool { return s.Direction() == RequestDirectionDeviceToHost }

// IsHostToDevice reports an OUT data stage, or none.
func (s *SetupPacket) IsHostToDevice() bool { return !s.IsDeviceToHost() }

func (s *SetupPacket) IsStandard() bool { return s.Type() == RequestTypeStandard }
func (s *SetupPacket) IsClass() bool    { return s.Type() == RequestTypeClass }
func (s *SetupPacket) IsVendor() bool   { return s.Type() == RequestTypeVendor }

// IsInterfaceRecipient reports a request addressed to the interface in
// the low byte of wIndex.
func (s *SetupPacket) IsInterfaceRecipient() bool {
	return s.Recipient() == RequestRecipientInterface
}

// DescriptorType and DescriptorIndex decode wValue of GET_DESCRIPTOR.
func (s *SetupPacket) DescriptorType() uint8  { return uint8(s.Value >> 8) }
func (s *SetupPacket) DescriptorIndex() uint8 { return uint8(s.Value) }

// InterfaceNumber and EndpointAddress decode the low byte of wIndex.
func (s *SetupPacket) InterfaceNumber() uint8 { return uint8(s.Index) }
func (s *SetupPacket) EndpointAddress() uint8 { return uint8(s.Index) }

var standardNames = [...]string{
	RequestGetStatus:        "GET_STATUS",
	RequestClearFeature:     "CLEAR_FEATURE",
	RequestSetFeature:       "SET_FEATURE",
	RequestSetAddress:       "SET_ADDRESS",
	RequestGetDescriptor:    "GET_DESCRIPTOR",
	RequestSetDescriptor:    "SET_DESCRIPTOR",
	RequestGetConfiguration: "GET_CONFIGURATION",
	RequestSetConfiguration: "SET_CONFIGURATION",
	RequestGetInterface:     "GET_INTERFACE",
	RequestSetInterface:     "SET_INTERFACE",
	RequestSynchFrame:       "SYNCH_FRAME",
}

var (
	typeNames      = [...]string{"standard", "class", "vendor", "reserved"}
	recipientNames = [...]string{"device", "interface", "endpoint", "other"}
)

// String formats the packet for logs, e.g.
// "GET_DESCRIPTOR IN standard/device wValue=0x0100 wIndex=0x0000 wLength=18".
func (s *SetupPacket) String() string {
	name := fmt.Sprintf("REQUEST(0x%02X)", s.Request)
	if s.IsStandard() && int(s.Request) < len(standardNames) && standardNames[s.Request] != "" {
		name = standardNames[s.Request]
	}
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	recip := "reserved"
	if r := s.Recipient(); int(r) < len(recipientNames) {
		recip = recipientNames[r]
	}
	return fmt.Sprintf("%s %s %s/%s wValue=0x%04X wIndex=0x%04X wLength=%d",
		name, dir, typeNames[s.Type()>>5], recip, s.Value, s.Index, s.Length)
}
