package device

import (
	"encoding/binary"

	"github.com/ardnew/cdcecho/pkg"
)

// StandardRequestHandler answers chapter 9 requests on EP0. Responses are
// built in a buffer owned by the handler and stay valid until the next
// request.
type StandardRequestHandler struct {
	device   *Device
	response [MaxDescriptorResponseSize]byte
}

// NewStandardRequestHandler creates a new standard request handler.
func NewStandardRequestHandler(dev *Device) *StandardRequestHandler {
	return &StandardRequestHandler{device: dev}
}

type standardKey struct{ recipient, request uint8 }

type standardFunc func(h *StandardRequestHandler, s *SetupPacket) ([]byte, error)

var standardRequests = map[standardKey]standardFunc{
	{RequestRecipientDevice, RequestGetStatus}:        (*StandardRequestHandler).deviceStatus,
	{RequestRecipientDevice, RequestClearFeature}:     (*StandardRequestHandler).deviceFeature,
	{RequestRecipientDevice, RequestSetFeature}:       (*StandardRequestHandler).deviceFeature,
	{RequestRecipientDevice, RequestSetAddress}:       (*StandardRequestHandler).setAddress,
	{RequestRecipientDevice, RequestGetDescriptor}:    (*StandardRequestHandler).getDescriptor,
	{RequestRecipientDevice, RequestSetDescriptor}:    unsupported,
	{RequestRecipientDevice, RequestGetConfiguration}: (*StandardRequestHandler).getConfiguration,
	{RequestRecipientDevice, RequestSetConfiguration}: (*StandardRequestHandler).setConfiguration,

	{RequestRecipientInterface, RequestGetStatus}:    (*StandardRequestHandler).zeroStatus,
	{RequestRecipientInterface, RequestGetInterface}: (*StandardRequestHandler).getInterface,
	{RequestRecipientInterface, RequestSetInterface}: (*StandardRequestHandler).setInterface,

	{RequestRecipientEndpoint, RequestGetStatus}:    (*StandardRequestHandler).endpointStatus,
	{RequestRecipientEndpoint, RequestClearFeature}: (*StandardRequestHandler).endpointHalt,
	{RequestRecipientEndpoint, RequestSetFeature}:   (*StandardRequestHandler).endpointHalt,
}

// HandleSetup answers a standard request. The returned slice is the IN
// data stage, nil for requests without one.
func (h *StandardRequestHandler) HandleSetup(setup *SetupPacket, _ []byte) ([]byte, error) {
	if !setup.IsStandard() {
		return nil, pkg.ErrInvalidRequest
	}

	// Interface and endpoint targets are checked before the request code.
	switch setup.Recipient() {
	case RequestRecipientInterface:
		if !h.device.validInterface(setup.InterfaceNumber()) {
			return nil, pkg.ErrInvalidRequest
		}
	case RequestRecipientEndpoint:
		if !h.device.validEndpoint(setup.EndpointAddress()) {
			return nil, pkg.ErrInvalidEndpoint
		}
	}

	fn, ok := standardRequests[standardKey{setup.Recipient(), setup.Request}]
	if !ok {
		return nil, pkg.ErrInvalidRequest
	}
	return fn(h, setup)
}

func unsupported(*StandardRequestHandler, *SetupPacket) ([]byte, error) {
	return nil, pkg.ErrNotSupported
}

func (h *StandardRequestHandler) byte1(v uint8) []byte {
	h.response[0] = v
	return h.response[:1]
}

func (h *StandardRequestHandler) word(v uint16) []byte {
	binary.LittleEndian.PutUint16(h.response[:2], v)
	return h.response[:2]
}

func (h *StandardRequestHandler) deviceStatus(*SetupPacket) ([]byte, error) {
	return h.word(uint16(h.device.GetStatus())), nil
}

func (h *StandardRequestHandler) zeroStatus(*SetupPacket) ([]byte, error) {
	return h.word(0), nil
}

// deviceFeature handles SET_FEATURE and CLEAR_FEATURE for the device.
// Only remote wakeup is supported; test mode stalls.
func (h *StandardRequestHandler) deviceFeature(s *SetupPacket) ([]byte, error) {
	switch s.Value {
	case FeatureDeviceRemoteWakeup:
		h.device.enableRemoteWakeup(s.Request == RequestSetFeature)
		return nil, nil
	case FeatureTestMode:
		return nil, pkg.ErrNotSupported
	}
	return nil, pkg.ErrInvalidRequest
}

func (h *StandardRequestHandler) setAddress(s *SetupPacket) ([]byte, error) {
	if s.Value > 127 {
		return nil, pkg.ErrInvalidRequest
	}
	return nil, h.device.prepareAddress(uint8(s.Value))
}

func (h *StandardRequestHandler) getConfiguration(*SetupPacket) ([]byte, error) {
	return h.byte1(h.device.Configuration()), nil
}

func (h *StandardRequestHandler) setConfiguration(s *SetupPacket) ([]byte, error) {
	return nil, h.device.setConfiguration(uint8(s.Value))
}

// Every interface has only alternate setting 0.
func (h *StandardRequestHandler) getInterface(*SetupPacket) ([]byte, error) {
	return h.byte1(0), nil
}

func (h *StandardRequestHandler) setInterface(s *SetupPacket) ([]byte, error) {
	if s.Value != 0 {
		return nil, pkg.ErrInvalidRequest
	}
	return nil, nil
}

func (h *StandardRequestHandler) endpointStatus(s *SetupPacket) ([]byte, error) {
	var halted uint16
	if h.device.ctrl.IsStalled(s.EndpointAddress()) {
		halted = 1
	}
	return h.word(halted), nil
}

func (h *StandardRequestHandler) endpointHalt(s *SetupPacket) ([]byte, error) {
	if s.Value != FeatureEndpointHalt {
		return nil, pkg.ErrInvalidRequest
	}
	address, halt := s.EndpointAddress(), s.Request == RequestSetFeature
	h.device.ctrl.SetStalled(address, halt)
	pkg.LogDebug(pkg.ComponentControl, "endpoint halt changed",
		"address", address,
		"halt", halt)
	return nil, nil
}

func (h *StandardRequestHandler) getDescriptor(s *SetupPacket) ([]byte, error) {
	var n int
	switch s.DescriptorType() {
	case DescriptorTypeDevice:
		n = h.device.descriptor.MarshalTo(h.response[:])
	case DescriptorTypeConfiguration:
		if s.DescriptorIndex() != 0 {
			return nil, pkg.ErrInvalidRequest
		}
		n = h.device.config.MarshalTo(h.response[:])
	case DescriptorTypeString:
		data := h.device.GetString(s.DescriptorIndex())
		if data == nil {
			return nil, pkg.ErrInvalidRequest
		}
		n = copy(h.response[:], data)
	case DescriptorTypeDeviceQualifier, DescriptorTypeOtherSpeedConfig:
		// Full-speed only: hosts expect a stall.
		return nil, pkg.ErrNotSupported
	default:
		return nil, pkg.ErrInvalidRequest
	}
	if n == 0 {
		return nil, pkg.ErrBufferTooSmall
	}
	return h.response[:n], nil
}
