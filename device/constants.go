package device

import "fmt"

// Fixed limits of the device stack.
const (
	// MaxStrings is the maximum number of string descriptors per device.
	MaxStrings = 8

	// MaxControlDataSize is the largest control OUT data stage accepted.
	MaxControlDataSize = 256

	// MaxDescriptorResponseSize bounds any IN data stage, including the
	// full configuration descriptor.
	MaxDescriptorResponseSize = 512

	// ConfigurationValue is the value of the single configuration.
	ConfigurationValue = 1
)

// State is the USB device state of chapter 9.1. Poll moves the device
// through Attached, Powered, Default, Address and Configured; Suspended
// may interrupt any of the last four.
type State uint8

const (
	StateAttached State = iota
	StatePowered
	StateDefault
	StateAddress
	StateConfigured
	StateSuspended
)

var stateNames = [...]string{
	StateAttached:   "attached",
	StatePowered:    "powered",
	StateDefault:    "default",
	StateAddress:    "address",
	StateConfigured: "configured",
	StateSuspended:  "suspended",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Enumerated reports whether the host has assigned an address.
func (s State) Enumerated() bool {
	return s == StateAddress || s == StateConfigured
}

// DeviceStatus represents the device status bits.
type DeviceStatus uint16

// Device status bits.
const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0 // Device is self-powered
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1 // Remote wakeup enabled
)
