package device

import (
	"fmt"

	"github.com/ardnew/cdcecho/pkg"
)

// ClassDriver is a USB function bound to interfaces and endpoints on the
// bus. The device calls it from Poll only.
type ClassDriver interface {
	// ConfigurationDescriptors appends the class's interface, functional
	// and endpoint descriptors.
	ConfigurationDescriptors(w *DescriptorWriter) error

	// Reset returns the class to its unconfigured state. Called on bus
	// reset and whenever the configuration changes.
	Reset()

	// HandleSetup processes a class or vendor request. data holds the OUT
	// data stage, if any. It reports whether the request belonged to the
	// class and returns the IN data stage, if any.
	HandleSetup(setup *SetupPacket, data []byte) ([]byte, bool, error)

	// EndpointOut signals a received packet waiting on an OUT endpoint.
	EndpointOut(address uint8)

	// EndpointInComplete signals the host collected a packet from an IN
	// endpoint.
	EndpointInComplete(address uint8)
}

// Configuration is the single device configuration assembled by the
// builder from its classes.
type Configuration struct {
	Value         uint8 // Value for SET_CONFIGURATION
	Attributes    uint8 // bmAttributes
	MaxPower      uint8 // bMaxPower, 2 mA units
	NumInterfaces uint8

	descriptor []byte // Complete configuration descriptor
}

// IsSelfPowered returns true if the configuration is self-powered.
func (c *Configuration) IsSelfPowered() bool {
	return c.Attributes&ConfigAttrSelfPowered != 0
}

// SupportsRemoteWakeup returns true if remote wakeup is supported.
func (c *Configuration) SupportsRemoteWakeup() bool {
	return c.Attributes&ConfigAttrRemoteWakeup != 0
}

// TotalLength returns the length of the complete configuration descriptor.
func (c *Configuration) TotalLength() int {
	return len(c.descriptor)
}

// MarshalTo copies the complete configuration descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (c *Configuration) MarshalTo(buf []byte) int {
	if len(buf) < len(c.descriptor) {
		return 0
	}
	return copy(buf, c.descriptor)
}

// render builds the configuration descriptor from classes.
func (c *Configuration) render(classes []ClassDriver) error {
	w := NewDescriptorWriter(MaxDescriptorResponseSize)
	w.Configuration(&ConfigurationDescriptor{})
	for _, class := range classes {
		if err := class.ConfigurationDescriptors(w); err != nil {
			return err
		}
	}
	if w.Len() > MaxDescriptorResponseSize {
		return fmt.Errorf("configuration descriptor is %d bytes: %w", w.Len(), pkg.ErrBufferOverflow)
	}

	c.NumInterfaces = w.NumInterfaces()
	header := ConfigurationDescriptor{
		TotalLength:        uint16(w.Len()),
		NumInterfaces:      c.NumInterfaces,
		ConfigurationValue: c.Value,
		Attributes:         c.Attributes,
		MaxPower:           c.MaxPower,
	}
	c.descriptor = w.Bytes()
	header.MarshalTo(c.descriptor)
	return nil
}
