package device

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/ardnew/cdcecho/pkg"
)

// USB Descriptor Types (USB 2.0 Spec Table 9-5).
const (
	DescriptorTypeDevice               = 0x01
	DescriptorTypeConfiguration        = 0x02
	DescriptorTypeString               = 0x03
	DescriptorTypeInterface            = 0x04
	DescriptorTypeEndpoint             = 0x05
	DescriptorTypeDeviceQualifier      = 0x06
	DescriptorTypeOtherSpeedConfig     = 0x07
	DescriptorTypeInterfaceAssociation = 0x0B
	DescriptorTypeCSInterface          = 0x24 // Class-specific interface
	DescriptorTypeCSEndpoint           = 0x25 // Class-specific endpoint
)

// USB Class Codes used at device level.
const (
	ClassPerInterface = 0x00 // Class defined at interface level
	ClassCDC          = 0x02 // Communications Device Class
	ClassCDCData      = 0x0A // CDC-Data
	ClassMisc         = 0xEF // Miscellaneous (IAD composite)
	ClassVendor       = 0xFF // Vendor Specific
)

// Descriptor lengths in bytes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	EndpointDescriptorSize      = 7
	IADSize                     = 8
)

// Configuration attribute bits. Bit 7 is reserved and must be set.
const (
	ConfigAttrBusPowered   = 0x80
	ConfigAttrSelfPowered  = 0x40
	ConfigAttrRemoteWakeup = 0x20
)

// The descriptor types below omit bLength and bDescriptorType: MarshalTo
// writes them from the size constants above, and the parsers check them.

// DeviceDescriptor is the 18-byte device descriptor.
type DeviceDescriptor struct {
	USBVersion        uint16 // bcdUSB
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16 // bcdDevice
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// putHeader writes bLength and bDescriptorType, or reports that buf is
// shorter than size.
func putHeader(buf []byte, size int, descType uint8) bool {
	if len(buf) < size {
		return false
	}
	buf[0], buf[1] = uint8(size), descType
	return true
}

// checkHeader validates the fixed part of a received descriptor.
func checkHeader(data []byte, size int, descType uint8) error {
	switch {
	case len(data) < size:
		return pkg.ErrDescriptorTooShort
	case data[1] != descType:
		return pkg.ErrDescriptorTypeMismatch
	}
	return nil
}

// MarshalTo writes the descriptor to buf and returns its length, or 0 if
// buf is too short.
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if !putHeader(buf, DeviceDescriptorSize, DescriptorTypeDevice) {
		return 0
	}
	le := binary.LittleEndian
	le.PutUint16(buf[2:], d.USBVersion)
	copy(buf[4:8], []byte{d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol, d.MaxPacketSize0})
	le.PutUint16(buf[8:], d.VendorID)
	le.PutUint16(buf[10:], d.ProductID)
	le.PutUint16(buf[12:], d.DeviceVersion)
	copy(buf[14:18], []byte{d.ManufacturerIndex, d.ProductIndex, d.SerialNumberIndex, d.NumConfigurations})
	return DeviceDescriptorSize
}

// ParseDeviceDescriptor decodes a device descriptor into out.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if err := checkHeader(data, DeviceDescriptorSize, DescriptorTypeDevice); err != nil {
		return err
	}
	le := binary.LittleEndian
	*out = DeviceDescriptor{
		USBVersion:        le.Uint16(data[2:]),
		DeviceClass:       data[4],
		DeviceSubClass:    data[5],
		DeviceProtocol:    data[6],
		MaxPacketSize0:    data[7],
		VendorID:          le.Uint16(data[8:]),
		ProductID:         le.Uint16(data[10:]),
		DeviceVersion:     le.Uint16(data[12:]),
		ManufacturerIndex: data[14],
		ProductIndex:      data[15],
		SerialNumberIndex: data[16],
		NumConfigurations: data[17],
	}
	return nil
}

// ConfigurationDescriptor is the 9-byte header of a configuration.
type ConfigurationDescriptor struct {
	TotalLength        uint16 // wTotalLength, header included
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8 // 2 mA units
}

func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	if !putHeader(buf, ConfigurationDescriptorSize, DescriptorTypeConfiguration) {
		return 0
	}
	binary.LittleEndian.PutUint16(buf[2:], c.TotalLength)
	copy(buf[4:9], []byte{c.NumInterfaces, c.ConfigurationValue, c.ConfigurationIndex, c.Attributes, c.MaxPower})
	return ConfigurationDescriptorSize
}

func ParseConfigurationDescriptor(data []byte, out *ConfigurationDescriptor) error {
	if err := checkHeader(data, ConfigurationDescriptorSize, DescriptorTypeConfiguration); err != nil {
		return err
	}
	*out = ConfigurationDescriptor{
		TotalLength:        binary.LittleEndian.Uint16(data[2:]),
		NumInterfaces:      data[4],
		ConfigurationValue: data[5],
		ConfigurationIndex: data[6],
		Attributes:         data[7],
		MaxPower:           data[8],
	}
	return nil
}

// InterfaceDescriptor describes one alternate setting of an interface.
type InterfaceDescriptor struct {
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8 // EP0 excluded
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	if !putHeader(buf, InterfaceDescriptorSize, DescriptorTypeInterface) {
		return 0
	}
	copy(buf[2:9], []byte{
		i.InterfaceNumber, i.AlternateSetting, i.NumEndpoints,
		i.InterfaceClass, i.InterfaceSubClass, i.InterfaceProtocol,
		i.InterfaceIndex,
	})
	return InterfaceDescriptorSize
}

func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) error {
	if err := checkHeader(data, InterfaceDescriptorSize, DescriptorTypeInterface); err != nil {
		return err
	}
	*out = InterfaceDescriptor{data[2], data[3], data[4], data[5], data[6], data[7], data[8]}
	return nil
}

// EndpointDescriptor describes a non-control endpoint.
type EndpointDescriptor struct {
	EndpointAddress uint8 // bit 7 set for IN
	Attributes      uint8 // transfer type in bits 1:0
	MaxPacketSize   uint16
	Interval        uint8 // interrupt and isochronous only
}

func (e *EndpointDescriptor) MarshalTo(buf []byte) int {
	if !putHeader(buf, EndpointDescriptorSize, DescriptorTypeEndpoint) {
		return 0
	}
	buf[2], buf[3] = e.EndpointAddress, e.Attributes
	binary.LittleEndian.PutUint16(buf[4:], e.MaxPacketSize)
	buf[6] = e.Interval
	return EndpointDescriptorSize
}

func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) error {
	if err := checkHeader(data, EndpointDescriptorSize, DescriptorTypeEndpoint); err != nil {
		return err
	}
	*out = EndpointDescriptor{
		EndpointAddress: data[2],
		Attributes:      data[3],
		MaxPacketSize:   binary.LittleEndian.Uint16(data[4:]),
		Interval:        data[6],
	}
	return nil
}

// InterfaceAssociationDescriptor groups contiguous interfaces into one
// function, here the CDC communications and data pair.
type InterfaceAssociationDescriptor struct {
	FirstInterface   uint8
	InterfaceCount   uint8
	FunctionClass    uint8
	FunctionSubClass uint8
	FunctionProtocol uint8
	FunctionIndex    uint8
}

func (i *InterfaceAssociationDescriptor) MarshalTo(buf []byte) int {
	if !putHeader(buf, IADSize, DescriptorTypeInterfaceAssociation) {
		return 0
	}
	copy(buf[2:8], []byte{
		i.FirstInterface, i.InterfaceCount,
		i.FunctionClass, i.FunctionSubClass, i.FunctionProtocol,
		i.FunctionIndex,
	})
	return IADSize
}

// MaxStringLength is the largest string descriptor in bytes.
const MaxStringLength = 255

// StringDescriptorTo writes s as a UTF-16LE string descriptor to buf.
// Strings longer than a descriptor can hold are truncated on a code unit
// boundary that does not split a surrogate pair.
// Returns the number of bytes written, or 0 if buf is too small.
func StringDescriptorTo(buf []byte, s string) int {
	units := utf16.Encode([]rune(s))
	if limit := (MaxStringLength - 2) / 2; len(units) > limit {
		units = units[:limit]
		if u := units[limit-1]; u >= 0xD800 && u < 0xDC00 {
			units = units[:limit-1]
		}
	}
	length := 2 + len(units)*2
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2+i*2:], u)
	}
	return length
}

// ParseStringDescriptor decodes a UTF-16LE string descriptor.
func ParseStringDescriptor(data []byte) (string, error) {
	if len(data) < 2 || int(data[0]) > len(data) || data[0] < 2 {
		return "", pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeString {
		return "", pkg.ErrDescriptorTypeMismatch
	}
	n := (int(data[0]) - 2) / 2
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(data[2+i*2:])
	}
	return string(utf16.Decode(units)), nil
}

// LanguageDescriptorTo writes the language ID string descriptor to buf.
// Standard language ID for US English is 0x0409.
// Returns the number of bytes written. If buf is too small, returns 0.
func LanguageDescriptorTo(buf []byte, langIDs ...uint16) int {
	length := 2 + len(langIDs)*2
	if len(buf) < length {
		return 0
	}
	buf[0] = uint8(length)
	buf[1] = DescriptorTypeString
	for i, id := range langIDs {
		binary.LittleEndian.PutUint16(buf[2+i*2:], id)
	}
	return length
}

// LangIDUSEnglish is the language ID for US English.
const LangIDUSEnglish = 0x0409

// DescriptorWriter accumulates a configuration descriptor. The device
// builder reserves the 9-byte header, each class appends its interface,
// class-specific and endpoint descriptors, and the builder patches the
// header with the total length and interface count.
type DescriptorWriter struct {
	buf        []byte
	interfaces uint8
}

// NewDescriptorWriter returns a writer with room for size bytes.
func NewDescriptorWriter(size int) *DescriptorWriter {
	return &DescriptorWriter{buf: make([]byte, 0, size)}
}

// Write appends raw descriptor bytes. It never fails.
func (w *DescriptorWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// descriptor is any fixed-size descriptor with a MarshalTo method.
type descriptor interface {
	MarshalTo(buf []byte) int
}

func (w *DescriptorWriter) put(d descriptor, size int) {
	off := len(w.buf)
	w.buf = append(w.buf, make([]byte, size)...)
	d.MarshalTo(w.buf[off:])
}

// Interface appends an interface descriptor. Alternate setting 0 counts
// toward the configuration's interface total.
func (w *DescriptorWriter) Interface(d *InterfaceDescriptor) {
	w.put(d, InterfaceDescriptorSize)
	if d.AlternateSetting == 0 {
		w.interfaces++
	}
}

// Endpoint appends an endpoint descriptor.
func (w *DescriptorWriter) Endpoint(d *EndpointDescriptor) {
	w.put(d, EndpointDescriptorSize)
}

// Association appends an interface association descriptor.
func (w *DescriptorWriter) Association(d *InterfaceAssociationDescriptor) {
	w.put(d, IADSize)
}

// Configuration appends a configuration descriptor header.
func (w *DescriptorWriter) Configuration(d *ConfigurationDescriptor) {
	w.put(d, ConfigurationDescriptorSize)
}

// NumInterfaces returns the number of interfaces written so far.
func (w *DescriptorWriter) NumInterfaces() uint8 {
	return w.interfaces
}

// Len returns the number of bytes written.
func (w *DescriptorWriter) Len() int {
	return len(w.buf)
}

// Bytes returns the accumulated descriptor bytes.
func (w *DescriptorWriter) Bytes() []byte {
	return w.buf
}
