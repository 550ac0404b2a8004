package cdc

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/cdcecho/device"
)

// CDC Functional Descriptor subtypes.
const (
	SubtypeHeader         = 0x00 // Header Functional Descriptor
	SubtypeCallManagement = 0x01 // Call Management Functional Descriptor
	SubtypeACM            = 0x02 // Abstract Control Model Functional Descriptor
	SubtypeUnion          = 0x06 // Union Functional Descriptor
)

// CDC Subclass codes.
const (
	SubclassNone = 0x00 // No subclass
	SubclassACM  = 0x02 // Abstract Control Model
)

// CDC Protocol codes.
const (
	ProtocolNone = 0x00 // No protocol
	ProtocolAT   = 0x01 // AT Commands: V.250
)

// CDCVersion is the bcdCDC release advertised in the header descriptor.
const CDCVersion = 0x0110

// CDC Request codes.
const (
	RequestSendEncapsulatedCommand = 0x00
	RequestGetEncapsulatedResponse = 0x01
	RequestSetLineCoding           = 0x20
	RequestGetLineCoding           = 0x21
	RequestSetControlLineState     = 0x22
	RequestSendBreak               = 0x23
)

// LineCoding represents the serial line configuration.
type LineCoding struct {
	DTERate    uint32 // Data terminal rate (baud rate)
	CharFormat uint8  // Stop bits: 0=1, 1=1.5, 2=2
	ParityType uint8  // Parity: 0=None, 1=Odd, 2=Even, 3=Mark, 4=Space
	DataBits   uint8  // Data bits: 5, 6, 7, 8, or 16
}

// LineCodingSize is the size of LineCoding in bytes.
const LineCodingSize = 7

// Stop bit values.
const (
	StopBits1   = 0 // 1 stop bit
	StopBits1_5 = 1 // 1.5 stop bits
	StopBits2   = 2 // 2 stop bits
)

// Parity values.
const (
	ParityNone  = 0
	ParityOdd   = 1
	ParityEven  = 2
	ParityMark  = 3
	ParitySpace = 4
)

// Control line state bits (for SET_CONTROL_LINE_STATE).
const (
	ControlLineDTR = 1 << 0 // Data Terminal Ready
	ControlLineRTS = 1 << 1 // Request To Send
)

// DefaultLineCoding is reported until the host sets its own (9600 8N1).
var DefaultLineCoding = LineCoding{
	DTERate:    9600,
	CharFormat: StopBits1,
	ParityType: ParityNone,
	DataBits:   8,
}

// MarshalTo writes the LineCoding to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (lc *LineCoding) MarshalTo(buf []byte) int {
	if len(buf) < LineCodingSize {
		return 0
	}
	binary.LittleEndian.PutUint32(buf[0:4], lc.DTERate)
	buf[4] = lc.CharFormat
	buf[5] = lc.ParityType
	buf[6] = lc.DataBits
	return LineCodingSize
}

// ParseLineCoding parses LineCoding from data.
// Returns false if data is too short.
func ParseLineCoding(data []byte, out *LineCoding) bool {
	if len(data) < LineCodingSize {
		return false
	}
	out.DTERate = binary.LittleEndian.Uint32(data[0:4])
	out.CharFormat = data[4]
	out.ParityType = data[5]
	out.DataBits = data[6]
	return true
}

// String formats the line coding the way terminal programs show it,
// e.g. "115200 8N1".
func (lc LineCoding) String() string {
	parity := "?"
	if int(lc.ParityType) < len("NOEMS") {
		parity = "NOEMS"[lc.ParityType : lc.ParityType+1]
	}
	stop := "?"
	switch lc.CharFormat {
	case StopBits1:
		stop = "1"
	case StopBits1_5:
		stop = "1.5"
	case StopBits2:
		stop = "2"
	}
	return fmt.Sprintf("%d %d%s%s", lc.DTERate, lc.DataBits, parity, stop)
}

// Functional descriptor lengths, bLength included.
const (
	HeaderDescriptorSize         = 5
	CallManagementDescriptorSize = 5
	ACMDescriptorSize            = 4
	UnionDescriptorSize          = 5 // one subordinate interface

	functionalSize = HeaderDescriptorSize + CallManagementDescriptorSize +
		ACMDescriptorSize + UnionDescriptorSize
)

// bmCapabilities of the ACM functional descriptor.
const (
	ACMCapCommFeature = 1 << 0
	ACMCapLineCoding  = 1 << 1 // SET/GET_LINE_CODING and SET_CONTROL_LINE_STATE
	ACMCapSendBreak   = 1 << 2
	ACMCapNetworkConn = 1 << 3
)

// appendFunctional appends one CS_INTERFACE descriptor.
func appendFunctional(dst []byte, subtype uint8, body ...byte) []byte {
	dst = append(dst, byte(3+len(body)), device.DescriptorTypeCSInterface, subtype)
	return append(dst, body...)
}

// functionalDescriptors returns the header, call management, ACM and union
// descriptors that follow the communications interface. Call management is
// left to the host (bmCapabilities 0).
func functionalDescriptors(comm, data uint8) []byte {
	b := make([]byte, 0, functionalSize)
	b = appendFunctional(b, SubtypeHeader, byte(CDCVersion&0xFF), byte(CDCVersion>>8))
	b = appendFunctional(b, SubtypeCallManagement, 0, data)
	b = appendFunctional(b, SubtypeACM, ACMCapLineCoding)
	return appendFunctional(b, SubtypeUnion, comm, data)
}
