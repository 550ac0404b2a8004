package cdc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/cdcecho/device"
	"github.com/ardnew/cdcecho/pkg"
)

// Endpoint sizes used by SerialPort.
const (
	PacketSize       = 64  // Bulk IN and OUT max packet size
	NotifyPacketSize = 8   // Interrupt IN max packet size
	NotifyInterval   = 255 // Interrupt IN polling interval in frames
)

// SerialPort is a CDC-ACM virtual serial port.
//
// It owns a communications interface with an interrupt notification
// endpoint and a data interface with a bulk endpoint pair. Read and Write
// never block: both return pkg.ErrWouldBlock when no progress is possible,
// and the caller is expected to keep calling Device.Poll between attempts.
type SerialPort struct {
	commIface uint8
	dataIface uint8

	notify *device.EndpointIn
	in     *device.EndpointIn
	out    *device.EndpointOut

	// Receive remainder of a packet larger than the caller's buffer.
	rx      [PacketSize]byte
	rxStart int
	rxEnd   int

	// Transmit ring, drained one packet at a time into the IN endpoint.
	tx       ring
	txPacket [PacketSize]byte
	needZLP  bool

	lineCoding   LineCoding
	controlState uint16
	response     [LineCodingSize]byte

	onLineCodingChange   func(LineCoding)
	onControlStateChange func(dtr, rts bool)
	onBreak              func(millis uint16)

	mutex sync.RWMutex
}

// New allocates the interfaces and endpoints of a serial port on bus.
// The bus must not be frozen yet.
func New(bus *device.BusAllocator) (*SerialPort, error) {
	s := &SerialPort{lineCoding: DefaultLineCoding}

	var err error
	if s.commIface, err = bus.Interface(); err != nil {
		return nil, fmt.Errorf("cdc: communications interface: %w", err)
	}
	if s.notify, err = bus.AllocIn(device.EndpointTypeInterrupt, NotifyPacketSize, NotifyInterval); err != nil {
		return nil, fmt.Errorf("cdc: notification endpoint: %w", err)
	}
	if s.dataIface, err = bus.Interface(); err != nil {
		return nil, fmt.Errorf("cdc: data interface: %w", err)
	}
	if s.out, err = bus.AllocOut(device.EndpointTypeBulk, PacketSize, 0); err != nil {
		return nil, fmt.Errorf("cdc: bulk OUT endpoint: %w", err)
	}
	if s.in, err = bus.AllocIn(device.EndpointTypeBulk, PacketSize, 0); err != nil {
		return nil, fmt.Errorf("cdc: bulk IN endpoint: %w", err)
	}

	pkg.LogDebug(pkg.ComponentClass, "serial port allocated",
		"comm", s.commIface,
		"data", s.dataIface,
		"notify", fmt.Sprintf("0x%02X", s.notify.Address()),
		"in", fmt.Sprintf("0x%02X", s.in.Address()),
		"out", fmt.Sprintf("0x%02X", s.out.Address()))
	return s, nil
}

// CommInterface returns the communications interface number.
func (s *SerialPort) CommInterface() uint8 { return s.commIface }

// DataInterface returns the data interface number.
func (s *SerialPort) DataInterface() uint8 { return s.dataIface }

// NotifyEndpoint returns the interrupt IN endpoint.
func (s *SerialPort) NotifyEndpoint() *device.EndpointIn { return s.notify }

// InEndpoint returns the bulk IN endpoint.
func (s *SerialPort) InEndpoint() *device.EndpointIn { return s.in }

// OutEndpoint returns the bulk OUT endpoint.
func (s *SerialPort) OutEndpoint() *device.EndpointOut { return s.out }

// SetOnLineCodingChange sets the callback for line coding changes.
func (s *SerialPort) SetOnLineCodingChange(cb func(LineCoding)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onLineCodingChange = cb
}

// SetOnControlStateChange sets the callback for control line state changes.
func (s *SerialPort) SetOnControlStateChange(cb func(dtr, rts bool)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onControlStateChange = cb
}

// SetOnBreak sets the callback for break signaling.
func (s *SerialPort) SetOnBreak(cb func(millis uint16)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onBreak = cb
}

// LineCoding returns the current line coding configuration.
func (s *SerialPort) LineCoding() LineCoding {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lineCoding
}

// DTR returns the current DTR (Data Terminal Ready) state.
func (s *SerialPort) DTR() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.controlState&ControlLineDTR != 0
}

// RTS returns the current RTS (Request To Send) state.
func (s *SerialPort) RTS() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.controlState&ControlLineRTS != 0
}

// ConfigurationDescriptors implements device.ClassDriver.
func (s *SerialPort) ConfigurationDescriptors(w *device.DescriptorWriter) error {
	w.Association(&device.InterfaceAssociationDescriptor{
		FirstInterface:   s.commIface,
		InterfaceCount:   2,
		FunctionClass:    device.ClassCDC,
		FunctionSubClass: SubclassACM,
		FunctionProtocol: ProtocolNone,
	})

	w.Interface(&device.InterfaceDescriptor{
		InterfaceNumber:   s.commIface,
		NumEndpoints:      1,
		InterfaceClass:    device.ClassCDC,
		InterfaceSubClass: SubclassACM,
		InterfaceProtocol: ProtocolNone,
	})
	if _, err := w.Write(functionalDescriptors(s.commIface, s.dataIface)); err != nil {
		return err
	}
	notify := s.notify.Descriptor()
	w.Endpoint(&notify)

	w.Interface(&device.InterfaceDescriptor{
		InterfaceNumber: s.dataIface,
		NumEndpoints:    2,
		InterfaceClass:  device.ClassCDCData,
	})
	out := s.out.Descriptor()
	w.Endpoint(&out)
	in := s.in.Descriptor()
	w.Endpoint(&in)
	return nil
}

// Reset implements device.ClassDriver. Buffered data is discarded and the
// line settings return to their defaults.
func (s *SerialPort) Reset() {
	s.rxStart, s.rxEnd = 0, 0
	s.tx.Clear()
	s.needZLP = false

	s.mutex.Lock()
	s.lineCoding = DefaultLineCoding
	s.controlState = 0
	s.mutex.Unlock()
}

// HandleSetup implements device.ClassDriver for class requests addressed
// to the communications interface.
func (s *SerialPort) HandleSetup(setup *device.SetupPacket, data []byte) ([]byte, bool, error) {
	if !setup.IsClass() || !setup.IsInterfaceRecipient() || setup.InterfaceNumber() != s.commIface {
		return nil, false, nil
	}

	switch setup.Request {
	case RequestSetLineCoding:
		return nil, true, s.setLineCoding(data)

	case RequestGetLineCoding:
		s.mutex.RLock()
		n := s.lineCoding.MarshalTo(s.response[:])
		s.mutex.RUnlock()
		return s.response[:n], true, nil

	case RequestSetControlLineState:
		s.setControlLineState(setup.Value)
		return nil, true, nil

	case RequestSendBreak:
		s.sendBreak(setup.Value)
		return nil, true, nil

	case RequestSendEncapsulatedCommand:
		pkg.LogDebug(pkg.ComponentClass, "encapsulated command ignored", "length", len(data))
		return nil, true, nil

	case RequestGetEncapsulatedResponse:
		return nil, true, nil
	}
	return nil, false, nil
}

func (s *SerialPort) setLineCoding(data []byte) error {
	var lc LineCoding
	if !ParseLineCoding(data, &lc) {
		return fmt.Errorf("line coding of %d bytes: %w", len(data), pkg.ErrBufferTooSmall)
	}

	s.mutex.Lock()
	s.lineCoding = lc
	cb := s.onLineCodingChange
	s.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentClass, "line coding set", "coding", lc.String())
	if cb != nil {
		cb(lc)
	}
	return nil
}

func (s *SerialPort) setControlLineState(value uint16) {
	s.mutex.Lock()
	s.controlState = value
	cb := s.onControlStateChange
	s.mutex.Unlock()

	dtr := value&ControlLineDTR != 0
	rts := value&ControlLineRTS != 0
	pkg.LogDebug(pkg.ComponentClass, "control line state set", "dtr", dtr, "rts", rts)
	if cb != nil {
		cb(dtr, rts)
	}
}

func (s *SerialPort) sendBreak(millis uint16) {
	s.mutex.RLock()
	cb := s.onBreak
	s.mutex.RUnlock()

	pkg.LogDebug(pkg.ComponentClass, "break signaled", "duration_ms", millis)
	if cb != nil {
		cb(millis)
	}
}

// EndpointOut implements device.ClassDriver. Received packets stay in the
// endpoint until Read collects them.
func (s *SerialPort) EndpointOut(uint8) {}

// EndpointInComplete implements device.ClassDriver.
func (s *SerialPort) EndpointInComplete(address uint8) {
	if address != s.in.Address() {
		return
	}
	if err := s.flush(); err != nil && !errors.Is(err, pkg.ErrWouldBlock) {
		pkg.LogDebug(pkg.ComponentClass, "transmit stalled", "error", err)
	}
}

// Read copies received bytes into buf. It returns pkg.ErrWouldBlock when
// nothing has arrived, and 0, nil when the host sent a zero-length packet.
func (s *SerialPort) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if s.rxStart < s.rxEnd {
		n := copy(buf, s.rx[s.rxStart:s.rxEnd])
		s.rxStart += n
		return n, nil
	}
	if len(buf) >= PacketSize {
		return s.out.Read(buf)
	}

	n, err := s.out.Read(s.rx[:])
	if err != nil {
		return 0, err
	}
	s.rxStart, s.rxEnd = 0, n
	m := copy(buf, s.rx[:n])
	s.rxStart = m
	return m, nil
}

// Write queues data for the host and returns how many bytes were
// accepted, which may be fewer than len(data). It returns
// pkg.ErrWouldBlock when the transmit buffer is full.
func (s *SerialPort) Write(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if err := s.flush(); err != nil && !errors.Is(err, pkg.ErrWouldBlock) {
		return 0, err
	}
	n := s.tx.Write(data)
	if n == 0 {
		return 0, pkg.ErrWouldBlock
	}
	if err := s.flush(); err != nil && !errors.Is(err, pkg.ErrWouldBlock) {
		pkg.LogDebug(pkg.ComponentClass, "transmit stalled", "error", err)
	}
	return n, nil
}

// Flush moves as much buffered data as possible into the IN endpoint.
// It returns pkg.ErrWouldBlock when data remains queued behind a packet
// the host has not collected yet.
func (s *SerialPort) Flush() error {
	return s.flush()
}

// Buffered returns the number of bytes queued for transmission.
func (s *SerialPort) Buffered() int {
	return s.tx.Len()
}

// flush stages packets from the transmit ring until the endpoint is busy.
// A transfer that ends on a full packet is terminated with a zero-length
// packet once the ring runs empty.
func (s *SerialPort) flush() error {
	for {
		if s.tx.Len() == 0 {
			if !s.needZLP {
				return nil
			}
			if _, err := s.in.Write(nil); err != nil {
				return err
			}
			s.needZLP = false
			return nil
		}
		n := s.tx.Peek(s.txPacket[:])
		if _, err := s.in.Write(s.txPacket[:n]); err != nil {
			return err
		}
		s.tx.Discard(n)
		s.needZLP = n == PacketSize
	}
}

var _ device.ClassDriver = (*SerialPort)(nil)
