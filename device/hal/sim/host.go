package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"time"
	"unicode/utf16"

	"github.com/ardnew/cdcecho/device/hal"
	"github.com/ardnew/cdcecho/pkg"
)

// defaultRetryInterval is how long the host waits before retrying a NAKed
// transaction when no pump function is installed.
const defaultRetryInterval = 200 * time.Microsecond

// Standard request codes used during enumeration.
const (
	requestGetDescriptor    = 0x06
	requestSetAddress       = 0x05
	requestSetConfiguration = 0x09

	descriptorDevice        = 0x01
	descriptorConfiguration = 0x02
	descriptorString        = 0x03

	langIDUSEnglish = 0x0409
)

// Host is the host side of a simulated bus.
//
// Single-transaction methods (Setup, Out, In) return immediately with
// ErrNAK when the device is not ready. Transfer methods retry NAKed
// transactions until they succeed or the context ends, calling the pump
// function between attempts when one is installed.
type Host struct {
	c             *Controller
	pump          func()
	retryInterval time.Duration
}

// SetPump installs fn to run between retried transactions. Tests use it to
// poll the device from the same goroutine; nil restores wall-clock retry.
func (h *Host) SetPump(fn func()) {
	h.pump = fn
}

// SetRetryInterval sets the wall-clock retry delay used without a pump.
func (h *Host) SetRetryInterval(d time.Duration) {
	if d > 0 {
		h.retryInterval = d
	}
}

// Attach connects the device to the bus and signals a bus reset.
func (h *Host) Attach() {
	h.c.mutex.Lock()
	h.c.attached = true
	h.c.mutex.Unlock()
	h.Reset()
}

// Speed returns the negotiated bus speed: full speed while an enabled
// device is attached, unknown otherwise.
func (h *Host) Speed() hal.Speed {
	h.c.mutex.Lock()
	defer h.c.mutex.Unlock()
	if h.c.present() != nil {
		return hal.SpeedUnknown
	}
	return hal.SpeedFull
}

// Detach disconnects the device from the bus.
func (h *Host) Detach() {
	h.c.mutex.Lock()
	h.c.attached = false
	h.c.mutex.Unlock()
}

// Reset drives a bus reset. Staged packets are discarded immediately; the
// device observes the reset on its next poll.
func (h *Host) Reset() {
	c := h.c
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for idx := range c.out {
		c.out[idx].full = false
		c.out[idx].setup = false
		c.in[idx].full = false
	}
	c.inComplete = 0
	c.pendingReset = true
	c.resetHandled = false
}

// Suspend signals bus idle.
func (h *Host) Suspend() {
	h.c.mutex.Lock()
	h.c.pendingSuspend = true
	h.c.mutex.Unlock()
}

// Resume signals resume after suspend.
func (h *Host) Resume() {
	h.c.mutex.Lock()
	if h.c.suspended || h.c.pendingSuspend {
		h.c.pendingSuspend = false
		h.c.pendingResume = true
	}
	h.c.mutex.Unlock()
}

// ResetHandled reports whether the device has processed the last bus reset.
func (h *Host) ResetHandled() bool {
	h.c.mutex.Lock()
	defer h.c.mutex.Unlock()
	return h.c.resetHandled
}

// Setup sends a SETUP packet to EP0. A SETUP always overrides any staged
// control data and clears an EP0 halt. An IN completion already reported
// to the device side stays pending.
func (h *Host) Setup(setup *hal.SetupPacket) error {
	c := h.c
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.present(); err != nil {
		return err
	}
	ep := &c.out[0]
	if !ep.allocated {
		return pkg.ErrInvalidEndpoint
	}

	var raw [hal.SetupPacketSize]byte
	setup.MarshalTo(raw[:])

	ep.stage(raw[:])
	ep.setup = true
	ep.stalled = false
	c.in[0].stalled = false
	c.in[0].full = false
	return nil
}

// Out sends one data packet to an OUT endpoint.
func (h *Host) Out(number uint8, data []byte) error {
	c := h.c
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.present(); err != nil {
		return err
	}
	ep := &c.out[number&0x0F]
	switch {
	case !ep.allocated:
		return pkg.ErrInvalidEndpoint
	case ep.stalled:
		return pkg.ErrStall
	case ep.full:
		return pkg.ErrNAK
	case len(data) > int(ep.cfg.MaxPacketSize):
		return pkg.ErrBufferOverflow
	}
	ep.stage(data)
	return nil
}

// In collects one data packet from an IN endpoint into buf.
func (h *Host) In(number uint8, buf []byte) (int, error) {
	c := h.c
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.present(); err != nil {
		return 0, err
	}
	num := number & 0x0F
	ep := &c.in[num]
	switch {
	case !ep.allocated:
		return 0, pkg.ErrInvalidEndpoint
	case ep.stalled:
		return 0, pkg.ErrStall
	case !ep.full:
		return 0, pkg.ErrNAK
	case ep.length > len(buf):
		return 0, pkg.ErrBufferTooSmall
	}
	n := ep.drain(buf)
	c.inComplete |= 1 << num
	return n, nil
}

// MaxPacketSize returns the max packet size of an allocated endpoint, or 0.
func (h *Host) MaxPacketSize(address uint8) int {
	h.c.mutex.Lock()
	defer h.c.mutex.Unlock()
	ep := h.c.lookup(address)
	if ep == nil {
		return 0
	}
	return int(ep.cfg.MaxPacketSize)
}

// Address returns the device address currently programmed in the controller.
func (h *Host) Address() uint8 {
	return h.c.Address()
}

// ControlIn performs a control transfer with an IN data stage and returns
// the number of bytes received into buf.
func (h *Host) ControlIn(ctx context.Context, setup *hal.SetupPacket, buf []byte) (int, error) {
	if err := h.Setup(setup); err != nil {
		return 0, err
	}

	mps := h.MaxPacketSize(hal.DirectionIn)
	if mps == 0 {
		return 0, pkg.ErrInvalidEndpoint
	}
	packet := make([]byte, mps)

	total := 0
	for total < int(setup.Length) {
		var n int
		err := h.retry(ctx, func() (err error) {
			n, err = h.In(0, packet)
			return err
		})
		if err != nil {
			return total, err
		}
		total += copy(buf[min(total, len(buf)):], packet[:n])
		if n < mps {
			break
		}
	}

	// Status stage: zero-length OUT.
	err := h.retry(ctx, func() error {
		return h.Out(0, nil)
	})
	return total, err
}

// ControlOut performs a control transfer with an optional OUT data stage.
func (h *Host) ControlOut(ctx context.Context, setup *hal.SetupPacket, data []byte) error {
	if err := h.Setup(setup); err != nil {
		return err
	}

	mps := h.MaxPacketSize(0)
	if mps == 0 {
		return pkg.ErrInvalidEndpoint
	}

	for off := 0; off < len(data); {
		chunk := data[off:min(off+mps, len(data))]
		if err := h.retry(ctx, func() error {
			return h.Out(0, chunk)
		}); err != nil {
			return err
		}
		off += len(chunk)
	}

	// Status stage: zero-length IN.
	var status [1]byte
	var n int
	err := h.retry(ctx, func() (err error) {
		n, err = h.In(0, status[:])
		return err
	})
	if err != nil {
		return err
	}
	if n != 0 {
		return pkg.ErrProtocol
	}
	return nil
}

// BulkOut sends data to an OUT endpoint, split into max-size packets.
func (h *Host) BulkOut(ctx context.Context, number uint8, data []byte) error {
	mps := h.MaxPacketSize(number & 0x0F)
	if mps == 0 {
		return pkg.ErrInvalidEndpoint
	}
	for off := 0; off < len(data); {
		chunk := data[off:min(off+mps, len(data))]
		if err := h.retry(ctx, func() error {
			return h.Out(number, chunk)
		}); err != nil {
			return err
		}
		off += len(chunk)
	}
	return nil
}

// BulkIn receives one packet from an IN endpoint into buf.
// buf must hold at least one max-size packet.
func (h *Host) BulkIn(ctx context.Context, number uint8, buf []byte) (int, error) {
	var n int
	err := h.retry(ctx, func() (err error) {
		n, err = h.In(number, buf)
		return err
	})
	return n, err
}

// Enumeration holds what the host learned while enumerating the device.
type Enumeration struct {
	Address       uint8
	Speed         hal.Speed
	Device        []byte // Raw device descriptor
	Configuration []byte // Raw configuration descriptor with all sub-descriptors
	VendorID      uint16
	ProductID     uint16
	DeviceClass   uint8
	Manufacturer  string
	Product       string
	SerialNumber  string
}

// Enumerate resets the device and walks it to the Configured state the way
// a host operating system does: device descriptor, address, configuration
// descriptor, strings, SET_CONFIGURATION.
func (h *Host) Enumerate(ctx context.Context, address uint8) (*Enumeration, error) {
	h.Reset()
	if err := h.until(ctx, h.ResetHandled); err != nil {
		return nil, err
	}

	var setup hal.SetupPacket
	dev := make([]byte, 18)

	getDescriptor(&setup, descriptorDevice, 0, 0, 64)
	n, err := h.ControlIn(ctx, &setup, dev)
	if err != nil {
		return nil, err
	}
	if n < 8 {
		return nil, pkg.ErrDescriptorTooShort
	}

	setup = hal.SetupPacket{Request: requestSetAddress, Value: uint16(address)}
	if err := h.ControlOut(ctx, &setup, nil); err != nil {
		return nil, err
	}

	getDescriptor(&setup, descriptorDevice, 0, 0, 18)
	if n, err = h.ControlIn(ctx, &setup, dev); err != nil {
		return nil, err
	}
	if n < 18 {
		return nil, pkg.ErrDescriptorTooShort
	}

	head := make([]byte, 9)
	getDescriptor(&setup, descriptorConfiguration, 0, 0, 9)
	if n, err = h.ControlIn(ctx, &setup, head); err != nil {
		return nil, err
	}
	if n < 9 {
		return nil, pkg.ErrDescriptorTooShort
	}
	total := binary.LittleEndian.Uint16(head[2:4])
	config := make([]byte, total)
	getDescriptor(&setup, descriptorConfiguration, 0, 0, total)
	if n, err = h.ControlIn(ctx, &setup, config); err != nil {
		return nil, err
	}
	config = config[:n]

	e := &Enumeration{
		Address:       address,
		Speed:         h.Speed(),
		Device:        dev,
		Configuration: config,
		VendorID:      binary.LittleEndian.Uint16(dev[8:10]),
		ProductID:     binary.LittleEndian.Uint16(dev[10:12]),
		DeviceClass:   dev[4],
	}

	if dev[14] != 0 || dev[15] != 0 || dev[16] != 0 {
		if e.Manufacturer, err = h.String(ctx, dev[14]); err != nil {
			return nil, err
		}
		if e.Product, err = h.String(ctx, dev[15]); err != nil {
			return nil, err
		}
		if e.SerialNumber, err = h.String(ctx, dev[16]); err != nil {
			return nil, err
		}
	}

	setup = hal.SetupPacket{Request: requestSetConfiguration, Value: uint16(config[5])}
	if err := h.ControlOut(ctx, &setup, nil); err != nil {
		return nil, err
	}

	pkg.LogDebug(pkg.ComponentHost, "sim enumeration complete",
		"address", address,
		"vid", e.VendorID,
		"pid", e.ProductID)

	return e, nil
}

// String reads and decodes string descriptor index. Index 0 yields "".
func (h *Host) String(ctx context.Context, index uint8) (string, error) {
	if index == 0 {
		return "", nil
	}

	var setup hal.SetupPacket
	buf := make([]byte, 255)
	getDescriptor(&setup, descriptorString, index, langIDUSEnglish, 255)
	n, err := h.ControlIn(ctx, &setup, buf)
	if err != nil {
		return "", err
	}
	if n < 2 || int(buf[0]) > n || buf[1] != descriptorString {
		return "", pkg.ErrDescriptorTypeMismatch
	}

	units := make([]uint16, 0, (int(buf[0])-2)/2)
	for i := 2; i+1 < int(buf[0]); i += 2 {
		units = append(units, binary.LittleEndian.Uint16(buf[i:]))
	}
	return string(utf16.Decode(units)), nil
}

// retry runs fn until it returns something other than ErrNAK.
func (h *Host) retry(ctx context.Context, fn func() error) error {
	for {
		err := fn()
		if !errors.Is(err, pkg.ErrNAK) {
			return err
		}
		if err := h.wait(ctx); err != nil {
			return err
		}
	}
}

// until waits for cond to hold.
func (h *Host) until(ctx context.Context, cond func() bool) error {
	for !cond() {
		if err := h.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// wait yields to the device once: by pumping it, or by sleeping.
func (h *Host) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.pump != nil {
		h.pump()
		return nil
	}
	timer := time.NewTimer(h.retryInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// present checks that the device is enabled and attached.
// Caller must hold the mutex.
func (c *Controller) present() error {
	if !c.enabled || !c.attached {
		return pkg.ErrNoDevice
	}
	return nil
}

// getDescriptor initializes out as a GET_DESCRIPTOR request.
func getDescriptor(out *hal.SetupPacket, descType, index uint8, langID, length uint16) {
	out.RequestType = hal.DirectionIn
	out.Request = requestGetDescriptor
	out.Value = uint16(descType)<<8 | uint16(index)
	out.Index = langID
	out.Length = length
}
