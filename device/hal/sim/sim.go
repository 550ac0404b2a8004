package sim

import (
	"sync"

	"github.com/ardnew/cdcecho/device/hal"
	"github.com/ardnew/cdcecho/pkg"
)

// endpoint is the controller-side state of one endpoint direction.
type endpoint struct {
	allocated bool
	cfg       hal.EndpointConfig
	buf       hal.PacketBuffer

	full    bool // a packet is staged in buf
	length  int  // staged packet length
	setup   bool // staged OUT packet is a SETUP packet (EP0 only)
	stalled bool
}

// stage copies data into the endpoint's packet memory.
func (e *endpoint) stage(data []byte) {
	e.length = e.buf.Store(data)
	e.full = true
}

// drain copies the staged packet into dst and releases it.
func (e *endpoint) drain(dst []byte) int {
	n := e.buf.Load(dst, e.length)
	e.full = false
	e.setup = false
	e.length = 0
	return n
}

// Controller is a simulated full-speed USB device controller.
//
// The device side implements [hal.Controller]. The host side is reached
// through [Controller.Host]. Both sides share one mutex, so a host
// goroutine may run beside the single-threaded device loop.
type Controller struct {
	mutex sync.Mutex

	in  [hal.MaxEndpoints]endpoint
	out [hal.MaxEndpoints]endpoint

	enabled   bool
	attached  bool
	suspended bool
	address   uint8

	// Pending bus events, reported once by Poll.
	pendingReset   bool
	pendingSuspend bool
	pendingResume  bool
	resetHandled   bool

	inComplete uint16

	host *Host
}

// New creates a simulated controller in the detached state.
func New() *Controller {
	c := &Controller{}
	c.host = &Host{c: c, retryInterval: defaultRetryInterval}
	return c
}

// Host returns the host side of the simulated bus.
func (c *Controller) Host() *Host {
	return c.host
}

// AllocEndpoint provisions an endpoint backed by buf.
func (c *Controller) AllocEndpoint(cfg hal.EndpointConfig, buf hal.PacketBuffer) (uint8, error) {
	if buf == nil || buf.Len() < int(cfg.MaxPacketSize) {
		return 0, pkg.ErrBufferTooSmall
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.enabled {
		return 0, pkg.ErrInvalidState
	}

	table := &c.out
	if cfg.IsIn() {
		table = &c.in
	}

	num := cfg.Number()
	if num == 0 && cfg.TransferType() != hal.TransferControl {
		for idx := 1; idx < hal.MaxEndpoints; idx++ {
			if !table[idx].allocated {
				num = uint8(idx)
				break
			}
		}
		if num == 0 {
			return 0, pkg.ErrEndpointUnavailable
		}
	} else if table[num].allocated {
		return 0, pkg.ErrEndpointUnavailable
	}

	cfg.Address = (cfg.Address & hal.DirectionIn) | num
	table[num] = endpoint{allocated: true, cfg: cfg, buf: buf}

	pkg.LogDebug(pkg.ComponentHAL, "sim endpoint allocated",
		"address", cfg.Address,
		"type", cfg.TransferType(),
		"maxPacket", cfg.MaxPacketSize)

	return cfg.Address, nil
}

// Enable makes the controller visible to the host.
func (c *Controller) Enable() {
	c.mutex.Lock()
	c.enabled = true
	c.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "sim controller enabled")
}

// Reset completes a bus reset on the device side.
func (c *Controller) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for idx := range c.in {
		c.in[idx].stalled = false
		c.out[idx].stalled = false
		c.in[idx].full = false
	}
	c.inComplete = 0
	c.address = 0
	c.suspended = false
	c.resetHandled = true
}

// SetDeviceAddress records the address assigned by the host.
func (c *Controller) SetDeviceAddress(address uint8) {
	c.mutex.Lock()
	c.address = address
	c.mutex.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "sim address set", "address", address)
}

// Read copies a staged OUT packet into buf.
func (c *Controller) Read(address uint8, buf []byte) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	ep := &c.out[address&0x0F]
	if !ep.allocated {
		return 0, pkg.ErrInvalidEndpoint
	}
	if !ep.full {
		return 0, pkg.ErrWouldBlock
	}
	if ep.length > len(buf) {
		return 0, pkg.ErrBufferTooSmall
	}
	return ep.drain(buf), nil
}

// Write stages an IN packet for the host.
func (c *Controller) Write(address uint8, data []byte) (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	ep := &c.in[address&0x0F]
	if !ep.allocated {
		return 0, pkg.ErrInvalidEndpoint
	}
	if ep.stalled {
		return 0, pkg.ErrStall
	}
	if ep.full {
		return 0, pkg.ErrWouldBlock
	}
	if len(data) > int(ep.cfg.MaxPacketSize) {
		return 0, pkg.ErrBufferOverflow
	}
	ep.stage(data)
	return len(data), nil
}

// SetStalled sets or clears the halt condition of an endpoint.
func (c *Controller) SetStalled(address uint8, stalled bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	ep := c.lookup(address)
	if ep == nil {
		return
	}
	ep.stalled = stalled
	if stalled && address&hal.DirectionIn != 0 {
		ep.full = false
	}
}

// IsStalled reports the halt condition of an endpoint.
func (c *Controller) IsStalled(address uint8) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	ep := c.lookup(address)
	return ep != nil && ep.stalled
}

// Suspend is a no-op; the simulation has no power domain.
func (c *Controller) Suspend() {}

// Resume is a no-op; the simulation has no power domain.
func (c *Controller) Resume() {}

// Poll reports pending bus events and endpoint activity.
func (c *Controller) Poll() hal.PollResult {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.enabled || !c.attached {
		return hal.PollResult{}
	}

	switch {
	case c.pendingReset:
		c.pendingReset = false
		c.pendingSuspend = false
		c.pendingResume = false
		return hal.PollResult{Event: hal.EventReset}
	case c.pendingResume:
		c.pendingResume = false
		c.suspended = false
		return hal.PollResult{Event: hal.EventResume}
	case c.suspended:
		return hal.PollResult{}
	case c.pendingSuspend:
		c.pendingSuspend = false
		c.suspended = true
		return hal.PollResult{Event: hal.EventSuspend}
	}

	var result hal.PollResult
	for idx := range c.out {
		ep := &c.out[idx]
		if !ep.full {
			continue
		}
		if ep.setup {
			result.SetupMask |= 1 << idx
		} else {
			result.OutMask |= 1 << idx
		}
	}
	result.InCompleteMask = c.inComplete
	c.inComplete = 0

	if result.OutMask|result.InCompleteMask|result.SetupMask != 0 {
		result.Event = hal.EventData
	}
	return result
}

// Address returns the device address programmed by the device stack.
func (c *Controller) Address() uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.address
}

// lookup returns the endpoint for address, or nil if it is not allocated.
// Caller must hold the mutex.
func (c *Controller) lookup(address uint8) *endpoint {
	ep := &c.out[address&0x0F]
	if address&hal.DirectionIn != 0 {
		ep = &c.in[address&0x0F]
	}
	if !ep.allocated {
		return nil
	}
	return ep
}

// Compile-time interface check
var _ hal.Controller = (*Controller)(nil)
