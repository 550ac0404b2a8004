package device

import (
	"errors"
	"log/slog"

	"github.com/ardnew/cdcecho/pkg"
)

// controlStage is the position of EP0 within a control transfer.
type controlStage uint8

const (
	stageIdle      controlStage = iota // Waiting for SETUP
	stageDataIn                        // Sending the IN data stage
	stageDataOut                       // Receiving the OUT data stage
	stageStatusIn                      // Zero-length IN staged for the host
	stageStatusOut                     // Waiting for the host's zero-length OUT
)

func (s controlStage) String() string {
	switch s {
	case stageIdle:
		return "idle"
	case stageDataIn:
		return "data-in"
	case stageDataOut:
		return "data-out"
	case stageStatusIn:
		return "status-in"
	case stageStatusOut:
		return "status-out"
	default:
		return "unknown"
	}
}

// controlPipe runs control transfers on EP0 one poll event at a time.
// A SETUP packet always aborts whatever transfer was in progress.
type controlPipe struct {
	dev *Device
	out *EndpointOut
	in  *EndpointIn
	mps int

	stage controlStage
	setup SetupPacket

	// IN data stage
	pending []byte // Bytes not yet staged on EP0 IN
	zlp     bool   // Data stage ends with a zero-length packet

	// OUT data stage
	data    [MaxControlDataSize]byte
	dataLen int

	// SET_ADDRESS takes effect after its status stage.
	addressPending bool
	address        uint8

	packet [64]byte
}

func (p *controlPipe) init(dev *Device, out *EndpointOut, in *EndpointIn) {
	p.dev = dev
	p.out = out
	p.in = in
	p.mps = int(out.MaxPacketSize())
}

// abort drops any transfer in progress.
func (p *controlPipe) abort() {
	p.stage = stageIdle
	p.pending = nil
	p.zlp = false
	p.dataLen = 0
	p.addressPending = false
}

func (p *controlPipe) deferAddress(address uint8) {
	p.addressPending = true
	p.address = address
}

// handleSetup starts a new control transfer.
func (p *controlPipe) handleSetup() {
	n, err := p.out.Read(p.packet[:])
	if err != nil {
		if !errors.Is(err, pkg.ErrWouldBlock) {
			pkg.LogWarn(pkg.ComponentControl, "setup read failed", "error", err)
		}
		return
	}

	p.abort()
	if err := ParseSetupPacket(p.packet[:n], &p.setup); err != nil {
		p.stall(err)
		return
	}

	if pkg.Enabled(slog.LevelDebug) {
		pkg.LogDebug(pkg.ComponentControl, "setup received",
			"request", p.setup.String())
	}

	if p.setup.IsHostToDevice() && p.setup.Length > 0 {
		if int(p.setup.Length) > MaxControlDataSize {
			p.stall(pkg.ErrBufferOverflow)
			return
		}
		p.stage = stageDataOut
		return
	}

	resp, err := p.dev.dispatch(&p.setup, nil)
	if err != nil {
		p.stall(err)
		return
	}

	// An IN request with wLength 0 has no data stage; its status is a
	// device ZLP like an OUT request's.
	if p.setup.IsDeviceToHost() && p.setup.Length > 0 {
		p.startIn(resp)
	} else {
		p.sendStatus()
	}
}

// handleOut consumes a data or status packet on EP0 OUT.
func (p *controlPipe) handleOut() {
	n, err := p.out.Read(p.packet[:])
	if err != nil {
		return
	}

	switch p.stage {
	case stageDataOut:
		if p.dataLen+n > int(p.setup.Length) {
			p.stall(pkg.ErrBufferOverflow)
			return
		}
		p.dataLen += copy(p.data[p.dataLen:], p.packet[:n])
		if p.dataLen < int(p.setup.Length) && n == p.mps {
			return
		}
		if _, err := p.dev.dispatch(&p.setup, p.data[:p.dataLen]); err != nil {
			p.stall(err)
			return
		}
		p.sendStatus()

	case stageStatusOut, stageDataIn:
		// Status stage. A host may end an IN data stage early.
		p.stage = stageIdle
		p.pending = nil
		p.zlp = false

	default:
		pkg.LogDebug(pkg.ComponentControl, "unexpected EP0 OUT packet",
			"stage", p.stage.String(),
			"length", n)
	}
}

// inComplete advances after the host collected a packet from EP0 IN.
func (p *controlPipe) inComplete() {
	if p.stage == stageDataIn {
		p.sendNext()
		return
	}
	p.statusComplete()
}

// statusComplete finishes a no-data or OUT transfer once the host has
// collected the zero-length status packet.
func (p *controlPipe) statusComplete() {
	if p.stage != stageStatusIn {
		return
	}
	p.stage = stageIdle
	if p.addressPending {
		p.addressPending = false
		p.dev.applyAddress(p.address)
	}
}

// startIn begins an IN data stage, truncated to the host's wLength.
func (p *controlPipe) startIn(resp []byte) {
	if len(resp) > int(p.setup.Length) {
		resp = resp[:p.setup.Length]
	}
	p.pending = resp
	// A short reply that ends on a packet boundary needs a ZLP so the host
	// sees the end of the data stage.
	p.zlp = len(resp) < int(p.setup.Length) && len(resp)%p.mps == 0
	p.stage = stageDataIn
	p.sendNext()
}

// sendNext stages the next IN packet, or moves to the status stage.
func (p *controlPipe) sendNext() {
	var chunk []byte
	switch {
	case len(p.pending) > 0:
		chunk = p.pending[:min(p.mps, len(p.pending))]
	case p.zlp:
		p.zlp = false
	default:
		p.stage = stageStatusOut
		return
	}
	if _, err := p.in.Write(chunk); err != nil {
		p.stall(err)
		return
	}
	p.pending = p.pending[len(chunk):]
}

// sendStatus acknowledges a request without an IN data stage.
func (p *controlPipe) sendStatus() {
	p.stage = stageStatusIn
	if _, err := p.in.Write(nil); err != nil {
		p.stall(err)
	}
}

// stall rejects the current request. The next SETUP clears the halt.
func (p *controlPipe) stall(err error) {
	pkg.LogDebug(pkg.ComponentControl, "request stalled",
		"request", p.setup.Request,
		"requestType", p.setup.RequestType,
		"error", err)
	p.in.Stall()
	p.out.Stall()
	p.abort()
}

// dispatch routes a request to the standard handler or to the classes.
func (d *Device) dispatch(setup *SetupPacket, data []byte) ([]byte, error) {
	if setup.IsStandard() {
		return d.handler.HandleSetup(setup, data)
	}
	for _, c := range d.active {
		resp, handled, err := c.HandleSetup(setup, data)
		if handled {
			return resp, err
		}
	}
	return nil, pkg.ErrInvalidRequest
}
