package app

import (
	"context"

	"github.com/ardnew/cdcecho/device/class/cdc"
	"github.com/ardnew/cdcecho/device/hal/sim"
)

// HostPort is the host's end of the serial port on the simulated bus. It
// stands in for the tty a host operating system would create, so the
// hosted firmware can be driven by io.Copy, a pseudo-terminal, or
// host.Check.
//
// Writes go out as bulk OUT packets; reads collect bulk IN packets. A
// HostPort may be read and written from different goroutines, but not
// read from two at once.
type HostPort struct {
	ctx  context.Context
	host *sim.Host
	out  uint8
	in   uint8

	rx         [cdc.PacketSize]byte
	start, end int
}

// HostPort returns the host's end of the serial port. Blocking Read and
// Write calls give up when ctx is done. The device must be enumerated
// before the port carries data.
func (f *Firmware) HostPort(ctx context.Context) *HostPort {
	return &HostPort{
		ctx:  ctx,
		host: f.periph.Host,
		out:  f.port.OutEndpoint().Number(),
		in:   f.port.InEndpoint().Number(),
	}
}

// Write sends p to the device, blocking until every packet is accepted.
func (p *HostPort) Write(b []byte) (int, error) {
	if err := p.host.BulkOut(p.ctx, p.out, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Read blocks until the device sends data.
func (p *HostPort) Read(b []byte) (int, error) {
	return p.ReadContext(p.ctx, b)
}

// ReadContext is Read with its own cancellation. Zero-length packets are
// skipped.
func (p *HostPort) ReadContext(ctx context.Context, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for p.start == p.end {
		n, err := p.host.BulkIn(ctx, p.in, p.rx[:])
		if err != nil {
			return 0, err
		}
		p.start, p.end = 0, n
	}
	n := copy(b, p.rx[p.start:p.end])
	p.start += n
	return n, nil
}
