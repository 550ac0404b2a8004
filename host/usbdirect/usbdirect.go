// Package usbdirect talks to the echo device's bulk endpoints through
// libusb, without the host's CDC-ACM driver.
//
// The kernel driver is detached from the data interface while the Device
// is open and reattached by Close.
package usbdirect

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
	gousbid "github.com/google/gousb/usbid"

	"github.com/ardnew/cdcecho/host/usbid"
	"github.com/ardnew/cdcecho/pkg"
)

// CDC class request and control line bits sent on open. Host drivers
// raise DTR when a program opens the tty; doing the same makes a direct
// session look like a terminal to the device.
const (
	requestTypeClassInterfaceOut = 0x21
	requestSetControlLineState   = 0x22
	controlLineDTR               = 0x0001
)

// Layout locates the CDC interfaces and bulk endpoints in a descriptor.
type Layout struct {
	Config int
	Comm   int // Communications interface, -1 if absent
	Data   int
	Alt    int
	In     int // Bulk IN endpoint number
	Out    int // Bulk OUT endpoint number
}

// FindLayout searches desc for a CDC data interface with one bulk IN and
// one bulk OUT endpoint.
func FindLayout(desc *gousb.DeviceDesc) (Layout, error) {
	for _, cfg := range desc.Configs {
		l := Layout{Config: cfg.Number, Comm: -1, Data: -1}
		for _, id := range cfg.Interfaces {
			for _, is := range id.AltSettings {
				switch is.Class {
				case gousb.ClassComm:
					l.Comm = id.Number
				case gousb.ClassData:
					if l.Data >= 0 {
						continue
					}
					in, out := bulkEndpoints(is)
					if in > 0 && out > 0 {
						l.Data, l.Alt, l.In, l.Out = id.Number, is.Alternate, in, out
					}
				}
			}
		}
		if l.Data >= 0 {
			return l, nil
		}
	}
	return Layout{}, fmt.Errorf("usbdirect: no CDC data interface on %s: %w",
		gousbid.Describe(desc), pkg.ErrNoDevice)
}

func bulkEndpoints(is gousb.InterfaceSetting) (in, out int) {
	for _, ep := range is.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionIn:
			in = ep.Number
		case gousb.EndpointDirectionOut:
			out = ep.Number
		}
	}
	return in, out
}

// Describe names a device, preferring the local usb.ids database and
// falling back to the table compiled into gousb.
func Describe(desc *gousb.DeviceDesc, db *usbid.Database) string {
	vid, pid := uint16(desc.Vendor), uint16(desc.Product)
	if db.Vendor(vid) != "" {
		return db.Describe(vid, pid)
	}
	return gousbid.Describe(desc)
}

// Device is an open echo device. It implements io.ReadWriteCloser.
type Device struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	layout Layout
	name   string
}

// Open opens the first device matching vid and pid. db may be nil.
func Open(vid, pid uint16, db *usbid.Database) (*Device, error) {
	d := &Device{ctx: gousb.NewContext()}
	if err := d.open(vid, pid, db); err != nil {
		d.Close()
		return nil, err
	}
	pkg.LogInfo(pkg.ComponentHost, "device opened",
		"device", d.name,
		"interface", d.layout.Data,
		"in", d.layout.In,
		"out", d.layout.Out)
	return d, nil
}

func (d *Device) open(vid, pid uint16, db *usbid.Database) (err error) {
	d.dev, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		return fmt.Errorf("usbdirect: open %04x:%04x: %w", vid, pid, err)
	}
	if d.dev == nil {
		return fmt.Errorf("usbdirect: %04x:%04x: %w", vid, pid, pkg.ErrNoDevice)
	}
	d.name = Describe(d.dev.Desc, db)

	if d.layout, err = FindLayout(d.dev.Desc); err != nil {
		return err
	}
	if err = d.dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("usbdirect: auto detach: %w", err)
	}
	if d.cfg, err = d.dev.Config(d.layout.Config); err != nil {
		return fmt.Errorf("usbdirect: config %d: %w", d.layout.Config, err)
	}
	if d.intf, err = d.cfg.Interface(d.layout.Data, d.layout.Alt); err != nil {
		return fmt.Errorf("usbdirect: claim interface %d: %w", d.layout.Data, err)
	}
	if d.in, err = d.intf.InEndpoint(d.layout.In); err != nil {
		return fmt.Errorf("usbdirect: IN endpoint %d: %w", d.layout.In, err)
	}
	if d.out, err = d.intf.OutEndpoint(d.layout.Out); err != nil {
		return fmt.Errorf("usbdirect: OUT endpoint %d: %w", d.layout.Out, err)
	}

	if d.layout.Comm >= 0 {
		if _, err := d.dev.Control(requestTypeClassInterfaceOut, requestSetControlLineState,
			controlLineDTR, uint16(d.layout.Comm), nil); err != nil {
			pkg.LogWarn(pkg.ComponentHost, "raising DTR failed", "device", d.name, "error", err)
		}
	}
	return nil
}

// Name returns a human-readable description of the device.
func (d *Device) Name() string { return d.name }

// Layout returns the interfaces and endpoints in use.
func (d *Device) Layout() Layout { return d.layout }

// Write sends p on the bulk OUT endpoint.
func (d *Device) Write(p []byte) (int, error) {
	return d.out.Write(p)
}

// Read receives from the bulk IN endpoint. p should hold at least one
// max-size packet.
func (d *Device) Read(p []byte) (int, error) {
	return d.in.Read(p)
}

// ReadContext is Read that gives up when ctx is done.
func (d *Device) ReadContext(ctx context.Context, p []byte) (int, error) {
	return d.in.ReadContext(ctx, p)
}

// Close releases the interface and the libusb context.
func (d *Device) Close() error {
	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
	}
	var errs []error
	if d.cfg != nil {
		errs = append(errs, d.cfg.Close())
		d.cfg = nil
	}
	if d.dev != nil {
		errs = append(errs, d.dev.Close())
		d.dev = nil
	}
	if d.ctx != nil {
		errs = append(errs, d.ctx.Close())
		d.ctx = nil
	}
	return errors.Join(errs...)
}
