// Package app composes the uppercase echo firmware: a CDC-ACM serial port
// on the board's USB controller, driven by the echo loop, with the green
// LED as connection indicator.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ardnew/cdcecho/board"
	"github.com/ardnew/cdcecho/device"
	"github.com/ardnew/cdcecho/device/class/cdc"
	"github.com/ardnew/cdcecho/echo"
	"github.com/ardnew/cdcecho/indicator"
	"github.com/ardnew/cdcecho/pkg"
)

// Descriptor holds the identity the device enumerates with.
type Descriptor struct {
	VendorID     uint16
	ProductID    uint16
	Manufacturer string
	Product      string
	SerialNumber string

	// DeviceClass is advertised in the device descriptor when
	// UseDeviceClass is set, so hosts bind their serial driver directly.
	DeviceClass    uint8
	UseDeviceClass bool
}

// DefaultDescriptor returns placeholder identity values. 0x16C0:0x27DD is
// a shared open-source test VID:PID and is not allocated to this device.
func DefaultDescriptor() Descriptor {
	return Descriptor{
		VendorID:       0x16C0,
		ProductID:      0x27DD,
		Manufacturer:   "Fake company",
		Product:        "Serial port",
		SerialNumber:   "TEST",
		DeviceClass:    device.ClassCDC,
		UseDeviceClass: true,
	}
}

// BuildDevice allocates a serial port on bus and builds the device around
// it. The bus is frozen afterwards.
func BuildDevice(bus *device.BusAllocator, d Descriptor) (*cdc.SerialPort, *device.Device, error) {
	port, err := cdc.New(bus)
	if err != nil {
		return nil, nil, err
	}

	b := device.NewDeviceBuilder(bus).
		WithVendorProduct(d.VendorID, d.ProductID).
		WithStrings(d.Manufacturer, d.Product, d.SerialNumber)
	if d.UseDeviceClass {
		b = b.WithDeviceClass(d.DeviceClass, 0, 0)
	}
	dev, err := b.Build(port)
	if err != nil {
		return nil, nil, fmt.Errorf("build device: %w", err)
	}
	return port, dev, nil
}

// Config holds the firmware configuration.
type Config struct {
	Descriptor      Descriptor
	ArenaWords      int           // Endpoint arena size in 32-bit words
	WriteRetryLimit int           // 0 retries writes without bound
	BlinkCount      int           // Startup blinks
	BlinkPeriod     time.Duration // Half period of a startup blink
	EchoOptions     []echo.Option // Extra echo loop options
}

// DefaultConfig returns the reference firmware configuration.
func DefaultConfig() Config {
	return Config{
		Descriptor:  DefaultDescriptor(),
		ArenaWords:  device.DefaultArenaWords,
		BlinkCount:  10,
		BlinkPeriod: 50 * time.Millisecond,
	}
}

// Firmware is the assembled echo device.
type Firmware struct {
	periph *board.Peripherals
	config Config

	port   *cdc.SerialPort
	dev    *device.Device
	status *indicator.Status
	loop   *echo.Loop
}

// New wires the firmware onto p: arena, bus allocator, serial port,
// device and echo loop, in that order. Errors are configuration errors
// and leave nothing running.
func New(p *board.Peripherals, cfg Config) (*Firmware, error) {
	if p == nil {
		return nil, fmt.Errorf("nil peripherals: %w", pkg.ErrInvalidParameter)
	}
	if cfg.ArenaWords <= 0 {
		cfg.ArenaWords = device.DefaultArenaWords
	}

	bus, err := device.NewBusAllocator(p.USB, device.NewArena(cfg.ArenaWords))
	if err != nil {
		return nil, err
	}
	port, dev, err := BuildDevice(bus, cfg.Descriptor)
	if err != nil {
		return nil, err
	}

	f := &Firmware{
		periph: p,
		config: cfg,
		port:   port,
		dev:    dev,
		status: indicator.NewStatus(p.LEDGreen),
	}
	opts := append([]echo.Option{echo.WithWriteRetryLimit(cfg.WriteRetryLimit)}, cfg.EchoOptions...)
	f.loop = echo.New(echo.PollerFunc(f.poll), port, f.status, opts...)

	port.SetOnLineCodingChange(func(lc cdc.LineCoding) {
		pkg.LogInfo(pkg.ComponentClass, "line coding changed", "coding", lc.String())
	})
	port.SetOnControlStateChange(func(dtr, rts bool) {
		pkg.LogInfo(pkg.ComponentClass, "control lines changed", "dtr", dtr, "rts", rts)
	})

	pkg.LogInfo(pkg.ComponentDevice, "firmware built",
		"vid", fmt.Sprintf("0x%04X", cfg.Descriptor.VendorID),
		"pid", fmt.Sprintf("0x%04X", cfg.Descriptor.ProductID),
		"arenaUsed", bus.Arena().Used(),
		"arenaSize", bus.Arena().Size())
	return f, nil
}

func (f *Firmware) poll() bool {
	return f.dev.Poll(f.port)
}

// Run blinks both LEDs, then runs the echo loop until ctx is done.
func (f *Firmware) Run(ctx context.Context) error {
	if err := indicator.Blink(ctx, f.config.BlinkCount, f.config.BlinkPeriod,
		f.periph.LEDRed, f.periph.LEDGreen); err != nil {
		return err
	}
	return f.loop.Run(ctx)
}

// Step runs a single echo loop iteration.
func (f *Firmware) Step() bool {
	return f.loop.Step()
}

// Port returns the serial port.
func (f *Firmware) Port() *cdc.SerialPort { return f.port }

// Device returns the USB device.
func (f *Firmware) Device() *device.Device { return f.dev }

// Status returns the connection indicator.
func (f *Firmware) Status() *indicator.Status { return f.status }

// Stats returns the echo loop counters.
func (f *Firmware) Stats() echo.Stats { return f.loop.Stats() }
