// Package serial opens the tty the host's CDC-ACM driver creates for the
// echo device.
package serial

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	"github.com/ardnew/cdcecho/pkg"
)

// Port is an open serial port.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data received but not yet read.
	Flush() error
}

// Config holds serial port settings.
type Config struct {
	// Device path, e.g. "/dev/ttyACM0" or "COM3".
	Name string

	// Baud rate. The echo device accepts any rate through SET_LINE_CODING
	// and never applies it; it is still sent so the host driver is happy.
	Baud int

	// ReadTimeout bounds a single Read. A Read that times out returns no
	// data and no error. Zero blocks until data arrives.
	ReadTimeout time.Duration
}

// DefaultConfig returns settings for the device at name.
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// nativePort wraps the tarm/serial implementation.
type nativePort struct {
	*serial.Port
	name string
}

// Open opens the serial port described by cfg.
func Open(cfg Config) (Port, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("serial: empty device name: %w", pkg.ErrInvalidParameter)
	}
	if cfg.Baud <= 0 {
		cfg.Baud = 115200
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Name, err)
	}
	pkg.LogDebug(pkg.ComponentHost, "serial port opened", "name", cfg.Name, "baud", cfg.Baud)
	return &nativePort{Port: port, name: cfg.Name}, nil
}

func (p *nativePort) Close() error {
	pkg.LogDebug(pkg.ComponentHost, "serial port closed", "name", p.name)
	return p.Port.Close()
}
