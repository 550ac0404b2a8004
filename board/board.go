// Package board brings up the peripherals the echo firmware runs on.
//
// The hosted board models an STM32F429 Discovery: a USB OTG FS controller
// and two user LEDs, green on PG13 and red on PG14. The USB controller is
// the simulated controller from device/hal/sim, whose host side can
// enumerate and exchange data with the device.
//
// Peripherals can be taken once per process. The hardware they stand for
// cannot be shared, so a second Take fails with pkg.ErrPeripheralsTaken.
package board

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/cdcecho/device/hal"
	"github.com/ardnew/cdcecho/device/hal/sim"
	"github.com/ardnew/cdcecho/pkg"
)

// Pin names of the user LEDs.
const (
	PinLEDGreen = "PG13"
	PinLEDRed   = "PG14"
)

// Peripherals is exclusive ownership of the board's hardware.
type Peripherals struct {
	USB      hal.Controller // OTG FS device controller
	Host     *sim.Host      // Host side of the simulated bus
	LEDGreen *Pin
	LEDRed   *Pin
	Clocks   ClockConfig
}

var taken atomic.Bool

// Take configures the clocks and returns the board peripherals. It fails
// with a *ClockError for an unusable clock configuration, and with
// pkg.ErrPeripheralsTaken if the peripherals were already taken. A failed
// clock check does not consume the peripherals.
func Take(cfg ClockConfig) (*Peripherals, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !taken.CompareAndSwap(false, true) {
		return nil, pkg.ErrPeripheralsTaken
	}

	ctrl := sim.New()
	p := &Peripherals{
		USB:      ctrl,
		Host:     ctrl.Host(),
		LEDGreen: NewPin(PinLEDGreen),
		LEDRed:   NewPin(PinLEDRed),
		Clocks:   cfg,
	}
	pkg.LogInfo(pkg.ComponentBoard, "peripherals taken", "clocks", cfg.String())
	return p, nil
}

// MustTake is like Take but panics on error. Firmware entry points use it
// since no recovery is possible without the hardware.
func MustTake(cfg ClockConfig) *Peripherals {
	p, err := Take(cfg)
	if err != nil {
		panic(fmt.Sprintf("board: %v", err))
	}
	return p
}
