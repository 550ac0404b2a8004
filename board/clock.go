package board

import (
	"fmt"

	"github.com/ardnew/cdcecho/pkg"
)

// MHz is one megahertz in Hz.
const MHz = 1_000_000

// Clock limits of the STM32F429 as they apply to the USB OTG FS core.
const (
	MinHSE      = 4 * MHz
	MaxHSE      = 26 * MHz
	MaxSysClk   = 180 * MHz
	MinUSBHClk  = 14_200_000 // Lowest AHB clock the OTG FS core tolerates
	MaxPClk1    = 45 * MHz
	MaxPrescale = 16
)

// ClockConfig is the reset and clock control setup the board is brought
// up with. Frequencies are in Hz.
type ClockConfig struct {
	HSE          uint32 // External oscillator
	SysClk       uint32 // System clock, also the AHB clock
	PClk1        uint32 // APB1 peripheral clock
	RequirePLL48 bool   // Derive the 48 MHz USB clock from the main PLL
}

// DefaultClockConfig returns the Discovery board setup: 8 MHz crystal,
// 48 MHz system clock, 24 MHz APB1, PLL48CLK enabled.
func DefaultClockConfig() ClockConfig {
	return ClockConfig{
		HSE:          8 * MHz,
		SysClk:       48 * MHz,
		PClk1:        24 * MHz,
		RequirePLL48: true,
	}
}

// ClockError describes a clock configuration the USB core cannot run with.
type ClockError struct {
	Field string // Offending clock
	Got   uint32 // Requested frequency in Hz, or 0 for a missing clock
	Want  string // Constraint that was violated
}

func (e *ClockError) Error() string {
	return fmt.Sprintf("%v: %s = %d Hz, want %s", pkg.ErrInvalidClock, e.Field, e.Got, e.Want)
}

// Unwrap returns pkg.ErrInvalidClock.
func (e *ClockError) Unwrap() error {
	return pkg.ErrInvalidClock
}

// Validate checks the configuration against the part's limits and the USB
// core's requirements. It returns a *ClockError for the first violation.
func (c ClockConfig) Validate() error {
	switch {
	case c.HSE < MinHSE || c.HSE > MaxHSE:
		return &ClockError{Field: "HSE", Got: c.HSE, Want: "4-26 MHz"}
	case c.SysClk > MaxSysClk:
		return &ClockError{Field: "SYSCLK", Got: c.SysClk, Want: "<= 180 MHz"}
	case c.SysClk < MinUSBHClk:
		return &ClockError{Field: "SYSCLK", Got: c.SysClk, Want: ">= 14.2 MHz for USB"}
	case c.PClk1 == 0 || c.PClk1 > MaxPClk1:
		return &ClockError{Field: "PCLK1", Got: c.PClk1, Want: "1 Hz-45 MHz"}
	case !validPrescale(c.SysClk, c.PClk1):
		return &ClockError{Field: "PCLK1", Got: c.PClk1, Want: "SYSCLK divided by 1, 2, 4, 8 or 16"}
	case !c.RequirePLL48:
		return &ClockError{Field: "PLL48CLK", Want: "enabled for USB"}
	}
	return nil
}

// validPrescale reports whether pclk is sysclk divided by a power of two
// no larger than MaxPrescale.
func validPrescale(sysclk, pclk uint32) bool {
	for div := uint32(1); div <= MaxPrescale; div <<= 1 {
		if sysclk == pclk*div {
			return true
		}
	}
	return false
}

func (c ClockConfig) String() string {
	return fmt.Sprintf("HSE=%dMHz SYSCLK=%dMHz PCLK1=%dMHz PLL48=%t",
		c.HSE/MHz, c.SysClk/MHz, c.PClk1/MHz, c.RequirePLL48)
}
