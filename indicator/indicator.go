// Package indicator drives the status LEDs of the echo firmware.
//
// LED state is diagnostic only. Output failures are logged and never
// returned to the echo loop.
package indicator

import (
	"context"
	"sync"
	"time"

	"github.com/ardnew/cdcecho/pkg"
)

// Output is a digital output pin.
type Output interface {
	Set(high bool) error
}

// OutputFunc adapts a function to the Output interface.
type OutputFunc func(high bool) error

// Set calls f.
func (f OutputFunc) Set(high bool) error { return f(high) }

// Status shows whether the host is talking to the device. It logs each
// transition between connected and idle once, however often Set is called.
type Status struct {
	out Output

	mutex     sync.Mutex
	connected bool
	known     bool
	failures  uint64
}

// NewStatus returns a status indicator driving out.
func NewStatus(out Output) *Status {
	return &Status{out: out}
}

// Set drives the output high while connected.
func (s *Status) Set(connected bool) {
	err := s.out.Set(connected)

	s.mutex.Lock()
	changed := !s.known || s.connected != connected
	s.connected, s.known = connected, true
	if err != nil {
		s.failures++
	}
	s.mutex.Unlock()

	if err != nil {
		pkg.LogWarn(pkg.ComponentIndicator, "status output failed",
			"connected", connected,
			"error", err)
	}
	if !changed {
		return
	}
	if connected {
		pkg.LogInfo(pkg.ComponentIndicator, "connection established")
	} else {
		pkg.LogInfo(pkg.ComponentIndicator, "connection idle")
	}
}

// Connected returns the last state passed to Set.
func (s *Status) Connected() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.connected
}

// Failures returns how many output writes have failed.
func (s *Status) Failures() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.failures
}

// Blink toggles all outputs together count times: high for period, then
// low for period. Output failures are logged and skipped. Blink returns
// early with ctx.Err() if ctx is done, leaving the outputs low.
func Blink(ctx context.Context, count int, period time.Duration, outputs ...Output) error {
	setAll := func(high bool) {
		for _, o := range outputs {
			if err := o.Set(high); err != nil {
				pkg.LogWarn(pkg.ComponentIndicator, "blink output failed", "error", err)
			}
		}
	}
	wait := func() error {
		timer := time.NewTimer(period)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}

	for i := 0; i < count; i++ {
		setAll(true)
		if err := wait(); err != nil {
			setAll(false)
			return err
		}
		setAll(false)
		if err := wait(); err != nil {
			return err
		}
	}
	return nil
}
