package board

import (
	"sync"
)

// Pin is a push-pull digital output. The hosted board records the level
// instead of driving a GPIO register.
type Pin struct {
	name string

	mutex  sync.Mutex
	high   bool
	writes uint64
	fail   error
}

// NewPin returns a low output named name.
func NewPin(name string) *Pin {
	return &Pin{name: name}
}

// Name returns the pin name, e.g. "PG13".
func (p *Pin) Name() string { return p.name }

// Set drives the pin. While a failure is injected, the level is left
// unchanged and the failure is returned.
func (p *Pin) Set(high bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.high = high
	p.writes++
	return nil
}

// High drives the pin high.
func (p *Pin) High() { p.Set(true) }

// Low drives the pin low.
func (p *Pin) Low() { p.Set(false) }

// IsHigh returns the current level.
func (p *Pin) IsHigh() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.high
}

// Writes returns the number of successful writes.
func (p *Pin) Writes() uint64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.writes
}

// SetFailure makes every following write fail with err. A nil err restores
// normal operation.
func (p *Pin) SetFailure(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.fail = err
}

func (p *Pin) String() string {
	level := "low"
	if p.IsHigh() {
		level = "high"
	}
	return p.name + "=" + level
}
