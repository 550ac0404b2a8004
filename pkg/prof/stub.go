//go:build !profile

package prof

import "io"

// Defined for callers that compare against them; the stubs never return
// them.
var (
	ErrActive         error
	ErrInvalidProfile error
)

// Enabled reports whether the binary was built with the profile tag.
func Enabled() bool { return false }

// Start does nothing without the profile tag.
func Start(string) (func() error, error) { return noop, nil }

// StartWriter does nothing without the profile tag.
func StartWriter(io.Writer) (func() error, error) { return noop, nil }

// Active is always false without the profile tag.
func Active() bool { return false }

// Capture does nothing without the profile tag.
func Capture(Profile, string) error { return nil }

// CaptureTo does nothing without the profile tag.
func CaptureTo(Profile, io.Writer, int) error { return nil }

// SampleContention does nothing without the profile tag.
func SampleContention(int) {}

func noop() error { return nil }
