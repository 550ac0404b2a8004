package pkg

import "errors"

// USB protocol errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates a NAK response (endpoint busy or empty).
	ErrNAK = errors.New("NAK received")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrProtocol indicates a protocol error.
	ErrProtocol = errors.New("protocol error")

	// ErrNoDevice indicates the device is not present on the bus.
	ErrNoDevice = errors.New("device not present")

	// ErrNotConfigured indicates the device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrBufferOverflow indicates data larger than the endpoint packet size.
	ErrBufferOverflow = errors.New("buffer overflow")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrNoMemory indicates insufficient memory.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")
)

// Non-blocking I/O outcomes.
var (
	// ErrWouldBlock indicates the operation cannot complete now and should
	// be retried after the next poll. It is never fatal.
	ErrWouldBlock = errors.New("operation would block")
)

// Configuration errors. These indicate a build-time or hardware
// misconfiguration and are fatal at startup.
var (
	// ErrArenaExhausted indicates the endpoint memory arena cannot satisfy
	// an endpoint buffer allocation.
	ErrArenaExhausted = errors.New("endpoint arena exhausted")

	// ErrArenaInUse indicates the arena is already claimed by a bus allocator.
	ErrArenaInUse = errors.New("endpoint arena already claimed")

	// ErrBusFrozen indicates an allocation was attempted after the device
	// was built.
	ErrBusFrozen = errors.New("bus allocator frozen")

	// ErrEndpointUnavailable indicates no endpoint number is left for the
	// requested direction.
	ErrEndpointUnavailable = errors.New("no endpoint available")

	// ErrPeripheralsTaken indicates the peripheral singleton was already acquired.
	ErrPeripheralsTaken = errors.New("peripherals already taken")

	// ErrInvalidClock indicates a clock tree the USB peripheral cannot run from.
	ErrInvalidClock = errors.New("invalid clock configuration")
)

// Host-side check errors.
var (
	// ErrEchoMismatch indicates the device answered with something other
	// than the uppercased payload.
	ErrEchoMismatch = errors.New("echo mismatch")

	// ErrShortEcho indicates the device stopped answering before the whole
	// payload was echoed.
	ErrShortEcho = errors.New("short echo")
)

// IsTransient reports whether err is a retry-later condition rather than a
// failure: would-block, NAK, or timeout.
func IsTransient(err error) bool {
	return errors.Is(err, ErrWouldBlock) ||
		errors.Is(err, ErrNAK) ||
		errors.Is(err, ErrTimeout)
}

// IsConfiguration reports whether err is one of the fatal configuration errors.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrArenaExhausted) ||
		errors.Is(err, ErrArenaInUse) ||
		errors.Is(err, ErrBusFrozen) ||
		errors.Is(err, ErrEndpointUnavailable) ||
		errors.Is(err, ErrPeripheralsTaken) ||
		errors.Is(err, ErrInvalidClock)
}
