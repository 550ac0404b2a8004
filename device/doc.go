// Package device implements a poll-driven USB 2.0 full-speed device stack.
//
// It is platform-agnostic and reaches hardware only through the
// [hal.Controller] interface in [github.com/ardnew/cdcecho/device/hal].
// Nothing in the stack blocks or spawns goroutines: every state change
// happens inside [Device.Poll], which a bare-metal main loop calls on every
// iteration.
//
// # Architecture
//
// Objects are created in a fixed order, each borrowing the one before it:
//
//   - [Arena] is the endpoint packet memory, a fixed array of words
//   - [BusAllocator] claims the arena and the controller and hands out
//     interface numbers and [Endpoint] handles
//   - Class drivers ([ClassDriver]) allocate their endpoints on the bus
//   - [DeviceBuilder] renders descriptors from the classes, allocates EP0,
//     enables the controller and freezes the bus
//
// An arena backs exactly one bus allocator, and a frozen bus refuses
// further allocation. An arena too small for the requested endpoints is
// reported as an [*ArenaExhaustedError] by the class constructor that ran
// out of space.
//
// # Device States
//
// The stack implements the USB 2.0 device state machine:
//
//	Powered → Default → Address → Configured ⇄ Suspended
//
// Bus reset returns the device to Default from any state. SET_ADDRESS is
// applied after its status stage completes, as USB 2.0 section 9.4.6 requires.
//
// # Control Transfers
//
// EP0 runs one transfer at a time: a SETUP packet aborts any transfer in
// progress. IN data stages are split into EP0-sized packets and end with a
// zero-length packet when a short reply falls on a packet boundary. OUT
// data stages of up to [MaxControlDataSize] bytes are collected before the
// request is dispatched. Standard requests are served by
// [StandardRequestHandler]; class and vendor requests go to the classes in
// order until one claims them.
//
// # Example
//
//	arena := device.NewArena(device.DefaultArenaWords)
//	bus, err := device.NewBusAllocator(ctrl, arena)
//	// ...
//	port, err := cdc.New(bus)
//	// ...
//	dev, err := device.NewDeviceBuilder(bus).
//	    WithVendorProduct(0x16c0, 0x27dd).
//	    WithStrings("Fake company", "Serial port", "TEST").
//	    WithDeviceClass(device.ClassCDC, 0, 0).
//	    Build(port)
//	// ...
//	for {
//	    if !dev.Poll(port) {
//	        continue
//	    }
//	    // read and write port
//	}
//
// A simulated controller for tests is available in
// [github.com/ardnew/cdcecho/device/hal/sim].
package device
