// Package hal defines the Hardware Abstraction Layer between the USB device
// stack and a USB device controller.
//
// The HAL is poll driven. A [Controller] never blocks: endpoint reads and
// writes either complete immediately or report would-block, and bus events
// (reset, suspend, endpoint activity) are only observed by calling
// [Controller.Poll]. This matches a bare-metal main loop with no interrupts
// and no scheduler, and keeps the device stack single-threaded.
//
// # Packet Memory
//
// Controllers do not own packet storage. Each endpoint is allocated with a
// [PacketBuffer] carved out of the endpoint memory arena by the bus
// allocator, and the controller stages packet bytes through it.
//
// # Implementing a Controller
//
//  1. Provision endpoints in AllocEndpoint, choosing a free number when the
//     requested address has endpoint number zero (except for EP0 itself)
//  2. Report reset, suspend, resume, and endpoint activity from Poll
//  3. Return ErrWouldBlock from Read when no OUT packet is staged and from
//     Write while the previous IN packet has not been collected
//  4. Apply SetDeviceAddress and SetStalled to the hardware
//
// A simulated controller with a scriptable host side is available in
// [github.com/ardnew/cdcecho/device/hal/sim].
package hal
