// Package sim implements a simulated full-speed USB device controller.
//
// The device side of a [Controller] satisfies hal.Controller and stages
// every packet through the endpoint's PacketBuffer, so packet bytes live in
// the endpoint arena exactly as they would in peripheral packet RAM. The
// host side, reached through [Controller.Host], issues individual SETUP,
// OUT and IN transactions and builds control and bulk transfers on top of
// them.
//
// # Transactions
//
// Host transactions never block. Out returns ErrNAK while the endpoint
// still holds an unread packet, In returns ErrNAK until the device has
// staged one, and both return ErrStall on a halted endpoint. A SETUP
// packet always lands on EP0 and clears an EP0 halt, as on real hardware.
//
// # Transfers
//
// ControlIn, ControlOut, BulkOut, BulkIn and Enumerate retry NAKed
// transactions. In a single goroutine, install a pump with [Host.SetPump]
// that polls the device between retries:
//
//	ctrl := sim.New()
//	// ... build the device on ctrl ...
//	host := ctrl.Host()
//	host.SetPump(func() { dev.Poll(port) })
//	host.Attach()
//	e, err := host.Enumerate(ctx, 7)
//
// Without a pump the host sleeps between retries, which suits a host
// goroutine running beside the device loop.
//
// # Bus Events
//
// Attach and Reset queue a bus reset; Suspend and Resume queue the matching
// events. Each is reported once by the next device-side Poll.
package sim
