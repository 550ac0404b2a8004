// Package echo implements the uppercase echo loop of the firmware.
//
// Each iteration polls the USB device once. When the poll reports
// activity, the loop reads at most one 64-byte chunk from the serial port,
// maps ASCII lowercase letters to uppercase in place, and writes the chunk
// back, retrying partial and refused writes without polling again until
// every byte is accepted.
//
// The loop is single-threaded and never blocks: the port signals
// pkg.ErrWouldBlock instead. A status indicator, when given, follows the
// result of each poll.
//
//	poller := echo.PollerFunc(func() bool { return dev.Poll(port) })
//	loop := echo.New(poller, port, led)
//	loop.Run(context.Background()) // never returns
package echo
