// Package cdc implements a USB Communications Device Class (CDC) serial
// port on the poll-driven device stack.
//
// A CDC-ACM function consists of two interfaces grouped by an interface
// association descriptor:
//
//   - Communications interface: carries the class requests
//     (SET_LINE_CODING, GET_LINE_CODING, SET_CONTROL_LINE_STATE,
//     SEND_BREAK) and owns an interrupt IN notification endpoint
//   - Data interface: owns the bulk IN and OUT endpoints
//
// # Usage
//
//	bus, _ := device.NewBusAllocator(ctrl, device.NewArena(device.DefaultArenaWords))
//	port, _ := cdc.New(bus)
//	dev, _ := device.NewDeviceBuilder(bus).
//	    WithVendorProduct(0x16C0, 0x27DD).
//	    WithStrings("Fake company", "Serial port", "TEST").
//	    WithDeviceClass(device.ClassCDC, 0, 0).
//	    Build(port)
//
//	buf := make([]byte, 64)
//	for {
//	    if !dev.Poll(port) {
//	        continue
//	    }
//	    n, err := port.Read(buf)
//	    if err != nil {
//	        continue
//	    }
//	    port.Write(buf[:n])
//	}
//
// Read and Write never block. Outgoing bytes are queued in a small ring
// and handed to the IN endpoint one packet at a time as the host collects
// them, so Write may accept only part of its argument.
package cdc
