// Package host checks a running echo device from the host side.
//
// The device can be reached two ways. Package host/serial opens the tty the
// operating system's CDC-ACM driver creates (/dev/ttyACM0 on Linux) and can
// find it by VID:PID through sysfs. Package host/usbdirect bypasses the
// driver and talks to the bulk endpoints of the data interface with
// libusb. Either port is handed to Check:
//
//	port, err := serial.Open(serial.DefaultConfig("/dev/ttyACM0"))
//	if err != nil {
//		return err
//	}
//	defer port.Close()
//	if err := host.Check(ctx, port, []byte("hello")); err != nil {
//		return err // pkg.ErrEchoMismatch, pkg.ErrShortEcho, or an I/O error
//	}
package host
