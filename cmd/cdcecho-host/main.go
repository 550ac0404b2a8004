// Command cdcecho-host checks an echo device attached to this machine.
//
// Every argument is sent to the device and the answer is compared with the
// argument in upper case. The device is reached through the tty of the
// host's CDC-ACM driver, or directly through its bulk endpoints.
//
// Usage:
//
//	cdcecho-host [options] [payload ...]
//
// Options:
//
//	-v                 Enable verbose (debug) logging
//	-json              Use JSON log format
//	-port path         Serial port to open, e.g. /dev/ttyACM0
//	-find vid:pid      Locate the serial port by USB IDs through sysfs
//	-usb vid:pid       Open the device through libusb instead of a tty
//	-usb-ids path      usb.ids database for device names
//	-timeout duration  Timeout per payload (default: 2s)
//
// The exit status is 1 if any payload fails and 2 on a usage error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ardnew/cdcecho/host"
	"github.com/ardnew/cdcecho/host/serial"
	"github.com/ardnew/cdcecho/host/usbdirect"
	"github.com/ardnew/cdcecho/host/usbid"
	"github.com/ardnew/cdcecho/pkg"
)

const component = pkg.ComponentHost

var errUsage = errors.New("exactly one of -port, -find or -usb is required")

func main() {
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	portName := flag.String("port", "", "serial port `path`")
	find := flag.String("find", "", "locate the serial port by `vid:pid`")
	direct := flag.String("usb", "", "open the device by `vid:pid` through libusb")
	idsPath := flag.String("usb-ids", "", "usb.ids database `path`")
	timeout := flag.Duration("timeout", 2*time.Second, "timeout per payload")
	flag.Parse()

	if *verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	payloads := flag.Args()
	if len(payloads) == 0 {
		payloads = []string{"Hello, World!"}
	}

	port, err := open(*portName, *find, *direct, *idsPath)
	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		pkg.LogError(component, "failed to open device", "error", err)
		os.Exit(1)
	}
	defer port.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	failed := 0
	for _, payload := range payloads {
		checkCtx, checkCancel := context.WithTimeout(ctx, *timeout)
		err := host.Check(checkCtx, port, []byte(payload))
		checkCancel()
		if err != nil {
			failed++
			pkg.LogError(component, "echo check failed", "payload", payload, "error", err)
			continue
		}
		pkg.LogInfo(component, "echo ok", "payload", payload, "bytes", len(payload))
	}

	if failed > 0 {
		port.Close()
		os.Exit(1)
	}
}

func open(portName, find, direct, idsPath string) (io.ReadWriteCloser, error) {
	set := 0
	for _, s := range []string{portName, find, direct} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errUsage
	}

	switch {
	case direct != "":
		vid, pid, err := parseIDs(direct)
		if err != nil {
			return nil, err
		}
		d, err := usbdirect.Open(vid, pid, loadIDs(idsPath))
		if err != nil {
			return nil, err
		}
		return d, nil

	case find != "":
		vid, pid, err := parseIDs(find)
		if err != nil {
			return nil, err
		}
		ttys, err := serial.Find(vid, pid)
		if err != nil {
			return nil, fmt.Errorf("find %s: %w", find, err)
		}
		if len(ttys) > 1 {
			pkg.LogWarn(component, "several matching ports, using the first", "count", len(ttys))
		}
		pkg.LogInfo(component, "found serial port",
			"path", ttys[0].Path,
			"product", ttys[0].Product,
			"serial", ttys[0].SerialNumber)
		portName = ttys[0].Path
	}
	return serial.Open(serial.DefaultConfig(portName))
}

// loadIDs returns the usb.ids database, or nil when none is readable.
func loadIDs(path string) *usbid.Database {
	var paths []string
	if path != "" {
		paths = append(paths, path)
	}
	db, err := usbid.Load(paths...)
	if err != nil {
		pkg.LogDebug(component, "usb.ids not loaded", "error", err)
		return nil
	}
	return db
}

// parseIDs parses "vid:pid" in hexadecimal, e.g. "16c0:27dd".
func parseIDs(s string) (vid, pid uint16, err error) {
	v, p, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%q: want vid:pid: %w", s, pkg.ErrInvalidParameter)
	}
	vv, err := strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("%q: vendor ID: %w", s, err)
	}
	pp, err := strconv.ParseUint(strings.TrimPrefix(p, "0x"), 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("%q: product ID: %w", s, err)
	}
	return uint16(vv), uint16(pp), nil
}
