// Command cdcecho runs the uppercase echo firmware on the hosted board.
//
// The simulated host enumerates the device and then connects its serial
// port to the terminal: standard input is sent to the device and the echo
// is printed on standard output. With -pty the port is exposed as a
// pseudo-terminal instead, so any serial program can open it.
//
// Usage:
//
//	cdcecho [options]
//
// Options:
//
//	-v                     Enable verbose (debug) logging
//	-json                  Use JSON log format
//	-vid, -pid             Vendor and product ID to enumerate with
//	-arena-words n         Endpoint arena size in 32-bit words (default: 1024)
//	-retry-limit n         Drop echo data after n refused writes (default: 0, never)
//	-pty                   Expose the port as a pseudo-terminal
//	-enum-timeout duration Timeout for enumeration (default: 5s)
//	-cpuprofile path       Write a CPU profile (needs -tags profile)
//	-memprofile path       Write a heap profile on exit (needs -tags profile)
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/ardnew/cdcecho/app"
	"github.com/ardnew/cdcecho/board"
	"github.com/ardnew/cdcecho/pkg"
	"github.com/ardnew/cdcecho/pkg/prof"
)

const component = pkg.ComponentDevice

// drainTimeout is how long output keeps flowing after input ends.
const drainTimeout = 250 * time.Millisecond

func main() {
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	vid := flag.Uint("vid", 0x16C0, "USB vendor ID")
	pid := flag.Uint("pid", 0x27DD, "USB product ID")
	arenaWords := flag.Int("arena-words", 1024, "endpoint arena size in 32-bit words")
	retryLimit := flag.Int("retry-limit", 0, "refused writes before echo data is dropped (0 = never)")
	usePTY := flag.Bool("pty", false, "expose the serial port as a pseudo-terminal")
	enumTimeout := flag.Duration("enum-timeout", 5*time.Second, "timeout for enumeration")
	cpuProfile := flag.String("cpuprofile", "", "write a CPU profile to `path`")
	memProfile := flag.String("memprofile", "", "write a heap profile to `path` on exit")
	flag.Parse()

	if *verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}
	if *vid > 0xFFFF || *pid > 0xFFFF {
		pkg.LogError(component, "vendor and product IDs must fit in 16 bits",
			"vid", *vid, "pid", *pid)
		os.Exit(2)
	}
	if (*cpuProfile != "" || *memProfile != "") && !prof.Enabled() {
		pkg.LogWarn(component, "profiling flags ignored; rebuild with -tags profile")
	}

	if *cpuProfile != "" {
		stop, err := prof.Start(*cpuProfile)
		if err != nil {
			pkg.LogError(component, "failed to start CPU profile", "error", err)
			os.Exit(1)
		}
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := board.Take(board.DefaultClockConfig())
	if err != nil {
		pkg.LogError(component, "failed to take peripherals", "error", err)
		os.Exit(1)
	}

	cfg := app.DefaultConfig()
	cfg.Descriptor.VendorID = uint16(*vid)
	cfg.Descriptor.ProductID = uint16(*pid)
	cfg.ArenaWords = *arenaWords
	cfg.WriteRetryLimit = *retryLimit

	fw, err := app.New(p, cfg)
	if err != nil {
		pkg.LogError(component, "failed to build firmware", "error", err)
		os.Exit(1)
	}

	errc := make(chan error, 1)
	go func() { errc <- fw.Run(ctx) }()

	if err := serve(ctx, fw, p, *usePTY, *enumTimeout); err != nil && ctx.Err() == nil {
		pkg.LogError(component, "host session failed", "error", err)
		cancel()
		<-errc
		os.Exit(1)
	}

	cancel()
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		pkg.LogError(component, "firmware stopped", "error", err)
	}

	s := fw.Stats()
	pkg.LogInfo(component, "shutting down",
		"bytesIn", s.BytesIn,
		"bytesOut", s.BytesOut,
		"bytesDropped", s.BytesDropped,
		"writeRetries", s.WriteRetries)

	if *memProfile != "" {
		if err := prof.Capture(prof.ProfileHeap, *memProfile); err != nil {
			pkg.LogError(component, "failed to write heap profile", "error", err)
		}
	}
}

// serve enumerates the device from the simulated host and connects its
// serial port to the terminal or a pseudo-terminal until ctx is done.
func serve(ctx context.Context, fw *app.Firmware, p *board.Peripherals, usePTY bool, enumTimeout time.Duration) error {
	p.Host.SetRetryInterval(100 * time.Microsecond)
	p.Host.Attach()

	enumCtx, enumCancel := context.WithTimeout(ctx, enumTimeout)
	e, err := p.Host.Enumerate(enumCtx, 1)
	enumCancel()
	if err != nil {
		return err
	}
	pkg.LogInfo(component, "host connected",
		"address", e.Address,
		"speed", e.Speed.String(),
		"manufacturer", e.Manufacturer,
		"product", e.Product,
		"serial", e.SerialNumber)

	port := fw.HostPort(ctx)
	if !usePTY {
		return bridge(ctx, port, os.Stdin, os.Stdout)
	}

	ptmx, tty, err := pty.Open()
	if err != nil {
		return err
	}
	defer ptmx.Close()
	defer tty.Close()
	if err := makeRaw(tty); err != nil {
		pkg.LogWarn(component, "pseudo-terminal left in cooked mode", "error", err)
	}

	pkg.LogInfo(component, "serial port ready", "tty", tty.Name())
	return bridge(ctx, port, ptmx, ptmx)
}

// bridge copies src to the device and the device's echo to dst until ctx
// is done or either side fails.
func bridge(ctx context.Context, port io.ReadWriter, src io.Reader, dst io.Writer) error {
	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(port, src)
		if err == nil {
			err = io.EOF
		}
		errc <- err
	}()
	go func() {
		_, err := io.Copy(dst, port)
		errc <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if !errors.Is(err, io.EOF) {
			return err
		}
		pkg.LogInfo(component, "input closed")
		// Let the echo of the last input reach dst.
		select {
		case <-ctx.Done():
		case <-time.After(drainTimeout):
		}
		return nil
	}
}
