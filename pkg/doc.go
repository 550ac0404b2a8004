// Package pkg provides shared utilities for the cdcecho firmware and its
// host-side tools.
//
// This package contains common functionality used across the device stack,
// the echo loop, and the host checkers, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for USB protocol, non-blocking I/O, and configuration
//     failures
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDevice, "device configured", "config", 1)
//
// # Errors
//
// Errors fall into three groups. Protocol errors ([ErrStall], [ErrNAK], ...)
// describe bus conditions. [ErrWouldBlock] is the transient outcome of every
// non-blocking endpoint operation and is retried, never reported.
// Configuration errors ([ErrArenaExhausted], [ErrPeripheralsTaken], ...) are
// fatal at startup:
//
//	if pkg.IsConfiguration(err) {
//	    pkg.LogError(pkg.ComponentBoard, "bring-up failed", "error", err)
//	    os.Exit(1)
//	}
package pkg
