package echo

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/ardnew/cdcecho/pkg"
)

// BufferSize is the size of the transfer buffer, one full-speed bulk packet.
const BufferSize = 64

// Poller advances the USB device. Poll returns true when a class endpoint
// saw activity.
type Poller interface {
	Poll() bool
}

// PollerFunc adapts a function to the Poller interface.
type PollerFunc func() bool

// Poll calls f.
func (f PollerFunc) Poll() bool { return f() }

// Port is a non-blocking byte stream. Read and Write return
// pkg.ErrWouldBlock when no progress is possible; Write may accept fewer
// bytes than offered.
type Port interface {
	Read(buf []byte) (int, error)
	Write(data []byte) (int, error)
}

// Indicator shows whether the last poll saw bus activity.
type Indicator interface {
	Set(connected bool)
}

// Stats counts loop activity.
type Stats struct {
	Iterations   uint64 // Poll calls
	ActivePolls  uint64 // Polls that reported activity
	BytesIn      uint64 // Bytes read from the port
	BytesOut     uint64 // Bytes accepted by the port
	BytesDropped uint64 // Bytes abandoned after the retry limit
	WriteRetries uint64 // Write calls that made no progress
}

// Loop is the uppercase echo loop. It owns a single transfer buffer and is
// not safe for concurrent use, except for Stats.
type Loop struct {
	poller Poller
	port   Port
	ind    Indicator
	config Config

	buf [BufferSize]byte
	raw [BufferSize]byte

	iterations   atomic.Uint64
	activePolls  atomic.Uint64
	bytesIn      atomic.Uint64
	bytesOut     atomic.Uint64
	bytesDropped atomic.Uint64
	writeRetries atomic.Uint64
}

// New returns a loop that polls p and echoes port back to itself. ind may
// be nil.
func New(p Poller, port Port, ind Indicator, opts ...Option) *Loop {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Loop{poller: p, port: port, ind: ind, config: config}
}

// Step runs one iteration: poll, then read, transform and write back one
// chunk if the poll saw activity. It returns the poll result.
func (l *Loop) Step() bool {
	return l.step(context.Background())
}

// Run steps the loop until ctx is done and returns ctx.Err(). With a
// context that is never cancelled, Run never returns.
func (l *Loop) Run(ctx context.Context) error {
	pkg.LogInfo(pkg.ComponentEcho, "echo loop started",
		"retryLimit", l.config.WriteRetryLimit)
	for ctx.Err() == nil {
		l.step(ctx)
	}
	s := l.Stats()
	pkg.LogInfo(pkg.ComponentEcho, "echo loop stopped",
		"iterations", s.Iterations,
		"bytesIn", s.BytesIn,
		"bytesOut", s.BytesOut,
		"bytesDropped", s.BytesDropped)
	return ctx.Err()
}

func (l *Loop) step(ctx context.Context) bool {
	l.iterations.Add(1)
	active := l.poller.Poll()
	if l.ind != nil {
		l.ind.Set(active)
	}
	if !active {
		return false
	}
	l.activePolls.Add(1)

	n, err := l.port.Read(l.buf[:])
	if err != nil {
		if !errors.Is(err, pkg.ErrWouldBlock) && pkg.Enabled(slog.LevelDebug) {
			pkg.LogDebug(pkg.ComponentEcho, "read failed", "error", err)
		}
		return true
	}
	if n == 0 {
		return true
	}
	l.bytesIn.Add(uint64(n))

	chunk := l.buf[:n]
	if l.config.Observer != nil {
		copy(l.raw[:], chunk)
	}
	UpperInPlace(chunk)
	written := l.writeAll(ctx, chunk)
	if l.config.Observer != nil {
		l.config.Observer(l.raw[:n], chunk[:written])
	}
	return true
}

// writeAll writes chunk until the port has accepted all of it, the retry
// limit is reached, or ctx is done. It does not poll between attempts.
// It returns the number of bytes written.
func (l *Loop) writeAll(ctx context.Context, chunk []byte) int {
	offset, retries := 0, 0
	for offset < len(chunk) {
		n, err := l.port.Write(chunk[offset:])
		if err == nil && n > 0 {
			offset += n
			l.bytesOut.Add(uint64(n))
			continue
		}

		l.writeRetries.Add(1)
		retries++
		limit := l.config.WriteRetryLimit
		if (limit > 0 && retries >= limit) || ctx.Err() != nil {
			dropped := len(chunk) - offset
			l.bytesDropped.Add(uint64(dropped))
			pkg.LogWarn(pkg.ComponentEcho, "dropping unwritten bytes",
				"dropped", dropped,
				"retries", retries,
				"error", err)
			break
		}
	}
	return offset
}

// Stats returns a snapshot of the loop counters. It is safe to call from
// any goroutine.
func (l *Loop) Stats() Stats {
	return Stats{
		Iterations:   l.iterations.Load(),
		ActivePolls:  l.activePolls.Load(),
		BytesIn:      l.bytesIn.Load(),
		BytesOut:     l.bytesOut.Load(),
		BytesDropped: l.bytesDropped.Load(),
		WriteRetries: l.writeRetries.Load(),
	}
}
