package host

import (
	"context"
	"fmt"
	"io"

	"github.com/ardnew/cdcecho/echo"
	"github.com/ardnew/cdcecho/pkg"
)

// readSize holds one full-speed bulk packet, so a raw endpoint read never
// overflows.
const readSize = 64

// ContextReader is implemented by ports whose reads can be abandoned when
// a context is done. Check prefers it over io.Reader.
type ContextReader interface {
	ReadContext(ctx context.Context, p []byte) (int, error)
}

// MismatchError reports the first echoed byte that differs from the
// uppercased payload.
type MismatchError struct {
	Offset int
	Got    byte
	Want   byte
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v at offset %d: got 0x%02X, want 0x%02X",
		pkg.ErrEchoMismatch, e.Offset, e.Got, e.Want)
}

func (e *MismatchError) Unwrap() error { return pkg.ErrEchoMismatch }

// Check writes payload to rw and reads the echo back until len(payload)
// bytes have arrived, then compares them with the uppercased payload. Bytes
// beyond the payload length are ignored.
//
// The payload is written from a separate goroutine so a device whose
// transmit buffer fills up can drain while the rest is still being sent.
// A read returning no data is retried until ctx is done. io.EOF before the
// full echo yields pkg.ErrShortEcho.
func Check(ctx context.Context, rw io.ReadWriter, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	want := make([]byte, len(payload))
	copy(want, payload)
	echo.UpperInPlace(want)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	werr := make(chan error, 1)
	go func() {
		_, err := rw.Write(payload)
		werr <- err
		if err != nil {
			cancel()
		}
	}()

	got := make([]byte, 0, len(payload))
	buf := make([]byte, readSize)
	for len(got) < len(payload) {
		if err := ctx.Err(); err != nil {
			select {
			case err := <-werr:
				if err != nil {
					return fmt.Errorf("write: %w", err)
				}
			default:
			}
			return fmt.Errorf("%w: %d of %d bytes: %w", pkg.ErrShortEcho, len(got), len(payload), err)
		}
		n, err := read(ctx, rw, buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			return fmt.Errorf("%w: %d of %d bytes", pkg.ErrShortEcho, len(got), len(payload))
		}
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("read: %w", err)
		}
	}

	if err := <-werr; err != nil {
		return fmt.Errorf("write: %w", err)
	}
	for i := range want {
		if got[i] != want[i] {
			return &MismatchError{Offset: i, Got: got[i], Want: want[i]}
		}
	}
	pkg.LogDebug(pkg.ComponentHost, "echo verified", "bytes", len(payload))
	return nil
}

func read(ctx context.Context, r io.Reader, p []byte) (int, error) {
	if cr, ok := r.(ContextReader); ok {
		return cr.ReadContext(ctx, p)
	}
	return r.Read(p)
}
