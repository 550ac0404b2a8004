package sim

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/cdcecho/device/hal"
	"github.com/ardnew/cdcecho/pkg"
)

// packetBuffer is a plain byte-slice hal.PacketBuffer.
type packetBuffer []byte

func (p packetBuffer) Len() int                   { return len(p) }
func (p packetBuffer) Store(data []byte) int      { return copy(p, data) }
func (p packetBuffer) Load(dst []byte, n int) int { return copy(dst, p[:n]) }

// newTestController returns an enabled controller with EP0 (8 bytes) and a
// bulk pair on EP1 (8 bytes).
func newTestController(t *testing.T) *Controller {
	t.Helper()
	c := New()
	configs := []hal.EndpointConfig{
		{Address: 0x00, Attributes: hal.TransferControl, MaxPacketSize: 8},
		{Address: 0x80, Attributes: hal.TransferControl, MaxPacketSize: 8},
		{Address: 0x01, Attributes: hal.TransferBulk, MaxPacketSize: 8},
		{Address: 0x81, Attributes: hal.TransferBulk, MaxPacketSize: 8},
	}
	for _, cfg := range configs {
		if _, err := c.AllocEndpoint(cfg, make(packetBuffer, cfg.MaxPacketSize)); err != nil {
			t.Fatalf("AllocEndpoint(%#02x) error = %v", cfg.Address, err)
		}
	}
	c.Enable()
	return c
}

// attach connects the host and consumes the initial reset.
func attach(t *testing.T, c *Controller) *Host {
	t.Helper()
	h := c.Host()
	h.Attach()
	if got := c.Poll().Event; got != hal.EventReset {
		t.Fatalf("Poll().Event = %v, want %v", got, hal.EventReset)
	}
	c.Reset()
	return h
}

func TestAllocEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		cfg     hal.EndpointConfig
		bufLen  int
		want    uint8
		wantErr error
	}{
		{"explicit bulk OUT", hal.EndpointConfig{Address: 0x02, Attributes: hal.TransferBulk, MaxPacketSize: 64}, 64, 0x02, nil},
		{"auto bulk IN", hal.EndpointConfig{Address: 0x80, Attributes: hal.TransferBulk, MaxPacketSize: 64}, 64, 0x81, nil},
		{"auto interrupt IN skips taken", hal.EndpointConfig{Address: 0x80, Attributes: hal.TransferInterrupt, MaxPacketSize: 8}, 8, 0x82, nil},
		{"duplicate", hal.EndpointConfig{Address: 0x02, Attributes: hal.TransferBulk, MaxPacketSize: 64}, 64, 0, pkg.ErrEndpointUnavailable},
		{"small buffer", hal.EndpointConfig{Address: 0x03, Attributes: hal.TransferBulk, MaxPacketSize: 64}, 32, 0, pkg.ErrBufferTooSmall},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.AllocEndpoint(tt.cfg, make(packetBuffer, tt.bufLen))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AllocEndpoint() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("AllocEndpoint() = %#02x, want %#02x", got, tt.want)
			}
		})
	}

	c.Enable()
	_, err := c.AllocEndpoint(hal.EndpointConfig{Address: 0x04, Attributes: hal.TransferBulk, MaxPacketSize: 8}, make(packetBuffer, 8))
	if !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("AllocEndpoint() after Enable error = %v, want %v", err, pkg.ErrInvalidState)
	}
}

func TestPollDetached(t *testing.T) {
	c := newTestController(t)
	if got := c.Poll(); got != (hal.PollResult{}) {
		t.Errorf("Poll() = %+v, want zero result", got)
	}
	if err := c.Host().Out(1, []byte{1}); !errors.Is(err, pkg.ErrNoDevice) {
		t.Errorf("Out() detached error = %v, want %v", err, pkg.ErrNoDevice)
	}
}

func TestHostSpeed(t *testing.T) {
	c := New()
	h := c.Host()
	if got := h.Speed(); got != hal.SpeedUnknown {
		t.Errorf("Speed() before Enable = %v, want %v", got, hal.SpeedUnknown)
	}
	c.Enable()
	h.Attach()
	if got := h.Speed(); got != hal.SpeedFull {
		t.Errorf("Speed() attached = %v, want %v", got, hal.SpeedFull)
	}
	h.Detach()
	if got := h.Speed(); got != hal.SpeedUnknown {
		t.Errorf("Speed() detached = %v, want %v", got, hal.SpeedUnknown)
	}
}

func TestResetReportedOnce(t *testing.T) {
	c := newTestController(t)
	h := attach(t, c)

	if !h.ResetHandled() {
		t.Error("ResetHandled() = false after device Reset")
	}
	if got := c.Poll().Event; got != hal.EventNone {
		t.Errorf("second Poll().Event = %v, want %v", got, hal.EventNone)
	}
}

func TestBulkOut(t *testing.T) {
	c := newTestController(t)
	h := attach(t, c)

	buf := make([]byte, 8)
	if _, err := c.Read(0x01, buf); !errors.Is(err, pkg.ErrWouldBlock) {
		t.Fatalf("Read() empty error = %v, want %v", err, pkg.ErrWouldBlock)
	}

	if err := h.Out(1, []byte("abc")); err != nil {
		t.Fatalf("Out() error = %v", err)
	}
	if err := h.Out(1, []byte("def")); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("Out() while full error = %v, want %v", err, pkg.ErrNAK)
	}
	if err := h.Out(1, make([]byte, 9)); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("Out() oversized while full error = %v, want %v", err, pkg.ErrNAK)
	}

	result := c.Poll()
	if result.Event != hal.EventData || result.OutMask != 1<<1 {
		t.Errorf("Poll() = %+v, want data on OUT 1", result)
	}
	// Level triggered until read.
	if got := c.Poll().OutMask; got != 1<<1 {
		t.Errorf("Poll().OutMask = %#x, want %#x", got, 1<<1)
	}

	n, err := c.Read(0x01, buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := string(buf[:n]); got != "abc" {
		t.Errorf("Read() = %q, want %q", got, "abc")
	}
	if got := c.Poll(); got.OutMask != 0 {
		t.Errorf("Poll().OutMask after read = %#x, want 0", got.OutMask)
	}

	if err := h.Out(1, make([]byte, 9)); !errors.Is(err, pkg.ErrBufferOverflow) {
		t.Errorf("Out() oversized error = %v, want %v", err, pkg.ErrBufferOverflow)
	}
	if err := h.Out(5, []byte{1}); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("Out() unallocated error = %v, want %v", err, pkg.ErrInvalidEndpoint)
	}
}

func TestBulkIn(t *testing.T) {
	c := newTestController(t)
	h := attach(t, c)

	buf := make([]byte, 8)
	if _, err := h.In(1, buf); !errors.Is(err, pkg.ErrNAK) {
		t.Fatalf("In() empty error = %v, want %v", err, pkg.ErrNAK)
	}

	if n, err := c.Write(0x81, []byte("xyz")); err != nil || n != 3 {
		t.Fatalf("Write() = %d, %v, want 3, nil", n, err)
	}
	if _, err := c.Write(0x81, []byte("more")); !errors.Is(err, pkg.ErrWouldBlock) {
		t.Errorf("Write() while staged error = %v, want %v", err, pkg.ErrWouldBlock)
	}
	if c.Poll().InCompleteMask != 0 {
		t.Error("Poll() reported IN complete before host collected the packet")
	}

	n, err := h.In(1, buf)
	if err != nil {
		t.Fatalf("In() error = %v", err)
	}
	if got := string(buf[:n]); got != "xyz" {
		t.Errorf("In() = %q, want %q", got, "xyz")
	}

	result := c.Poll()
	if result.Event != hal.EventData || result.InCompleteMask != 1<<1 {
		t.Errorf("Poll() = %+v, want IN complete on EP1", result)
	}
	// Edge triggered.
	if got := c.Poll().InCompleteMask; got != 0 {
		t.Errorf("second Poll().InCompleteMask = %#x, want 0", got)
	}

	if _, err := c.Write(0x81, make([]byte, 9)); !errors.Is(err, pkg.ErrBufferOverflow) {
		t.Errorf("Write() oversized error = %v, want %v", err, pkg.ErrBufferOverflow)
	}
}

func TestStall(t *testing.T) {
	c := newTestController(t)
	h := attach(t, c)

	c.SetStalled(0x81, true)
	if !c.IsStalled(0x81) {
		t.Fatal("IsStalled(0x81) = false after SetStalled")
	}
	if _, err := c.Write(0x81, []byte{1}); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("Write() stalled error = %v, want %v", err, pkg.ErrStall)
	}
	if _, err := h.In(1, make([]byte, 8)); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("In() stalled error = %v, want %v", err, pkg.ErrStall)
	}

	c.SetStalled(0x01, true)
	if err := h.Out(1, []byte{1}); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("Out() stalled error = %v, want %v", err, pkg.ErrStall)
	}

	c.SetStalled(0x81, false)
	if c.IsStalled(0x81) {
		t.Error("IsStalled(0x81) = true after clear")
	}
	if c.IsStalled(0x85) {
		t.Error("IsStalled() on unallocated endpoint = true")
	}
}

func TestSetupClearsEP0Stall(t *testing.T) {
	c := newTestController(t)
	h := attach(t, c)

	c.SetStalled(0x80, true)
	c.SetStalled(0x00, true)

	setup := hal.SetupPacket{RequestType: 0x80, Request: 0x06, Value: 0x0100, Length: 18}
	if err := h.Setup(&setup); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if c.IsStalled(0x80) || c.IsStalled(0x00) {
		t.Error("EP0 still stalled after SETUP")
	}

	result := c.Poll()
	if result.SetupMask != 1 || result.OutMask != 0 {
		t.Errorf("Poll() = %+v, want SETUP on EP0 only", result)
	}

	raw := make([]byte, 8)
	n, err := c.Read(0x00, raw)
	if err != nil || n != hal.SetupPacketSize {
		t.Fatalf("Read() = %d, %v, want 8, nil", n, err)
	}
	var got hal.SetupPacket
	hal.ParseSetupPacket(raw, &got)
	if got != setup {
		t.Errorf("setup = %+v, want %+v", got, setup)
	}
}

func TestSuspendResume(t *testing.T) {
	c := newTestController(t)
	h := attach(t, c)

	h.Suspend()
	if got := c.Poll().Event; got != hal.EventSuspend {
		t.Fatalf("Poll().Event = %v, want %v", got, hal.EventSuspend)
	}

	// Traffic is invisible while suspended.
	if err := h.Out(1, []byte{1}); err != nil {
		t.Fatalf("Out() error = %v", err)
	}
	if got := c.Poll(); got != (hal.PollResult{}) {
		t.Errorf("Poll() while suspended = %+v, want zero", got)
	}

	h.Resume()
	if got := c.Poll().Event; got != hal.EventResume {
		t.Fatalf("Poll().Event = %v, want %v", got, hal.EventResume)
	}
	if got := c.Poll().OutMask; got != 1<<1 {
		t.Errorf("Poll().OutMask after resume = %#x, want %#x", got, 1<<1)
	}
}

func TestHostResetDiscardsStaged(t *testing.T) {
	c := newTestController(t)
	h := attach(t, c)

	if _, err := c.Write(0x81, []byte{1, 2}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := h.Out(1, []byte{3}); err != nil {
		t.Fatalf("Out() error = %v", err)
	}
	c.SetDeviceAddress(9)

	h.Reset()
	if h.ResetHandled() {
		t.Error("ResetHandled() = true before device processed reset")
	}
	if got := c.Poll().Event; got != hal.EventReset {
		t.Fatalf("Poll().Event = %v, want %v", got, hal.EventReset)
	}
	c.Reset()

	if got := c.Address(); got != 0 {
		t.Errorf("Address() after reset = %d, want 0", got)
	}
	if _, err := h.In(1, make([]byte, 8)); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("In() after reset error = %v, want %v", err, pkg.ErrNAK)
	}
	if _, err := c.Read(0x01, make([]byte, 8)); !errors.Is(err, pkg.ErrWouldBlock) {
		t.Errorf("Read() after reset error = %v, want %v", err, pkg.ErrWouldBlock)
	}
}

// controlResponder answers every control request on EP0 with a fixed
// payload and records OUT data stages.
type controlResponder struct {
	c        *Controller
	payload  []byte
	pending  []byte
	received []byte
	expect   int
	setups   int
}

func (r *controlResponder) pump() {
	result := r.c.Poll()
	if result.Event == hal.EventReset {
		r.c.Reset()
		return
	}

	buf := make([]byte, 8)
	if result.SetupMask&1 != 0 {
		n, _ := r.c.Read(0x00, buf)
		var setup hal.SetupPacket
		hal.ParseSetupPacket(buf[:n], &setup)
		r.setups++
		if setup.IsDeviceToHost() {
			r.pending = r.payload[:min(len(r.payload), int(setup.Length))]
			r.sendNext(true)
		} else if setup.Length == 0 {
			r.c.Write(0x80, nil)
		} else {
			r.expect = len(r.received) + int(setup.Length)
		}
		return
	}
	if result.InCompleteMask&1 != 0 {
		r.sendNext(false)
	}
	if result.OutMask&1 != 0 {
		n, _ := r.c.Read(0x00, buf)
		if n > 0 {
			r.received = append(r.received, buf[:n]...)
			if len(r.received) >= r.expect {
				r.c.Write(0x80, nil)
			}
		}
	}
}

func (r *controlResponder) sendNext(first bool) {
	if r.pending == nil {
		return
	}
	if !first && len(r.pending) == 0 {
		r.c.Write(0x80, nil)
		r.pending = nil
		return
	}
	chunk := r.pending[:min(8, len(r.pending))]
	r.c.Write(0x80, chunk)
	r.pending = r.pending[len(chunk):]
	if len(chunk) < 8 {
		r.pending = nil
	}
}

func TestControlIn(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		length  uint16
		want    []byte
	}{
		{"short", []byte("hello"), 64, []byte("hello")},
		{"multi-packet", []byte("0123456789ABCDEFxyz"), 64, []byte("0123456789ABCDEFxyz")},
		{"truncated by length", []byte("0123456789"), 4, []byte("0123")},
		{"exact packet multiple with ZLP", []byte("01234567"), 64, []byte("01234567")},
		{"exact length", []byte("0123456789ABCDEF"), 16, []byte("0123456789ABCDEF")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(t)
			h := attach(t, c)
			r := &controlResponder{c: c, payload: tt.payload}
			h.SetPump(r.pump)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			setup := hal.SetupPacket{RequestType: 0x80, Request: 0x06, Length: tt.length}
			buf := make([]byte, 64)
			n, err := h.ControlIn(ctx, &setup, buf)
			if err != nil {
				t.Fatalf("ControlIn() error = %v", err)
			}
			if !bytes.Equal(buf[:n], tt.want) {
				t.Errorf("ControlIn() = %q, want %q", buf[:n], tt.want)
			}
		})
	}
}

func TestControlOut(t *testing.T) {
	c := newTestController(t)
	h := attach(t, c)
	r := &controlResponder{c: c}
	h.SetPump(r.pump)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	data := []byte("line-coding")
	setup := hal.SetupPacket{RequestType: 0x21, Request: 0x20, Length: uint16(len(data))}
	if err := h.ControlOut(ctx, &setup, data); err != nil {
		t.Fatalf("ControlOut() error = %v", err)
	}
	if !bytes.Equal(r.received, data) {
		t.Errorf("device received %q, want %q", r.received, data)
	}

	setup = hal.SetupPacket{Request: 0x09, Value: 1}
	if err := h.ControlOut(ctx, &setup, nil); err != nil {
		t.Fatalf("ControlOut() no data error = %v", err)
	}
	if r.setups != 2 {
		t.Errorf("setups = %d, want 2", r.setups)
	}
}

func TestBulkOutSplitsPackets(t *testing.T) {
	c := newTestController(t)
	h := attach(t, c)

	var got []byte
	var packets int
	h.SetPump(func() {
		if c.Poll().OutMask&(1<<1) == 0 {
			return
		}
		buf := make([]byte, 8)
		n, _ := c.Read(0x01, buf)
		got = append(got, buf[:n]...)
		packets++
	})

	data := []byte("the quick brown fox")
	if err := h.BulkOut(context.Background(), 1, data); err != nil {
		t.Fatalf("BulkOut() error = %v", err)
	}
	// Drain the final packet.
	h.wait(context.Background())

	if !bytes.Equal(got, data) {
		t.Errorf("device received %q, want %q", got, data)
	}
	if packets != 3 {
		t.Errorf("packets = %d, want 3", packets)
	}
}

func TestTransferContextCancel(t *testing.T) {
	c := newTestController(t)
	h := attach(t, c)
	h.SetRetryInterval(time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.BulkIn(ctx, 1, make([]byte, 8))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("BulkIn() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestStringDescriptor(t *testing.T) {
	c := newTestController(t)
	h := attach(t, c)

	// "Hi" as a UTF-16LE string descriptor.
	r := &controlResponder{c: c, payload: []byte{6, 0x03, 'H', 0, 'i', 0}}
	h.SetPump(r.pump)

	got, err := h.String(context.Background(), 1)
	if err != nil {
		t.Fatalf("String() error = %v", err)
	}
	if got != "Hi" {
		t.Errorf("String() = %q, want %q", got, "Hi")
	}

	if got, err := h.String(context.Background(), 0); err != nil || got != "" {
		t.Errorf("String(0) = %q, %v, want empty", got, err)
	}
}
