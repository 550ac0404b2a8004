package cdc

// TxBufferSize is the transmit ring capacity in bytes.
const TxBufferSize = 128

// ring is a byte FIFO with free-running head and tail counters. The
// capacity is a power of two no larger than 128, so uint8 arithmetic wraps
// correctly.
type ring struct {
	buf  [TxBufferSize]byte
	head uint8 // Next write position
	tail uint8 // Next read position
}

// Len returns the number of buffered bytes.
func (r *ring) Len() int {
	return int(r.head - r.tail)
}

// Free returns the number of bytes that can still be written.
func (r *ring) Free() int {
	return TxBufferSize - r.Len()
}

// Write appends as much of p as fits and returns the count written.
func (r *ring) Write(p []byte) int {
	n := min(len(p), r.Free())
	for i := 0; i < n; i++ {
		r.buf[r.head%TxBufferSize] = p[i]
		r.head++
	}
	return n
}

// Peek copies up to len(p) buffered bytes into p without consuming them.
func (r *ring) Peek(p []byte) int {
	n := min(len(p), r.Len())
	t := r.tail
	for i := 0; i < n; i++ {
		p[i] = r.buf[t%TxBufferSize]
		t++
	}
	return n
}

// Discard drops n buffered bytes.
func (r *ring) Discard(n int) {
	r.tail += uint8(min(n, r.Len()))
}

// Clear empties the ring.
func (r *ring) Clear() {
	r.head, r.tail = 0, 0
}
