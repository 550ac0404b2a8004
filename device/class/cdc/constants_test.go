package cdc

import (
	"bytes"
	"testing"
)

func TestLineCoding_MarshalParse(t *testing.T) {
	lc := LineCoding{DTERate: 115200, CharFormat: StopBits2, ParityType: ParityOdd, DataBits: 7}

	var buf [LineCodingSize]byte
	if n := lc.MarshalTo(buf[:]); n != LineCodingSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, LineCodingSize)
	}
	want := []byte{0x00, 0xC2, 0x01, 0x00, StopBits2, ParityOdd, 7}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("MarshalTo() = % X, want % X", buf, want)
	}

	var parsed LineCoding
	if !ParseLineCoding(buf[:], &parsed) {
		t.Fatal("ParseLineCoding() = false")
	}
	if parsed != lc {
		t.Errorf("ParseLineCoding() = %+v, want %+v", parsed, lc)
	}

	if n := lc.MarshalTo(buf[:6]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
	if ParseLineCoding(buf[:6], &parsed) {
		t.Error("ParseLineCoding(short) = true")
	}
}

func TestLineCoding_String(t *testing.T) {
	tests := []struct {
		lc   LineCoding
		want string
	}{
		{DefaultLineCoding, "9600 8N1"},
		{LineCoding{DTERate: 115200, DataBits: 7, ParityType: ParityEven, CharFormat: StopBits2}, "115200 7E2"},
		{LineCoding{DTERate: 300, DataBits: 5, ParityType: ParitySpace, CharFormat: StopBits1_5}, "300 5S1.5"},
		{LineCoding{DTERate: 1, DataBits: 8, ParityType: 9, CharFormat: 7}, "1 8??"},
	}
	for _, tt := range tests {
		if got := tt.lc.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFunctionalDescriptors(t *testing.T) {
	got := functionalDescriptors(0, 1)
	want := []byte{
		5, 0x24, SubtypeHeader, 0x10, 0x01,
		5, 0x24, SubtypeCallManagement, 0, 1,
		4, 0x24, SubtypeACM, ACMCapLineCoding,
		5, 0x24, SubtypeUnion, 0, 1,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("functionalDescriptors() = % X, want % X", got, want)
	}
	if len(got) != functionalSize || cap(got) != functionalSize {
		t.Errorf("len = %d, cap = %d, want %d", len(got), cap(got), functionalSize)
	}

	if got := functionalDescriptors(2, 3); got[9] != 3 || got[17] != 2 || got[18] != 3 {
		t.Errorf("functionalDescriptors(2, 3) = % X", got)
	}
}

func TestRing(t *testing.T) {
	var r ring
	if r.Len() != 0 || r.Free() != TxBufferSize {
		t.Fatalf("empty ring Len() = %d, Free() = %d", r.Len(), r.Free())
	}

	data := make([]byte, TxBufferSize+10)
	for i := range data {
		data[i] = byte(i)
	}
	if n := r.Write(data); n != TxBufferSize {
		t.Errorf("Write() = %d, want %d", n, TxBufferSize)
	}
	if n := r.Write(data); n != 0 {
		t.Errorf("Write() on full ring = %d, want 0", n)
	}

	peek := make([]byte, 16)
	if n := r.Peek(peek); n != 16 || !bytes.Equal(peek, data[:16]) {
		t.Errorf("Peek() = %d % X", n, peek[:n])
	}
	if r.Len() != TxBufferSize {
		t.Errorf("Peek() consumed data: Len() = %d", r.Len())
	}

	r.Discard(100)
	if r.Len() != TxBufferSize-100 {
		t.Errorf("Len() after Discard = %d, want %d", r.Len(), TxBufferSize-100)
	}

	// Wrap around the end of the backing array.
	if n := r.Write(data[:90]); n != 90 {
		t.Errorf("Write() after Discard = %d, want 90", n)
	}
	out := make([]byte, TxBufferSize)
	n := r.Peek(out)
	want := append(append([]byte{}, data[100:TxBufferSize]...), data[:90]...)
	if !bytes.Equal(out[:n], want) {
		t.Errorf("Peek() after wrap = % X, want % X", out[:n], want)
	}

	r.Discard(TxBufferSize * 2)
	if r.Len() != 0 {
		t.Errorf("Len() after over-Discard = %d, want 0", r.Len())
	}

	r.Write(data[:5])
	r.Clear()
	if r.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", r.Len())
	}
}
