package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/cdcecho/pkg"
)

func TestArenaAlloc(t *testing.T) {
	a := NewArena(16)
	if a.Size() != 64 || a.Words() != 16 {
		t.Fatalf("Size() = %d, Words() = %d, want 64, 16", a.Size(), a.Words())
	}

	tests := []struct {
		size       int
		wantOffset int
		wantUsed   int
	}{
		{8, 0, 8},
		{5, 8, 16},  // rounded up to two words
		{1, 16, 20}, // one word
		{64 - 20, 20, 64},
	}
	for _, tt := range tests {
		r, err := a.alloc(tt.size)
		if err != nil {
			t.Fatalf("alloc(%d) error = %v", tt.size, err)
		}
		if r.Offset() != tt.wantOffset {
			t.Errorf("alloc(%d).Offset() = %d, want %d", tt.size, r.Offset(), tt.wantOffset)
		}
		if r.Len() != tt.size {
			t.Errorf("alloc(%d).Len() = %d, want %d", tt.size, r.Len(), tt.size)
		}
		if a.Used() != tt.wantUsed {
			t.Errorf("Used() after alloc(%d) = %d, want %d", tt.size, a.Used(), tt.wantUsed)
		}
	}

	_, err := a.alloc(1)
	var exhausted *ArenaExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("alloc() on full arena error = %v, want *ArenaExhaustedError", err)
	}
	if !errors.Is(err, pkg.ErrArenaExhausted) {
		t.Errorf("errors.Is(%v, ErrArenaExhausted) = false", err)
	}
	if exhausted.Requested != 4 || exhausted.Available != 0 {
		t.Errorf("ArenaExhaustedError = %+v, want Requested 4, Available 0", *exhausted)
	}
}

func TestArenaRelease(t *testing.T) {
	a := NewArena(16)
	first, _ := a.alloc(8)
	second, _ := a.alloc(6)

	a.release(first)
	if a.Used() != 16 {
		t.Errorf("Used() after releasing an older region = %d, want 16", a.Used())
	}
	a.release(second)
	if a.Used() != 8 {
		t.Errorf("Used() after releasing the last region = %d, want 8", a.Used())
	}
	r, err := a.alloc(4)
	if err != nil || r.Offset() != 8 {
		t.Errorf("alloc(4) after release = %v, %v, want offset 8", r, err)
	}
}

func TestArenaClaimOnce(t *testing.T) {
	a := NewArena(4)
	if err := a.claim(); err != nil {
		t.Fatalf("first claim() error = %v", err)
	}
	if err := a.claim(); !errors.Is(err, pkg.ErrArenaInUse) {
		t.Errorf("second claim() error = %v, want %v", err, pkg.ErrArenaInUse)
	}
}

func TestNewArenaNegative(t *testing.T) {
	if got := NewArena(-3).Size(); got != 0 {
		t.Errorf("NewArena(-3).Size() = %d, want 0", got)
	}
}

func TestRegionStoreLoad(t *testing.T) {
	tests := []struct {
		name string
		size int
		data []byte
		want []byte
	}{
		{"empty", 8, nil, []byte{}},
		{"whole words", 8, []byte("abcdefgh"), []byte("abcdefgh")},
		{"partial word", 8, []byte("abcde"), []byte("abcde")},
		{"truncated", 6, []byte("abcdefgh"), []byte("abcdef")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewArena(4)
			r, err := a.alloc(tt.size)
			if err != nil {
				t.Fatal(err)
			}
			n := r.Store(tt.data)
			if n != len(tt.want) {
				t.Fatalf("Store() = %d, want %d", n, len(tt.want))
			}
			dst := make([]byte, 16)
			got := dst[:r.Load(dst, n)]
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Load() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegionLittleEndianLayout(t *testing.T) {
	a := NewArena(2)
	r, _ := a.alloc(8)
	r.Store([]byte{0x01, 0x02, 0x03, 0x04, 0x05})
	if a.words[0] != 0x04030201 {
		t.Errorf("word 0 = 0x%08X, want 0x04030201", a.words[0])
	}
	if a.words[1] != 0x00000005 {
		t.Errorf("word 1 = 0x%08X, want 0x00000005", a.words[1])
	}
}

func TestRegionIsolation(t *testing.T) {
	a := NewArena(4)
	r1, _ := a.alloc(4)
	r2, _ := a.alloc(4)
	r1.Store([]byte("AAAAAAAA"))
	r2.Store([]byte("BBBB"))

	buf := make([]byte, 4)
	r1.Load(buf, 4)
	if string(buf) != "AAAA" {
		t.Errorf("r1.Load() = %q, want %q", buf, "AAAA")
	}
}

func BenchmarkRegionStoreLoad(b *testing.B) {
	a := NewArena(16)
	r, _ := a.alloc(64)
	data := bytes.Repeat([]byte{0xA5}, 64)
	buf := make([]byte, 64)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Store(data)
		r.Load(buf, 64)
	}
}
