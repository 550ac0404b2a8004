package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/cdcecho/pkg"
)

// DefaultArenaWords is the reference endpoint arena size (4 KiB).
const DefaultArenaWords = 1024

// wordSize is the size of one arena word in bytes.
const wordSize = 4

// Arena is endpoint packet memory: a fixed array of 32-bit words created
// once at startup. Exactly one BusAllocator may claim it, and regions are
// carved from it word-aligned in allocation order. An arena never grows.
type Arena struct {
	words   []uint32
	next    int // Index of the first free word
	claimed bool
}

// NewArena creates an arena of the given number of words.
func NewArena(words int) *Arena {
	if words < 0 {
		words = 0
	}
	return &Arena{words: make([]uint32, words)}
}

// Words returns the arena capacity in words.
func (a *Arena) Words() int {
	return len(a.words)
}

// Size returns the arena capacity in bytes.
func (a *Arena) Size() int {
	return len(a.words) * wordSize
}

// Used returns the number of bytes handed out to regions.
func (a *Arena) Used() int {
	return a.next * wordSize
}

// Available returns the number of bytes still free.
func (a *Arena) Available() int {
	return (len(a.words) - a.next) * wordSize
}

// claim marks the arena as owned by a bus allocator.
func (a *Arena) claim() error {
	if a.claimed {
		return pkg.ErrArenaInUse
	}
	a.claimed = true
	return nil
}

// alloc reserves size bytes, rounded up to whole words.
func (a *Arena) alloc(size int) (*Region, error) {
	n := (size + wordSize - 1) / wordSize
	if a.next+n > len(a.words) {
		return nil, &ArenaExhaustedError{
			Requested: n * wordSize,
			Available: a.Available(),
		}
	}
	r := &Region{
		words:  a.words[a.next : a.next+n : a.next+n],
		offset: a.next * wordSize,
		size:   size,
	}
	a.next += n
	return r, nil
}

// release returns r to the arena. Only the most recent region can be
// released; any other is left in place.
func (a *Arena) release(r *Region) {
	start := r.offset / wordSize
	if start+len(r.words) == a.next {
		a.next = start
	}
}

// ArenaExhaustedError reports an endpoint buffer that does not fit in the
// remaining arena space.
type ArenaExhaustedError struct {
	Requested int // Bytes requested, rounded to words
	Available int // Bytes left in the arena
}

func (e *ArenaExhaustedError) Error() string {
	return fmt.Sprintf("endpoint arena exhausted: requested %d bytes, %d available",
		e.Requested, e.Available)
}

func (e *ArenaExhaustedError) Unwrap() error {
	return pkg.ErrArenaExhausted
}

// Region is a word-aligned slice of the arena backing one endpoint.
// Bytes are packed little-endian into words, the layout USB peripherals
// with dedicated packet RAM use.
type Region struct {
	words  []uint32
	offset int // Byte offset within the arena
	size   int
}

// Len returns the region capacity in bytes.
func (r *Region) Len() int {
	return r.size
}

// Offset returns the region's byte offset within its arena.
func (r *Region) Offset() int {
	return r.offset
}

// Store packs data into the region and returns the number of bytes stored.
func (r *Region) Store(data []byte) int {
	n := min(len(data), r.size)
	full := n / wordSize
	for i := 0; i < full; i++ {
		r.words[i] = binary.LittleEndian.Uint32(data[i*wordSize:])
	}
	if rem := n % wordSize; rem != 0 {
		var w uint32
		for j := 0; j < rem; j++ {
			w |= uint32(data[full*wordSize+j]) << (8 * j)
		}
		r.words[full] = w
	}
	return n
}

// Load unpacks the first n bytes of the region into dst and returns the
// number of bytes copied.
func (r *Region) Load(dst []byte, n int) int {
	n = min(n, len(dst), r.size)
	if n <= 0 {
		return 0
	}
	full := n / wordSize
	for i := 0; i < full; i++ {
		binary.LittleEndian.PutUint32(dst[i*wordSize:], r.words[i])
	}
	if rem := n % wordSize; rem != 0 {
		w := r.words[full]
		for j := 0; j < rem; j++ {
			dst[full*wordSize+j] = byte(w >> (8 * j))
		}
	}
	return n
}
