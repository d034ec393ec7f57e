// Package bits provides a bit-granular cursor over a byte buffer.
//
// HID input reports pack fields at arbitrary bit offsets, LSB-first within
// each byte, bytes consumed low-to-high. The Reader keeps a running bit
// offset so that consecutive reads walk a report exactly the way the
// descriptor laid it out.
package bits

import (
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a read or skip would run past the end of
// the underlying buffer.
var ErrShortBuffer = errors.New("bits: read past end of buffer")

type Reader struct {
	data []byte
	off  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the current position in bits.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bits.
func (r *Reader) Remaining() int {
	return len(r.data)*8 - r.off
}

// Read extracts the next n bits (0 < n <= 64) as an unsigned value.
// Bit 0 of the result is the first bit consumed.
func (r *Reader) Read(n int) (uint64, error) {
	if n <= 0 || n > 64 {
		return 0, fmt.Errorf("bits: invalid read size %d", n)
	}
	if r.off+n > len(r.data)*8 {
		return 0, ErrShortBuffer
	}
	var v uint64
	for i := 0; i < n; i++ {
		pos := r.off + i
		if r.data[pos/8]&(1<<(pos%8)) != 0 {
			v |= 1 << i
		}
	}
	r.off += n
	return v, nil
}

// Skip advances the cursor by n bits without extracting anything.
func (r *Reader) Skip(n int) error {
	if n < 0 {
		return fmt.Errorf("bits: invalid skip size %d", n)
	}
	if r.off+n > len(r.data)*8 {
		return ErrShortBuffer
	}
	r.off += n
	return nil
}

// SignExtend interprets the low n bits of v as a two's-complement value.
func SignExtend(v uint64, n int) int64 {
	if n <= 0 || n >= 64 {
		return int64(v)
	}
	if v&(1<<(n-1)) != 0 {
		v |= ^uint64(0) << n
	}
	return int64(v)
}
