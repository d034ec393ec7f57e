package hid

import (
	"encoding/binary"
	"fmt"
)

// item is one decoded report descriptor item: a prefix byte plus its
// little-endian payload of 0, 1, 2 or 4 bytes.
type item struct {
	tag     Tag
	payload []byte
}

// decodeItem reads exactly one item starting at data[pos]. The second
// return value is the total number of bytes consumed (prefix + payload).
func decodeItem(data []byte, pos int) (item, int, error) {
	if pos >= len(data) {
		return item{}, 0, fmt.Errorf("item at offset %d: descriptor truncated", pos)
	}
	tag := Tag(data[pos])
	size := tag.PayloadSize()
	if pos+1+size > len(data) {
		return item{}, 0, fmt.Errorf("item 0x%02x at offset %d: payload truncated", uint8(tag), pos)
	}
	return item{
		tag:     tag,
		payload: data[pos+1 : pos+1+size],
	}, 1 + size, nil
}

// uvalue returns the payload as an unsigned little-endian integer.
// A missing payload decodes to zero.
func (it item) uvalue() uint32 {
	switch len(it.payload) {
	case 1:
		return uint32(it.payload[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(it.payload))
	case 4:
		return binary.LittleEndian.Uint32(it.payload)
	default:
		return 0
	}
}

// svalue returns the payload sign-extended from its encoded width. Only
// logical/physical minimum use this: maxima are read unsigned so that a
// one-byte 0xFF maximum means 255, not -1.
func (it item) svalue() int32 {
	switch len(it.payload) {
	case 1:
		return int32(int8(it.payload[0]))
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(it.payload)))
	case 4:
		return int32(binary.LittleEndian.Uint32(it.payload))
	default:
		return 0
	}
}
