package bits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderByteAligned(t *testing.T) {
	r := NewReader([]byte{0x05, 0xFB})

	v, err := r.Read(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x05), v)

	v, err = r.Read(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFB), v)

	assert.Equal(t, 0, r.Remaining())
}

func TestReaderUnaligned(t *testing.T) {
	// 0b10110100: bits LSB-first are 0,0,1,0,1,1,0,1
	r := NewReader([]byte{0xB4})

	v, err := r.Read(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b100), v)

	v, err = r.Read(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b10110), v)
}

func TestReaderCrossesByteBoundary(t *testing.T) {
	r := NewReader([]byte{0xFF, 0x01})
	require.NoError(t, r.Skip(4))

	v, err := r.Read(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1F), v)
	assert.Equal(t, 12, r.Offset())
}

func TestReaderShortBuffer(t *testing.T) {
	r := NewReader([]byte{0x00})
	_, err := r.Read(9)
	assert.ErrorIs(t, err, ErrShortBuffer)

	// a failed read must not advance the cursor
	assert.Equal(t, 0, r.Offset())

	assert.ErrorIs(t, r.Skip(9), ErrShortBuffer)
}

func TestSignExtend(t *testing.T) {
	assert.Equal(t, int64(-1), SignExtend(0xFF, 8))
	assert.Equal(t, int64(127), SignExtend(0x7F, 8))
	assert.Equal(t, int64(-5), SignExtend(0xFB, 8))
	assert.Equal(t, int64(-1), SignExtend(0b1, 1))
	assert.Equal(t, int64(3), SignExtend(3, 12))
}
