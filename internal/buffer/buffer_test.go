package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfClearOnFullDrain(t *testing.T) {
	b := New(BigEndian)
	b.WriteBytes([]byte("hello"))
	require.Equal(t, 5, b.Readable())

	got := b.ReadBytes(5)
	assert.Equal(t, []byte("hello"), got)
	assert.Equal(t, 0, b.Readable())
	assert.Equal(t, 0, b.Discardable(), "buffer must self-clear once read catches write")
}

func TestPartialReadDoesNotSelfClear(t *testing.T) {
	b := New(BigEndian)
	b.WriteBytes([]byte("hello"))
	b.ReadBytes(2)
	assert.Equal(t, 2, b.Discardable())
	assert.Equal(t, 3, b.Readable())
}

func TestUnderflowReturnsZeroValue(t *testing.T) {
	b := New(BigEndian)
	v, ok := b.ReadU16()
	assert.False(t, ok)
	assert.Equal(t, uint16(0), v)
	assert.Nil(t, b.ReadBytes(1))
}

func TestBigEndianRoundTrip(t *testing.T) {
	b := New(BigEndian)
	b.WriteU16(0x1234)
	b.WriteU32(0xdeadbeef)
	b.WriteU64(0x0102030405060708)

	v16, ok := b.ReadU16()
	require.True(t, ok)
	assert.Equal(t, uint16(0x1234), v16)

	v32, ok := b.ReadU32()
	require.True(t, ok)
	assert.Equal(t, uint32(0xdeadbeef), v32)

	v64, ok := b.ReadU64()
	require.True(t, ok)
	assert.Equal(t, uint64(0x0102030405060708), v64)
}

func TestLittleEndianRoundTrip(t *testing.T) {
	b := New(LittleEndian)
	b.WriteU32(0x01020304)
	v, ok := b.ReadU32()
	require.True(t, ok)
	assert.Equal(t, uint32(0x01020304), v)
}

func TestReserveWritableGrowsAndRepacks(t *testing.T) {
	b := NewSize(BigEndian, 8)
	b.WriteBytes([]byte("abcdefgh"))
	b.ReadBytes(6)
	// Only 6 discardable + 0 writable free; ask for more than fits without growth.
	b.ReserveWritable(100)
	assert.GreaterOrEqual(t, b.Writable(), 100)
	assert.Equal(t, 2, b.Readable())
}

func TestPeekDoesNotAdvance(t *testing.T) {
	b := New(BigEndian)
	b.WriteU16(42)
	v, ok := b.PeekU16(0)
	require.True(t, ok)
	assert.Equal(t, uint16(42), v)
	assert.Equal(t, 2, b.Readable(), "peek must not consume")
}

func TestSkip(t *testing.T) {
	b := New(BigEndian)
	b.WriteBytes([]byte("abcdef"))
	b.Skip(3)
	assert.Equal(t, []byte("def"), b.ReadBytes(3))
}
