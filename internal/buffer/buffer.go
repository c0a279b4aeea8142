// Package buffer implements the growable byte buffer used by every
// connection to accumulate wire bytes between frame boundaries.
package buffer

import "encoding/binary"

// defaultExpandSize is the block size new capacity is grown by.
const defaultExpandSize = 4096

// Endianness selects the byte order used by the uN accessors.
type Endianness int

// Supported endiannesses.
const (
	BigEndian Endianness = iota
	LittleEndian
)

// Dynamic is a resizable byte ring with independent read and write cursors.
// It is not safe for concurrent use; callers serialize access (a connection
// owns exactly one Dynamic on its I/O task, per spec §4.5).
type Dynamic struct {
	buf        []byte
	readIndex  int
	writeIndex int
	expandSize int
	order      Endianness
}

// New returns a Dynamic buffer with the given endianness and default
// expansion block size.
func New(order Endianness) *Dynamic {
	return &Dynamic{expandSize: defaultExpandSize, order: order}
}

// NewSize returns a Dynamic buffer pre-allocated to cap bytes.
func NewSize(order Endianness, cap int) *Dynamic {
	return &Dynamic{buf: make([]byte, cap), expandSize: defaultExpandSize, order: order}
}

// Readable returns the number of bytes available to read.
func (d *Dynamic) Readable() int { return d.writeIndex - d.readIndex }

// Writable returns the number of bytes that can be written without growing.
func (d *Dynamic) Writable() int { return len(d.buf) - d.writeIndex }

// Discardable returns the number of bytes already consumed at the front.
func (d *Dynamic) Discardable() int { return d.readIndex }

// Clear resets both cursors without releasing the backing array.
func (d *Dynamic) Clear() {
	d.readIndex = 0
	d.writeIndex = 0
}

// selfClear applies the amortized-reuse rule: when read has caught up with
// write, both cursors reset to zero.
func (d *Dynamic) selfClear() {
	if d.readIndex == d.writeIndex {
		d.readIndex = 0
		d.writeIndex = 0
	}
}

// ReserveWritable ensures at least n writable bytes are available, growing
// and/or compacting the backing array per spec §4.1.
func (d *Dynamic) ReserveWritable(n int) {
	if d.Writable() >= n {
		return
	}

	free := d.Discardable() + d.Writable()
	if free >= n {
		// Enough room once we repack; decide whether that alone suffices or
		// we should also grow by one block to keep headroom.
		if free-n < d.expandSize {
			d.grow(d.expandSize)
		}
		d.repack()
		return
	}

	need := n - free
	blocks := (need + d.expandSize - 1) / d.expandSize
	d.grow((blocks + 1) * d.expandSize)
	d.repack()
}

func (d *Dynamic) grow(extra int) {
	nb := make([]byte, len(d.buf)+extra)
	copy(nb, d.buf)
	d.buf = nb
}

func (d *Dynamic) repack() {
	readable := d.Readable()
	if d.readIndex > 0 {
		copy(d.buf, d.buf[d.readIndex:d.writeIndex])
	}
	d.readIndex = 0
	d.writeIndex = readable
}

// WriteBytes appends p, growing the buffer if necessary.
func (d *Dynamic) WriteBytes(p []byte) {
	d.ReserveWritable(len(p))
	copy(d.buf[d.writeIndex:], p)
	d.writeIndex += len(p)
}

// ReadBytes consumes and returns n bytes, or nil if fewer than n are
// readable.
func (d *Dynamic) ReadBytes(n int) []byte {
	if d.Readable() < n {
		return nil
	}
	out := make([]byte, n)
	copy(out, d.buf[d.readIndex:d.readIndex+n])
	d.readIndex += n
	d.selfClear()
	return out
}

// Skip discards n readable bytes without copying them out.
func (d *Dynamic) Skip(n int) {
	if n > d.Readable() {
		n = d.Readable()
	}
	d.readIndex += n
	d.selfClear()
}

// PeekU8 returns the byte at offset without advancing the read cursor.
func (d *Dynamic) PeekU8(offset int) (uint8, bool) {
	if d.Readable() < offset+1 {
		return 0, false
	}
	return d.buf[d.readIndex+offset], true
}

// PeekU16 returns the uint16 at offset honoring the buffer's endianness.
func (d *Dynamic) PeekU16(offset int) (uint16, bool) {
	if d.Readable() < offset+2 {
		return 0, false
	}
	b := d.buf[d.readIndex+offset : d.readIndex+offset+2]
	if d.order == BigEndian {
		return binary.BigEndian.Uint16(b), true
	}
	return binary.LittleEndian.Uint16(b), true
}

// PeekU32 returns the uint32 at offset honoring the buffer's endianness.
func (d *Dynamic) PeekU32(offset int) (uint32, bool) {
	if d.Readable() < offset+4 {
		return 0, false
	}
	b := d.buf[d.readIndex+offset : d.readIndex+offset+4]
	if d.order == BigEndian {
		return binary.BigEndian.Uint32(b), true
	}
	return binary.LittleEndian.Uint32(b), true
}

// PeekU64 returns the uint64 at offset honoring the buffer's endianness.
func (d *Dynamic) PeekU64(offset int) (uint64, bool) {
	if d.Readable() < offset+8 {
		return 0, false
	}
	b := d.buf[d.readIndex+offset : d.readIndex+offset+8]
	if d.order == BigEndian {
		return binary.BigEndian.Uint64(b), true
	}
	return binary.LittleEndian.Uint64(b), true
}

// ReadU8 consumes a single byte.
func (d *Dynamic) ReadU8() (uint8, bool) {
	v, ok := d.PeekU8(0)
	if !ok {
		return 0, false
	}
	d.Skip(1)
	return v, true
}

// ReadU16 consumes a uint16.
func (d *Dynamic) ReadU16() (uint16, bool) {
	v, ok := d.PeekU16(0)
	if !ok {
		return 0, false
	}
	d.Skip(2)
	return v, true
}

// ReadU32 consumes a uint32.
func (d *Dynamic) ReadU32() (uint32, bool) {
	v, ok := d.PeekU32(0)
	if !ok {
		return 0, false
	}
	d.Skip(4)
	return v, true
}

// ReadU64 consumes a uint64.
func (d *Dynamic) ReadU64() (uint64, bool) {
	v, ok := d.PeekU64(0)
	if !ok {
		return 0, false
	}
	d.Skip(8)
	return v, true
}

// WriteU8 appends a single byte.
func (d *Dynamic) WriteU8(v uint8) {
	d.ReserveWritable(1)
	d.buf[d.writeIndex] = v
	d.writeIndex++
}

// WriteU16 appends a uint16 honoring the buffer's endianness.
func (d *Dynamic) WriteU16(v uint16) {
	d.ReserveWritable(2)
	b := d.buf[d.writeIndex : d.writeIndex+2]
	if d.order == BigEndian {
		binary.BigEndian.PutUint16(b, v)
	} else {
		binary.LittleEndian.PutUint16(b, v)
	}
	d.writeIndex += 2
}

// WriteU32 appends a uint32 honoring the buffer's endianness.
func (d *Dynamic) WriteU32(v uint32) {
	d.ReserveWritable(4)
	b := d.buf[d.writeIndex : d.writeIndex+4]
	if d.order == BigEndian {
		binary.BigEndian.PutUint32(b, v)
	} else {
		binary.LittleEndian.PutUint32(b, v)
	}
	d.writeIndex += 4
}

// WriteU64 appends a uint64 honoring the buffer's endianness.
func (d *Dynamic) WriteU64(v uint64) {
	d.ReserveWritable(8)
	b := d.buf[d.writeIndex : d.writeIndex+8]
	if d.order == BigEndian {
		binary.BigEndian.PutUint64(b, v)
	} else {
		binary.LittleEndian.PutUint64(b, v)
	}
	d.writeIndex += 8
}
