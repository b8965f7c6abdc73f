package axmlparser

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// cursor is a forward reader over the whole document. Chunks keep offsets
// relative to their own start, so it can also be moved with seek.
type cursor struct {
	data []byte
	off  int64
}

func newCursor(data []byte) *cursor {
	return &cursor{data: data}
}

func (c *cursor) pos() int64 {
	return c.off
}

func (c *cursor) size() int64 {
	return int64(len(c.data))
}

func (c *cursor) remaining() int64 {
	return c.size() - c.off
}

func (c *cursor) Read(p []byte) (int, error) {
	if c.off >= c.size() {
		return 0, io.EOF
	}
	n := copy(p, c.data[c.off:])
	c.off += int64(n)
	return n, nil
}

func (c *cursor) seek(off int64) error {
	if off < 0 || off > c.size() {
		return errors.Wrapf(io.ErrUnexpectedEOF, "seek to 0x%08x, data is 0x%08x bytes", off, c.size())
	}
	c.off = off
	return nil
}

func (c *cursor) take(n int64) ([]byte, error) {
	if n < 0 || n > c.remaining() {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "reading %d bytes at 0x%08x", n, c.off)
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) u8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) u16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) peekU16() (uint16, error) {
	if c.remaining() < 2 {
		return 0, io.ErrUnexpectedEOF
	}
	return binary.LittleEndian.Uint16(c.data[c.off:]), nil
}

// u32At reads without moving the cursor; ok is false past the end.
func (c *cursor) u32At(off int64) (uint32, bool) {
	if off < 0 || off+4 > c.size() {
		return 0, false
	}
	return binary.LittleEndian.Uint32(c.data[off:]), true
}

// readStruct reads fixed-size little-endian data, like binary.Read.
func (c *cursor) readStruct(v interface{}) error {
	if err := binary.Read(c, binary.LittleEndian, v); err != nil {
		return errors.Wrapf(err, "reading %d bytes at 0x%08x", binary.Size(v), c.off)
	}
	return nil
}
