package axmlparser

import (
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	stringFlagSorted = 0x00000001
	stringFlagUtf8   = 0x00000100

	stringPoolHeaderSize = chunkHeaderSize + 5*4

	maxStringCount = 2 * 1024 * 1024
)

// StringPool is a decoded string pool chunk. Strings holds the contents of
// the shared accumulator after this pool's entries were appended to it.
type StringPool struct {
	Header ChunkHeader

	StringCount  uint32
	StyleCount   uint32
	Flags        uint32
	StringsStart uint32
	StylesStart  uint32

	StringOffsets []uint32
	StyleOffsets  []uint32

	Strings []string
}

func (p *StringPool) IsUtf8() bool {
	return p.Flags&stringFlagUtf8 != 0
}

func (p *StringPool) IsSorted() bool {
	return p.Flags&stringFlagSorted != 0
}

func (p *StringPool) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", p.Header.String())
	fmt.Fprintf(&b, "strings: %d, styles: %d, flags: 0x%08x (utf8: %v, sorted: %v)\n",
		p.StringCount, p.StyleCount, p.Flags, p.IsUtf8(), p.IsSorted())
	fmt.Fprintf(&b, "strings start: 0x%08x, styles start: 0x%08x\n", p.StringsStart, p.StylesStart)
	for i, s := range p.Strings {
		fmt.Fprintf(&b, "  [%d] %q\n", i, s)
	}
	return b.String()
}

// readStringPool decodes the pool at the cursor and appends every entry,
// empty ones included, to shared. Attribute and element names are looked up
// by position, so each offset table slot must keep its place.
func readStringPool(c *cursor, shared *[]string) (*StringPool, error) {
	h, err := readChunkHeader(c, ChunkStringTable)
	if err != nil {
		return nil, err
	}

	if err := requireHeaderSize(&h, stringPoolHeaderSize); err != nil {
		return nil, err
	}

	p := &StringPool{Header: h}
	for _, field := range []*uint32{&p.StringCount, &p.StyleCount, &p.Flags, &p.StringsStart, &p.StylesStart} {
		if *field, err = c.u32(); err != nil {
			return nil, errors.Wrap(err, "reading string pool header")
		}
	}

	if p.StringCount >= maxStringCount || p.StyleCount >= maxStringCount {
		return nil, errors.Wrapf(ErrMalformedHeader, "too many strings in this pool (%d, %d styles)", p.StringCount, p.StyleCount)
	}

	if p.StringCount != 0 && int64(p.StringsStart) >= int64(h.Size) {
		return nil, errors.Wrapf(ErrMalformedHeader, "strings start 0x%08x is past the chunk end", p.StringsStart)
	}

	if err := c.seek(h.dataStart()); err != nil {
		return nil, err
	}

	p.StringOffsets = make([]uint32, p.StringCount)
	if err := c.readStruct(p.StringOffsets); err != nil {
		return nil, errors.Wrap(err, "reading string offsets")
	}

	// Style spans are not decoded, only their offsets.
	p.StyleOffsets = make([]uint32, p.StyleCount)
	if err := c.readStruct(p.StyleOffsets); err != nil {
		return nil, errors.Wrap(err, "reading style offsets")
	}

	for i, off := range p.StringOffsets {
		start := h.Offset + int64(p.StringsStart) + int64(off)
		if start >= h.end() {
			return nil, errors.Wrapf(ErrMalformedHeader, "string %d: offset 0x%08x is past the chunk end", i, off)
		}

		if err := c.seek(start); err != nil {
			return nil, err
		}

		var s string
		if p.IsUtf8() {
			s, err = readString8(c, h.end())
		} else {
			s, err = readString16(c, h.end())
		}
		if err != nil {
			return nil, errors.Wrapf(err, "string %d at 0x%08x", i, start)
		}

		*shared = append(*shared, s)
	}

	p.Strings = append([]string(nil), (*shared)...)

	if err := c.seek(h.end()); err != nil {
		return nil, err
	}
	return p, nil
}

// If the high bit of the first byte is set, the length takes two bytes:
// the low 7 bits of the first one are the high part.
func readString8Len(c *cursor) (uint32, error) {
	high, err := c.u8()
	if err != nil {
		return 0, errors.Wrap(err, "reading string length")
	}

	if (high & 0x80) == 0 {
		return uint32(high), nil
	}

	low, err := c.u8()
	if err != nil {
		return 0, errors.Wrap(err, "reading string length")
	}
	return (uint32(high&0x7F) << 8) | uint32(low), nil
}

// Same rule as readString8Len, with 16-bit units.
func readString16Len(c *cursor) (uint32, error) {
	high, err := c.u16()
	if err != nil {
		return 0, errors.Wrap(err, "reading string length")
	}

	if (high & 0x8000) == 0 {
		return uint32(high), nil
	}

	low, err := c.u16()
	if err != nil {
		return 0, errors.Wrap(err, "reading string length")
	}
	return (uint32(high&0x7FFF) << 16) | uint32(low), nil
}

func readString8(c *cursor, end int64) (string, error) {
	// Length of the string in UTF-16 units, not needed.
	if _, err := readString8Len(c); err != nil {
		return "", err
	}

	len8, err := readString8Len(c)
	if err != nil {
		return "", err
	}

	if c.pos()+int64(len8) > end {
		return "", errors.Wrapf(ErrMalformedHeader, "string of %d bytes runs past the chunk end", len8)
	}

	buf, err := c.take(int64(len8))
	if err != nil {
		return "", err
	}

	if !utf8.Valid(buf) {
		return "", errors.Wrapf(ErrInvalidEncoding, "invalid utf8 sequence: %v", buf)
	}
	return string(buf), nil
}

func readString16(c *cursor, end int64) (string, error) {
	units, err := readString16Len(c)
	if err != nil {
		return "", err
	}

	if c.pos()+2*int64(units) > end {
		return "", errors.Wrapf(ErrMalformedHeader, "string of %d units runs past the chunk end", units)
	}

	buf := make([]uint16, units)
	if err := c.readStruct(buf); err != nil {
		return "", err
	}
	return decodeUtf16(buf)
}

// decodeUtf16 is utf16.Decode without the silent U+FFFD replacement.
func decodeUtf16(buf []uint16) (string, error) {
	for i := 0; i < len(buf); i++ {
		u := rune(buf[i])
		if !utf16.IsSurrogate(u) {
			continue
		}

		if u < 0xDC00 && i+1 < len(buf) {
			if next := rune(buf[i+1]); next >= 0xDC00 && next <= 0xDFFF {
				i++
				continue
			}
		}
		return "", errors.Wrapf(ErrInvalidEncoding, "unpaired surrogate 0x%04x at unit %d", buf[i], i)
	}
	return string(utf16.Decode(buf)), nil
}
