package axmlparser

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// ChunkType is the 16-bit tag at the start of every chunk.
type ChunkType uint16

const (
	ChunkNull        ChunkType = 0x0000
	ChunkStringTable ChunkType = 0x0001
	ChunkTable       ChunkType = 0x0002
	ChunkAxmlFile    ChunkType = 0x0003

	ChunkXmlFirst    ChunkType = 0x0100
	ChunkXmlNsStart  ChunkType = 0x0100
	ChunkXmlNsEnd    ChunkType = 0x0101
	ChunkXmlTagStart ChunkType = 0x0102
	ChunkXmlTagEnd   ChunkType = 0x0103
	ChunkXmlText     ChunkType = 0x0104
	ChunkXmlLast     ChunkType = 0x017F

	// Optional array of resource ids, parallel to the string pool.
	ChunkResourceIds ChunkType = 0x0180

	ChunkTablePackage  ChunkType = 0x0200
	ChunkTableType     ChunkType = 0x0201
	ChunkTableTypeSpec ChunkType = 0x0202
	ChunkTableLibrary  ChunkType = 0x0203
)

const (
	chunkHeaderSize = (2 + 2 + 4)

	// Header of every XML node chunk: chunk header, line number, comment index.
	xmlNodeHeaderSize = chunkHeaderSize + 2*4

	// Index value used by the format for "no string".
	noEntry = 0xFFFFFFFF
)

var chunkTypeNames = map[ChunkType]string{
	ChunkNull:          "null",
	ChunkStringTable:   "string-pool",
	ChunkTable:         "resource-table",
	ChunkAxmlFile:      "xml-document",
	ChunkXmlNsStart:    "xml-start-namespace",
	ChunkXmlNsEnd:      "xml-end-namespace",
	ChunkXmlTagStart:   "xml-start-element",
	ChunkXmlTagEnd:     "xml-end-element",
	ChunkXmlText:       "xml-cdata",
	ChunkXmlLast:       "xml-last-chunk",
	ChunkResourceIds:   "xml-resource-map",
	ChunkTablePackage:  "table-package",
	ChunkTableType:     "table-type",
	ChunkTableTypeSpec: "table-type-spec",
	ChunkTableLibrary:  "table-library",
}

// Known reports whether t belongs to the closed set of chunk types.
func (t ChunkType) Known() bool {
	_, ok := chunkTypeNames[t]
	return ok
}

func (t ChunkType) String() string {
	if name, ok := chunkTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%04x)", uint16(t))
}

// ChunkHeader is the 8 byte prologue of every chunk. Offset is where the
// chunk starts in the decoded buffer.
type ChunkHeader struct {
	Type       ChunkType
	HeaderSize uint16
	Size       uint32

	Offset int64
}

// dataStart is where the chunk-specific header ends and the payload begins.
func (h *ChunkHeader) dataStart() int64 {
	return h.Offset + int64(h.HeaderSize)
}

func (h *ChunkHeader) end() int64 {
	return h.Offset + int64(h.Size)
}

func (h *ChunkHeader) String() string {
	return fmt.Sprintf("%s at 0x%08x: header size 0x%04x, chunk size 0x%08x", h.Type, h.Offset, h.HeaderSize, h.Size)
}

// peekChunkType decodes the type of the next chunk without moving the cursor.
// io.EOF means there is no further chunk.
func peekChunkType(c *cursor) (ChunkType, error) {
	raw, err := c.peekU16()
	if err != nil {
		return ChunkNull, io.EOF
	}

	t := ChunkType(raw)
	if !t.Known() {
		return t, errors.Wrapf(ErrUnknownChunkType, "tag 0x%04x at 0x%08x", raw, c.pos())
	}
	return t, nil
}

// readChunkHeader reads the full 8 byte header and checks that its tag is
// the expected one.
func readChunkHeader(c *cursor, expected ChunkType) (h ChunkHeader, err error) {
	h.Offset = c.pos()

	var raw uint16
	if raw, err = c.u16(); err != nil {
		return
	}
	h.Type = ChunkType(raw)

	if h.Type != expected {
		err = errors.Wrapf(ErrUnexpectedChunkType, "at 0x%08x: expected %s, got 0x%04x", h.Offset, expected, raw)
		return
	}

	if h.HeaderSize, err = c.u16(); err != nil {
		return
	}

	if h.Size, err = c.u32(); err != nil {
		return
	}

	switch {
	case h.HeaderSize < chunkHeaderSize:
		err = errors.Wrapf(ErrMalformedHeader, "%s: header size %d is smaller than %d", h.String(), h.HeaderSize, chunkHeaderSize)
	case h.Size < chunkHeaderSize:
		err = errors.Wrapf(ErrMalformedHeader, "%s: chunk size %d is smaller than %d", h.String(), h.Size, chunkHeaderSize)
	case h.Size < uint32(h.HeaderSize):
		err = errors.Wrapf(ErrMalformedHeader, "%s: chunk size is smaller than header size", h.String())
	case h.end() > c.size():
		err = errors.Wrapf(ErrMalformedHeader, "%s: chunk ends past the end of data (0x%08x)", h.String(), c.size())
	}
	return
}

// requireHeaderSize fails when the chunk announces a header shorter than the
// fixed fields its decoder reads.
func requireHeaderSize(h *ChunkHeader, min int) error {
	if int(h.HeaderSize) < min {
		return errors.Wrapf(ErrMalformedHeader, "%s: header size %d, need at least %d", h.String(), h.HeaderSize, min)
	}
	return nil
}
