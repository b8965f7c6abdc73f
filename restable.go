package axmlparser

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	resTableHeaderSize = chunkHeaderSize + 4

	packageNameUnits = 128

	// typeIdOffset was added later, older packages have the shorter header.
	packageHeaderSizeOld = chunkHeaderSize + 4 + 2*packageNameUnits + 4*4
	packageHeaderSize    = packageHeaderSizeOld + 4
)

// ResourceTable is the top chunk of resources.arsc: a global value string
// pool followed by packages.
type ResourceTable struct {
	Header       ChunkHeader
	PackageCount uint32

	StringPool *StringPool
	Strings    []string

	Packages []*ResTablePackage
}

// ResTablePackage is the header of one package of a resource table, plus its
// type and key name pools.
type ResTablePackage struct {
	Header ChunkHeader

	// 0 means this is not a base package.
	Id      uint32
	RawName [packageNameUnits]uint16
	Name    string

	// Offsets of the type and key string pools, relative to the package start.
	TypeStrings    uint32
	LastPublicType uint32
	KeyStrings     uint32
	LastPublicKey  uint32
	TypeIdOffset   uint32

	TypeNames []string
	KeyNames  []string
}

func (p *ResTablePackage) String() string {
	return fmt.Sprintf("package 0x%02x %q: %d types, %d keys, type strings at 0x%x, key strings at 0x%x",
		p.Id, p.Name, len(p.TypeNames), len(p.KeyNames), p.TypeStrings, p.KeyStrings)
}

// ParseResourceTable decodes resources.arsc. Type, type-spec and library
// chunks are not decoded and fail with ErrUnsupportedChunk.
func ParseResourceTable(r io.Reader) (*ResourceTable, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading resource table")
	}

	c := newCursor(data)
	if _, err := peekChunkType(c); err == io.EOF {
		return nil, errors.Wrap(io.ErrUnexpectedEOF, "empty resource table")
	} else if err != nil {
		return nil, err
	}
	return readResourceTable(c)
}

func readResourceTable(c *cursor) (*ResourceTable, error) {
	h, err := readChunkHeader(c, ChunkTable)
	if err != nil {
		return nil, err
	}

	if err := requireHeaderSize(&h, resTableHeaderSize); err != nil {
		return nil, err
	}

	t := &ResourceTable{Header: h}
	if t.PackageCount, err = c.u32(); err != nil {
		return nil, errors.Wrap(err, "reading package count")
	}

	if err := c.seek(h.dataStart()); err != nil {
		return nil, err
	}

	// Only packages count against PackageCount. The value string pool comes
	// before them and would otherwise use up the slot of a one-package table.
	for uint32(len(t.Packages)) < t.PackageCount && c.pos() < h.end() {
		off := c.pos()
		id, err := peekChunkType(c)
		if err == io.EOF {
			return nil, errors.Wrapf(io.ErrUnexpectedEOF, "resource table: %d of %d packages read", len(t.Packages), t.PackageCount)
		} else if err != nil {
			return nil, err
		}

		switch id {
		case ChunkStringTable:
			p, err := readStringPool(c, &t.Strings)
			if err != nil {
				return nil, errors.Wrapf(err, "table string pool at 0x%08x", off)
			}
			if t.StringPool == nil {
				t.StringPool = p
			}
		case ChunkTablePackage:
			pkg, err := readResTablePackage(c)
			if err != nil {
				return nil, errors.Wrapf(err, "package %d at 0x%08x", len(t.Packages), off)
			}
			t.Packages = append(t.Packages, pkg)
		default:
			return nil, errors.Wrapf(ErrUnexpectedChunkType, "%s at 0x%08x inside a resource table", id, off)
		}
	}

	if err := c.seek(h.end()); err != nil {
		return nil, err
	}
	return t, nil
}

func readResTablePackage(c *cursor) (*ResTablePackage, error) {
	h, err := readChunkHeader(c, ChunkTablePackage)
	if err != nil {
		return nil, err
	}

	if err := requireHeaderSize(&h, packageHeaderSizeOld); err != nil {
		return nil, err
	}

	p := &ResTablePackage{Header: h}
	if p.Id, err = c.u32(); err != nil {
		return nil, err
	}

	// The name is a fixed width field, all units are consumed whatever the
	// position of the terminator.
	if err := c.readStruct(p.RawName[:]); err != nil {
		return nil, errors.Wrap(err, "reading package name")
	}

	name := p.RawName[:]
	for i, u := range name {
		if u == 0 {
			name = name[:i]
			break
		}
	}
	if p.Name, err = decodeUtf16(name); err != nil {
		return nil, errors.Wrap(err, "package name")
	}

	for _, field := range []*uint32{&p.TypeStrings, &p.LastPublicType, &p.KeyStrings, &p.LastPublicKey} {
		if *field, err = c.u32(); err != nil {
			return nil, err
		}
	}

	if h.HeaderSize >= packageHeaderSize {
		if p.TypeIdOffset, err = c.u32(); err != nil {
			return nil, err
		}
	}

	if err := c.seek(h.dataStart()); err != nil {
		return nil, err
	}

	for c.pos() < h.end() {
		off := c.pos()
		id, err := peekChunkType(c)
		if err == io.EOF {
			return nil, errors.Wrapf(io.ErrUnexpectedEOF, "package %q ends early", p.Name)
		} else if err != nil {
			return nil, err
		}

		switch id {
		case ChunkStringTable:
			names := &p.TypeNames
			if uint32(off-h.Offset) == p.KeyStrings {
				names = &p.KeyNames
			}
			if _, err := readStringPool(c, names); err != nil {
				return nil, errors.Wrapf(err, "package %q string pool at 0x%08x", p.Name, off)
			}
		case ChunkTableType, ChunkTableTypeSpec, ChunkTableLibrary:
			return nil, errors.Wrapf(ErrUnsupportedChunk, "%s at 0x%08x in package %q", id, off, p.Name)
		default:
			return nil, errors.Wrapf(ErrUnexpectedChunkType, "%s at 0x%08x inside package %q", id, off, p.Name)
		}
	}

	return p, c.seek(h.end())
}

func (t *ResourceTable) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", t.Header.String())
	fmt.Fprintf(&b, "packages: %d, value strings: %d\n", t.PackageCount, len(t.Strings))
	for _, p := range t.Packages {
		fmt.Fprintf(&b, "  %s\n", p.String())
	}
	return b.String()
}
