package axmlparser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/elliotchance/orderedmap/v3"
	"github.com/pkg/errors"
)

// Tokens returned by Decoder.Token.
type (
	StartNamespace struct {
		Prefix string
		URI    string
	}

	EndNamespace struct {
		Prefix string
		URI    string
	}

	// Attr keys are "prefix:name" for namespaced attributes, plain "name" otherwise.
	Attr struct {
		Key   string
		Value string
	}

	StartElement struct {
		Name string
		Attr []Attr
	}

	EndElement struct {
		Name string
	}

	CharData string
)

// Token is one of StartNamespace, EndNamespace, StartElement, EndElement or CharData.
type Token interface{}

// Decoder walks a binary XML document chunk by chunk. String pools, the
// resource map and resource tables found on the way are kept for inspection.
type Decoder struct {
	// Chunk traces are logged at debug level. Defaults to log.Log.
	Logger log.Interface

	StringPools []*StringPool
	ResourceMap *ResourceMap
	Table       *ResourceTable

	c          *cursor
	strings    []string
	namespaces *orderedmap.OrderedMap[string, string]
}

// NewDecoder returns a decoder over a whole binary XML document.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{
		c:          newCursor(data),
		namespaces: orderedmap.NewOrderedMap[string, string](),
	}
}

// Strings returns every string decoded so far, indexed the way the document
// refers to them.
func (d *Decoder) Strings() []string {
	return d.strings
}

// Namespace returns the prefix currently bound to uri.
func (d *Decoder) Namespace(uri string) (string, bool) {
	return d.namespaces.Get(uri)
}

// Bindings returns the namespaces in scope, in the order they were declared.
func (d *Decoder) Bindings() []StartNamespace {
	res := make([]StartNamespace, 0, d.namespaces.Len())
	for el := d.namespaces.Front(); el != nil; el = el.Next() {
		res = append(res, StartNamespace{Prefix: el.Value, URI: el.Key})
	}
	return res
}

func (d *Decoder) logger() log.Interface {
	if d.Logger == nil {
		return log.Log
	}
	return d.Logger
}

func (d *Decoder) trace(t ChunkType, off int64) {
	fields := log.Fields{
		"type":   t.String(),
		"offset": fmt.Sprintf("0x%08x", off),
	}
	if size, ok := d.c.u32At(off + 4); ok && t != ChunkNull {
		fields["size"] = humanize.Bytes(uint64(size))
	}
	d.logger().WithFields(fields).Debug("chunk")
}

// Token returns the next XML event. It returns io.EOF once the data runs out
// between two chunks; any other error is fatal to the document.
func (d *Decoder) Token() (Token, error) {
	for {
		off := d.c.pos()
		id, err := peekChunkType(d.c)
		if err == io.EOF {
			return nil, io.EOF
		} else if err != nil {
			return nil, err
		}

		d.trace(id, off)

		tok, err := d.parseChunk(id)
		if err != nil {
			return nil, errors.Wrapf(err, "chunk 0x%04x at 0x%08x", uint16(id), off)
		}

		if tok != nil {
			return tok, nil
		}
	}
}

func (d *Decoder) parseChunk(id ChunkType) (Token, error) {
	switch id {
	case ChunkNull:
		// padding, skip the tag only
		return nil, d.c.seek(d.c.pos() + 2)
	case ChunkAxmlFile:
		// Container of the whole document, its children follow the header.
		h, err := readChunkHeader(d.c, id)
		if err != nil {
			return nil, err
		}
		return nil, d.c.seek(h.dataStart())
	case ChunkStringTable:
		p, err := readStringPool(d.c, &d.strings)
		if err != nil {
			return nil, err
		}
		d.StringPools = append(d.StringPools, p)
		return nil, nil
	case ChunkResourceIds:
		m, err := readResourceMap(d.c)
		if err != nil {
			return nil, err
		}
		d.ResourceMap = m
		return nil, nil
	case ChunkTable:
		t, err := readResourceTable(d.c)
		if err != nil {
			return nil, err
		}
		d.Table = t
		return nil, nil
	case ChunkXmlNsStart:
		return d.parseNsStart()
	case ChunkXmlNsEnd:
		return d.parseNsEnd()
	case ChunkXmlTagStart:
		return d.parseTagStart()
	case ChunkXmlTagEnd:
		return d.parseTagEnd()
	case ChunkXmlText:
		return d.parseText()
	}
	return nil, errors.Wrapf(ErrUnsupportedChunk, "%s is not valid at this level", id)
}

func (d *Decoder) getString(idx uint32) (string, error) {
	if idx == noEntry || idx >= uint32(len(d.strings)) {
		return "", errors.Wrapf(ErrStringIndexOutOfRange, "index %d, %d strings known", int64(idx), len(d.strings))
	}
	return d.strings[idx], nil
}

// getOptionalString resolves idx unless it is the "no string" sentinel.
func (d *Decoder) getOptionalString(idx uint32) (string, bool, error) {
	if idx == noEntry {
		return "", false, nil
	}
	s, err := d.getString(idx)
	return s, err == nil, err
}

// readXmlNode reads the header shared by all XML node chunks and leaves the
// cursor at the node's extension.
func (d *Decoder) readXmlNode(id ChunkType) (ChunkHeader, error) {
	h, err := readChunkHeader(d.c, id)
	if err != nil {
		return h, err
	}

	if err := requireHeaderSize(&h, xmlNodeHeaderSize); err != nil {
		return h, err
	}

	// line number and comment index are not used
	return h, d.c.seek(h.dataStart())
}

func (d *Decoder) readIndexPair() (a, b uint32, err error) {
	if a, err = d.c.u32(); err != nil {
		return
	}
	b, err = d.c.u32()
	return
}

func (d *Decoder) parseNsStart() (Token, error) {
	h, err := d.readXmlNode(ChunkXmlNsStart)
	if err != nil {
		return nil, err
	}

	prefixIdx, uriIdx, err := d.readIndexPair()
	if err != nil {
		return nil, err
	}

	prefix, err := d.getString(prefixIdx)
	if err != nil {
		return nil, errors.Wrap(err, "namespace prefix")
	}

	uri, err := d.getString(uriIdx)
	if err != nil {
		return nil, errors.Wrap(err, "namespace uri")
	}

	d.namespaces.Set(uri, prefix)
	return StartNamespace{Prefix: prefix, URI: uri}, d.c.seek(h.end())
}

func (d *Decoder) parseNsEnd() (Token, error) {
	h, err := d.readXmlNode(ChunkXmlNsEnd)
	if err != nil {
		return nil, err
	}

	prefixIdx, uriIdx, err := d.readIndexPair()
	if err != nil {
		return nil, err
	}

	prefix, err := d.getString(prefixIdx)
	if err != nil {
		return nil, errors.Wrap(err, "namespace prefix")
	}

	uri, err := d.getString(uriIdx)
	if err != nil {
		return nil, errors.Wrap(err, "namespace uri")
	}

	if bound, ok := d.namespaces.Get(uri); ok && bound == prefix {
		d.namespaces.Delete(uri)
	}
	return EndNamespace{Prefix: prefix, URI: uri}, d.c.seek(h.end())
}

const (
	attrSize = 3*4 + resValueSize

	binarySizeOfElementHeader = 2*4 + 4 + 4*2
)

func (d *Decoder) parseTagStart() (Token, error) {
	h, err := d.readXmlNode(ChunkXmlTagStart)
	if err != nil {
		return nil, err
	}
	extStart := d.c.pos()

	var ext struct {
		NamespaceIdx uint32
		NameIdx      uint32
		// Writers disagree on what this holds, attributes always follow
		// the extension back to back.
		AttrBlockSize uint32
		AttrCount     uint16
		IdIndex       uint16
		ClassIndex    uint16
		StyleIndex    uint16
	}
	if err := d.c.readStruct(&ext); err != nil {
		return nil, errors.Wrap(err, "reading element header")
	}

	if _, _, err := d.getOptionalString(ext.NamespaceIdx); err != nil {
		return nil, errors.Wrap(err, "element namespace")
	}

	name, err := d.getString(ext.NameIdx)
	if err != nil {
		return nil, errors.Wrap(err, "element name")
	}

	attrStart := extStart + binarySizeOfElementHeader
	if attrStart+int64(ext.AttrCount)*attrSize > h.end() {
		return nil, errors.Wrapf(ErrMalformedHeader, "%d attributes of <%s> run past the chunk end", ext.AttrCount, name)
	}

	tok := StartElement{Name: name}
	for i := 0; i < int(ext.AttrCount); i++ {
		attr, err := d.parseAttr()
		if err != nil {
			return nil, errors.Wrapf(err, "attribute %d of <%s>", i, name)
		}
		tok.Attr = append(tok.Attr, attr)
	}

	return tok, d.c.seek(h.end())
}

func (d *Decoder) parseAttr() (Attr, error) {
	var idx struct {
		NamespaceIdx uint32
		NameIdx      uint32
		RawValueIdx  uint32
	}
	if err := d.c.readStruct(&idx); err != nil {
		return Attr{}, err
	}

	// Always consumed, even when the raw string wins.
	value, err := readResValue(d.c)
	if err != nil {
		return Attr{}, err
	}

	var attr Attr
	if attr.Key, err = d.getString(idx.NameIdx); err != nil {
		return attr, errors.Wrap(err, "name")
	}

	uri, hasNs, err := d.getOptionalString(idx.NamespaceIdx)
	if err != nil {
		return attr, errors.Wrap(err, "namespace")
	}

	if hasNs {
		prefix, ok := d.namespaces.Get(uri)
		if !ok {
			return attr, errors.Wrapf(ErrUnresolvedNamespace, "%q of attribute %q", uri, attr.Key)
		}
		attr.Key = prefix + ":" + attr.Key
	}

	raw, hasRaw, err := d.getOptionalString(idx.RawValueIdx)
	if err != nil {
		return attr, errors.Wrap(err, "raw value")
	}

	if hasRaw {
		attr.Value = raw
	} else {
		attr.Value = value.String()
	}
	return attr, nil
}

func (d *Decoder) parseTagEnd() (Token, error) {
	h, err := d.readXmlNode(ChunkXmlTagEnd)
	if err != nil {
		return nil, err
	}

	namespaceIdx, nameIdx, err := d.readIndexPair()
	if err != nil {
		return nil, err
	}

	if _, _, err := d.getOptionalString(namespaceIdx); err != nil {
		return nil, errors.Wrap(err, "element namespace")
	}

	name, err := d.getString(nameIdx)
	if err != nil {
		return nil, errors.Wrap(err, "element name")
	}
	return EndElement{Name: name}, d.c.seek(h.end())
}

func (d *Decoder) parseText() (Token, error) {
	h, err := d.readXmlNode(ChunkXmlText)
	if err != nil {
		return nil, err
	}

	idx, err := d.c.u32()
	if err != nil {
		return nil, err
	}

	value, err := readResValue(d.c)
	if err != nil {
		return nil, err
	}

	text, hasText, err := d.getOptionalString(idx)
	if err != nil {
		return nil, errors.Wrap(err, "text")
	}

	if !hasText {
		text = value.String()
	}
	return CharData(text), d.c.seek(h.end())
}

// Parse the binary Xml format and feed it to enc as encoding/xml tokens.
// Namespaces are declared as xmlns attributes on the first element in their
// scope, in declaration order.
func ParseXml(r io.Reader, enc ManifestEncoder) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading binary xml")
	}

	if isPlainText(data) {
		return ErrPlainTextManifest
	}

	defer enc.Flush()

	dec := NewDecoder(data)

	// uri -> prefix already written as an xmlns attribute
	declared := make(map[string]string)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}

		switch t := tok.(type) {
		case EndNamespace:
			if _, ok := dec.Namespace(t.URI); !ok {
				delete(declared, t.URI)
			}
		case StartElement:
			start := xml.StartElement{Name: xml.Name{Local: t.Name}}

			for _, ns := range dec.Bindings() {
				if prefix, ok := declared[ns.URI]; ok && prefix == ns.Prefix {
					continue
				}
				declared[ns.URI] = ns.Prefix

				key := "xmlns"
				if ns.Prefix != "" {
					key += ":" + ns.Prefix
				}
				start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: key}, Value: ns.URI})
			}

			for _, a := range t.Attr {
				start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: a.Key}, Value: a.Value})
			}
			err = enc.EncodeToken(start)
		case EndElement:
			err = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: t.Name}})
		case CharData:
			err = enc.EncodeToken(xml.CharData(t))
		}

		if err != nil {
			return err
		}
	}

	return enc.Flush()
}

func isPlainText(data []byte) bool {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	s := string(data[:min(len(data), 8)])
	return strings.HasPrefix(s, "<?xml ") || strings.HasPrefix(s, "<manif")
}
