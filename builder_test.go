package axmlparser

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"
)

// Helpers building little-endian chunks for the tests.

func le(vals ...interface{}) []byte {
	var b bytes.Buffer
	for _, v := range vals {
		if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
			panic(err)
		}
	}
	return b.Bytes()
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// buildChunk prepends a chunk header; headerExtra counts towards the header size.
func buildChunk(typ ChunkType, headerExtra, body []byte) []byte {
	hs := chunkHeaderSize + len(headerExtra)
	return concat(le(uint16(typ), uint16(hs), uint32(hs+len(body))), headerExtra, body)
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func encodeString16(s string) []byte {
	units := utf16.Encode([]rune(s))
	var lenField []byte
	if n := len(units); n > 0x7FFF {
		lenField = le(uint16(0x8000|(n>>16)), uint16(n&0xFFFF))
	} else {
		lenField = le(uint16(n))
	}
	return concat(lenField, le(units), le(uint16(0)))
}

func encodeLen8(n int) []byte {
	if n > 0x7F {
		return []byte{byte(0x80 | (n >> 8)), byte(n)}
	}
	return []byte{byte(n)}
}

func encodeString8(s string) []byte {
	return concat(encodeLen8(len(utf16.Encode([]rune(s)))), encodeLen8(len(s)), []byte(s), []byte{0})
}

func buildPool(flags uint32, encode func(string) []byte, strs ...string) []byte {
	var offsets, data []byte
	for _, s := range strs {
		offsets = append(offsets, le(uint32(len(data)))...)
		data = append(data, encode(s)...)
	}
	data = pad4(data)

	stringsStart := stringPoolHeaderSize + len(offsets)
	header := le(uint32(len(strs)), uint32(0), flags, uint32(stringsStart), uint32(0))
	return buildChunk(ChunkStringTable, header, concat(offsets, data))
}

func utf16Pool(strs ...string) []byte {
	return buildPool(0, encodeString16, strs...)
}

func utf8Pool(strs ...string) []byte {
	return buildPool(stringFlagUtf8, encodeString8, strs...)
}

func xmlNode(typ ChunkType, body []byte) []byte {
	return buildChunk(typ, le(uint32(1), uint32(noEntry)), body)
}

func nsStart(prefix, uri uint32) []byte {
	return xmlNode(ChunkXmlNsStart, le(prefix, uri))
}

func nsEnd(prefix, uri uint32) []byte {
	return xmlNode(ChunkXmlNsEnd, le(prefix, uri))
}

func attr(ns, name, raw uint32, typ ValueType, data uint32) []byte {
	return le(ns, name, raw, uint16(resValueSize), uint8(0), uint8(typ), data)
}

func startElem(ns, name uint32, attrs ...[]byte) []byte {
	ext := le(ns, name, uint16(20), uint16(20), uint16(len(attrs)), uint16(0), uint16(0), uint16(0))
	return xmlNode(ChunkXmlTagStart, concat(ext, concat(attrs...)))
}

func endElem(ns, name uint32) []byte {
	return xmlNode(ChunkXmlTagEnd, le(ns, name))
}

func xmlDoc(chunks ...[]byte) []byte {
	return buildChunk(ChunkAxmlFile, nil, concat(chunks...))
}

// Strings of the end to end documents.
const (
	idxManifest = iota
	idxPackage
	idxAppName
	idxAndroid
	idxAndroidUri
)

var manifestStrings = []string{"manifest", "package", "com.example.app", "android", "http://schemas.android.com/apk/res/android"}
