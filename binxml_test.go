package axmlparser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func decodeAll(t *testing.T, data []byte) ([]Token, *Decoder, error) {
	t.Helper()

	dec := NewDecoder(data)
	var toks []Token
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return toks, dec, nil
		} else if err != nil {
			return toks, dec, err
		}
		toks = append(toks, tok)
	}
}

func manifestDoc(attrs ...[]byte) []byte {
	return xmlDoc(
		utf16Pool(manifestStrings...),
		nsStart(idxAndroid, idxAndroidUri),
		startElem(noEntry, idxManifest, attrs...),
		endElem(noEntry, idxManifest),
		nsEnd(idxAndroid, idxAndroidUri),
	)
}

func TestDecodeManifestEvents(t *testing.T) {
	data := manifestDoc(attr(noEntry, idxPackage, idxAppName, ValueString, idxAppName))

	toks, dec, err := decodeAll(t, data)
	if err != nil {
		t.Fatal(err)
	}

	want := []Token{
		StartNamespace{Prefix: "android", URI: manifestStrings[idxAndroidUri]},
		StartElement{Name: "manifest", Attr: []Attr{{Key: "package", Value: "com.example.app"}}},
		EndElement{Name: "manifest"},
		EndNamespace{Prefix: "android", URI: manifestStrings[idxAndroidUri]},
	}
	if !reflect.DeepEqual(toks, want) {
		t.Fatalf("got %#v\nwant %#v", toks, want)
	}

	if len(dec.StringPools) != 1 || !equalStrings(dec.Strings(), manifestStrings) {
		t.Fatalf("string pools not kept: %d, %q", len(dec.StringPools), dec.Strings())
	}

	if _, ok := dec.Namespace(manifestStrings[idxAndroidUri]); ok {
		t.Fatal("namespace should be unbound after its end")
	}
}

func firstStart(t *testing.T, data []byte) StartElement {
	t.Helper()

	toks, _, err := decodeAll(t, data)
	if err != nil {
		t.Fatal(err)
	}
	for _, tok := range toks {
		if st, ok := tok.(StartElement); ok {
			return st
		}
	}
	t.Fatal("no start element")
	return StartElement{}
}

func TestTypedAttributeValues(t *testing.T) {
	tests := []struct {
		name string
		typ  ValueType
		data uint32
		want string
	}{
		{"boolean true", ValueIntBoolean, 1, "true"},
		{"boolean false", ValueIntBoolean, 0, "false"},
		{"hex", ValueIntHex, 255, "0xff"},
		{"decimal", ValueIntDec, 31, "31"},
		{"reference", ValueReference, 0x7f020000, "type1/2130837504"},
		{"dimension", ValueDimension, 0x1001, "(unhandled dimension 0x00001001)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := firstStart(t, manifestDoc(attr(idxAndroidUri, idxPackage, noEntry, tt.typ, tt.data)))
			want := []Attr{{Key: "android:package", Value: tt.want}}
			if !reflect.DeepEqual(st.Attr, want) {
				t.Fatalf("got %#v, want %#v", st.Attr, want)
			}
		})
	}
}

func TestRawValueWinsOverTypedValue(t *testing.T) {
	// The typed value says boolean true, the raw string must still win.
	st := firstStart(t, manifestDoc(attr(noEntry, idxPackage, idxAppName, ValueIntBoolean, 1)))
	if len(st.Attr) != 1 || st.Attr[0].Value != "com.example.app" {
		t.Fatalf("got %#v", st.Attr)
	}
}

func TestAttributeOrderIsKept(t *testing.T) {
	st := firstStart(t, manifestDoc(
		attr(noEntry, idxPackage, idxAppName, ValueString, idxAppName),
		attr(idxAndroidUri, idxManifest, noEntry, ValueIntDec, 1),
		attr(noEntry, idxAndroid, noEntry, ValueIntHex, 2),
	))

	want := []Attr{
		{Key: "package", Value: "com.example.app"},
		{Key: "android:manifest", Value: "1"},
		{Key: "android", Value: "0x2"},
	}
	if !reflect.DeepEqual(st.Attr, want) {
		t.Fatalf("got %#v", st.Attr)
	}
}

func TestUnresolvedNamespace(t *testing.T) {
	// no start-namespace before the element
	data := xmlDoc(
		utf16Pool(manifestStrings...),
		startElem(noEntry, idxManifest, attr(idxAndroidUri, idxPackage, idxAppName, ValueString, 0)),
	)

	if _, _, err := decodeAll(t, data); !errors.Is(err, ErrUnresolvedNamespace) {
		t.Fatalf("expected ErrUnresolvedNamespace, got %v", err)
	}
}

func TestStringIndexOutOfRange(t *testing.T) {
	tests := map[string][]byte{
		"element name":    startElem(noEntry, 42),
		"attribute name":  startElem(noEntry, idxManifest, attr(noEntry, 42, noEntry, ValueIntDec, 0)),
		"attribute value": startElem(noEntry, idxManifest, attr(noEntry, idxPackage, 42, ValueIntDec, 0)),
		"attribute ns":    startElem(noEntry, idxManifest, attr(42, idxPackage, noEntry, ValueIntDec, 0)),
		"element ns":      startElem(42, idxManifest),
		"ns prefix":       nsStart(42, idxAndroidUri),
		"ns uri":          nsStart(idxAndroid, 42),
		"ns sentinel":     nsStart(noEntry, idxAndroidUri),
		"end name":        endElem(noEntry, 42),
	}

	for name, chunk := range tests {
		t.Run(name, func(t *testing.T) {
			data := xmlDoc(utf16Pool(manifestStrings...), chunk)
			if _, _, err := decodeAll(t, data); !errors.Is(err, ErrStringIndexOutOfRange) {
				t.Fatalf("expected ErrStringIndexOutOfRange, got %v", err)
			}
		})
	}
}

func TestStringsBeforePool(t *testing.T) {
	data := xmlDoc(startElem(noEntry, 0), utf16Pool(manifestStrings...))
	if _, _, err := decodeAll(t, data); !errors.Is(err, ErrStringIndexOutOfRange) {
		t.Fatalf("expected ErrStringIndexOutOfRange, got %v", err)
	}
}

func TestUnknownTopLevelChunk(t *testing.T) {
	data := concat(utf16Pool(manifestStrings...), le(uint16(0x0099), uint16(8), uint32(8)), startElem(noEntry, idxManifest))

	toks, _, err := decodeAll(t, data)
	if !errors.Is(err, ErrUnknownChunkType) {
		t.Fatalf("expected ErrUnknownChunkType, got %v", err)
	}
	if len(toks) != 0 {
		t.Fatalf("decoding went on past the unknown chunk: %v", toks)
	}
}

func TestUnsupportedTopLevelChunk(t *testing.T) {
	for _, id := range []ChunkType{ChunkTablePackage, ChunkTableType, ChunkTableTypeSpec, ChunkTableLibrary, ChunkXmlLast} {
		data := concat(utf16Pool(manifestStrings...), buildChunk(id, nil, nil))
		if _, _, err := decodeAll(t, data); !errors.Is(err, ErrUnsupportedChunk) {
			t.Errorf("%s: expected ErrUnsupportedChunk, got %v", id, err)
		}
	}
}

func TestResourceMapAndPaddingInStream(t *testing.T) {
	data := concat(
		xmlDoc(
			utf16Pool(manifestStrings...),
			buildChunk(ChunkResourceIds, nil, le(uint32(0x0101021b), uint32(0x0101021c))),
			startElem(noEntry, idxManifest),
			endElem(noEntry, idxManifest),
		),
		[]byte{0, 0, 0, 0},
	)

	toks, dec, err := decodeAll(t, data)
	if err != nil {
		t.Fatal(err)
	}
	if len(toks) != 2 {
		t.Fatalf("got %d tokens", len(toks))
	}
	if dec.ResourceMap == nil || len(dec.ResourceMap.ResourceIds) != 2 {
		t.Fatalf("resource map not kept: %+v", dec.ResourceMap)
	}
}

func TestCharData(t *testing.T) {
	data := xmlDoc(
		utf16Pool(manifestStrings...),
		startElem(noEntry, idxManifest),
		xmlNode(ChunkXmlText, concat(le(uint32(idxAppName)), le(uint16(8), uint8(0), uint8(ValueNull), uint32(0)))),
		endElem(noEntry, idxManifest),
	)

	toks, _, err := decodeAll(t, data)
	if err != nil {
		t.Fatal(err)
	}
	if len(toks) != 3 || toks[1] != CharData("com.example.app") {
		t.Fatalf("got %#v", toks)
	}
}

func TestAttributesPastChunkEnd(t *testing.T) {
	ext := le(uint32(noEntry), uint32(idxManifest), uint16(20), uint16(20), uint16(3), uint16(0), uint16(0), uint16(0))
	data := xmlDoc(
		utf16Pool(manifestStrings...),
		xmlNode(ChunkXmlTagStart, concat(ext, attr(noEntry, idxPackage, idxAppName, ValueString, 0))),
	)

	if _, _, err := decodeAll(t, data); !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
}

func TestAttributeBlockSizeIsNotLayout(t *testing.T) {
	attrs := concat(
		attr(noEntry, idxPackage, idxAppName, ValueString, idxAppName),
		attr(noEntry, idxAndroid, noEntry, ValueIntDec, 7),
	)
	want := []Attr{
		{Key: "package", Value: "com.example.app"},
		{Key: "android", Value: "7"},
	}

	// total attribute bytes, zero, and the usual 0x00140014
	for _, blockSize := range []uint32{40, 0, 0x00140014} {
		ext := le(uint32(noEntry), uint32(idxManifest), blockSize, uint16(2), uint16(0), uint16(0), uint16(0))
		data := xmlDoc(
			utf16Pool(manifestStrings...),
			xmlNode(ChunkXmlTagStart, concat(ext, attrs)),
		)

		st := firstStart(t, data)
		if !reflect.DeepEqual(st.Attr, want) {
			t.Fatalf("block size 0x%x: got %#v", blockSize, st.Attr)
		}
	}
}

func TestEmptyNamespacePrefix(t *testing.T) {
	strs := append(append([]string(nil), manifestStrings...), "")
	idxEmpty := uint32(len(strs) - 1)

	data := xmlDoc(
		utf16Pool(strs...),
		nsStart(idxEmpty, idxAndroidUri),
		startElem(noEntry, idxManifest, attr(idxAndroidUri, idxPackage, idxAppName, ValueString, idxAppName)),
	)

	st := firstStart(t, data)
	if want := []Attr{{Key: ":package", Value: "com.example.app"}}; !reflect.DeepEqual(st.Attr, want) {
		t.Fatalf("got %#v", st.Attr)
	}
}

func TestParseXmlNamespaceDeclarations(t *testing.T) {
	strs := append(append([]string(nil), manifestStrings...), "tools", "http://schemas.android.com/tools", "application")
	idxTools, idxToolsUri, idxApplication := uint32(5), uint32(6), uint32(7)

	data := xmlDoc(
		utf16Pool(strs...),
		nsStart(idxAndroid, idxAndroidUri),
		nsStart(idxTools, idxToolsUri),
		startElem(noEntry, idxManifest),
		startElem(noEntry, idxApplication),
		endElem(noEntry, idxApplication),
		endElem(noEntry, idxManifest),
		nsEnd(idxTools, idxToolsUri),
		startElem(noEntry, idxApplication),
		endElem(noEntry, idxApplication),
		nsEnd(idxAndroid, idxAndroidUri),
	)

	dec := NewDecoder(data)
	for i := 0; i < 3; i++ {
		if _, err := dec.Token(); err != nil {
			t.Fatal(err)
		}
	}
	wantBindings := []StartNamespace{
		{Prefix: "android", URI: strs[idxAndroidUri]},
		{Prefix: "tools", URI: strs[idxToolsUri]},
	}
	if got := dec.Bindings(); !reflect.DeepEqual(got, wantBindings) {
		t.Fatalf("bindings %#v", got)
	}

	var out bytes.Buffer
	if err := ParseXml(bytes.NewReader(data), xml.NewEncoder(&out)); err != nil {
		t.Fatal(err)
	}

	want := `<manifest xmlns:android="http://schemas.android.com/apk/res/android" xmlns:tools="http://schemas.android.com/tools">` +
		`<application></application></manifest><application></application>`
	if out.String() != want {
		t.Fatalf("got  %s\nwant %s", out.String(), want)
	}
}

func TestParseXml(t *testing.T) {
	data := manifestDoc(
		attr(noEntry, idxPackage, idxAppName, ValueString, idxAppName),
		attr(idxAndroidUri, idxManifest, noEntry, ValueIntBoolean, 1),
	)

	var out bytes.Buffer
	if err := ParseXml(bytes.NewReader(data), xml.NewEncoder(&out)); err != nil {
		t.Fatal(err)
	}

	want := `<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.app" android:manifest="true"></manifest>`
	if out.String() != want {
		t.Fatalf("got  %s\nwant %s", out.String(), want)
	}
}

func TestParseXmlUtf8Pool(t *testing.T) {
	data := xmlDoc(
		utf8Pool(manifestStrings...),
		startElem(noEntry, idxManifest, attr(noEntry, idxPackage, idxAppName, ValueString, idxAppName)),
		endElem(noEntry, idxManifest),
	)

	var out bytes.Buffer
	if err := ParseXml(bytes.NewReader(data), xml.NewEncoder(&out)); err != nil {
		t.Fatal(err)
	}
	if want := `<manifest package="com.example.app"></manifest>`; out.String() != want {
		t.Fatalf("got %s", out.String())
	}
}

func TestPlainManifest(t *testing.T) {
	plainManifests := []string{
		`<?xml version="1.0" encoding="utf-8" standalone="no"?>`,
		`<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example">`,
	}

	enc := xml.NewEncoder(io.Discard)

	for _, man := range plainManifests {
		r := strings.NewReader(man)
		if err := ParseXml(r, enc); err != ErrPlainTextManifest {
			t.Fatalf("failed to produce ErrPlainTextManifest on string '%s', got '%v' instead", man, err)
		}
	}
}
