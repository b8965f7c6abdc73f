package axmlparser

import (
	"github.com/pkg/errors"
)

// Every error returned by the decoder wraps one of these. Use errors.Is to
// tell them apart.
var (
	ErrMalformedHeader       = errors.New("malformed chunk header")
	ErrUnexpectedChunkType   = errors.New("unexpected chunk type")
	ErrUnknownChunkType      = errors.New("unknown chunk type")
	ErrInvariantViolation    = errors.New("reserved field is not zero")
	ErrInvalidEncoding       = errors.New("invalid string encoding")
	ErrStringIndexOutOfRange = errors.New("string index out of range")
	ErrUnresolvedNamespace   = errors.New("unresolved namespace")
	ErrUnsupportedChunk      = errors.New("unsupported chunk kind")
)

// Some samples have manifest in plaintext, this is an error.
// 2c882a2376034ed401be082a42a21f0ac837689e7d3ab6be0afb82f44ca0b859
var ErrPlainTextManifest = errors.New("xml is in plaintext, binary form expected")

// ErrEntryNotFound is returned when an archive has no entry with the requested name.
var ErrEntryNotFound = errors.New("entry not found in archive")
