// SPDX-License-Identifier: Apache-2.0

// Package byml encodes and decodes the binary document format.
//
// A file starts with a 16-byte header: a two-byte magic ("BY" for
// big-endian, "YB" for little-endian), a u16 version, then u32 offsets of the
// key table, the string table and the root node. A zero offset means the
// table or root is absent; a document without a root decodes to Null.
//
// Every node starts at a 4-byte aligned offset. Containers begin with a
// header word holding the node type in the first byte and a 24-bit entry
// count in the remaining three. Null, Bool, Int, Float, UInt and String
// values are stored inline in their parent's value slot (strings as an
// index into the string table); every other value is an absolute offset to
// the node.
package byml

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Node type bytes.
const (
	typeString         byte = 0xA0
	typeBinary         byte = 0xA1
	typeArray          byte = 0xC0
	typeMap            byte = 0xC1
	typeStringTable    byte = 0xC2
	typeIndexMap       byte = 0x20
	typeTaggedIndexMap byte = 0x21
	typeBool           byte = 0xD0
	typeInt            byte = 0xD1
	typeFloat          byte = 0xD2
	typeUInt           byte = 0xD3
	typeInt64          byte = 0xD4
	typeUInt64         byte = 0xD5
	typeDouble         byte = 0xD6
	typeNull           byte = 0xFF
)

const (
	headerSize = 16

	// MinVersion and MaxVersion bound the versions this package reads and writes.
	MinVersion = 2
	MaxVersion = 7

	// DefaultVersion is used when [Format.Version] is zero.
	DefaultVersion = 7

	// maxCount is the largest entry count a 24-bit container header holds.
	maxCount = 1<<24 - 1

	// maxDepth bounds nesting while decoding.
	maxDepth = 512

	// Children may share an offset, so a small document can describe a huge
	// tree. Decoding stops after nodesPerByte nodes per input byte, with
	// minNodes as the floor.
	nodesPerByte = 16
	minNodes     = 1 << 20
)

// Minimum versions for the node types added after version 2.
const (
	version64Bit    = 3
	versionIndexMap = 7
)

var (
	// ErrFormat indicates malformed binary input.
	ErrFormat = errors.New("malformed byml data")
	// ErrUnsupported indicates a document that cannot be represented in the requested format.
	ErrUnsupported = errors.New("unsupported byml content")
)

// FormatError is returned when binary input is malformed.
type FormatError struct {
	// Offset is the byte offset where the problem was detected.
	Offset int
	// Msg describes the problem.
	Msg string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("byml: offset %#x: %s", e.Offset, e.Msg)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// UnsupportedError is returned when a document cannot be encoded with the
// requested format.
type UnsupportedError struct {
	// Msg describes what could not be encoded.
	Msg string
}

func (e *UnsupportedError) Error() string {
	return "byml: " + e.Msg
}

func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// Endian selects the byte order of an encoded document.
// It implements pflag.Value so it can be bound to a command-line flag.
type Endian uint8

const (
	LittleEndian Endian = iota
	BigEndian
)

func (e Endian) String() string {
	switch e {
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	default:
		return fmt.Sprintf("Endian(%d)", e)
	}
}

// Set parses "little"/"le" or "big"/"be".
func (e *Endian) Set(value string) error {
	switch strings.ToLower(value) {
	case "little", "le":
		*e = LittleEndian
	case "big", "be":
		*e = BigEndian
	default:
		return fmt.Errorf("endianness %q is invalid", value)
	}
	return nil
}

// Type names the flag value type in help output.
func (e *Endian) Type() string {
	return "endian"
}

// UnmarshalText accepts the names Set does.
func (e *Endian) UnmarshalText(text []byte) error {
	return e.Set(string(text))
}

func (e Endian) order() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (e Endian) magic() string {
	if e == BigEndian {
		return "BY"
	}
	return "YB"
}

// Format describes how a document is laid out on disk.
//
// The zero value encodes little-endian with [DefaultVersion].
type Format struct {
	Endian  Endian
	Version uint16
}

func (f Format) version() uint16 {
	if f.Version == 0 {
		return DefaultVersion
	}
	return f.Version
}

// IsBinary reports whether data starts with a binary document magic.
func IsBinary(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	magic := string(data[:2])
	return magic == "BY" || magic == "YB"
}

func align4(n int) int {
	return (n + 3) &^ 3
}
