// SPDX-License-Identifier: Apache-2.0

package byml

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sam-fredrickson/bymlmerge"
)

// Decode parses a binary document and reports the format it was stored in,
// so the caller can write the result back the same way.
func Decode(data []byte) (bymlmerge.Node, Format, error) {
	if len(data) < headerSize {
		return nil, Format{}, &FormatError{Offset: 0, Msg: "too short for header"}
	}

	var f Format
	switch string(data[:2]) {
	case "BY":
		f.Endian = BigEndian
	case "YB":
		f.Endian = LittleEndian
	default:
		return nil, Format{}, &FormatError{Offset: 0, Msg: fmt.Sprintf("bad magic %q", data[:2])}
	}

	r := &reader{
		data:     data,
		order:    f.Endian.order(),
		big:      f.Endian == BigEndian,
		maxNodes: max(minNodes, nodesPerByte*len(data)),
	}
	f.Version = r.order.Uint16(data[2:4])
	if f.Version < MinVersion || f.Version > MaxVersion {
		return nil, f, &FormatError{Offset: 2, Msg: fmt.Sprintf("unsupported version %d", f.Version)}
	}
	r.version = f.Version

	keyTable := int(r.order.Uint32(data[4:8]))
	stringTable := int(r.order.Uint32(data[8:12]))
	rootOffset := int(r.order.Uint32(data[12:16]))

	var err error
	if keyTable != 0 {
		if r.keys, err = r.stringTable(keyTable); err != nil {
			return nil, f, err
		}
	}
	if stringTable != 0 {
		if r.strs, err = r.stringTable(stringTable); err != nil {
			return nil, f, err
		}
	}

	if rootOffset == 0 {
		return bymlmerge.Null{}, f, nil
	}
	typ, err := r.byteAt(rootOffset)
	if err != nil {
		return nil, f, err
	}
	if !isContainer(typ) {
		return nil, f, &FormatError{Offset: rootOffset, Msg: fmt.Sprintf("root node type %#02x is not a container", typ)}
	}
	root, err := r.container(rootOffset, typ)
	if err != nil {
		return nil, f, err
	}
	return root, f, nil
}

func isContainer(typ byte) bool {
	switch typ {
	case typeArray, typeMap, typeIndexMap, typeTaggedIndexMap:
		return true
	}
	return false
}

type reader struct {
	data    []byte
	order   binary.ByteOrder
	big     bool
	version uint16
	keys    []string
	strs    []string
	depth   int

	// nodes counts decoded values against maxNodes.
	nodes    int
	maxNodes int
}

func (r *reader) errorf(off int, format string, args ...any) error {
	return &FormatError{Offset: off, Msg: fmt.Sprintf(format, args...)}
}

// need checks that n bytes starting at off lie within the buffer.
func (r *reader) need(off, n int) error {
	if off < 0 || n < 0 || off > len(r.data) || n > len(r.data)-off {
		return r.errorf(off, "%d bytes past end of data", n)
	}
	return nil
}

func (r *reader) byteAt(off int) (byte, error) {
	if err := r.need(off, 1); err != nil {
		return 0, err
	}
	return r.data[off], nil
}

func (r *reader) u24(off int) (int, error) {
	if err := r.need(off, 3); err != nil {
		return 0, err
	}
	return int(getUint24(r.data[off:], r.big)), nil
}

func (r *reader) u32(off int) (uint32, error) {
	if err := r.need(off, 4); err != nil {
		return 0, err
	}
	return r.order.Uint32(r.data[off:]), nil
}

func (r *reader) u64(off int) (uint64, error) {
	if err := r.need(off, 8); err != nil {
		return 0, err
	}
	return r.order.Uint64(r.data[off:]), nil
}

// header reads a container header, checking the node type and that the
// fixed-size part of the container fits in the buffer.
func (r *reader) header(off int, typ byte, entrySize, trailer int) (int, error) {
	actual, err := r.byteAt(off)
	if err != nil {
		return 0, err
	}
	if actual != typ {
		return 0, r.errorf(off, "expected node type %#02x, found %#02x", typ, actual)
	}
	count, err := r.u24(off + 1)
	if err != nil {
		return 0, err
	}
	if err := r.need(off, 4+count*entrySize+count*trailer); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *reader) stringTable(off int) ([]string, error) {
	count, err := r.header(off, typeStringTable, 4, 0)
	if err != nil {
		return nil, err
	}
	if err := r.need(off+4+4*count, 4); err != nil {
		return nil, err
	}

	out := make([]string, count)
	for i := range out {
		rel, _ := r.u32(off + 4 + 4*i)
		start := off + int(rel)
		if err := r.need(start, 1); err != nil {
			return nil, err
		}
		end := bytes.IndexByte(r.data[start:], 0)
		if end < 0 {
			return nil, r.errorf(start, "unterminated string")
		}
		out[i] = string(r.data[start : start+end])
	}
	return out, nil
}

func (r *reader) container(off int, typ byte) (bymlmerge.Node, error) {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > maxDepth {
		return nil, r.errorf(off, "nesting deeper than %d", maxDepth)
	}

	switch typ {
	case typeArray:
		return r.array(off)
	case typeMap:
		return r.mapping(off)
	case typeIndexMap:
		return r.indexMap(off)
	case typeTaggedIndexMap:
		return r.taggedIndexMap(off)
	default:
		return nil, r.errorf(off, "node type %#02x is not a container", typ)
	}
}

func (r *reader) array(off int) (bymlmerge.Node, error) {
	n, err := r.header(off, typeArray, 0, 0)
	if err != nil {
		return nil, err
	}
	values := off + 4 + align4(n)
	if err := r.need(values, 4*n); err != nil {
		return nil, err
	}

	out := make(bymlmerge.Array, n)
	for i := range out {
		v, err := r.value(r.data[off+4+i], values+4*i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r *reader) mapping(off int) (bymlmerge.Node, error) {
	n, err := r.header(off, typeMap, 8, 0)
	if err != nil {
		return nil, err
	}

	out := bymlmerge.NewMap(n)
	for i := 0; i < n; i++ {
		entry := off + 4 + 8*i
		idx := int(getUint24(r.data[entry:], r.big))
		if idx >= len(r.keys) {
			return nil, r.errorf(entry, "key index %d out of range", idx)
		}
		key := r.keys[idx]
		if _, exists := out.Get(key); exists {
			return nil, r.errorf(entry, "duplicate key %q", key)
		}
		v, err := r.value(r.data[entry+3], entry+4)
		if err != nil {
			return nil, err
		}
		out.Set(key, v)
	}
	return out, nil
}

func (r *reader) indexMap(off int) (bymlmerge.Node, error) {
	if r.version < versionIndexMap {
		return nil, r.errorf(off, "index map requires version %d", versionIndexMap)
	}
	n, err := r.header(off, typeIndexMap, 8, 1)
	if err != nil {
		return nil, err
	}

	types := off + 4 + 8*n
	out := make(bymlmerge.IndexMap, n)
	for i := 0; i < n; i++ {
		entry := off + 4 + 8*i
		key := r.order.Uint32(r.data[entry:])
		if _, exists := out[key]; exists {
			return nil, r.errorf(entry, "duplicate index %d", key)
		}
		v, err := r.value(r.data[types+i], entry+4)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (r *reader) taggedIndexMap(off int) (bymlmerge.Node, error) {
	if r.version < versionIndexMap {
		return nil, r.errorf(off, "tagged index map requires version %d", versionIndexMap)
	}
	n, err := r.header(off, typeTaggedIndexMap, 12, 1)
	if err != nil {
		return nil, err
	}

	types := off + 4 + 12*n
	out := make(bymlmerge.TaggedIndexMap, n)
	for i := 0; i < n; i++ {
		entry := off + 4 + 12*i
		key := r.order.Uint32(r.data[entry:])
		if _, exists := out[key]; exists {
			return nil, r.errorf(entry, "duplicate index %d", key)
		}
		v, err := r.value(r.data[types+i], entry+4)
		if err != nil {
			return nil, err
		}
		out[key] = bymlmerge.TaggedValue{Value: v, Tag: r.order.Uint32(r.data[entry+8:])}
	}
	return out, nil
}

// value decodes the child of the given type whose value word is at slot.
func (r *reader) value(typ byte, slot int) (bymlmerge.Node, error) {
	r.nodes++
	if r.nodes > r.maxNodes {
		return nil, r.errorf(slot, "document expands past %d nodes", r.maxNodes)
	}
	raw, err := r.u32(slot)
	if err != nil {
		return nil, err
	}

	switch typ {
	case typeNull:
		return bymlmerge.Null{}, nil
	case typeBool:
		return bymlmerge.Bool(raw != 0), nil
	case typeInt:
		return bymlmerge.Int(int32(raw)), nil
	case typeFloat:
		return bymlmerge.Float(math.Float32frombits(raw)), nil
	case typeUInt:
		return bymlmerge.UInt(raw), nil
	case typeString:
		if int(raw) >= len(r.strs) {
			return nil, r.errorf(slot, "string index %d out of range", raw)
		}
		return bymlmerge.String(r.strs[raw]), nil
	case typeBinary:
		off := int(raw)
		size, err := r.u32(off)
		if err != nil {
			return nil, err
		}
		if err := r.need(off+4, int(size)); err != nil {
			return nil, err
		}
		return bymlmerge.Binary(bytes.Clone(r.data[off+4 : off+4+int(size)])), nil
	case typeInt64, typeUInt64, typeDouble:
		if r.version < version64Bit {
			return nil, r.errorf(slot, "64-bit values require version %d", version64Bit)
		}
		bits, err := r.u64(int(raw))
		if err != nil {
			return nil, err
		}
		switch typ {
		case typeInt64:
			return bymlmerge.Int64(int64(bits)), nil
		case typeUInt64:
			return bymlmerge.UInt64(bits), nil
		default:
			return bymlmerge.Double(math.Float64frombits(bits)), nil
		}
	case typeArray, typeMap, typeIndexMap, typeTaggedIndexMap:
		return r.container(int(raw), typ)
	default:
		return nil, r.errorf(slot, "unknown node type %#02x", typ)
	}
}

func getUint24(b []byte, big bool) uint32 {
	if big {
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func putUint24(b []byte, v uint32, big bool) {
	if big {
		b[0], b[1], b[2] = byte(v>>16), byte(v>>8), byte(v)
		return
	}
	b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
}
