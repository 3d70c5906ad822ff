// SPDX-License-Identifier: Apache-2.0

package byml

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/sam-fredrickson/bymlmerge"
)

// Encode serializes n in the given format.
//
// The root must be a container or Null. Node types newer than the requested
// version are reported as [UnsupportedError].
func Encode(n bymlmerge.Node, f Format) ([]byte, error) {
	version := f.version()
	if version < MinVersion || version > MaxVersion {
		return nil, &UnsupportedError{Msg: fmt.Sprintf("version %d is outside %d..%d", version, MinVersion, MaxVersion)}
	}
	if f.Endian != LittleEndian && f.Endian != BigEndian {
		return nil, &UnsupportedError{Msg: fmt.Sprintf("unknown endianness %v", f.Endian)}
	}

	hasRoot := true
	switch n.(type) {
	case nil, bymlmerge.Null:
		hasRoot = false
	case *bymlmerge.Map, bymlmerge.Array, bymlmerge.IndexMap, bymlmerge.TaggedIndexMap:
	default:
		return nil, &UnsupportedError{Msg: fmt.Sprintf("root must be a container or null, got %s", n.Kind())}
	}

	c := collector{keys: map[string]struct{}{}, strs: map[string]struct{}{}}
	if err := c.walk(n, 0); err != nil {
		return nil, err
	}

	w := &writer{
		buf:     make([]byte, headerSize, 4096),
		order:   f.Endian.order(),
		big:     f.Endian == BigEndian,
		version: version,
	}
	copy(w.buf, f.Endian.magic())
	w.order.PutUint16(w.buf[2:], version)

	var err error
	if w.keys, err = w.stringTable(4, c.keys); err != nil {
		return nil, err
	}
	if w.strs, err = w.stringTable(8, c.strs); err != nil {
		return nil, err
	}
	if hasRoot {
		off, err := w.node(n)
		if err != nil {
			return nil, err
		}
		w.order.PutUint32(w.buf[12:], uint32(off))
	}

	if len(w.buf) > math.MaxUint32 {
		return nil, &UnsupportedError{Msg: "document larger than 4 GiB"}
	}
	return w.buf, nil
}

// collector gathers the distinct map keys and string values of a document.
type collector struct {
	keys map[string]struct{}
	strs map[string]struct{}
}

func (c *collector) walk(n bymlmerge.Node, depth int) error {
	if depth > maxDepth {
		return &UnsupportedError{Msg: fmt.Sprintf("nesting deeper than %d", maxDepth)}
	}
	switch v := n.(type) {
	case bymlmerge.String:
		c.strs[string(v)] = struct{}{}
	case *bymlmerge.Map:
		for k, child := range v.All() {
			c.keys[k] = struct{}{}
			if err := c.walk(child, depth+1); err != nil {
				return err
			}
		}
	case bymlmerge.Array:
		for _, child := range v {
			if err := c.walk(child, depth+1); err != nil {
				return err
			}
		}
	case bymlmerge.IndexMap:
		for _, child := range v {
			if err := c.walk(child, depth+1); err != nil {
				return err
			}
		}
	case bymlmerge.TaggedIndexMap:
		for _, child := range v {
			if err := c.walk(child.Value, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

type writer struct {
	buf     []byte
	order   binary.ByteOrder
	big     bool
	version uint16
	keys    map[string]uint32
	strs    map[string]uint32
}

// alloc appends n zero bytes at the next aligned offset and returns that offset.
func (w *writer) alloc(n int) int {
	w.pad()
	off := len(w.buf)
	w.buf = append(w.buf, make([]byte, n)...)
	return off
}

func (w *writer) pad() {
	for len(w.buf)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) putHeader(off int, typ byte, count int) error {
	if count > maxCount {
		return &UnsupportedError{Msg: fmt.Sprintf("container with %d entries exceeds %d", count, maxCount)}
	}
	w.buf[off] = typ
	putUint24(w.buf[off+1:], uint32(count), w.big)
	return nil
}

// stringTable writes the sorted set as a string table, records its offset in
// the header word at slot, and returns the index of each string.
func (w *writer) stringTable(slot int, set map[string]struct{}) (map[string]uint32, error) {
	if len(set) == 0 {
		return nil, nil
	}
	list := make([]string, 0, len(set))
	for s := range set {
		list = append(list, s)
	}
	sort.Strings(list)

	off := w.alloc(4 + 4*(len(list)+1))
	if err := w.putHeader(off, typeStringTable, len(list)); err != nil {
		return nil, err
	}
	index := make(map[string]uint32, len(list))
	for i, s := range list {
		index[s] = uint32(i)
		w.order.PutUint32(w.buf[off+4+4*i:], uint32(len(w.buf)-off))
		w.buf = append(w.buf, s...)
		w.buf = append(w.buf, 0)
	}
	w.order.PutUint32(w.buf[off+4+4*len(list):], uint32(len(w.buf)-off))
	w.order.PutUint32(w.buf[slot:], uint32(off))
	return index, nil
}

func typeOf(n bymlmerge.Node) (byte, error) {
	switch n.(type) {
	case nil, bymlmerge.Null:
		return typeNull, nil
	case bymlmerge.Bool:
		return typeBool, nil
	case bymlmerge.Int:
		return typeInt, nil
	case bymlmerge.UInt:
		return typeUInt, nil
	case bymlmerge.Int64:
		return typeInt64, nil
	case bymlmerge.UInt64:
		return typeUInt64, nil
	case bymlmerge.Float:
		return typeFloat, nil
	case bymlmerge.Double:
		return typeDouble, nil
	case bymlmerge.String:
		return typeString, nil
	case bymlmerge.Binary:
		return typeBinary, nil
	case bymlmerge.Array:
		return typeArray, nil
	case *bymlmerge.Map:
		return typeMap, nil
	case bymlmerge.IndexMap:
		return typeIndexMap, nil
	case bymlmerge.TaggedIndexMap:
		return typeTaggedIndexMap, nil
	default:
		return 0, &UnsupportedError{Msg: fmt.Sprintf("unknown node %T", n)}
	}
}

// value returns the word stored in a parent's value slot for n, writing n
// out of line first when it is not an inline type.
func (w *writer) value(n bymlmerge.Node) (uint32, error) {
	switch v := n.(type) {
	case nil, bymlmerge.Null:
		return 0, nil
	case bymlmerge.Bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case bymlmerge.Int:
		return uint32(v), nil
	case bymlmerge.UInt:
		return uint32(v), nil
	case bymlmerge.Float:
		return math.Float32bits(float32(v)), nil
	case bymlmerge.String:
		return w.strs[string(v)], nil
	default:
		off, err := w.node(n)
		return uint32(off), err
	}
}

// node writes an out-of-line node and returns its offset.
func (w *writer) node(n bymlmerge.Node) (int, error) {
	switch v := n.(type) {
	case bymlmerge.Binary:
		off := w.alloc(4 + len(v))
		w.order.PutUint32(w.buf[off:], uint32(len(v)))
		copy(w.buf[off+4:], v)
		return off, nil
	case bymlmerge.Int64:
		return w.wide(n.Kind(), uint64(v))
	case bymlmerge.UInt64:
		return w.wide(n.Kind(), uint64(v))
	case bymlmerge.Double:
		return w.wide(n.Kind(), math.Float64bits(float64(v)))
	case bymlmerge.Array:
		return w.array(v)
	case *bymlmerge.Map:
		return w.mapping(v)
	case bymlmerge.IndexMap:
		return w.indexMap(v)
	case bymlmerge.TaggedIndexMap:
		return w.taggedIndexMap(v)
	default:
		return 0, &UnsupportedError{Msg: fmt.Sprintf("unknown node %T", n)}
	}
}

func (w *writer) wide(kind bymlmerge.Kind, bits uint64) (int, error) {
	if w.version < version64Bit {
		return 0, &UnsupportedError{Msg: fmt.Sprintf("%s requires version %d, writing %d", kind, version64Bit, w.version)}
	}
	off := w.alloc(8)
	w.order.PutUint64(w.buf[off:], bits)
	return off, nil
}

func (w *writer) array(a bymlmerge.Array) (int, error) {
	values := 4 + align4(len(a))
	off := w.alloc(values + 4*len(a))
	if err := w.putHeader(off, typeArray, len(a)); err != nil {
		return 0, err
	}
	for i, child := range a {
		typ, err := typeOf(child)
		if err != nil {
			return 0, err
		}
		w.buf[off+4+i] = typ
		word, err := w.value(child)
		if err != nil {
			return 0, err
		}
		w.order.PutUint32(w.buf[off+values+4*i:], word)
	}
	return off, nil
}

func (w *writer) mapping(m *bymlmerge.Map) (int, error) {
	keys := m.Keys()
	sort.Strings(keys)
	off := w.alloc(4 + 8*len(keys))
	if err := w.putHeader(off, typeMap, len(keys)); err != nil {
		return 0, err
	}
	for i, k := range keys {
		child, _ := m.Get(k)
		typ, err := typeOf(child)
		if err != nil {
			return 0, err
		}
		entry := off + 4 + 8*i
		putUint24(w.buf[entry:], w.keys[k], w.big)
		w.buf[entry+3] = typ
		word, err := w.value(child)
		if err != nil {
			return 0, err
		}
		w.order.PutUint32(w.buf[entry+4:], word)
	}
	return off, nil
}

func (w *writer) indexMap(m bymlmerge.IndexMap) (int, error) {
	if w.version < versionIndexMap {
		return 0, &UnsupportedError{Msg: fmt.Sprintf("index map requires version %d, writing %d", versionIndexMap, w.version)}
	}
	keys := bymlmerge.SortedKeys(m)
	types := 4 + 8*len(keys)
	off := w.alloc(types + len(keys))
	if err := w.putHeader(off, typeIndexMap, len(keys)); err != nil {
		return 0, err
	}
	for i, k := range keys {
		typ, err := typeOf(m[k])
		if err != nil {
			return 0, err
		}
		entry := off + 4 + 8*i
		w.order.PutUint32(w.buf[entry:], k)
		w.buf[off+types+i] = typ
		word, err := w.value(m[k])
		if err != nil {
			return 0, err
		}
		w.order.PutUint32(w.buf[entry+4:], word)
	}
	return off, nil
}

func (w *writer) taggedIndexMap(m bymlmerge.TaggedIndexMap) (int, error) {
	if w.version < versionIndexMap {
		return 0, &UnsupportedError{Msg: fmt.Sprintf("tagged index map requires version %d, writing %d", versionIndexMap, w.version)}
	}
	keys := bymlmerge.SortedKeys(m)
	types := 4 + 12*len(keys)
	off := w.alloc(types + len(keys))
	if err := w.putHeader(off, typeTaggedIndexMap, len(keys)); err != nil {
		return 0, err
	}
	for i, k := range keys {
		tv := m[k]
		typ, err := typeOf(tv.Value)
		if err != nil {
			return 0, err
		}
		entry := off + 4 + 12*i
		w.order.PutUint32(w.buf[entry:], k)
		w.order.PutUint32(w.buf[entry+8:], tv.Tag)
		w.buf[off+types+i] = typ
		word, err := w.value(tv.Value)
		if err != nil {
			return 0, err
		}
		w.order.PutUint32(w.buf[entry+4:], word)
	}
	return off, nil
}
