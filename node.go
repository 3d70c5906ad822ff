// SPDX-License-Identifier: Apache-2.0

package bymlmerge

import (
	"bytes"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies the variant of a [Node].
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUInt
	KindInt64
	KindUInt64
	KindFloat
	KindDouble
	KindString
	KindBinary
	KindMap
	KindArray
	KindIndexMap
	KindTaggedIndexMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindUInt:
		return "UInt"
	case KindInt64:
		return "Int64"
	case KindUInt64:
		return "UInt64"
	case KindFloat:
		return "Float"
	case KindDouble:
		return "Double"
	case KindString:
		return "String"
	case KindBinary:
		return "Binary"
	case KindMap:
		return "Map"
	case KindArray:
		return "Array"
	case KindIndexMap:
		return "IndexMap"
	case KindTaggedIndexMap:
		return "TaggedIndexMap"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// IsContainer reports whether nodes of this kind hold child nodes.
func (k Kind) IsContainer() bool {
	return k >= KindMap && k <= KindTaggedIndexMap
}

// Node is one node of a document tree.
//
// The set of implementations is closed: only the types declared in this
// package satisfy Node. Leaf types are Null, Bool, Int, UInt, Int64, UInt64,
// Float, Double, String and Binary. Container types are *Map, Array,
// IndexMap and TaggedIndexMap.
type Node interface {
	Kind() Kind
	String() string
	node()
}

// Null is the absent value.
type Null struct{}

// Bool is a boolean leaf.
type Bool bool

// Int is a signed 32-bit integer leaf.
type Int int32

// UInt is an unsigned 32-bit integer leaf.
type UInt uint32

// Int64 is a signed 64-bit integer leaf.
type Int64 int64

// UInt64 is an unsigned 64-bit integer leaf.
type UInt64 uint64

// Float is a 32-bit floating point leaf.
type Float float32

// Double is a 64-bit floating point leaf.
type Double float64

// String is a string leaf.
type String string

// Binary is a raw byte blob leaf.
type Binary []byte

// Array is an ordered sequence of nodes. Position is significant.
type Array []Node

// IndexMap is a sparse mapping from integer keys to nodes. Patching an
// [Array] with an IndexMap overrides individual positions without restating
// the rest of the array.
type IndexMap map[uint32]Node

// TaggedValue is an entry of a [TaggedIndexMap]: a node plus a 32-bit tag
// word that travels with it.
type TaggedValue struct {
	Value Node
	Tag   uint32
}

// TaggedIndexMap is a sparse mapping from integer keys to tagged values.
type TaggedIndexMap map[uint32]TaggedValue

func (Null) Kind() Kind           { return KindNull }
func (Bool) Kind() Kind           { return KindBool }
func (Int) Kind() Kind            { return KindInt }
func (UInt) Kind() Kind           { return KindUInt }
func (Int64) Kind() Kind          { return KindInt64 }
func (UInt64) Kind() Kind         { return KindUInt64 }
func (Float) Kind() Kind          { return KindFloat }
func (Double) Kind() Kind         { return KindDouble }
func (String) Kind() Kind         { return KindString }
func (Binary) Kind() Kind         { return KindBinary }
func (*Map) Kind() Kind           { return KindMap }
func (Array) Kind() Kind          { return KindArray }
func (IndexMap) Kind() Kind       { return KindIndexMap }
func (TaggedIndexMap) Kind() Kind { return KindTaggedIndexMap }

func (Null) node()           {}
func (Bool) node()           {}
func (Int) node()            {}
func (UInt) node()           {}
func (Int64) node()          {}
func (UInt64) node()         {}
func (Float) node()          {}
func (Double) node()         {}
func (String) node()         {}
func (Binary) node()         {}
func (*Map) node()           {}
func (Array) node()          {}
func (IndexMap) node()       {}
func (TaggedIndexMap) node() {}

func (Null) String() string     { return "Null" }
func (b Bool) String() string   { return fmt.Sprintf("Bool(%t)", bool(b)) }
func (i Int) String() string    { return fmt.Sprintf("Int(%d)", int32(i)) }
func (u UInt) String() string   { return fmt.Sprintf("UInt(%d)", uint32(u)) }
func (i Int64) String() string  { return fmt.Sprintf("Int64(%d)", int64(i)) }
func (u UInt64) String() string { return fmt.Sprintf("UInt64(%d)", uint64(u)) }

func (f Float) String() string {
	return "Float(" + strconv.FormatFloat(float64(f), 'g', -1, 32) + ")"
}

func (d Double) String() string {
	return "Double(" + strconv.FormatFloat(float64(d), 'g', -1, 64) + ")"
}

func (s String) String() string { return "String(" + strconv.Quote(string(s)) + ")" }
func (b Binary) String() string { return fmt.Sprintf("Binary(%x)", []byte(b)) }

func (a Array) String() string {
	var sb strings.Builder
	sb.WriteString("Array[")
	for i, v := range a {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(stringOf(v))
	}
	sb.WriteString("]")
	return sb.String()
}

func (m IndexMap) String() string {
	var sb strings.Builder
	sb.WriteString("IndexMap{")
	for i, k := range SortedKeys(m) {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d: %s", k, stringOf(m[k]))
	}
	sb.WriteString("}")
	return sb.String()
}

func (m TaggedIndexMap) String() string {
	var sb strings.Builder
	sb.WriteString("TaggedIndexMap{")
	for i, k := range SortedKeys(m) {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d: (%s, 0x%08x)", k, stringOf(m[k].Value), m[k].Tag)
	}
	sb.WriteString("}")
	return sb.String()
}

// stringOf renders n, treating a nil interface as "nil" rather than panicking.
func stringOf(n Node) string {
	if n == nil {
		return "nil"
	}
	return n.String()
}

// SortedKeys returns the keys of an integer-keyed map in ascending order.
func SortedKeys[V any](m map[uint32]V) []uint32 {
	return slices.Sorted(maps.Keys(m))
}

// Map is a string-keyed mapping that remembers insertion order.
//
// Order is kept for presentation only; merging treats two maps with the
// same entries in different orders as equivalent.
//
// The zero value is not usable; create maps with [NewMap].
type Map struct {
	keys   []string
	values map[string]Node
}

// NewMap creates an empty [Map] with room for size entries.
func NewMap(size int) *Map {
	return &Map{
		keys:   make([]string, 0, size),
		values: make(map[string]Node, size),
	}
}

// Len returns the number of entries. A nil map has no entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Node, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Set stores value under key. New keys are appended to the iteration order;
// existing keys keep their position.
func (m *Map) Set(key string, value Node) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Delete removes key, reporting whether it was present.
func (m *Map) Delete(key string) bool {
	if m == nil {
		return false
	}
	if _, exists := m.values[key]; !exists {
		return false
	}
	delete(m.values, key)
	m.keys = slices.DeleteFunc(m.keys, func(k string) bool { return k == key })
	return true
}

// Keys returns a copy of the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.keys)
}

// All iterates over the entries in insertion order.
func (m *Map) All() iter.Seq2[string, Node] {
	return func(yield func(string, Node) bool) {
		if m == nil {
			return
		}
		for _, k := range m.keys {
			if !yield(k, m.values[k]) {
				return
			}
		}
	}
}

func (m *Map) String() string {
	var sb strings.Builder
	sb.WriteString("Map{")
	i := 0
	for k, v := range m.All() {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q: %s", k, stringOf(v))
		i++
	}
	sb.WriteString("}")
	return sb.String()
}

// Equal reports whether m and other hold equal entries, ignoring order.
func (m *Map) Equal(other *Map) bool {
	if m.Len() != other.Len() {
		return false
	}
	for k, v := range m.All() {
		ov, ok := other.Get(k)
		if !ok || !Equal(v, ov) {
			return false
		}
	}
	return true
}

// Equal reports whether a and b are structurally equal: same variant at
// every position and equal leaf content. Map key order is ignored. Float
// and Double compare with ==, so NaN never equals itself.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Binary:
		return bytes.Equal(av, b.(Binary))
	case *Map:
		return av.Equal(b.(*Map))
	case Array:
		bv := b.(Array)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case IndexMap:
		bv := b.(IndexMap)
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			ov, ok := bv[k]
			if !ok || !Equal(v, ov) {
				return false
			}
		}
		return true
	case TaggedIndexMap:
		bv := b.(TaggedIndexMap)
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			ov, ok := bv[k]
			if !ok || v.Tag != ov.Tag || !Equal(v.Value, ov.Value) {
				return false
			}
		}
		return true
	default:
		// Remaining leaves are comparable scalar types.
		return a == b
	}
}

// Clone returns a deep copy of n. Leaves other than Binary are values and
// are returned as is.
func Clone(n Node) Node {
	switch v := n.(type) {
	case Binary:
		return slices.Clone(v)
	case *Map:
		if v == nil {
			return v
		}
		out := NewMap(v.Len())
		for k, child := range v.All() {
			out.Set(k, Clone(child))
		}
		return out
	case Array:
		if v == nil {
			return v
		}
		out := make(Array, len(v))
		for i, child := range v {
			out[i] = Clone(child)
		}
		return out
	case IndexMap:
		if v == nil {
			return v
		}
		out := make(IndexMap, len(v))
		for k, child := range v {
			out[k] = Clone(child)
		}
		return out
	case TaggedIndexMap:
		if v == nil {
			return v
		}
		out := make(TaggedIndexMap, len(v))
		for k, child := range v {
			out[k] = TaggedValue{Value: Clone(child.Value), Tag: child.Tag}
		}
		return out
	default:
		return n
	}
}
