// SPDX-License-Identifier: Apache-2.0

package bymlmerge_test

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sam-fredrickson/bymlmerge"
)

func TestMapOperations(t *testing.T) {
	m := bymlmerge.NewMap(0)
	m.Set("b", Int(1))
	m.Set("a", Int(2))
	m.Set("b", Int(3))

	if m.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", m.Len())
	}
	if diff := cmp.Diff([]string{"b", "a"}, m.Keys()); diff != "" {
		t.Fatalf("key order mismatch (-want +got):\n%s", diff)
	}
	if v, ok := m.Get("b"); !ok || !bymlmerge.Equal(v, Int(3)) {
		t.Fatalf("unexpected value for b: %v", v)
	}
	if !m.Delete("b") || m.Delete("b") {
		t.Fatal("delete should succeed exactly once")
	}
	if diff := cmp.Diff([]string{"a"}, m.Keys()); diff != "" {
		t.Fatalf("key order mismatch (-want +got):\n%s", diff)
	}

	var nilMap *bymlmerge.Map
	if nilMap.Len() != 0 || nilMap.Keys() != nil {
		t.Fatal("nil map should be empty")
	}
	if _, ok := nilMap.Get("x"); ok {
		t.Fatal("nil map should have no entries")
	}
	for range nilMap.All() {
		t.Fatal("nil map should not iterate")
	}
}

func TestMapAllStopsEarly(t *testing.T) {
	m := mapOf("a", Int(1), "b", Int(2), "c", Int(3))
	var seen []string
	for k := range m.All() {
		seen = append(seen, k)
		if k == "b" {
			break
		}
	}
	if diff := cmp.Diff([]string{"a", "b"}, seen); diff != "" {
		t.Fatalf("iteration mismatch (-want +got):\n%s", diff)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Node
		equal bool
	}{
		{"same ints", Int(1), Int(1), true},
		{"different ints", Int(1), Int(2), false},
		{"different widths", Int(1), Int64(1), false},
		{"binary", Binary{1, 2}, Binary{1, 2}, true},
		{"binary differs", Binary{1, 2}, Binary{1}, false},
		{"map order ignored", mapOf("a", Int(1), "b", Int(2)), mapOf("b", Int(2), "a", Int(1)), true},
		{"map value differs", mapOf("a", Int(1)), mapOf("a", Int(2)), false},
		{"map key differs", mapOf("a", Int(1)), mapOf("b", Int(1)), false},
		{"array order matters", Array{Int(1), Int(2)}, Array{Int(2), Int(1)}, false},
		{"array length", Array{Int(1)}, Array{Int(1), Int(1)}, false},
		{"index map", IndexMap{1: Int(1)}, IndexMap{1: Int(1)}, true},
		{"index map key", IndexMap{1: Int(1)}, IndexMap{2: Int(1)}, false},
		{"tagged tag differs", TaggedIndexMap{1: {Value: Int(1), Tag: 1}}, TaggedIndexMap{1: {Value: Int(1), Tag: 2}}, false},
		{"tagged equal", TaggedIndexMap{1: {Value: Int(1), Tag: 1}}, TaggedIndexMap{1: {Value: Int(1), Tag: 1}}, true},
		{"nan", Double(math.NaN()), Double(math.NaN()), false},
		{"nil vs nil", nil, nil, true},
		{"nil vs null", nil, Null{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bymlmerge.Equal(tt.a, tt.b); got != tt.equal {
				t.Fatalf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.equal)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := mapOf(
		"blob", Binary{1, 2, 3},
		"list", Array{mapOf("x", Int(1))},
		"idx", IndexMap{4: Array{Int(1)}},
		"tagged", TaggedIndexMap{9: {Value: mapOf("y", Int(2)), Tag: 7}},
	)
	snapshot := bymlmerge.Clone(orig)
	clone := bymlmerge.Clone(orig).(*bymlmerge.Map)

	blob, _ := clone.Get("blob")
	blob.(Binary)[0] = 99
	list, _ := clone.Get("list")
	list.(Array)[0].(*bymlmerge.Map).Set("x", Int(100))
	idx, _ := clone.Get("idx")
	idx.(IndexMap)[4].(Array)[0] = Int(100)
	tagged, _ := clone.Get("tagged")
	tagged.(TaggedIndexMap)[9].Value.(*bymlmerge.Map).Set("y", Int(100))
	clone.Set("new", Null{})

	assertEqual(t, orig, snapshot)
}

func TestDebugStrings(t *testing.T) {
	tests := []struct {
		node     Node
		expected string
	}{
		{Null{}, "Null"},
		{Bool(true), "Bool(true)"},
		{Int(-3), "Int(-3)"},
		{UInt(7), "UInt(7)"},
		{Int64(-1), "Int64(-1)"},
		{UInt64(2), "UInt64(2)"},
		{Float(1.5), "Float(1.5)"},
		{Double(0.25), "Double(0.25)"},
		{String("foo"), `String("foo")`},
		{Binary{0xab, 0x01}, "Binary(ab01)"},
		{Array{Int(1), String("a")}, `Array[Int(1), String("a")]`},
		{mapOf("b", Int(1), "a", Int(2)), `Map{"b": Int(1), "a": Int(2)}`},
		{IndexMap{2: Int(1), 1: Int(0)}, "IndexMap{1: Int(0), 2: Int(1)}"},
		{TaggedIndexMap{3: {Value: Bool(false), Tag: 0xbeef}}, "TaggedIndexMap{3: (Bool(false), 0x0000beef)}"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.node.String(); got != tt.expected {
				t.Fatalf("got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestKind(t *testing.T) {
	if bymlmerge.KindTaggedIndexMap.String() != "TaggedIndexMap" {
		t.Fatalf("unexpected kind name %s", bymlmerge.KindTaggedIndexMap)
	}
	if bymlmerge.Kind(200).String() != "Kind(200)" {
		t.Fatalf("unexpected unknown kind name %s", bymlmerge.Kind(200))
	}
	if !mapOf().Kind().IsContainer() || Int(1).Kind().IsContainer() {
		t.Fatal("IsContainer misclassifies kinds")
	}
}

func TestSortedKeys(t *testing.T) {
	keys := bymlmerge.SortedKeys(IndexMap{9: Null{}, 1: Null{}, 4: Null{}})
	if diff := cmp.Diff([]uint32{1, 4, 9}, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
}
