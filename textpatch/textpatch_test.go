// SPDX-License-Identifier: Apache-2.0

package textpatch_test

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/sam-fredrickson/bymlmerge"
	"github.com/sam-fredrickson/bymlmerge/textpatch"
)

func mapOf(kv ...any) *bymlmerge.Map {
	m := bymlmerge.NewMap(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		m.Set(kv[i].(string), kv[i+1].(bymlmerge.Node))
	}
	return m
}

func mustParse(t *testing.T, text string) bymlmerge.Node {
	t.Helper()
	n, err := textpatch.Parse([]byte(text))
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", text, err)
	}
	return n
}

func TestParseScalars(t *testing.T) {
	tests := []struct {
		text     string
		expected bymlmerge.Node
	}{
		{`~`, bymlmerge.Null{}},
		{`null`, bymlmerge.Null{}},
		{`true`, bymlmerge.Bool(true)},
		{`False`, bymlmerge.Bool(false)},
		{`42`, bymlmerge.Int(42)},
		{`-7`, bymlmerge.Int(-7)},
		{`0x10`, bymlmerge.Int(16)},
		{`4294967296`, bymlmerge.Int64(4294967296)},
		{`18446744073709551615`, bymlmerge.UInt64(math.MaxUint64)},
		{`1.5`, bymlmerge.Float(1.5)},
		{`.inf`, bymlmerge.Float(float32(math.Inf(1)))},
		{`hello`, bymlmerge.String("hello")},
		{`"42"`, bymlmerge.String("42")},
		{`!u 7`, bymlmerge.UInt(7)},
		{`!u 0xdeadbeef`, bymlmerge.UInt(0xdeadbeef)},
		{`!l -1`, bymlmerge.Int64(-1)},
		{`!ul 5`, bymlmerge.UInt64(5)},
		{`!f64 0.1`, bymlmerge.Double(0.1)},
		{`!!binary AQID`, bymlmerge.Binary{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			actual := mustParse(t, tt.text)
			if !bymlmerge.Equal(actual, tt.expected) {
				t.Fatalf("actual %v, expected %v", actual, tt.expected)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	n := mustParse(t, "")
	if !bymlmerge.Equal(n, bymlmerge.Null{}) {
		t.Fatalf("expected Null, got %v", n)
	}
}

func TestParseContainers(t *testing.T) {
	text := `
name: slime
list: [1, two, 3.5]
slots: !h
  3: {hp: 5}
  0x10: last
tagged: !vh
  1: [value, 0xabcd]
  2: [{k: !u 1}, 7]
`
	expected := mapOf(
		"name", bymlmerge.String("slime"),
		"list", bymlmerge.Array{bymlmerge.Int(1), bymlmerge.String("two"), bymlmerge.Float(3.5)},
		"slots", bymlmerge.IndexMap{
			3:  mapOf("hp", bymlmerge.Int(5)),
			16: bymlmerge.String("last"),
		},
		"tagged", bymlmerge.TaggedIndexMap{
			1: {Value: bymlmerge.String("value"), Tag: 0xabcd},
			2: {Value: mapOf("k", bymlmerge.UInt(1)), Tag: 7},
		},
	)

	actual := mustParse(t, text)
	if !bymlmerge.Equal(actual, expected) {
		t.Fatalf("actual:\n%v\nexpected:\n%v", actual, expected)
	}

	keys := actual.(*bymlmerge.Map).Keys()
	if strings.Join(keys, ",") != "name,list,slots,tagged" {
		t.Fatalf("unexpected key order %v", keys)
	}
}

func TestAliasesExpandToCopies(t *testing.T) {
	n := mustParse(t, `
a: &shared {x: 1}
b: *shared
`)
	m := n.(*bymlmerge.Map)
	a, _ := m.Get("a")
	b, _ := m.Get("b")
	if !bymlmerge.Equal(a, b) {
		t.Fatalf("alias should expand to equal value: %v vs %v", a, b)
	}

	a.(*bymlmerge.Map).Set("x", bymlmerge.Int(2))
	if x, _ := b.(*bymlmerge.Map).Get("x"); !bymlmerge.Equal(x, bymlmerge.Int(1)) {
		t.Fatal("alias expansion must not share nodes")
	}
}

// aliasBomb returns a document whose every line refers ten times to the
// line above, so line n expands to 10^n nodes.
func aliasBomb() string {
	var b strings.Builder
	b.WriteString("a: &a [" + strings.Repeat("x, ", 9) + "x]\n")
	for prev, name := 'a', 'b'; name <= 'i'; prev, name = name, name+1 {
		refs := strings.TrimSuffix(strings.Repeat("*"+string(prev)+", ", 10), ", ")
		fmt.Fprintf(&b, "%c: &%c [%s]\n", name, name, refs)
	}
	return b.String()
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
	}{
		{"syntax", "a: [1, 2", 0},
		{"duplicate key", "a: 1\na: 2", 2},
		{"bad uint", "a: !u -1", 1},
		{"uint overflow", "a: !u 0x100000000", 1},
		{"unknown tag", "a: !what 1", 1},
		{"bad index key", "a: !h {x: 1}", 1},
		{"duplicate index", "a: !h {1: a, 0x1: b}", 1},
		{"tagged not pair", "a: !vh {1: [x]}", 1},
		{"tagged bad tag", "a: !vh {1: [x, y]}", 1},
		{"bad binary", "a: !!binary '***'", 1},
		{"complex key", "? [a]\n: 1", 1},
		{"alias expansion", aliasBomb(), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := textpatch.Parse([]byte(tt.text))
			if !errors.Is(err, textpatch.ErrParse) {
				t.Fatalf("expected ErrParse, got %v", err)
			}
			var parseErr *textpatch.ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected ParseError, got %T", err)
			}
			if parseErr.Line != tt.line {
				t.Fatalf("expected line %d, got %d (%v)", tt.line, parseErr.Line, err)
			}
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	docs := []bymlmerge.Node{
		bymlmerge.Null{},
		bymlmerge.Int(1),
		mapOf(
			"null", bymlmerge.Null{},
			"bool", bymlmerge.Bool(true),
			"int", bymlmerge.Int(-5),
			"uint", bymlmerge.UInt(0xffffffff),
			"int64", bymlmerge.Int64(math.MinInt64),
			"uint64", bymlmerge.UInt64(math.MaxUint64),
			"float", bymlmerge.Float(2),
			"float frac", bymlmerge.Float(0.1),
			"double", bymlmerge.Double(1e300),
			"inf", bymlmerge.Double(math.Inf(-1)),
			"numeric string", bymlmerge.String("12"),
			"bool string", bymlmerge.String("true"),
			"empty string", bymlmerge.String(""),
			"binary", bymlmerge.Binary{0, 1, 2, 255},
			"123", bymlmerge.String("numeric key"),
		),
		mapOf(
			"empty map", bymlmerge.NewMap(0),
			"empty array", bymlmerge.Array{},
			"empty index", bymlmerge.IndexMap{},
			"empty tagged", bymlmerge.TaggedIndexMap{},
			"array", bymlmerge.Array{mapOf("a", bymlmerge.Int(1)), bymlmerge.Array{bymlmerge.String("x")}},
			"index", bymlmerge.IndexMap{9: bymlmerge.Array{bymlmerge.Int(1)}, 2: bymlmerge.Null{}},
			"tagged", bymlmerge.TaggedIndexMap{
				5: {Value: mapOf("deep", bymlmerge.IndexMap{1: bymlmerge.Bool(false)}), Tag: 0xdeadbeef},
				6: {Value: bymlmerge.Float(1.25), Tag: 0},
			},
		),
		bymlmerge.Array{bymlmerge.Int(1), bymlmerge.UInt(2)},
	}

	for i, doc := range docs {
		out, err := textpatch.Format(doc)
		if err != nil {
			t.Fatalf("doc %d: Format() error = %v", i, err)
		}
		back, err := textpatch.Parse(out)
		if err != nil {
			t.Fatalf("doc %d: Parse() error = %v\n%s", i, err, out)
		}
		if !bymlmerge.Equal(back, doc) {
			t.Fatalf("doc %d: round trip mismatch\nactual:   %v\nexpected: %v\ntext:\n%s", i, back, doc, out)
		}
	}
}

func TestFormatNaN(t *testing.T) {
	out, err := textpatch.Format(bymlmerge.Double(math.NaN()))
	if err != nil {
		t.Fatal(err)
	}
	back := mustParse(t, string(out))
	d, ok := back.(bymlmerge.Double)
	if !ok || !math.IsNaN(float64(d)) {
		t.Fatalf("expected NaN Double, got %v from %q", back, out)
	}
}
