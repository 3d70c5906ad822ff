// SPDX-License-Identifier: Apache-2.0

package bench

import (
	"strconv"
	"testing"

	"github.com/sam-fredrickson/bymlmerge"
	"github.com/sam-fredrickson/bymlmerge/byml"
	"github.com/sam-fredrickson/bymlmerge/textpatch"
)

const (
	numActors  = 100
	numEvents  = 50
	baseHealth = 10
)

func mapOf(kv ...any) *bymlmerge.Map {
	m := bymlmerge.NewMap(len(kv) / 2)
	for i := 0; i < len(kv); i += 2 {
		m.Set(kv[i].(string), kv[i+1].(bymlmerge.Node))
	}
	return m
}

// generateLargeBase creates a large base document with multiple sections.
func generateLargeBase() bymlmerge.Node {
	actors := make(bymlmerge.Array, numActors)
	for i := range actors {
		actors[i] = mapOf(
			"Name", bymlmerge.String("actor"+strconv.Itoa(i)),
			"HP", bymlmerge.Int(baseHealth+i),
			"Flags", bymlmerge.UInt(0),
			"Params", mapOf(
				"Speed", bymlmerge.Float(1),
				"Weight", bymlmerge.Double(50),
				"Hostile", bymlmerge.Bool(true),
			),
		)
	}

	events := make(bymlmerge.IndexMap, numEvents)
	for i := 0; i < numEvents; i++ {
		events[uint32(i*10)] = mapOf(
			"Trigger", bymlmerge.String("event"+strconv.Itoa(i)),
			"Delay", bymlmerge.Int(30),
		)
	}

	return mapOf(
		"Version", bymlmerge.UInt(1),
		"Actors", actors,
		"Events", events,
		"Global", mapOf(
			"Debug", bymlmerge.Bool(false),
			"Region", bymlmerge.String("east"),
		),
	)
}

// generatePatches creates multiple patches that touch different parts of the document.
func generatePatches(count int) []bymlmerge.Node {
	patches := make([]bymlmerge.Node, count)
	for i := 0; i < count; i++ {
		patches[i] = mapOf(
			"Actors", bymlmerge.IndexMap{
				uint32(i * 2 % numActors): mapOf("HP", bymlmerge.Int(999)),
				uint32((i*2 + 1) % numActors): mapOf(
					"Params", mapOf("Hostile", bymlmerge.Bool(false)),
				),
			},
			"Events", bymlmerge.IndexMap{
				uint32(i % numEvents * 10): mapOf("Delay", bymlmerge.Int(60)),
				uint32(1000 + i):           mapOf("Trigger", bymlmerge.String("new")),
			},
		)
	}
	return patches
}

func benchmarkMergeCopy(b *testing.B, base bymlmerge.Node, patches ...bymlmerge.Node) {
	merger, err := bymlmerge.NewMerger(bymlmerge.Options{})
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := merger.MergeCopy(base, patches...); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMerge_Small(b *testing.B) {
	base := mapOf(
		"Actors", bymlmerge.Array{
			mapOf("Name", bymlmerge.String("slime"), "HP", bymlmerge.Int(10)),
			mapOf("Name", bymlmerge.String("bokoblin"), "HP", bymlmerge.Int(13)),
		},
	)
	patch := mapOf("Actors", bymlmerge.IndexMap{1: mapOf("HP", bymlmerge.Int(20))})
	benchmarkMergeCopy(b, base, patch)
}

func BenchmarkMerge_Medium(b *testing.B) {
	benchmarkMergeCopy(b, generateLargeBase(), generatePatches(5)...)
}

func BenchmarkMerge_Large(b *testing.B) {
	benchmarkMergeCopy(b, generateLargeBase(), generatePatches(20)...)
}

func BenchmarkMerge_ManySmallPatches(b *testing.B) {
	benchmarkMergeCopy(b, generateLargeBase(), generatePatches(50)...)
}

func BenchmarkMerge_DeepNesting(b *testing.B) {
	base := mapOf("L1", mapOf("L2", mapOf("L3", mapOf("L4", mapOf(
		"Items", bymlmerge.Array{
			mapOf("Value", bymlmerge.String("a")),
			mapOf("Value", bymlmerge.String("b")),
		},
	)))))
	patch := mapOf("L1", mapOf("L2", mapOf("L3", mapOf("L4", mapOf(
		"Items", bymlmerge.IndexMap{0: mapOf("Value", bymlmerge.String("updated"))},
	)))))
	benchmarkMergeCopy(b, base, patch)
}

func BenchmarkMerge_PositionalArrays(b *testing.B) {
	baseItems := make(bymlmerge.Array, 200)
	patchItems := make(bymlmerge.Array, 100)
	for i := range baseItems {
		baseItems[i] = bymlmerge.Int(i)
	}
	for i := range patchItems {
		patchItems[i] = bymlmerge.Int(i + 200)
	}
	benchmarkMergeCopy(b, mapOf("Items", baseItems), mapOf("Items", patchItems))
}

func BenchmarkMerge_TaggedIndexMap(b *testing.B) {
	base := make(bymlmerge.TaggedIndexMap, 200)
	patch := make(bymlmerge.TaggedIndexMap, 50)
	for i := 0; i < 200; i++ {
		base[uint32(i)] = bymlmerge.TaggedValue{Value: mapOf("N", bymlmerge.Int(i)), Tag: uint32(i)}
	}
	for i := 0; i < 50; i++ {
		patch[uint32(i*4)] = bymlmerge.TaggedValue{Value: mapOf("N", bymlmerge.Int(-i)), Tag: 0xffff}
	}
	benchmarkMergeCopy(b, base, patch)
}

func BenchmarkMerge_ScalarOverridesOnly(b *testing.B) {
	base := mapOf(
		"a", bymlmerge.Int(1),
		"b", bymlmerge.Int(2),
		"c", bymlmerge.Int(3),
		"f", mapOf("g", bymlmerge.Int(6), "h", bymlmerge.Int(7)),
	)
	patch := mapOf(
		"a", bymlmerge.Int(10),
		"c", bymlmerge.Int(30),
		"f", mapOf("h", bymlmerge.Int(70)),
	)
	benchmarkMergeCopy(b, base, patch)
}

func BenchmarkEncode(b *testing.B) {
	doc := generateLargeBase()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := byml.Encode(doc, byml.Format{}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecode(b *testing.B) {
	data, err := byml.Encode(generateLargeBase(), byml.Format{Endian: byml.BigEndian})
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := byml.Decode(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkTextRoundTrip(b *testing.B) {
	text, err := textpatch.Format(generateLargeBase())
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(text)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n, err := textpatch.Parse(text)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := textpatch.Format(n); err != nil {
			b.Fatal(err)
		}
	}
}
