// SPDX-License-Identifier: Apache-2.0

package bymlmerge_test

import (
	"errors"
	"fmt"
	"log"

	"github.com/sam-fredrickson/bymlmerge"
	"github.com/sam-fredrickson/bymlmerge/textpatch"
)

// Example patching individual array slots with an IndexMap.
func ExampleMerge() {
	base := bymlmerge.NewMap(2)
	base.Set("a", bymlmerge.Int(1))
	base.Set("b", bymlmerge.Array{bymlmerge.Int(10), bymlmerge.Int(20), bymlmerge.Int(30)})

	patch := bymlmerge.NewMap(1)
	patch.Set("b", bymlmerge.IndexMap{1: bymlmerge.Int(99)})

	result, err := bymlmerge.Merge(bymlmerge.Options{}, base, patch)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(result)

	// Output:
	// Map{"a": Int(1), "b": Array[Int(10), Int(99), Int(30)]}
}

// Example showing how shape mismatches are reported.
func ExampleMismatchError() {
	base, _ := textpatch.Parse([]byte(`{x: foo}`))
	patch, _ := textpatch.Parse([]byte(`{x: 5}`))

	_, err := bymlmerge.Merge(bymlmerge.Options{}, base, patch)

	var mismatch *bymlmerge.MismatchError
	if errors.As(err, &mismatch) {
		fmt.Println(mismatch.Expected)
		fmt.Println(mismatch.Got)
	}
	fmt.Println(err)

	// Output:
	// String("foo")
	// Int(5)
	// mismatch in types at path x in document 1 (got Int(5) expected String("foo"))
}

// Example merging text patches into a copy of the base.
func ExampleMerger_MergeCopy() {
	merger, err := bymlmerge.NewMerger(bymlmerge.Options{})
	if err != nil {
		log.Fatal(err)
	}

	base, _ := textpatch.Parse([]byte(`
Actors:
  - {Name: Slime, HP: 10}
  - {Name: Bokoblin, HP: 13}
`))
	patch, _ := textpatch.Parse([]byte(`
Actors: !h
  1: {HP: 20, Tough: true}
`))

	result, err := merger.MergeCopy(base, patch)
	if err != nil {
		log.Fatal(err)
	}

	out, err := textpatch.Format(result)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Print(string(out))

	// Output:
	// Actors:
	//   - Name: Slime
	//     HP: 10
	//   - Name: Bokoblin
	//     HP: 20
	//     Tough: true
}
