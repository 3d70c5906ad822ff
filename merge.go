// SPDX-License-Identifier: Apache-2.0

// Package bymlmerge applies structural patches to game-asset document trees.
//
// A document is a tree of [Node] values: scalar leaves plus four container
// shapes ([*Map], [Array], [IndexMap] and [TaggedIndexMap]). Merging walks a
// patch alongside a base document. Leaves in the patch replace leaves in the
// base, containers are merged entry by entry, and any pairing of
// incompatible shapes is reported as a [MismatchError].
//
// The engine performs no I/O. Binary and text codecs live in the byml and
// textpatch subpackages.
package bymlmerge

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Sentinel errors for simple error checking with [errors.Is].
// For detailed error information, use [errors.As] with the typed errors below.
var (
	// ErrMismatch indicates a patch node whose shape is incompatible with the base node.
	ErrMismatch = errors.New("type mismatch")
	// ErrIndexOutOfRange indicates an IndexMap patch addressed a position past the end of an Array.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrMaxDepth indicates a document nested deeper than [Options.MaxDepth].
	ErrMaxDepth = errors.New("maximum depth exceeded")
	// ErrMarshal indicates a decoding or encoding operation failed.
	ErrMarshal = errors.New("marshal error")
	// ErrInvalidOptions indicates invalid merge options were provided.
	ErrInvalidOptions = errors.New("invalid options")
)

// DefaultMaxDepth is the nesting limit used when [Options.MaxDepth] is zero.
const DefaultMaxDepth = 512

// MismatchError is returned when a patch node cannot be merged into the
// corresponding base node because their shapes differ.
type MismatchError struct {
	// Expected names the shape the base node required: "Map", "Array",
	// "IndexMap", "TaggedIndexMap", or the debug form of the base leaf.
	Expected string
	// Got is the patch value that failed to match.
	Got Node
	// Path is where in the document the mismatch occurred.
	Path []string
	// DocIndex tells which document the error occurred.
	DocIndex int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("mismatch in types at path %s in document %d (got %s expected %s)",
		joinPath(e.Path), e.DocIndex, stringOf(e.Got), e.Expected)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}

// IndexOutOfRangeError is returned when an [IndexMap] patch addresses a
// position that does not exist in the base [Array].
type IndexOutOfRangeError struct {
	// Index is the offending patch key.
	Index uint32
	// Len is the length of the base array.
	Len int
	// Path is where in the document the array is.
	Path []string
	// DocIndex tells which document the error occurred.
	DocIndex int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("index %d out of range for array of length %d at path %s in document %d",
		e.Index, e.Len, joinPath(e.Path), e.DocIndex)
}

func (e *IndexOutOfRangeError) Is(target error) bool {
	return target == ErrIndexOutOfRange
}

// DepthError is returned when a patch nests deeper than the configured limit.
type DepthError struct {
	// Limit is the maximum depth that was exceeded.
	Limit int
	// Path is the node at which the limit was hit.
	Path []string
	// DocIndex tells which document the error occurred.
	DocIndex int
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("maximum depth %d exceeded at path %s in document %d",
		e.Limit, joinPath(e.Path), e.DocIndex)
}

func (e *DepthError) Is(target error) bool {
	return target == ErrMaxDepth
}

// MarshalError is returned when decoding or encoding a document fails.
type MarshalError struct {
	// Err is the underlying error returned by a codec function.
	Err error
	// DocIndex tells which document the error occurred.
	// The merged result is reported as index -1.
	DocIndex int
}

func (e *MarshalError) Error() string {
	if e.DocIndex < 0 {
		return fmt.Sprintf("cannot marshal merged document: %v", e.Err)
	}
	return fmt.Sprintf("cannot marshal document at position %d: %v", e.DocIndex, e.Err)
}

func (e *MarshalError) Unwrap() error {
	return e.Err
}

func (e *MarshalError) Is(target error) bool {
	return target == ErrMarshal
}

func joinPath(path []string) string {
	if len(path) == 0 {
		return "(root)"
	}
	return strings.Join(path, ".")
}

// Options configures merge behavior.
//
// The zero value is valid: patch subtrees are moved into the base without
// copying, and nesting is limited to [DefaultMaxDepth].
type Options struct {
	// CopyPatch deep-copies every subtree inserted from a patch, so the
	// patch remains usable and independent of the result. When false, the
	// result shares inserted subtrees with the patch and the caller must
	// not use the patch afterwards.
	CopyPatch bool

	// MaxDepth bounds the nesting depth walked in a single merge. Zero
	// selects [DefaultMaxDepth]. Negative values are invalid.
	MaxDepth int
}

// Merger applies patches with the configured options.
// It tracks the current document path for detailed error reporting.
//
// A Merger can be safely reused for multiple merge operations.
//
// A Merger is not safe to use concurrently.
type Merger struct {
	opts  Options  // merge configuration
	path  []string // current path in document tree for error reporting
	index int      // current document index being processed
}

// NewMerger creates a new [Merger] with the given options.
// Returns an error if the options are invalid.
func NewMerger(opts Options) (*Merger, error) {
	if opts.MaxDepth < 0 {
		return nil, fmt.Errorf("%w: negative MaxDepth %d", ErrInvalidOptions, opts.MaxDepth)
	}
	if opts.MaxDepth == 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Merger{opts: opts}, nil
}

// Options returns the merge options configured for this [Merger].
func (m *Merger) Options() Options {
	return m.opts
}

// Apply merges patch into base in place. See [Merger.Apply] for details.
func Apply(opts Options, base *Node, patch Node) error {
	m, err := NewMerger(opts)
	if err != nil {
		return err
	}
	return m.Apply(base, patch)
}

// Merge folds patches into base. See [Merger.Merge] for details.
func Merge(opts Options, base Node, patches ...Node) (Node, error) {
	m, err := NewMerger(opts)
	if err != nil {
		return nil, err
	}
	return m.Merge(base, patches...)
}

// MergeCopy folds patches into a copy of base. See [Merger.MergeCopy] for details.
func MergeCopy(opts Options, base Node, patches ...Node) (Node, error) {
	m, err := NewMerger(opts)
	if err != nil {
		return nil, err
	}
	return m.MergeCopy(base, patches...)
}

// MergeMarshal decodes, merges and re-encodes byte documents.
// See [Merger.MergeMarshal] for details.
func MergeMarshal(
	opts Options,
	decodeBase func([]byte) (Node, error),
	decodePatch func([]byte) (Node, error),
	encode func(Node) ([]byte, error),
	base []byte,
	patches ...[]byte,
) ([]byte, error) {
	m, err := NewMerger(opts)
	if err != nil {
		return nil, err
	}
	return m.MergeMarshal(decodeBase, decodePatch, encode, base, patches...)
}

// Apply merges patch into the node pointed to by base, mutating it in place.
//
// Dispatch follows the variant of the base node:
//
//   - *Map accepts *Map. Each patch key present in the base is merged
//     recursively; absent keys are inserted. Base keys missing from the
//     patch are untouched.
//   - Array accepts IndexMap, merging each entry into the array element at
//     that index. An index past the end yields [IndexOutOfRangeError].
//   - Array accepts Array, merging elements pairwise up to the shorter
//     length. Extra patch elements are dropped and extra base elements are
//     left alone; the base length never changes.
//   - IndexMap accepts IndexMap with the same per-key policy as *Map.
//   - TaggedIndexMap accepts TaggedIndexMap. Present keys merge their value
//     and then take the patch's tag; absent keys are inserted whole.
//   - A leaf accepts a leaf of the same type and is replaced wholesale.
//
// Any other pairing yields [MismatchError].
//
// Mutation happens node by node and is not rolled back: when an error is
// returned, base may reflect part of the patch. Use [Merger.MergeCopy] when
// the base must survive a failed merge. A nil base pointer is reported as
// [ErrInvalidOptions].
func (m *Merger) Apply(base *Node, patch Node) error {
	if base == nil {
		return fmt.Errorf("%w: nil base", ErrInvalidOptions)
	}
	m.reset(1)
	return m.apply(base, patch)
}

// Merge folds patches into base left-to-right, with later patches taking
// precedence, and returns the result.
//
// The merge happens in place: base is consumed and must not be used after
// the call, whether or not it succeeds. On error the returned node is nil.
func (m *Merger) Merge(base Node, patches ...Node) (Node, error) {
	result := base
	for i, patch := range patches {
		m.reset(i + 1)
		if err := m.apply(&result, patch); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// MergeCopy behaves like [Merger.Merge] but never mutates base or any patch.
// The base is deep-copied before the first patch is applied and every
// subtree inserted from a patch is copied as well, so a failed merge leaves
// the caller's documents exactly as they were.
func (m *Merger) MergeCopy(base Node, patches ...Node) (Node, error) {
	saved := m.opts.CopyPatch
	m.opts.CopyPatch = true
	defer func() { m.opts.CopyPatch = saved }()
	return m.Merge(Clone(base), patches...)
}

// MergeMarshal decodes the base and each patch with the given functions,
// merges them with [Merger.Merge], then encodes the result.
//
// Base and patches take separate decoders because they usually arrive in
// different formats: a binary asset and human-authored text patches.
// Decoding failures are reported as [MarshalError] with the index of the
// failing document (0 for the base).
func (m *Merger) MergeMarshal(
	decodeBase func([]byte) (Node, error),
	decodePatch func([]byte) (Node, error),
	encode func(Node) ([]byte, error),
	base []byte,
	patches ...[]byte,
) ([]byte, error) {
	baseDoc, err := decodeBase(base)
	if err != nil {
		return nil, &MarshalError{Err: err, DocIndex: 0}
	}

	parsed := make([]Node, len(patches))
	for i, patch := range patches {
		doc, err := decodePatch(patch)
		if err != nil {
			return nil, &MarshalError{Err: err, DocIndex: i + 1}
		}
		parsed[i] = doc
	}

	result, err := m.Merge(baseDoc, parsed...)
	if err != nil {
		return nil, err
	}

	out, err := encode(result)
	if err != nil {
		return nil, &MarshalError{Err: err, DocIndex: -1}
	}
	return out, nil
}

func (m *Merger) reset(i int) {
	m.path = nil
	m.index = i
}

func (m *Merger) push(path string) {
	m.path = append(m.path, path)
}

func (m *Merger) pop() {
	if len(m.path) == 0 {
		panic("unbalanced bymlmerge.Merger pop")
	}
	m.path = m.path[:len(m.path)-1]
}

func (m *Merger) mismatch(expected string, got Node) error {
	return &MismatchError{
		Expected: expected,
		Got:      got,
		Path:     slices.Clone(m.path),
		DocIndex: m.index,
	}
}

// take returns the patch subtree to be stored in the base.
func (m *Merger) take(n Node) Node {
	if m.opts.CopyPatch {
		return Clone(n)
	}
	return n
}

func (m *Merger) apply(base *Node, patch Node) error {
	if len(m.path) >= m.opts.MaxDepth {
		return &DepthError{
			Limit:    m.opts.MaxDepth,
			Path:     slices.Clone(m.path),
			DocIndex: m.index,
		}
	}

	switch b := (*base).(type) {
	case *Map:
		p, ok := patch.(*Map)
		if !ok {
			return m.mismatch("Map", patch)
		}
		if b == nil {
			b = NewMap(p.Len())
			*base = b
		}
		return m.mergeMaps(b, p)

	case Array:
		switch p := patch.(type) {
		case IndexMap:
			return m.mergeArrayIndexed(b, p)
		case Array:
			return m.mergeArrays(b, p)
		default:
			return m.mismatch("Array", patch)
		}

	case IndexMap:
		p, ok := patch.(IndexMap)
		if !ok {
			return m.mismatch("IndexMap", patch)
		}
		if b == nil {
			b = make(IndexMap, len(p))
			*base = b
		}
		return m.mergeIndexMaps(b, p)

	case TaggedIndexMap:
		p, ok := patch.(TaggedIndexMap)
		if !ok {
			return m.mismatch("TaggedIndexMap", patch)
		}
		if b == nil {
			b = make(TaggedIndexMap, len(p))
			*base = b
		}
		return m.mergeTaggedIndexMaps(b, p)

	case nil:
		// An unset base slot takes the patch as is.
		*base = m.take(patch)
		return nil

	default:
		if patch == nil || patch.Kind() != b.Kind() {
			return m.mismatch(b.String(), patch)
		}
		*base = m.take(patch)
		return nil
	}
}

func (m *Merger) mergeMaps(base, patch *Map) error {
	for k, v := range patch.All() {
		m.push(k)

		if baseVal, exists := base.Get(k); exists {
			if err := m.apply(&baseVal, v); err != nil {
				return err
			}
			base.Set(k, baseVal)
		} else {
			base.Set(k, m.take(v))
		}

		m.pop()
	}
	return nil
}

func (m *Merger) mergeArrayIndexed(base Array, patch IndexMap) error {
	for _, idx := range SortedKeys(patch) {
		if int64(idx) >= int64(len(base)) {
			return &IndexOutOfRangeError{
				Index:    idx,
				Len:      len(base),
				Path:     slices.Clone(m.path),
				DocIndex: m.index,
			}
		}

		m.push(strconv.FormatUint(uint64(idx), 10))
		if err := m.apply(&base[idx], patch[idx]); err != nil {
			return err
		}
		m.pop()
	}
	return nil
}

// mergeArrays merges positionally up to the shorter length. The base length
// is preserved in both directions.
func (m *Merger) mergeArrays(base, patch Array) error {
	n := min(len(base), len(patch))
	for i := 0; i < n; i++ {
		m.push(strconv.Itoa(i))
		if err := m.apply(&base[i], patch[i]); err != nil {
			return err
		}
		m.pop()
	}
	return nil
}

func (m *Merger) mergeIndexMaps(base, patch IndexMap) error {
	for _, k := range SortedKeys(patch) {
		v := patch[k]
		m.push(strconv.FormatUint(uint64(k), 10))

		if baseVal, exists := base[k]; exists {
			if err := m.apply(&baseVal, v); err != nil {
				return err
			}
			base[k] = baseVal
		} else {
			base[k] = m.take(v)
		}

		m.pop()
	}
	return nil
}

func (m *Merger) mergeTaggedIndexMaps(base, patch TaggedIndexMap) error {
	for _, k := range SortedKeys(patch) {
		v := patch[k]
		m.push(strconv.FormatUint(uint64(k), 10))

		if baseVal, exists := base[k]; exists {
			if err := m.apply(&baseVal.Value, v.Value); err != nil {
				return err
			}
			baseVal.Tag = v.Tag
			base[k] = baseVal
		} else {
			base[k] = TaggedValue{Value: m.take(v.Value), Tag: v.Tag}
		}

		m.pop()
	}
	return nil
}
