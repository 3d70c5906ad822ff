// SPDX-License-Identifier: Apache-2.0

// Package textpatch reads and writes the human-authored text form of a
// document tree.
//
// The text form is YAML. Plain scalars and collections map onto the default
// node types, and local tags select the rest:
//
//	plain integer     Int (Int64 or UInt64 when the value does not fit)
//	plain float       Float
//	!u 1              UInt
//	!l 1              Int64
//	!ul 1             UInt64
//	!f64 1.5          Double
//	!!binary aGk=     Binary
//	~ / null          Null
//	mapping           Map
//	!h {3: x}         IndexMap
//	!vh {3: [x, 7]}   TaggedIndexMap, each entry a [value, tag] pair
//	sequence          Array
//
// Anchors and aliases are resolved; every alias expands to an independent
// copy of its anchored subtree.
package textpatch

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sam-fredrickson/bymlmerge"
)

// Tags used for the non-default node types.
const (
	TagUInt           = "!u"
	TagInt64          = "!l"
	TagUInt64         = "!ul"
	TagDouble         = "!f64"
	TagIndexMap       = "!h"
	TagTaggedIndexMap = "!vh"
)

const (
	tagNull   = "!!null"
	tagBool   = "!!bool"
	tagInt    = "!!int"
	tagFloat  = "!!float"
	tagStr    = "!!str"
	tagTime   = "!!timestamp"
	tagBinary = "!!binary"
	tagMap    = "!!map"
	tagSeq    = "!!seq"
)

// maxDepth bounds nesting, including through alias expansion.
const maxDepth = 512

// Alias expansion may produce at most aliasRatio nodes per node in the
// source, plus minAliasNodes.
const (
	aliasRatio    = 100
	minAliasNodes = 1 << 16
)

// ErrParse indicates malformed or unsupported text input.
var ErrParse = errors.New("text patch parse error")

// ParseError is returned when text input cannot be converted to a document.
type ParseError struct {
	// Line and Column locate the offending node, 1-based. Zero when the
	// underlying YAML decoder failed before producing nodes.
	Line   int
	Column int
	// Msg describes the problem.
	Msg string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return "textpatch: " + e.Msg
	}
	return fmt.Sprintf("textpatch: line %d column %d: %s", e.Line, e.Column, e.Msg)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// Parse converts text into a document. Empty input yields Null. Only the
// first YAML document of a stream is read.
func Parse(data []byte) (bymlmerge.Node, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{Msg: err.Error()}
	}
	if root.Kind == 0 {
		return bymlmerge.Null{}, nil
	}
	p := &parser{maxExpanded: aliasRatio*countNodes(&root) + minAliasNodes}
	return p.convert(&root)
}

// countNodes counts the nodes under n without following aliases.
func countNodes(n *yaml.Node) int {
	count := 1
	for _, child := range n.Content {
		count += countNodes(child)
	}
	return count
}

type parser struct {
	depth int

	// alias is the outermost alias being expanded, nil outside of one.
	alias       *yaml.Node
	expanded    int
	maxExpanded int
}

func errorAt(n *yaml.Node, format string, args ...any) error {
	return &ParseError{Line: n.Line, Column: n.Column, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) convert(n *yaml.Node) (bymlmerge.Node, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		return nil, errorAt(n, "nesting deeper than %d", maxDepth)
	}
	if p.alias != nil {
		p.expanded++
		if p.expanded > p.maxExpanded {
			return nil, errorAt(p.alias, "alias expansion exceeds %d nodes", p.maxExpanded)
		}
	}

	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return bymlmerge.Null{}, nil
		}
		return p.convert(n.Content[0])
	case yaml.AliasNode:
		if n.Alias == nil {
			return nil, errorAt(n, "unresolved alias %q", n.Value)
		}
		if p.alias == nil {
			p.alias = n
			defer func() { p.alias = nil }()
		}
		return p.convert(n.Alias)
	case yaml.ScalarNode:
		return p.scalar(n)
	case yaml.SequenceNode:
		if tag := n.ShortTag(); tag != tagSeq {
			return nil, errorAt(n, "unsupported sequence tag %q", tag)
		}
		out := make(bymlmerge.Array, 0, len(n.Content))
		for _, child := range n.Content {
			v, err := p.convert(child)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.MappingNode:
		switch tag := n.ShortTag(); tag {
		case tagMap:
			return p.mapping(n)
		case TagIndexMap:
			return p.indexMap(n)
		case TagTaggedIndexMap:
			return p.taggedIndexMap(n)
		default:
			return nil, errorAt(n, "unsupported mapping tag %q", tag)
		}
	default:
		return nil, errorAt(n, "unsupported YAML node kind %d", n.Kind)
	}
}

func (p *parser) mapping(n *yaml.Node) (bymlmerge.Node, error) {
	out := bymlmerge.NewMap(len(n.Content) / 2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		keyNode, valueNode := n.Content[i], n.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return nil, errorAt(keyNode, "map keys must be scalars")
		}
		if _, exists := out.Get(keyNode.Value); exists {
			return nil, errorAt(keyNode, "duplicate key %q", keyNode.Value)
		}
		v, err := p.convert(valueNode)
		if err != nil {
			return nil, err
		}
		out.Set(keyNode.Value, v)
	}
	return out, nil
}

func indexKey(n *yaml.Node) (uint32, error) {
	if n.Kind != yaml.ScalarNode {
		return 0, errorAt(n, "index keys must be scalars")
	}
	k, err := parseUint(n.Value, 32)
	if err != nil {
		return 0, errorAt(n, "invalid index key %q: %v", n.Value, err)
	}
	return uint32(k), nil
}

func (p *parser) indexMap(n *yaml.Node) (bymlmerge.Node, error) {
	out := make(bymlmerge.IndexMap, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, err := indexKey(n.Content[i])
		if err != nil {
			return nil, err
		}
		if _, exists := out[k]; exists {
			return nil, errorAt(n.Content[i], "duplicate index %d", k)
		}
		v, err := p.convert(n.Content[i+1])
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (p *parser) taggedIndexMap(n *yaml.Node) (bymlmerge.Node, error) {
	out := make(bymlmerge.TaggedIndexMap, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, err := indexKey(n.Content[i])
		if err != nil {
			return nil, err
		}
		if _, exists := out[k]; exists {
			return nil, errorAt(n.Content[i], "duplicate index %d", k)
		}

		pair, outer := n.Content[i+1], p.alias
		for pair.Kind == yaml.AliasNode && pair.Alias != nil {
			if p.alias == nil {
				p.alias = pair
			}
			pair = pair.Alias
		}
		if pair.Kind != yaml.SequenceNode || len(pair.Content) != 2 {
			return nil, errorAt(pair, "tagged entry must be a [value, tag] pair")
		}
		v, err := p.convert(pair.Content[0])
		if err != nil {
			return nil, err
		}
		p.alias = outer
		tagNode := pair.Content[1]
		if tagNode.Kind != yaml.ScalarNode {
			return nil, errorAt(tagNode, "tag must be a scalar")
		}
		tag, err := parseUint(tagNode.Value, 32)
		if err != nil {
			return nil, errorAt(tagNode, "invalid tag %q: %v", tagNode.Value, err)
		}
		out[k] = bymlmerge.TaggedValue{Value: v, Tag: uint32(tag)}
	}
	return out, nil
}

func (p *parser) scalar(n *yaml.Node) (bymlmerge.Node, error) {
	switch tag := n.ShortTag(); tag {
	case tagNull:
		return bymlmerge.Null{}, nil
	case tagBool:
		b, err := parseBool(n.Value)
		if err != nil {
			return nil, errorAt(n, "invalid bool %q", n.Value)
		}
		return bymlmerge.Bool(b), nil
	case tagStr, tagTime:
		return bymlmerge.String(n.Value), nil
	case tagBinary:
		raw, err := base64.StdEncoding.DecodeString(stripSpace(n.Value))
		if err != nil {
			return nil, errorAt(n, "invalid binary: %v", err)
		}
		return bymlmerge.Binary(raw), nil
	case tagInt:
		return parsePlainInt(n)
	case tagFloat:
		f, err := parseFloat(n.Value, 32)
		if err != nil {
			return nil, errorAt(n, "invalid float %q: %v", n.Value, err)
		}
		return bymlmerge.Float(f), nil
	case TagUInt:
		u, err := parseUint(n.Value, 32)
		if err != nil {
			return nil, errorAt(n, "invalid %s value %q: %v", tag, n.Value, err)
		}
		return bymlmerge.UInt(u), nil
	case TagInt64:
		i, err := parseInt(n.Value, 64)
		if err != nil {
			return nil, errorAt(n, "invalid %s value %q: %v", tag, n.Value, err)
		}
		return bymlmerge.Int64(i), nil
	case TagUInt64:
		u, err := parseUint(n.Value, 64)
		if err != nil {
			return nil, errorAt(n, "invalid %s value %q: %v", tag, n.Value, err)
		}
		return bymlmerge.UInt64(u), nil
	case TagDouble:
		f, err := parseFloat(n.Value, 64)
		if err != nil {
			return nil, errorAt(n, "invalid %s value %q: %v", tag, n.Value, err)
		}
		return bymlmerge.Double(f), nil
	default:
		return nil, errorAt(n, "unsupported scalar tag %q", tag)
	}
}

// parsePlainInt picks the narrowest signed type that holds the value, then
// falls back to UInt64 for values above the int64 range.
func parsePlainInt(n *yaml.Node) (bymlmerge.Node, error) {
	i, err := parseInt(n.Value, 64)
	if err == nil {
		if i >= math.MinInt32 && i <= math.MaxInt32 {
			return bymlmerge.Int(i), nil
		}
		return bymlmerge.Int64(i), nil
	}
	u, uerr := parseUint(n.Value, 64)
	if uerr == nil {
		return bymlmerge.UInt64(u), nil
	}
	return nil, errorAt(n, "invalid integer %q: %v", n.Value, err)
}

// normalizeInt strips surrounding space and a leading '+', which
// strconv.ParseUint rejects.
func normalizeInt(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "+")
	return s
}

func parseInt(s string, bits int) (int64, error) {
	return strconv.ParseInt(normalizeInt(s), 0, bits)
}

func parseUint(s string, bits int) (uint64, error) {
	return strconv.ParseUint(normalizeInt(s), 0, bits)
}

func parseFloat(s string, bits int) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ".inf", "+.inf":
		return math.Inf(1), nil
	case "-.inf":
		return math.Inf(-1), nil
	case ".nan":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(strings.TrimSpace(s), bits)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, strconv.ErrSyntax
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}

// Format renders a document as text that [Parse] reads back to an equal
// document.
func Format(n bymlmerge.Node) ([]byte, error) {
	yn, err := toYAML(n, 0)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(yn); err != nil {
		return nil, fmt.Errorf("textpatch: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("textpatch: %w", err)
	}
	return buf.Bytes(), nil
}

func scalarNode(tag, value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value}
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	case math.IsNaN(f):
		return ".nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func toYAML(n bymlmerge.Node, depth int) (*yaml.Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("textpatch: nesting deeper than %d", maxDepth)
	}

	switch v := n.(type) {
	case nil, bymlmerge.Null:
		return scalarNode(tagNull, "null"), nil
	case bymlmerge.Bool:
		return scalarNode(tagBool, strconv.FormatBool(bool(v))), nil
	case bymlmerge.Int:
		return scalarNode(tagInt, strconv.FormatInt(int64(v), 10)), nil
	case bymlmerge.UInt:
		return scalarNode(TagUInt, strconv.FormatUint(uint64(v), 10)), nil
	case bymlmerge.Int64:
		return scalarNode(TagInt64, strconv.FormatInt(int64(v), 10)), nil
	case bymlmerge.UInt64:
		return scalarNode(TagUInt64, strconv.FormatUint(uint64(v), 10)), nil
	case bymlmerge.Float:
		return scalarNode(tagFloat, formatFloat(float64(v), 32)), nil
	case bymlmerge.Double:
		return scalarNode(TagDouble, formatFloat(float64(v), 64)), nil
	case bymlmerge.String:
		return scalarNode(tagStr, string(v)), nil
	case bymlmerge.Binary:
		return scalarNode(tagBinary, base64.StdEncoding.EncodeToString(v)), nil
	case *bymlmerge.Map:
		out := &yaml.Node{Kind: yaml.MappingNode, Tag: tagMap}
		for k, child := range v.All() {
			cn, err := toYAML(child, depth+1)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, scalarNode(tagStr, k), cn)
		}
		return out, nil
	case bymlmerge.Array:
		out := &yaml.Node{Kind: yaml.SequenceNode, Tag: tagSeq}
		for _, child := range v {
			cn, err := toYAML(child, depth+1)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, cn)
		}
		return out, nil
	case bymlmerge.IndexMap:
		out := &yaml.Node{Kind: yaml.MappingNode, Tag: TagIndexMap}
		for _, k := range bymlmerge.SortedKeys(v) {
			cn, err := toYAML(v[k], depth+1)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, scalarNode(tagInt, strconv.FormatUint(uint64(k), 10)), cn)
		}
		return out, nil
	case bymlmerge.TaggedIndexMap:
		out := &yaml.Node{Kind: yaml.MappingNode, Tag: TagTaggedIndexMap}
		for _, k := range bymlmerge.SortedKeys(v) {
			cn, err := toYAML(v[k].Value, depth+1)
			if err != nil {
				return nil, err
			}
			pair := &yaml.Node{
				Kind:    yaml.SequenceNode,
				Tag:     tagSeq,
				Style:   yaml.FlowStyle,
				Content: []*yaml.Node{cn, scalarNode(tagInt, fmt.Sprintf("0x%08x", v[k].Tag))},
			}
			out.Content = append(out.Content, scalarNode(tagInt, strconv.FormatUint(uint64(k), 10)), pair)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("textpatch: unsupported node %T", n)
	}
}
