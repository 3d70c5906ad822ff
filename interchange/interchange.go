// SPDX-License-Identifier: Apache-2.0

// Package interchange exports documents to common plain data formats.
//
// The exports are for inspection and are lossy: numeric widths collapse to
// the target format's number types, integer-keyed maps become objects keyed
// by decimal strings (CBOR keeps integer keys), tagged entries become
// {"value": ..., "tag": ...} objects and binary data is base64 text except in
// CBOR. There is no import path back to a document.
package interchange

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-yaml"

	"github.com/sam-fredrickson/bymlmerge"
)

// Format is a plain export format.
type Format uint8

const (
	JSON Format = iota
	YAML
	TOML
	CBOR
)

// ErrUnknownFormat is returned by [ParseFormat] for unrecognized names.
var ErrUnknownFormat = errors.New("unknown interchange format")

func (f Format) String() string {
	switch f {
	case JSON:
		return "json"
	case YAML:
		return "yaml"
	case TOML:
		return "toml"
	case CBOR:
		return "cbor"
	default:
		return fmt.Sprintf("Format(%d)", f)
	}
}

// ParseFormat parses a format name as used on the command line.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	case "toml":
		return TOML, nil
	case "cbor":
		return CBOR, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// Marshal exports n in the given format.
func Marshal(n bymlmerge.Node, f Format) ([]byte, error) {
	switch f {
	case JSON:
		v := jsonStyle.convert(n)
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
		return buf.Bytes(), nil
	case YAML:
		out, err := yaml.Marshal(yamlStyle.convert(n))
		if err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
		return out, nil
	case TOML:
		v := tomlStyle.convert(n)
		if _, isTable := v.(map[string]any); !isTable {
			v = map[string]any{"root": v}
			if _, isNull := n.(bymlmerge.Null); isNull || n == nil {
				v = map[string]any{}
			}
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(v); err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
		return buf.Bytes(), nil
	case CBOR:
		out, err := cborMode.Marshal(cborStyle.convert(n))
		if err != nil {
			return nil, fmt.Errorf("cbor: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, f)
	}
}

// cborMode uses Core Deterministic Encoding, so the same document always
// produces identical bytes.
var cborMode = func() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("interchange: CBOR encoder initialization failed: " + err.Error())
	}
	return mode
}()

// style describes how a target format represents the values it has no
// direct equivalent for.
type style struct {
	object func(keys []string, values []any) any
	index  func(keys []uint32, values []any) any
	binary func([]byte) any
	f32    func(float32) any
	f64    func(float64) any
	u64    func(uint64) any
	// dropNull omits null map entries and array elements.
	dropNull bool
}

func (s *style) convert(n bymlmerge.Node) any {
	switch v := n.(type) {
	case nil, bymlmerge.Null:
		return nil
	case bymlmerge.Bool:
		return bool(v)
	case bymlmerge.Int:
		return int64(v)
	case bymlmerge.UInt:
		return uint32(v)
	case bymlmerge.Int64:
		return int64(v)
	case bymlmerge.UInt64:
		return s.u64(uint64(v))
	case bymlmerge.Float:
		return s.f32(float32(v))
	case bymlmerge.Double:
		return s.f64(float64(v))
	case bymlmerge.String:
		return string(v)
	case bymlmerge.Binary:
		return s.binary(v)
	case bymlmerge.Array:
		out := make([]any, 0, len(v))
		for _, child := range v {
			if s.skip(child) {
				continue
			}
			out = append(out, s.convert(child))
		}
		return out
	case *bymlmerge.Map:
		keys := make([]string, 0, v.Len())
		values := make([]any, 0, v.Len())
		for k, child := range v.All() {
			if s.skip(child) {
				continue
			}
			keys = append(keys, k)
			values = append(values, s.convert(child))
		}
		return s.object(keys, values)
	case bymlmerge.IndexMap:
		keys := make([]uint32, 0, len(v))
		values := make([]any, 0, len(v))
		for _, k := range bymlmerge.SortedKeys(v) {
			if s.skip(v[k]) {
				continue
			}
			keys = append(keys, k)
			values = append(values, s.convert(v[k]))
		}
		return s.index(keys, values)
	case bymlmerge.TaggedIndexMap:
		keys := bymlmerge.SortedKeys(v)
		values := make([]any, len(keys))
		for i, k := range keys {
			tv := v[k]
			entryKeys := []string{"value", "tag"}
			entryValues := []any{s.convert(tv.Value), tv.Tag}
			if s.skip(tv.Value) {
				entryKeys, entryValues = entryKeys[1:], entryValues[1:]
			}
			values[i] = s.object(entryKeys, entryValues)
		}
		return s.index(keys, values)
	default:
		panic(fmt.Sprintf("interchange: unknown node %T", n))
	}
}

func (s *style) skip(n bymlmerge.Node) bool {
	if !s.dropNull {
		return false
	}
	_, isNull := n.(bymlmerge.Null)
	return isNull || n == nil
}

// shortFloat widens f to the float64 with the same shortest decimal form, so
// Float(0.1) exports as 0.1 rather than 0.10000000149011612.
func shortFloat(f float32) float64 {
	d, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		return float64(f)
	}
	return d
}

func base64Text(b []byte) any {
	return base64.StdEncoding.EncodeToString(b)
}

func stringKeys(keys []uint32) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strconv.FormatUint(uint64(k), 10)
	}
	return out
}

func identity[T any](v T) any { return v }

var jsonStyle = &style{
	object: func(keys []string, values []any) any {
		return orderedObject{keys: keys, values: values}
	},
	index: func(keys []uint32, values []any) any {
		return orderedObject{keys: stringKeys(keys), values: values}
	},
	binary: base64Text,
	f32:    func(f float32) any { return jsonFloat(shortFloat(f)) },
	f64:    jsonFloat,
	u64:    identity[uint64],
}

// jsonFloat spells out values JSON numbers cannot hold.
func jsonFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	default:
		return f
	}
}

// orderedObject is a JSON object that keeps key order.
type orderedObject struct {
	keys   []string
	values []any
}

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(o.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

var yamlStyle = &style{
	object: func(keys []string, values []any) any {
		out := make(yaml.MapSlice, len(keys))
		for i, k := range keys {
			out[i] = yaml.MapItem{Key: k, Value: values[i]}
		}
		return out
	},
	index: func(keys []uint32, values []any) any {
		out := make(yaml.MapSlice, len(keys))
		for i, k := range keys {
			out[i] = yaml.MapItem{Key: k, Value: values[i]}
		}
		return out
	},
	binary: base64Text,
	f32:    func(f float32) any { return shortFloat(f) },
	f64:    identity[float64],
	u64:    identity[uint64],
}

var tomlStyle = &style{
	object: func(keys []string, values []any) any {
		out := make(map[string]any, len(keys))
		for i, k := range keys {
			out[k] = values[i]
		}
		return out
	},
	index: func(keys []uint32, values []any) any {
		out := make(map[string]any, len(keys))
		for i, k := range stringKeys(keys) {
			out[k] = values[i]
		}
		return out
	},
	binary: base64Text,
	f32:    func(f float32) any { return shortFloat(f) },
	f64:    identity[float64],
	// TOML integers are signed 64-bit.
	u64: func(u uint64) any {
		if u > math.MaxInt64 {
			return strconv.FormatUint(u, 10)
		}
		return int64(u)
	},
	dropNull: true,
}

var cborStyle = &style{
	object: func(keys []string, values []any) any {
		out := make(map[string]any, len(keys))
		for i, k := range keys {
			out[k] = values[i]
		}
		return out
	},
	index: func(keys []uint32, values []any) any {
		out := make(map[uint32]any, len(keys))
		for i, k := range keys {
			out[k] = values[i]
		}
		return out
	},
	binary: identity[[]byte],
	f32:    identity[float32],
	f64:    identity[float64],
	u64:    identity[uint64],
}
