// Package core defines the data model shared by every layer of tdbcore:
// rows, keys, change messages, and the small set of virtual properties
// every emitted row carries. It has no behavior of its own beyond
// normalization and navigation helpers — collection lifecycle lives in
// internal/collection, dataflow lives in internal/dataflow.
package core

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Row is a structured record: an arbitrary map from field name to a
// primitive, nested map, list, or binary value. It is the in-memory form
// consumers read and write; Tuple (tuple.go) is its canonical wire form.
type Row map[string]any

// Clone returns a shallow copy of the row. Operators that derive a new row
// from an existing one (Select projections, virtual-property injection)
// must not mutate the input in place, since it may still be referenced by
// the synced or optimistic tier.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Key identifies a Row within a collection. Keys are strings, integers,
// or small (<=128 byte) binary identifiers normalized by
// content. Larger binaries are also keyed by their full base64 content,
// under a distinct "B:" prefix; they do not use reference identity, so
// two distinct byte slices with equal content yield the same Key.
type Key string

const maxNormalizedBinaryLen = 128

// NormalizeKey converts a user-supplied key value (string, any integer
// type, or []byte) into the canonical Key used for map lookups.
func NormalizeKey(v any) (Key, error) {
	switch k := v.(type) {
	case Key:
		return k, nil
	case string:
		return Key("s:" + k), nil
	case []byte:
		if len(k) <= maxNormalizedBinaryLen {
			return Key("b:" + base64.StdEncoding.EncodeToString(k)), nil
		}
		return Key("B:" + base64.StdEncoding.EncodeToString(k)), nil
	case int:
		return Key(fmt.Sprintf("i:%d", k)), nil
	case int32:
		return Key(fmt.Sprintf("i:%d", k)), nil
	case int64:
		return Key(fmt.Sprintf("i:%d", k)), nil
	case uint64:
		return Key(fmt.Sprintf("i:%d", k)), nil
	case float64:
		// JSON round-trips integral numbers as float64; treat whole values
		// as integers so keys decoded off the wire still normalize the same.
		if k == float64(int64(k)) {
			return Key(fmt.Sprintf("i:%d", int64(k))), nil
		}
		return "", fmt.Errorf("tdbcore: key must be string, integer, or binary, got non-integral float %v", k)
	default:
		return "", fmt.Errorf("tdbcore: unsupported key type %T", v)
	}
}

// KeyFunc derives a Row's Key. It must be pure and total over every Row a
// collection will ever hold.
type KeyFunc func(Row) (Key, error)

// PropPath is a dot-path such as "user.address.city", pre-split so
// expression evaluators never re-parse it per row: expression compilation
// precompiles path navigation.
type PropPath []string

// SplitPath parses a dotted path into its segments.
func SplitPath(path string) PropPath {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Get navigates r along p, returning (nil, false) if any intermediate
// segment is missing or not itself a nested map.
func (r Row) Get(p PropPath) (any, bool) {
	var cur any = map[string]any(r)
	for _, seg := range p {
		m, ok := cur.(map[string]any)
		if !ok {
			if rm, ok2 := cur.(Row); ok2 {
				m = map[string]any(rm)
			} else {
				return nil, false
			}
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// With returns a copy of r with p set to value, creating intermediate maps
// as needed. The receiver is never mutated.
func (r Row) With(p PropPath, value any) Row {
	if len(p) == 0 {
		return r
	}
	out := r.Clone()
	if out == nil {
		out = Row{}
	}
	cur := out
	for i, seg := range p {
		if i == len(p)-1 {
			cur[seg] = value
			break
		}
		next, ok := cur[seg].(Row)
		if !ok {
			if m, ok2 := cur[seg].(map[string]any); ok2 {
				next = Row(m).Clone()
			} else {
				next = Row{}
			}
		} else {
			next = next.Clone()
		}
		cur[seg] = next
		cur = next
	}
	return out
}
