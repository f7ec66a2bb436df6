// Package util provides property value helpers shared across NornicExt packages.
//
// Property values are plain Go values stored in map[string]any. Lists may
// arrive as []any or as typed slices ([]int64, []string, ...) depending on
// where they came from, so equality and hashing treat any slice or array as a
// sequence and compare element-wise.
package util

import (
	"fmt"
	"hash/fnv"
	"math"
	"reflect"
	"sort"
	"strings"
)

// ArrayFriendlyEquals reports whether two property values are equal.
//
// Slices and arrays are equal when they have the same length and pairwise
// equal elements, regardless of their container type: []any{"a"} equals
// []string{"a"}. Scalars compare with ==, so int(1) and int64(1) differ.
// NaN equals NaN, so writing NaN over NaN is not a change.
//
// Example:
//
//	ArrayFriendlyEquals([]int64{1, 2}, []any{int64(1), int64(2)}) // true
//	ArrayFriendlyEquals("a", "a")                                 // true
//	ArrayFriendlyEquals(1, int64(1))                              // false
func ArrayFriendlyEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	aSeq, bSeq := isSequence(va), isSequence(vb)
	if aSeq || bSeq {
		if !aSeq || !bSeq || va.Len() != vb.Len() {
			return false
		}
		for i := 0; i < va.Len(); i++ {
			if !ArrayFriendlyEquals(va.Index(i).Interface(), vb.Index(i).Interface()) {
				return false
			}
		}
		return true
	}

	if va.Kind() == reflect.Map && vb.Kind() == reflect.Map {
		ma, okA := a.(map[string]any)
		mb, okB := b.(map[string]any)
		if okA && okB {
			return ArrayFriendlyMapEquals(ma, mb)
		}
		return reflect.DeepEqual(a, b)
	}

	if va.Type() != vb.Type() {
		return false
	}
	if k := va.Kind(); k == reflect.Float32 || k == reflect.Float64 {
		x, y := va.Float(), vb.Float()
		return x == y || (math.IsNaN(x) && math.IsNaN(y))
	}
	if va.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// ArrayFriendlyMapEquals applies ArrayFriendlyEquals per key. A nil map equals
// an empty one.
func ArrayFriendlyMapEquals(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !ArrayFriendlyEquals(av, bv) {
			return false
		}
	}
	return true
}

// ArrayFriendlyHash returns a hash consistent with ArrayFriendlyEquals: equal
// values hash equally.
func ArrayFriendlyHash(v any) uint64 {
	h := fnv.New64a()
	writeHash(h, v)
	return h.Sum64()
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeHash(h byteWriter, v any) {
	if v == nil {
		h.Write([]byte{0})
		return
	}

	rv := reflect.ValueOf(v)
	switch {
	case isSequence(rv):
		h.Write([]byte{'['})
		for i := 0; i < rv.Len(); i++ {
			writeHash(h, rv.Index(i).Interface())
			h.Write([]byte{','})
		}
		h.Write([]byte{']'})
	case rv.Kind() == reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		h.Write([]byte{'{'})
		for _, k := range keys {
			writeHash(h, k.Interface())
			h.Write([]byte{':'})
			writeHash(h, rv.MapIndex(k).Interface())
			h.Write([]byte{','})
		}
		h.Write([]byte{'}'})
	default:
		fmt.Fprintf(h, "%T:%v", v, v)
	}
}

// ValueToString renders a property value for mutation logs: lists as
// "[a, b]", maps as "{k: v}" with sorted keys, nil as "null".
func ValueToString(v any) string {
	if v == nil {
		return "null"
	}

	rv := reflect.ValueOf(v)
	switch {
	case isSequence(rv):
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = ValueToString(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case rv.Kind() == reflect.Map:
		if m, ok := v.(map[string]any); ok {
			return "{" + PropertiesToString(m) + "}"
		}
	}
	return fmt.Sprint(v)
}

// PropertiesToString renders "k1: v1, k2: v2" with keys in sorted order.
func PropertiesToString(props map[string]any) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + ValueToString(props[k])
	}
	return strings.Join(parts, ", ")
}

func isSequence(v reflect.Value) bool {
	return v.Kind() == reflect.Slice || v.Kind() == reflect.Array
}
