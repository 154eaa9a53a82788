package document

import (
	"math"
	"reflect"
	"sort"
)

// ValuesEqual compares two field values by their native equality.
//
// Numbers compare by numeric value regardless of their Go type, so an int64
// decoded from JSON equals an int read from YAML. Strings never equal
// numbers. A slice compares element-wise against another slice, and a
// single-element slice equals its bare element.
func ValuesEqual(a, b any) bool {
	as, aMulti := asSlice(a)
	bs, bMulti := asSlice(b)
	if !aMulti && !bMulti {
		return scalarEqual(a, b)
	}
	if !aMulti {
		as = []any{a}
	}
	if !bMulti {
		bs = []any{b}
	}
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if !scalarEqual(as[i], bs[i]) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	an, aNum := toNumber(a)
	bn, bNum := toNumber(b)
	if aNum || bNum {
		return aNum && bNum && an.equal(bn)
	}
	return reflect.DeepEqual(a, b)
}

type numberKind int

const (
	signedKind numberKind = iota
	unsignedKind
	floatKind
)

// number keeps integers out of float64 so values beyond 2^53 stay
// distinct.
type number struct {
	kind numberKind
	i    int64
	u    uint64
	f    float64
}

func (n number) float() float64 {
	switch n.kind {
	case signedKind:
		return float64(n.i)
	case unsignedKind:
		return float64(n.u)
	}
	return n.f
}

func (n number) equal(o number) bool {
	switch {
	case n.kind == floatKind || o.kind == floatKind:
		return n.float() == o.float()
	case n.kind == o.kind:
		return n.i == o.i && n.u == o.u
	case n.kind == signedKind:
		return n.i >= 0 && uint64(n.i) == o.u
	default:
		return o.i >= 0 && uint64(o.i) == n.u
	}
}

func toNumber(v any) (number, bool) {
	switch n := v.(type) {
	case int:
		return number{kind: signedKind, i: int64(n)}, true
	case int8:
		return number{kind: signedKind, i: int64(n)}, true
	case int16:
		return number{kind: signedKind, i: int64(n)}, true
	case int32:
		return number{kind: signedKind, i: int64(n)}, true
	case int64:
		return number{kind: signedKind, i: n}, true
	case uint:
		return number{kind: unsignedKind, u: uint64(n)}, true
	case uint8:
		return number{kind: unsignedKind, u: uint64(n)}, true
	case uint16:
		return number{kind: unsignedKind, u: uint64(n)}, true
	case uint32:
		return number{kind: unsignedKind, u: uint64(n)}, true
	case uint64:
		return number{kind: unsignedKind, u: n}, true
	case float32:
		return number{kind: floatKind, f: float64(n)}, true
	case float64:
		if math.IsNaN(n) {
			return number{}, false
		}
		return number{kind: floatKind, f: n}, true
	}
	return number{}, false
}

func asSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if _, ok := v.([]byte); ok {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
