// Package document provides the ordered, multi-valued document model that
// flows through reference resolution, field merging and indexing.
//
// A Document maps field names to one or more scalar values. Field order is
// the order of first insertion and survives JSON and YAML round-trips, so a
// merged document is indexed with the same layout it was received in.
package document

import (
	"fmt"
	"reflect"
)

type field struct {
	name   string
	values []any
}

// Document is an ordered mapping from field name to one or more values.
//
// Document is not safe for concurrent mutation. Each resolution owns the
// result document it writes to.
type Document struct {
	fields []field
	index  map[string]int
}

// New returns an empty document.
func New() *Document {
	return &Document{index: make(map[string]int)}
}

// FromMap builds a document from a plain map. Slice values become
// multi-valued fields. Map iteration order is not stable, so fields are
// added in sorted name order.
func FromMap(m map[string]any) *Document {
	d := New()
	for _, name := range sortedKeys(m) {
		d.Set(name, expand(m[name])...)
	}
	return d
}

// Has reports whether the document contains the field, even if it holds no
// values.
func (d *Document) Has(name string) bool {
	if d == nil {
		return false
	}
	_, ok := d.index[name]
	return ok
}

// Get returns the first value of the field, or nil if the field is absent
// or empty.
func (d *Document) Get(name string) any {
	if d == nil {
		return nil
	}
	i, ok := d.index[name]
	if !ok || len(d.fields[i].values) == 0 {
		return nil
	}
	return d.fields[i].values[0]
}

// Values returns a copy of all values of the field.
func (d *Document) Values(name string) []any {
	if d == nil {
		return nil
	}
	i, ok := d.index[name]
	if !ok {
		return nil
	}
	out := make([]any, len(d.fields[i].values))
	copy(out, d.fields[i].values)
	return out
}

// Value returns the field as a single comparable value: the scalar for a
// single-valued field, a []any for a multi-valued one. The second result is
// false when the field is absent.
func (d *Document) Value(name string) (any, bool) {
	if !d.Has(name) {
		return nil, false
	}
	vals := d.fields[d.index[name]].values
	switch len(vals) {
	case 0:
		return nil, true
	case 1:
		return vals[0], true
	default:
		return d.Values(name), true
	}
}

// String returns the first value of the field formatted as a string.
func (d *Document) String(name string) (string, bool) {
	v := d.Get(name)
	if v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// ID returns the first value of the id field as a string, or "".
func (d *Document) ID(idField string) string {
	s, _ := d.String(idField)
	return s
}

// Set replaces the values of a field. The field keeps its position if it
// already exists, otherwise it is appended.
func (d *Document) Set(name string, values ...any) {
	d.ensureIndex()
	vals := make([]any, len(values))
	copy(vals, values)
	if i, ok := d.index[name]; ok {
		d.fields[i].values = vals
		return
	}
	d.index[name] = len(d.fields)
	d.fields = append(d.fields, field{name: name, values: vals})
}

// Add appends values to a field, creating it if needed.
func (d *Document) Add(name string, values ...any) {
	d.ensureIndex()
	if i, ok := d.index[name]; ok {
		d.fields[i].values = append(d.fields[i].values, values...)
		return
	}
	d.Set(name, values...)
}

// Delete removes a field. Deleting an absent field is a no-op.
func (d *Document) Delete(name string) {
	if d == nil {
		return
	}
	i, ok := d.index[name]
	if !ok {
		return
	}
	d.fields = append(d.fields[:i], d.fields[i+1:]...)
	delete(d.index, name)
	for j := i; j < len(d.fields); j++ {
		d.index[d.fields[j].name] = j
	}
}

// Fields returns the field names in document order.
func (d *Document) Fields() []string {
	if d == nil {
		return nil
	}
	names := make([]string, len(d.fields))
	for i, f := range d.fields {
		names[i] = f.name
	}
	return names
}

// Len returns the number of fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// Clone returns a copy that shares no field storage with d.
func (d *Document) Clone() *Document {
	c := New()
	if d == nil {
		return c
	}
	for _, f := range d.fields {
		c.Set(f.name, f.values...)
	}
	return c
}

// Map returns the document as a plain map. Single-valued fields map to the
// scalar, multi-valued fields to a []any.
func (d *Document) Map() map[string]any {
	m := make(map[string]any, d.Len())
	for _, name := range d.Fields() {
		v, _ := d.Value(name)
		m[name] = v
	}
	return m
}

func (d *Document) ensureIndex() {
	if d.index == nil {
		d.index = make(map[string]int, len(d.fields))
		for i, f := range d.fields {
			d.index[f.name] = i
		}
	}
}

// expand turns slice values into a list of field values and leaves scalars
// as a single value.
func expand(v any) []any {
	switch vv := v.(type) {
	case nil:
		return nil
	case []any:
		return vv
	case string, []byte:
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}
