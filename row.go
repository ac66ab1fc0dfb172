package lens

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Fields maps field names to values.
type Fields map[string]Value

// Clone returns a copy of f. A nil Fields clones to an empty map.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Equal reports whether f and o hold the same fields with equal values.
func (f Fields) Equal(o Fields) bool {
	if len(f) != len(o) {
		return false
	}
	for k, v := range f {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Names returns the field names in lexical order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// FieldsOf converts a decoded document into Fields.
func FieldsOf(m map[string]any) (Fields, error) {
	out := make(Fields, len(m))
	for k, x := range m {
		v, err := ValueOf(x)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Row is one keyed entity of a view. The Key is assigned from feed metadata
// and never changes; Fields are schema-free.
//
// Rows are treated as immutable values: Merge and With return new rows and
// never modify the receiver's field map.
type Row struct {
	Key    string `json:"key" yaml:"key"`
	Fields Fields `json:"fields" yaml:"fields"`
}

// NewRow creates a row with a private copy of fields.
func NewRow(key string, fields Fields) Row {
	return Row{Key: key, Fields: fields.Clone()}
}

// Get returns the named field and whether it is present.
func (r Row) Get(name string) (Value, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Merge returns a new row holding r's fields overwritten by patch. Fields
// absent from patch keep their current value.
func (r Row) Merge(patch Fields) Row {
	merged := make(Fields, len(r.Fields)+len(patch))
	for k, v := range r.Fields {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return Row{Key: r.Key, Fields: merged}
}

// Changes reports whether merging patch into r would alter any field.
func (r Row) Changes(patch Fields) bool {
	for k, v := range patch {
		cur, ok := r.Fields[k]
		if !ok || !cur.Equal(v) {
			return true
		}
	}
	return false
}

// Equal reports whether two rows share a key and equal fields.
func (r Row) Equal(o Row) bool {
	return r.Key == o.Key && r.Fields.Equal(o.Fields)
}

// MarshalJSON flattens the row into a single object with the key under "key",
// the shape a display sink consumes.
func (r Row) MarshalJSON() ([]byte, error) {
	flat := make(map[string]Value, len(r.Fields)+1)
	for k, v := range r.Fields {
		flat[k] = v
	}
	flat["key"] = String(r.Key)
	return json.Marshal(flat)
}
