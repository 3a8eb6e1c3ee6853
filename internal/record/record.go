// Package record models a single database table row as a dynamically typed,
// table-scoped set of fields.
//
// Records are hydrated by a store lookup (with every value passed through
// Coerce) or dispensed blank for a table. The identity field IDField decides
// whether a record is new or already persisted: it is new while the field is
// absent, Null or zero.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// IDField names the identity column of every table.
const IDField = "id"

// Record is a single-table row. The table name is fixed at construction; the
// field set may grow freely until the record is persisted. Fields assigned
// since hydration or the last MarkClean are dirty; an update writes only
// those, so untouched columns keep their stored text.
type Record struct {
	table  string
	fields Object
	order  []string
	dirty  map[string]struct{}
	absent bool
}

// New returns a blank record for table with its identity field unset.
func New(table string) *Record {
	return &Record{table: table, fields: make(Object), dirty: make(map[string]struct{})}
}

// Absent returns the marker record for a lookup that matched no row.
func Absent(table string) *Record {
	return &Record{table: table, fields: make(Object), dirty: make(map[string]struct{}), absent: true}
}

// FromRow hydrates a record from a coerced row. columns fixes the field
// order; keys missing from columns are appended in lexical order.
func FromRow(table string, row Object, columns []string) *Record {
	r := New(table)
	seen := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		if v, ok := row[col]; ok {
			r.Set(col, v)
			seen[col] = struct{}{}
		}
	}
	for _, k := range row.Keys() {
		if _, ok := seen[k]; !ok {
			r.Set(k, row[k])
		}
	}
	r.MarkClean()
	return r
}

// Table returns the owning table name.
func (r *Record) Table() string {
	return r.table
}

// IsEmpty reports whether the record represents "no row". A dispensed record
// with no fields set is also empty.
func (r *Record) IsEmpty() bool {
	return r == nil || r.absent || len(r.fields) == 0
}

// IsNew reports whether the identity field is unset.
func (r *Record) IsNew() bool {
	_, ok := r.ID()
	return !ok
}

// ID returns the identity value when it is populated.
func (r *Record) ID() (int64, bool) {
	if r == nil {
		return 0, false
	}
	switch v := r.fields[IDField].(type) {
	case Int:
		return int64(v), v != 0
	case Float:
		return int64(v), v != 0
	case String:
		n, err := strconv.ParseInt(string(v), 10, 64)
		return n, err == nil && n != 0
	default:
		return 0, false
	}
}

// SetID populates the identity field.
func (r *Record) SetID(id int64) {
	r.Set(IDField, Int(id))
}

// Get returns the field value, or Null when it is not set.
func (r *Record) Get(name string) Value {
	if r == nil {
		return Null{}
	}
	if v, ok := r.fields[name]; ok && v != nil {
		return v
	}
	return Null{}
}

// Has reports whether the field is present, even when Null.
func (r *Record) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.fields[name]
	return ok
}

// Set assigns a field. Plain Go values are converted with Of.
func (r *Record) Set(name string, v any) {
	if _, ok := r.fields[name]; !ok {
		r.order = append(r.order, name)
	}
	r.fields[name] = Of(v)
	r.dirty[name] = struct{}{}
	r.absent = false
}

// Dirty returns the fields assigned since hydration or the last MarkClean,
// in assignment order.
func (r *Record) Dirty() []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, name := range r.order {
		if _, ok := r.dirty[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// MarkClean forgets pending assignments. Stores call it after a write.
func (r *Record) MarkClean() {
	if r != nil {
		clear(r.dirty)
	}
}

// Fields returns the field names in assignment order.
func (r *Record) Fields() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Values returns a copy of the field mapping.
func (r *Record) Values() Object {
	out := make(Object, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// String returns the field rendered as text, or "" when it is Null.
func (r *Record) String(name string) string {
	s, _ := Text(r.Get(name))
	return s
}

// Int returns the field as an integer. Text is parsed; other values yield 0.
func (r *Record) Int(name string) int64 {
	switch v := r.Get(name).(type) {
	case Int:
		return int64(v)
	case Float:
		return int64(v)
	case Bool:
		if v {
			return 1
		}
		return 0
	case String:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	default:
		return 0
	}
}

// Float returns the field as a float.
func (r *Record) Float(name string) float64 {
	switch v := r.Get(name).(type) {
	case Float:
		return float64(v)
	case Int:
		return float64(v)
	case String:
		f, _ := strconv.ParseFloat(string(v), 64)
		return f
	default:
		return 0
	}
}

// Bool returns the field as a boolean. Non-zero numbers and non-empty text
// other than "0" are true.
func (r *Record) Bool(name string) bool {
	switch v := r.Get(name).(type) {
	case Bool:
		return bool(v)
	case Int:
		return v != 0
	case Float:
		return v != 0
	case String:
		return v != "" && v != "0"
	case Array:
		return len(v) > 0
	case Object:
		return len(v) > 0
	default:
		return false
	}
}

// MarshalJSON encodes the record as a JSON object, or null when absent.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil || r.absent {
		return []byte("null"), nil
	}
	return json.Marshal(r.fields)
}

func (r *Record) GoString() string {
	if r.IsEmpty() {
		return fmt.Sprintf("record.Absent(%q)", r.table)
	}
	return fmt.Sprintf("record(%s %v)", r.table, r.fields.Any())
}
