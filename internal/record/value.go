package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Value is a sealed interface over the scalar and composite values a Record
// field can hold. Only Null, Bool, Int, Float, String, Array and Object
// implement it.
type Value interface {
	value()
	// Any returns the plain Go representation (nil, bool, int64, float64,
	// string, []any, map[string]any).
	Any() any
}

// Null is the storage-native absence of a value.
type Null struct{}

// Bool is a boolean field value.
type Bool bool

// Int is an integer field value. Always int64.
type Int int64

// Float is a floating point field value.
type Float float64

// String is a text field value.
type String string

// Array is an ordered list of values.
type Array []Value

// Object is a keyed set of values.
type Object map[string]Value

func (Null) value()   {}
func (Bool) value()   {}
func (Int) value()    {}
func (Float) value()  {}
func (String) value() {}
func (Array) value()  {}
func (Object) value() {}

func (Null) Any() any     { return nil }
func (b Bool) Any() any   { return bool(b) }
func (i Int) Any() any    { return int64(i) }
func (f Float) Any() any  { return float64(f) }
func (s String) Any() any { return string(s) }

func (a Array) Any() any {
	out := make([]any, len(a))
	for i, v := range a {
		out[i] = valueAny(v)
	}
	return out
}

func (o Object) Any() any {
	out := make(map[string]any, len(o))
	for k, v := range o {
		out[k] = valueAny(v)
	}
	return out
}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// MarshalJSON encodes the array through its plain representation.
func (a Array) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Any())
}

// MarshalJSON encodes the object through its plain representation.
func (o Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Any())
}

// Keys returns the object keys in lexical order.
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func valueAny(v Value) any {
	if v == nil {
		return nil
	}
	return v.Any()
}

// IsNull reports whether v is absent or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Of converts a plain Go value into a Value. Unknown types are rendered
// with fmt and stored as String.
func Of(v any) Value {
	switch val := v.(type) {
	case nil:
		return Null{}
	case Value:
		return val
	case bool:
		return Bool(val)
	case int:
		return Int(val)
	case int8:
		return Int(val)
	case int16:
		return Int(val)
	case int32:
		return Int(val)
	case int64:
		return Int(val)
	case uint8:
		return Int(val)
	case uint16:
		return Int(val)
	case uint32:
		return Int(val)
	case uint:
		return Int(val)
	case uint64:
		return Int(val)
	case float32:
		return Float(val)
	case float64:
		return Float(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Int(i)
		}
		if f, err := val.Float64(); err == nil {
			return Float(f)
		}
		return String(val.String())
	case string:
		return String(val)
	case []byte:
		return String(string(val))
	case time.Time:
		return String(val.UTC().Format(time.RFC3339Nano))
	case []any:
		arr := make(Array, len(val))
		for i, item := range val {
			arr[i] = Of(item)
		}
		return arr
	case []string:
		arr := make(Array, len(val))
		for i, item := range val {
			arr[i] = String(item)
		}
		return arr
	case map[string]any:
		obj := make(Object, len(val))
		for k, item := range val {
			obj[k] = Of(item)
		}
		return obj
	case map[string]string:
		obj := make(Object, len(val))
		for k, item := range val {
			obj[k] = String(item)
		}
		return obj
	case fmt.Stringer:
		return String(val.String())
	default:
		return String(fmt.Sprint(val))
	}
}

// Text renders a scalar value as the text a storage driver would return.
// Composite values are rendered as JSON.
func Text(v Value) (string, bool) {
	switch val := v.(type) {
	case nil, Null:
		return "", false
	case Bool:
		if val {
			return "1", true
		}
		return "0", true
	case Int:
		return strconv.FormatInt(int64(val), 10), true
	case Float:
		return strconv.FormatFloat(float64(val), 'f', -1, 64), true
	case String:
		return string(val), true
	case Array, Object:
		encoded, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	default:
		return "", false
	}
}
