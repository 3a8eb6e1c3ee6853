package record

import (
	"strconv"
	"strings"
)

// Coerce reclassifies a value read back from storage. Boolean-looking text
// becomes Bool, numeric text becomes Int or Float depending on whether it has
// a fractional separator (a decimal comma is treated as a decimal point), and
// anything else stays String. Arrays and objects are coerced element-wise.
//
// Coerce is idempotent: Coerce(Coerce(v)) equals Coerce(v).
func Coerce(v Value) Value {
	switch val := v.(type) {
	case nil:
		return Null{}
	case String:
		return coerceText(string(val))
	case Array:
		out := make(Array, len(val))
		for i, item := range val {
			out[i] = Coerce(item)
		}
		return out
	case Object:
		out := make(Object, len(val))
		for k, item := range val {
			out[k] = Coerce(item)
		}
		return out
	default:
		return v
	}
}

// CoerceRow returns a coerced copy of a raw driver row. The row is coerced as
// a whole so callers never observe a mix of raw and coerced values.
func CoerceRow(raw map[string]any) Object {
	out := make(Object, len(raw))
	for k, v := range raw {
		out[k] = Coerce(Of(v))
	}
	return out
}

func coerceText(s string) Value {
	switch strings.ToLower(s) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	normalized := strings.Replace(s, ",", ".", 1)
	if !isNumeric(normalized) {
		return String(s)
	}
	if strings.Contains(normalized, ".") {
		f, err := strconv.ParseFloat(normalized, 64)
		if err != nil {
			return String(s)
		}
		return Float(f)
	}
	i, err := strconv.ParseInt(normalized, 10, 64)
	if err != nil {
		// Out of int64 range; keep the original text.
		return String(s)
	}
	return Int(i)
}

// isNumeric accepts [+-]?digits[.digits] and [+-]?.digits. Exponents,
// hex and special values are rejected.
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == '+' || s[0] == '-' {
		s = s[1:]
	}
	digits := 0
	dot := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	if digits == 0 {
		return false
	}
	return !strings.HasSuffix(s, ".")
}
