package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Numeric is a loosely typed number. Fleet documents are written by several
// clients and may carry numbers as strings, so decoding a Numeric never fails:
// anything that is not a finite number reads as the caller's default.
// Values that arrived as strings keep their text in raw.
type Numeric struct {
	value float64
	valid bool
	raw   string
}

// NumericOf returns a valid Numeric holding v.
func NumericOf(v float64) Numeric {
	return Numeric{value: v, valid: true}
}

// ParseNumeric parses s leniently. Surrounding whitespace is ignored.
func ParseNumeric(s string) Numeric {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Numeric{raw: s}
	}
	return Numeric{value: f, valid: true, raw: s}
}

// parseNumber parses the text of a number literal, which keeps no raw text
// once it is valid.
func parseNumber(s string) Numeric {
	n := ParseNumeric(s)
	if n.valid {
		n.raw = ""
	}
	return n
}

// Float returns the numeric value, or def when the field is missing or not a number.
func (n Numeric) Float(def float64) float64 {
	if !n.valid {
		return def
	}
	return n.value
}

// Integer reads the field the way form input is read as a whole number:
// text is taken up to the first character that cannot continue an integer
// ("1000abc" is 1000, "1500.7" is 1500) and numbers are truncated. def is
// returned when no digits lead the value.
func (n Numeric) Integer(def float64) float64 {
	if n.raw != "" {
		if v, ok := leadingInteger(n.raw); ok {
			return v
		}
		return def
	}
	if !n.valid {
		return def
	}
	return math.Trunc(n.value)
}

// leadingInteger parses optional whitespace, an optional sign and then
// decimal digits, or hex digits after 0x, stopping at the first other
// character.
func leadingInteger(s string) (float64, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	base, isDigit := 10, isDecimal
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		base, isDigit = 16, isHex
		s = s[2:]
	}
	end := 0
	for end < len(s) && isDigit(s[end]) {
		end++
	}
	if end == 0 {
		return 0, false
	}

	var v float64
	if base == 10 {
		v, _ = strconv.ParseFloat(s[:end], 64)
	} else {
		for _, c := range []byte(s[:end]) {
			v = v*16 + float64(hexValue(c))
		}
	}
	if neg {
		v = -v
	}
	return v, true
}

func isDecimal(c byte) bool { return c >= '0' && c <= '9' }

func isHex(c byte) bool {
	return isDecimal(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexValue(c byte) byte {
	switch {
	case c >= 'a':
		return c - 'a' + 10
	case c >= 'A':
		return c - 'A' + 10
	default:
		return c - '0'
	}
}

// Valid reports whether the field holds a finite number.
func (n Numeric) Valid() bool {
	return n.valid
}

// IsZero lets the bson encoder honour omitempty.
func (n Numeric) IsZero() bool {
	return !n.valid && n.raw == ""
}

func (n Numeric) String() string {
	if n.valid {
		return strconv.FormatFloat(n.value, 'f', -1, 64)
	}
	return n.raw
}

// UnmarshalBSONValue accepts doubles, integers, decimals and numeric strings.
func (n *Numeric) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	*n = Numeric{}
	rv := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.Double:
		if f, ok := rv.DoubleOK(); ok {
			*n = numericFromFloat(f)
		}
	case bsontype.Int32:
		if i, ok := rv.Int32OK(); ok {
			*n = NumericOf(float64(i))
		}
	case bsontype.Int64:
		if i, ok := rv.Int64OK(); ok {
			*n = NumericOf(float64(i))
		}
	case bsontype.Decimal128:
		if d, ok := rv.Decimal128OK(); ok {
			*n = parseNumber(d.String())
		}
	case bsontype.String:
		if s, ok := rv.StringValueOK(); ok {
			*n = ParseNumeric(s)
		}
	}
	return nil
}

// MarshalBSONValue writes valid values as doubles and keeps unparsed text as
// a string.
func (n Numeric) MarshalBSONValue() (bsontype.Type, []byte, error) {
	switch {
	case n.valid:
		return bson.MarshalValue(n.value)
	case n.raw != "":
		return bson.MarshalValue(n.raw)
	default:
		return bson.MarshalValue(nil)
	}
}

// UnmarshalJSON accepts numbers, quoted numbers and null.
func (n *Numeric) UnmarshalJSON(b []byte) error {
	*n = Numeric{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			n.raw = string(b)
			return nil
		}
		*n = ParseNumeric(s)
		return nil
	}
	*n = parseNumber(string(b))
	return nil
}

func (n Numeric) MarshalJSON() ([]byte, error) {
	switch {
	case n.valid:
		return []byte(strconv.FormatFloat(n.value, 'f', -1, 64)), nil
	case n.raw != "":
		return json.Marshal(n.raw)
	default:
		return []byte("null"), nil
	}
}

func numericFromFloat(f float64) Numeric {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Numeric{raw: strconv.FormatFloat(f, 'f', -1, 64)}
	}
	return NumericOf(f)
}
