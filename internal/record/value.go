package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueType tags the scalar held by a Value
type ValueType int

const (
	TypeNull ValueType = iota
	TypeString
	TypeNumber
	TypeBool
)

func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is a scalar field value: string, number, bool or null.
// Numbers keep their textual form so that encoding never reformats them.
// The zero Value is null.
type Value struct {
	typ  ValueType
	text string
}

// String returns a string value
func String(s string) Value {
	return Value{typ: TypeString, text: s}
}

// Int returns a number value
func Int(n int64) Value {
	return Value{typ: TypeNumber, text: strconv.FormatInt(n, 10)}
}

// Float returns a number value
func Float(f float64) Value {
	return Value{typ: TypeNumber, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// Number returns a number value from its JSON text (e.g. "12.50")
func Number(n json.Number) Value {
	return Value{typ: TypeNumber, text: n.String()}
}

// Bool returns a bool value
func Bool(b bool) Value {
	return Value{typ: TypeBool, text: strconv.FormatBool(b)}
}

// Null returns the null value
func Null() Value {
	return Value{}
}

// Type returns the value's tag
func (v Value) Type() ValueType { return v.typ }

// IsNull reports whether v is null
func (v Value) IsNull() bool { return v.typ == TypeNull }

// IsBlank reports whether v is null or an all-whitespace string
func (v Value) IsBlank() bool {
	return v.typ == TypeNull || (v.typ == TypeString && strings.TrimSpace(v.text) == "")
}

// Text returns the value's textual form. Null yields "".
func (v Value) Text() string { return v.text }

func (v Value) String() string {
	if v.typ == TypeNull {
		return "null"
	}
	return v.text
}

// Interface returns the value as a plain Go value for JSON request bodies
func (v Value) Interface() interface{} {
	switch v.typ {
	case TypeString:
		return v.text
	case TypeNumber:
		return json.Number(v.text)
	case TypeBool:
		return v.text == "true"
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeString:
		return json.Marshal(v.text)
	case TypeNumber, TypeBool:
		return []byte(v.text), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. Objects and arrays are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch x := raw.(type) {
	case nil:
		*v = Null()
	case string:
		*v = String(x)
	case json.Number:
		*v = Number(x)
	case bool:
		*v = Bool(x)
	default:
		return fmt.Errorf("field value must be a scalar, got %s", bytes.TrimSpace(data))
	}
	return nil
}
