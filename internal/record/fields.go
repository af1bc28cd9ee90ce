package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Field is a single named value
type Field struct {
	Name  string
	Value Value
}

// Fields is an ordered field-name to value mapping.
// It encodes as a JSON object and keeps key order on decode.
type Fields []Field

// Get returns the value of the field with the given name.
// Names are compared case-insensitively, like Salesforce API names.
func (f Fields) Get(name string) (Value, bool) {
	for _, fld := range f {
		if strings.EqualFold(fld.Name, name) {
			return fld.Value, true
		}
	}
	return Value{}, false
}

// Has reports whether a non-blank value is set for name
func (f Fields) Has(name string) bool {
	v, ok := f.Get(name)
	return ok && !v.IsBlank()
}

// Set replaces the value of an existing field or appends a new one
func (f *Fields) Set(name string, v Value) {
	for i := range *f {
		if strings.EqualFold((*f)[i].Name, name) {
			(*f)[i].Value = v
			return
		}
	}
	*f = append(*f, Field{Name: name, Value: v})
}

// Without returns a copy of f with the named field removed
func (f Fields) Without(name string) Fields {
	out := make(Fields, 0, len(f))
	for _, fld := range f {
		if !strings.EqualFold(fld.Name, name) {
			out = append(out, fld)
		}
	}
	return out
}

// Names returns field names in order
func (f Fields) Names() []string {
	names := make([]string, len(f))
	for i, fld := range f {
		names[i] = fld.Name
	}
	return names
}

// Map returns the fields as a plain map for JSON request bodies
func (f Fields) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(f))
	for _, fld := range f {
		m[fld.Name] = fld.Value.Interface()
	}
	return m
}

// MarshalJSON implements json.Marshaler
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fld := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(fld.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := fld.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fields must be a JSON object")
	}

	out := Fields{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("invalid field name %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		out.Set(key, v)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*f = out
	return nil
}
