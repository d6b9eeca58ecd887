// Package extract locates result image URLs inside loosely typed provider
// responses.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Kind discriminates the shapes a Value can take.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindList
	KindObject
	KindScalar
)

// Field is one key of an object, kept in document order.
type Field struct {
	Key   string
	Value Value
}

// Value is an order-preserving union of the JSON shapes providers return.
// Numbers and booleans are kept as scalars since no URL can live there.
type Value struct {
	kind   Kind
	str    string
	items  []Value
	fields []Field
}

// String wraps s as a Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// List wraps items as a Value.
func List(items ...Value) Value { return Value{kind: KindList, items: items} }

// Object wraps fields as a Value.
func Object(fields ...Field) Value { return Value{kind: KindObject, fields: fields} }

// F is shorthand for building a Field.
func F(key string, v Value) Field { return Field{Key: key, Value: v} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Items() []Value { return v.items }
func (v Value) Fields() []Field { return v.fields }

// Str returns the string payload when the value is a string.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Get returns the first field named key.
func (v Value) Get(key string) (Value, bool) {
	for _, f := range v.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Without returns a copy of an object with the named keys removed.
func (v Value) Without(keys ...string) Value {
	if v.kind != KindObject {
		return v
	}
	out := make([]Field, 0, len(v.fields))
	for _, f := range v.fields {
		if containsKey(keys, f.Key) {
			continue
		}
		out = append(out, f)
	}
	return Object(out...)
}

// MarshalJSON renders the value back to JSON, preserving key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindScalar:
		buf.WriteString(v.str)
	case KindString:
		b, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		buf.WriteString("null")
	}
	return nil
}

// UnmarshalJSON lets Value sit directly inside decoded structs.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Parse decodes raw JSON into a Value. Empty input yields a null Value.
func Parse(raw []byte) (Value, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Value{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, errors.New("extract: trailing data after json value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return List(items...), nil
		case '{':
			var fields []Field
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, _ := keyTok.(string)
				val, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				fields = append(fields, Field{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Object(fields...), nil
		}
		return Value{}, errors.New("extract: unexpected delimiter")
	case string:
		return String(t), nil
	case json.Number:
		return Value{kind: KindScalar, str: t.String()}, nil
	case bool:
		if t {
			return Value{kind: KindScalar, str: "true"}, nil
		}
		return Value{kind: KindScalar, str: "false"}, nil
	case nil:
		return Value{}, nil
	}
	return Value{}, errors.New("extract: unsupported token")
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
