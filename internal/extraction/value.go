package extraction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Kind identifies the JSON type held by a Value
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is an unstructured JSON value as returned by a model. Object keys keep
// their document order so that re-serializing a Value is deterministic.
// The zero Value is JSON null.
type Value struct {
	kind  Kind
	b     bool
	text  string // string contents, or the literal text of a number
	items []Value
	keys  []string
	props map[string]Value
}

// Null returns the JSON null value
func Null() Value { return Value{} }

// StringValue wraps s as a JSON string
func StringValue(s string) Value { return Value{kind: KindString, text: s} }

// NumberValue wraps f as a JSON number
func NumberValue(f float64) Value {
	return Value{kind: KindNumber, text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// ParseValue decodes exactly one JSON document from data
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			return Value{}, errors.New("unexpected data after JSON value")
		}
		return Value{}, err
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case nil:
		return Value{}, nil
	case bool:
		return Value{kind: KindBool, b: t}, nil
	case json.Number:
		return Value{kind: KindNumber, text: t.String()}, nil
	case string:
		return Value{kind: KindString, text: t}, nil
	case json.Delim:
		switch t {
		case '{':
			obj := Value{kind: KindObject, props: make(map[string]Value)}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key is %T, not string", keyTok)
				}
				child, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				if _, dup := obj.props[key]; !dup {
					obj.keys = append(obj.keys, key)
				}
				obj.props[key] = child
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return obj, nil
		case '[':
			arr := Value{kind: KindArray}
			for dec.More() {
				child, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				arr.items = append(arr.items, child)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return arr, nil
		}
	}
	return Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}

// Kind reports the JSON type of v
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is JSON null
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsEmpty reports whether v carries no usable content: null, a blank string,
// or an empty array or object.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return strings.TrimSpace(v.text) == ""
	case KindArray:
		return len(v.items) == 0
	case KindObject:
		return len(v.keys) == 0
	}
	return false
}

// Get returns the named field of an object
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	child, ok := v.props[key]
	return child, ok
}

// Index returns the i-th element of an array
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindArray || i < 0 || i >= len(v.items) {
		return Value{}, false
	}
	return v.items[i], true
}

// Lookup follows a dotted path such as "issuer.name" or "line_items.0.qty".
// Numeric segments index into arrays.
func (v Value) Lookup(path string) (Value, bool) {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		var ok bool
		switch cur.kind {
		case KindObject:
			cur, ok = cur.Get(seg)
		case KindArray:
			i, err := strconv.Atoi(seg)
			if err != nil {
				return Value{}, false
			}
			cur, ok = cur.Index(i)
		default:
			return Value{}, false
		}
		if !ok {
			return Value{}, false
		}
	}
	return cur, true
}

// Keys returns object keys in document order
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	return append([]string(nil), v.keys...)
}

// Items returns the elements of an array
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return append([]Value(nil), v.items...)
}

// Len is the number of array elements or object fields
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.keys)
	}
	return 0
}

// Str stringifies v: null is "", strings are returned as-is, numbers keep their
// literal text and containers are rendered as compact JSON.
func (v Value) Str() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber, KindString:
		return v.text
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}

// Float returns the numeric value of a number, or of a string holding one
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber, KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.text), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// MarshalJSON renders v as compact JSON with object keys in document order
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		buf.WriteString(v.text)
	case KindString:
		b, err := json.Marshal(v.text)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, key := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := v.props[key].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("cannot marshal %s", v.kind)
	}
	return nil
}
