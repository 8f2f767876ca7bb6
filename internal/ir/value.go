package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the value types a snapshot payload may
// carry. Only String, Int, Bool, Array and Object implement it.
// There is no float and no null: both break byte-for-byte determinism.
type Value interface {
	irValue()
}

// String is a string value.
type String string

func (String) irValue() {}

// Int is an integer value. Always int64, never float64.
type Int int64

func (Int) irValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) irValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) irValue() {}

// Object maps string keys to values.
// Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) irValue() {}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// Go's string comparison orders by UTF-8 bytes, which differs for
// characters outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// Str returns the string stored under key.
func (obj Object) Str(key string) (string, error) {
	v, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("missing field %q", key)
	}
	s, ok := v.(String)
	if !ok {
		return "", fmt.Errorf("field %q: want string, got %T", key, v)
	}
	return string(s), nil
}

// StrOr returns the string stored under key, or def when the key is absent.
func (obj Object) StrOr(key, def string) (string, error) {
	if _, ok := obj[key]; !ok {
		return def, nil
	}
	return obj.Str(key)
}

// Int returns the integer stored under key.
func (obj Object) Int(key string) (int64, error) {
	v, ok := obj[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	n, ok := v.(Int)
	if !ok {
		return 0, fmt.Errorf("field %q: want int, got %T", key, v)
	}
	return int64(n), nil
}

// IntOr returns the integer stored under key, or def when the key is absent.
func (obj Object) IntOr(key string, def int64) (int64, error) {
	if _, ok := obj[key]; !ok {
		return def, nil
	}
	return obj.Int(key)
}

// Arr returns the array stored under key.
func (obj Object) Arr(key string) (Array, error) {
	v, ok := obj[key]
	if !ok {
		return nil, fmt.Errorf("missing field %q", key)
	}
	a, ok := v.(Array)
	if !ok {
		return nil, fmt.Errorf("field %q: want array, got %T", key, v)
	}
	return a, nil
}

// Obj returns the object stored under key.
func (obj Object) Obj(key string) (Object, error) {
	v, ok := obj[key]
	if !ok {
		return nil, fmt.Errorf("missing field %q", key)
	}
	o, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("field %q: want object, got %T", key, v)
	}
	return o, nil
}

// Decode parses JSON into a Value with strict validation.
// Floats, nulls and trailing content are rejected.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing content after JSON value")
	}
	return fromAny(raw)
}

// DecodeObject is Decode for callers that require a top-level object.
func DecodeObject(data []byte) (Object, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("want JSON object, got %T", v)
	}
	return obj, nil
}

func fromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is not allowed")
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not allowed: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			iv, err := fromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = iv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			iv, err := fromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = iv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
