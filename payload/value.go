package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Value is a JSON value: a scalar, an Object or an array of Values.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  json.Number
	b    bool
	obj  Object
	arr  []Value
}

// Object is a JSON object keyed by field name.
type Object map[string]Value

func Null() Value { return Value{} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }

func Int(n int64) Value { return Number(json.Number(strconv.FormatInt(n, 10))) }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func FromObject(o Object) Value {
	if o == nil {
		o = Object{}
	}
	return Value{kind: KindObject, obj: o}
}

func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// Strings builds an array of string Values.
func Strings(ss []string) Value {
	items := make([]Value, 0, len(ss))
	for _, s := range ss {
		items = append(items, String(s))
	}
	return Array(items...)
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

func (v Value) Num() (json.Number, bool) { return v.num, v.kind == KindNumber }

func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) Object() (Object, bool) { return v.obj, v.kind == KindObject }

func (v Value) Items() ([]Value, bool) { return v.arr, v.kind == KindArray }

// Lookup walks a dotted path ("data.id", "items.0.id"). Numeric segments
// index into arrays.
func (v Value) Lookup(path string) (Value, bool) {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch cur.kind {
		case KindObject:
			next, ok := cur.obj[seg]
			if !ok {
				return Value{}, false
			}
			cur = next
		case KindArray:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.arr) {
				return Value{}, false
			}
			cur = cur.arr[idx]
		default:
			return Value{}, false
		}
	}
	return cur, true
}

// Lookup walks a dotted path starting at the object.
func (o Object) Lookup(path string) (Value, bool) {
	if o == nil || path == "" {
		return Value{}, false
	}
	return FromObject(o).Lookup(path)
}

// Clone returns a shallow copy of the object.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if v.num == "" {
			return []byte("0"), nil
		}
		return []byte(v.num), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(map[string]Value(v.obj))
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	default:
		return nil, fmt.Errorf("payload: unknown kind %d", v.kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	conv, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = conv
	return nil
}

func (o *Object) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	switch v.kind {
	case KindNull:
		*o = nil
		return nil
	case KindObject:
		*o = v.obj
		return nil
	default:
		return fmt.Errorf("payload: expected object, got %s", v.kind)
	}
}

// ErrNotObject is returned by Parse when the document is valid JSON but
// not an object.
var ErrNotObject = errors.New("payload: json document is not an object")

// Parse decodes a JSON object.
func Parse(data []byte) (Object, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	obj, ok := v.Object()
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

// FromAny converts values produced by encoding/json (or plain Go maps and
// slices of the same shapes) into a Value.
func FromAny(raw any) (Value, error) {
	return fromAny(raw)
}

func fromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case Object:
		return FromObject(t), nil
	case string:
		return String(t), nil
	case json.Number:
		return Number(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(json.Number(strconv.FormatFloat(t, 'f', -1, 64))), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case []string:
		return Strings(t), nil
	case map[string]any:
		obj := make(Object, len(t))
		for k, item := range t {
			conv, err := fromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("%s: %w", k, err)
			}
			obj[k] = conv
		}
		return FromObject(obj), nil
	case []any:
		items := make([]Value, 0, len(t))
		for i, item := range t {
			conv, err := fromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("[%d]: %w", i, err)
			}
			items = append(items, conv)
		}
		return Array(items...), nil
	default:
		return Value{}, fmt.Errorf("payload: unsupported type %T", raw)
	}
}
