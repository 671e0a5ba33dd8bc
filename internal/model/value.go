package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which variant a Value holds
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
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is the format-independent representation of a configuration value.
// Exactly one of the payload fields is meaningful, selected by Kind.
type Value struct {
	Kind   Kind
	Bool   bool
	Number json.Number // textual form keeps integer precision
	Str    string
	Array  []Value
	Object map[string]Value

	// opaque marks a string that stands in for a format-specific scalar
	// (YAML timestamps, custom tags); such values infer as unknown.
	opaque bool
}

// NewNull returns a null value
func NewNull() Value { return Value{Kind: KindNull} }

// NewBool returns a boolean value
func NewBool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// NewString returns a string value
func NewString(s string) Value { return Value{Kind: KindString, Str: s} }

// NewOpaque returns a string value that carries the literal text of a
// scalar with no portable representation.
func NewOpaque(s string) Value { return Value{Kind: KindString, Str: s, opaque: true} }

// NewInt returns an integer number value
func NewInt(i int64) Value {
	return Value{Kind: KindNumber, Number: json.Number(strconv.FormatInt(i, 10))}
}

// NewUint returns an unsigned integer number value
func NewUint(u uint64) Value {
	return Value{Kind: KindNumber, Number: json.Number(strconv.FormatUint(u, 10))}
}

// NewFloat returns a floating point number value. NaN and infinities
// cannot be represented in JSON and collapse to 0.
func NewFloat(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return NewInt(0)
	}
	return Value{Kind: KindNumber, Number: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// NewNumber returns a number value from its textual form
func NewNumber(n json.Number) Value { return Value{Kind: KindNumber, Number: n} }

// NewArray returns an array value
func NewArray(items []Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{Kind: KindArray, Array: items}
}

// NewObject returns an object value
func NewObject(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{Kind: KindObject, Object: fields}
}

// FromAny converts a generic decoded value (as produced by encoding/json or
// similar decoders) into a Value. Unsupported Go types are rendered with %v
// and marked opaque.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return NewNull()
	case Value:
		return t
	case bool:
		return NewBool(t)
	case json.Number:
		return NewNumber(t)
	case string:
		return NewString(t)
	case int:
		return NewInt(int64(t))
	case int8:
		return NewInt(int64(t))
	case int16:
		return NewInt(int64(t))
	case int32:
		return NewInt(int64(t))
	case int64:
		return NewInt(t)
	case uint:
		return NewUint(uint64(t))
	case uint8:
		return NewUint(uint64(t))
	case uint16:
		return NewUint(uint64(t))
	case uint32:
		return NewUint(uint64(t))
	case uint64:
		return NewUint(t)
	case float32:
		return NewFloat(float64(t))
	case float64:
		return NewFloat(t)
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			items = append(items, FromAny(item))
		}
		return NewArray(items)
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, v := range t {
			fields[k] = FromAny(v)
		}
		return NewObject(fields)
	default:
		return NewOpaque(fmt.Sprintf("%v", t))
	}
}

// InferType maps the value's variant to the coarse type reported on entries
func (v Value) InferType() InferredType {
	switch v.Kind {
	case KindNull:
		return TypeNull
	case KindBool:
		return TypeBoolean
	case KindNumber:
		return TypeNumber
	case KindString:
		if v.opaque {
			return TypeUnknown
		}
		return TypeString
	default:
		return TypeUnknown
	}
}

// Clone returns a deep copy of the value
func (v Value) Clone() Value {
	out := v
	if v.Array != nil {
		out.Array = make([]Value, len(v.Array))
		for i, item := range v.Array {
			out.Array[i] = item.Clone()
		}
	}
	if v.Object != nil {
		out.Object = make(map[string]Value, len(v.Object))
		for k, item := range v.Object {
			out.Object[k] = item.Clone()
		}
	}
	return out
}

// Interface returns the value as plain Go data: nil, bool, int64 or
// float64, string, []any or map[string]any.
func (v Value) Interface() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		if i, err := v.Number.Int64(); err == nil {
			return i
		}
		if f, err := v.Number.Float64(); err == nil {
			return f
		}
		return v.Number.String()
	case KindString:
		return v.Str
	case KindArray:
		items := make([]any, len(v.Array))
		for i, item := range v.Array {
			items[i] = item.Interface()
		}
		return items
	case KindObject:
		fields := make(map[string]any, len(v.Object))
		for k, item := range v.Object {
			fields[k] = item.Interface()
		}
		return fields
	default:
		return nil
	}
}

// MarshalJSON encodes the value as its natural JSON form
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNumber:
		if v.Number == "" {
			return []byte("0"), nil
		}
		return []byte(v.Number.String()), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindArray:
		if v.Array == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Array)
	case KindObject:
		if v.Object == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Object)
	default:
		return nil, fmt.Errorf("cannot marshal value of %s", v.Kind)
	}
}

// UnmarshalJSON decodes any JSON document into the value
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (v Value) MarshalYAML() (any, error) {
	return v.Interface(), nil
}
