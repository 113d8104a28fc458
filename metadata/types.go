package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
)

// ErrUnsupportedType is returned when a Go value cannot be represented as a Value.
var ErrUnsupportedType = errors.New("unsupported metadata type")

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid is the zero Kind.
	KindInvalid Kind = iota
	// KindString represents a string value.
	KindString
	// KindNumber represents a numeric value.
	KindNumber
	// KindBool represents a boolean value.
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Value is a scalar metadata value: string, number or bool.
type Value struct {
	Kind Kind
	S    string
	N    float64
	B    bool
}

// String returns a string Value.
func String(v string) Value { return Value{Kind: KindString, S: v} }

// Number returns a numeric Value.
func Number(v float64) Value { return Value{Kind: KindNumber, N: v} }

// Int returns a numeric Value holding v.
func Int(v int64) Value { return Value{Kind: KindNumber, N: float64(v)} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// FromAny converts a Go scalar into a Value.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint32:
		return Int(int64(x)), nil
	case float32:
		return Number(float64(x)), nil
	case float64:
		return Number(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// Any returns the Go representation of v.
func (v Value) Any() any {
	switch v.Kind {
	case KindString:
		return v.S
	case KindNumber:
		return v.N
	case KindBool:
		return v.B
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.S == o.S
	case KindNumber:
		return v.N == o.N
	case KindBool:
		return v.B == o.B
	default:
		return true
	}
}

// Key returns a stable string representation for use in maps.
func (v Value) Key() string {
	switch v.Kind {
	case KindString:
		return "s:" + v.S
	case KindNumber:
		return "n:" + strconv.FormatUint(math.Float64bits(v.N), 16)
	case KindBool:
		if v.B {
			return "b:1"
		}
		return "b:0"
	default:
		return "invalid"
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.S)
	case KindNumber:
		if math.IsNaN(v.N) || math.IsInf(v.N, 0) {
			return nil, fmt.Errorf("%w: non-finite number", ErrUnsupportedType)
		}
		return json.Marshal(v.N)
	case KindBool:
		return json.Marshal(v.B)
	default:
		return nil, fmt.Errorf("%w: invalid kind", ErrUnsupportedType)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Document is a typed metadata document.
type Document map[string]Value

// Clone returns a copy of the document. Values are scalars, so a shallow map copy is deep.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// Validate checks that every key is non-empty and every value has a valid kind.
func (d Document) Validate() error {
	for k, v := range d {
		if k == "" {
			return fmt.Errorf("%w: empty key", ErrUnsupportedType)
		}
		if v.Kind == KindInvalid {
			return fmt.Errorf("%w: key %q has no value", ErrUnsupportedType, k)
		}
	}
	return nil
}

// FromMap converts a map of Go scalars into a Document.
func FromMap(m map[string]any) (Document, error) {
	if m == nil {
		return nil, nil
	}
	doc := make(Document, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		doc[k] = v
	}
	return doc, nil
}
