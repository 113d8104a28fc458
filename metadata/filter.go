package metadata

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFilter is returned by FilterSet.Validate.
var ErrInvalidFilter = errors.New("invalid filter")

// Operator is a filter comparison operator.
type Operator string

const (
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "ne"
	OpGreaterThan  Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLessThan     Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpIn           Operator = "in"
	OpContains     Operator = "contains"
)

// Filter compares the value stored under Key with Value (or Values for OpIn).
type Filter struct {
	Key      string   `json:"key"`
	Operator Operator `json:"op"`
	Value    Value    `json:"value,omitzero"`
	Values   []Value  `json:"values,omitempty"`
}

func Eq(key string, v Value) Filter  { return Filter{Key: key, Operator: OpEqual, Value: v} }
func Ne(key string, v Value) Filter  { return Filter{Key: key, Operator: OpNotEqual, Value: v} }
func Gt(key string, v Value) Filter  { return Filter{Key: key, Operator: OpGreaterThan, Value: v} }
func Gte(key string, v Value) Filter { return Filter{Key: key, Operator: OpGreaterEqual, Value: v} }
func Lt(key string, v Value) Filter  { return Filter{Key: key, Operator: OpLessThan, Value: v} }
func Lte(key string, v Value) Filter { return Filter{Key: key, Operator: OpLessEqual, Value: v} }

// In matches when the stored value equals any of vs.
func In(key string, vs ...Value) Filter { return Filter{Key: key, Operator: OpIn, Values: vs} }

// Contains matches string values containing the substring v.
func Contains(key string, v string) Filter {
	return Filter{Key: key, Operator: OpContains, Value: String(v)}
}

// Matches checks if the provided metadata matches this filter.
func (f *Filter) Matches(doc Document) bool {
	value, exists := doc[f.Key]
	if !exists {
		return false
	}

	switch f.Operator {
	case OpEqual:
		return value.Equal(f.Value)
	case OpNotEqual:
		return !value.Equal(f.Value)
	case OpGreaterThan:
		return compareNumbers(value, f.Value, func(a, b float64) bool { return a > b })
	case OpGreaterEqual:
		return compareNumbers(value, f.Value, func(a, b float64) bool { return a >= b })
	case OpLessThan:
		return compareNumbers(value, f.Value, func(a, b float64) bool { return a < b })
	case OpLessEqual:
		return compareNumbers(value, f.Value, func(a, b float64) bool { return a <= b })
	case OpIn:
		for _, item := range f.Values {
			if value.Equal(item) {
				return true
			}
		}
		return false
	case OpContains:
		return value.Kind == KindString && f.Value.Kind == KindString && strings.Contains(value.S, f.Value.S)
	default:
		return false
	}
}

func compareNumbers(a, b Value, cmp func(a, b float64) bool) bool {
	if a.Kind != KindNumber || b.Kind != KindNumber {
		return false
	}
	return cmp(a.N, b.N)
}

// Validate checks the filter for structural errors.
func (f *Filter) Validate() error {
	if f.Key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidFilter)
	}
	switch f.Operator {
	case OpEqual, OpNotEqual:
		if f.Value.Kind == KindInvalid {
			return fmt.Errorf("%w: %s on %q needs a value", ErrInvalidFilter, f.Operator, f.Key)
		}
	case OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual:
		if f.Value.Kind != KindNumber {
			return fmt.Errorf("%w: %s on %q needs a number", ErrInvalidFilter, f.Operator, f.Key)
		}
	case OpIn:
		if len(f.Values) == 0 {
			return fmt.Errorf("%w: in on %q needs values", ErrInvalidFilter, f.Key)
		}
	case OpContains:
		if f.Value.Kind != KindString {
			return fmt.Errorf("%w: contains on %q needs a string", ErrInvalidFilter, f.Key)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, f.Operator)
	}
	return nil
}

// FilterSet is a conjunction of filters. A nil or empty set matches every document.
type FilterSet struct {
	Filters []Filter `json:"filters"`
}

// NewFilterSet creates a FilterSet from filters.
func NewFilterSet(filters ...Filter) *FilterSet {
	return &FilterSet{Filters: filters}
}

// IsEmpty reports whether the set has no filters.
func (fs *FilterSet) IsEmpty() bool {
	return fs == nil || len(fs.Filters) == 0
}

// Matches checks if the provided metadata matches all filters in the set.
func (fs *FilterSet) Matches(doc Document) bool {
	if fs == nil {
		return true
	}
	for i := range fs.Filters {
		if !fs.Filters[i].Matches(doc) {
			return false
		}
	}
	return true
}

// Validate validates every filter in the set.
func (fs *FilterSet) Validate() error {
	if fs == nil {
		return nil
	}
	for i := range fs.Filters {
		if err := fs.Filters[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
