// Package optional provides a tagged option type for values that may be
// absent, such as a measurement that could not be computed.
package optional

import (
	"encoding/json"
	"fmt"
)

// Value holds either a T or nothing. The zero Value is empty.
type Value[T any] struct {
	v  T
	ok bool
}

// Some returns a Value holding v.
func Some[T any](v T) Value[T] { return Value[T]{v: v, ok: true} }

// None returns an empty Value.
func None[T any]() Value[T] { return Value[T]{} }

// Get returns the held value and whether it is present.
func (o Value[T]) Get() (T, bool) { return o.v, o.ok }

// OK reports whether a value is present.
func (o Value[T]) OK() bool { return o.ok }

// Or returns the held value, or def when empty.
func (o Value[T]) Or(def T) T {
	if o.ok {
		return o.v
	}
	return def
}

// Ptr returns a pointer to a copy of the value, or nil when empty. Useful
// for database/sql parameters where nil maps to NULL.
func (o Value[T]) Ptr() *T {
	if !o.ok {
		return nil
	}
	v := o.v
	return &v
}

// FromPtr is the inverse of Ptr.
func FromPtr[T any](p *T) Value[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

// Map applies f to the held value.
func Map[T, U any](o Value[T], f func(T) U) Value[U] {
	if !o.ok {
		return None[U]()
	}
	return Some(f(o.v))
}

// String renders the value, or "--" when empty.
func (o Value[T]) String() string {
	if !o.ok {
		return "--"
	}
	return fmt.Sprint(o.v)
}

// MarshalJSON encodes an empty Value as null.
func (o Value[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}

// UnmarshalJSON decodes null as an empty Value.
func (o *Value[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Value[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
