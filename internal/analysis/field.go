package analysis

import (
	"bytes"
	"encoding/json"
)

// Field is a single extracted value that is either Known or Unknown. The zero
// value is Unknown.
type Field[T any] struct {
	value T
	known bool
}

func Known[T any](v T) Field[T] {
	return Field[T]{value: v, known: true}
}

func Unknown[T any]() Field[T] {
	return Field[T]{}
}

func (f Field[T]) Get() (T, bool) {
	return f.value, f.known
}

func (f Field[T]) IsKnown() bool {
	return f.known
}

// OrElse returns the value when known and fallback otherwise.
func (f Field[T]) OrElse(fallback T) T {
	if f.known {
		return f.value
	}
	return fallback
}

// Ptr returns a pointer to a copy of the value, or nil when unknown. Used to
// fill optional record fields.
func (f Field[T]) Ptr() *T {
	if !f.known {
		return nil
	}
	v := f.value
	return &v
}

// MarshalJSON encodes an unknown field as null.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.known {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Field[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Known(v)
	return nil
}
