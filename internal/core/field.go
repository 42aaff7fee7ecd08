package core

import "encoding/json"

// Field records whether a value was supplied in a partial update.
// An explicit JSON null marks the field present with its zero value.
type Field[T any] struct {
	Present bool
	Value   T
}

// Set returns a present field holding v
func Set[T any](v T) Field[T] {
	return Field[T]{Present: true, Value: v}
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Present = true
	if string(data) == "null" {
		var zero T
		f.Value = zero
		return nil
	}
	return json.Unmarshal(data, &f.Value)
}

// Or returns the supplied value, or fallback when the field was omitted
func (f Field[T]) Or(fallback T) T {
	if f.Present {
		return f.Value
	}
	return fallback
}
