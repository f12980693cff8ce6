package calendar

import (
	"errors"
	"fmt"
	"time"
)

// Helpers for picking typed values out of decoded JSON objects. Wire objects
// arrive as map[string]any from encoding/json, so numbers are float64 and
// nested objects are map[string]any.

var (
	// ErrMissingField reports a required key that is absent from a wire object.
	ErrMissingField = errors.New("required field missing")

	// ErrFieldType reports a present value whose JSON type does not fit the field.
	ErrFieldType = errors.New("unexpected field type")
)

// stringField returns the required string value at key.
func stringField(obj map[string]any, key string) (string, error) {
	v, ok := obj[key]
	if !ok {
		return "", fmt.Errorf("field %q: %w", key, ErrMissingField)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: got %T, want string: %w", key, v, ErrFieldType)
	}
	return s, nil
}

// objectField returns the required nested object at key.
func objectField(obj map[string]any, key string) (map[string]any, error) {
	v, ok := obj[key]
	if !ok {
		return nil, fmt.Errorf("field %q: %w", key, ErrMissingField)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("field %q: got %T, want object: %w", key, v, ErrFieldType)
	}
	return m, nil
}

// boolField returns the bool value at key, defaulting to false when the key
// is absent or null.
func boolField(obj map[string]any, key string) (bool, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("field %q: got %T, want bool: %w", key, v, ErrFieldType)
	}
	return b, nil
}

// mergeString applies set when key is present. An explicit null clears the
// field; the wire uses null, not absence, for unset values.
func mergeString(obj map[string]any, key string, set func(string)) error {
	v, ok := obj[key]
	if !ok {
		return nil
	}
	if v == nil {
		set("")
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("field %q: got %T, want string: %w", key, v, ErrFieldType)
	}
	set(s)
	return nil
}

// mergeBool applies set when key is present. Booleans have no unset state,
// so null is rejected like any other wrong type.
func mergeBool(obj map[string]any, key string, set func(bool)) error {
	v, ok := obj[key]
	if !ok {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		return fmt.Errorf("field %q: got %T, want bool: %w", key, v, ErrFieldType)
	}
	set(b)
	return nil
}

// mergeDateTime applies set when key is present, parsing the wire string
// through ParseDateTime. An explicit null clears the field to the zero time.
func mergeDateTime(obj map[string]any, key string, set func(time.Time)) error {
	v, ok := obj[key]
	if !ok {
		return nil
	}
	if v == nil {
		set(time.Time{})
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("field %q: got %T, want string: %w", key, v, ErrFieldType)
	}
	t, err := ParseDateTime(s)
	if err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	set(t)
	return nil
}
