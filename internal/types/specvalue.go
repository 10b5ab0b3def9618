package types

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// SpecValue is a specification value. It is either wrapped in an
// {"value": ..., "approved": ...} envelope that tracks whether a human
// reviewed it, or a bare JSON value. Get unwraps both forms.
//
// Numbers are kept as json.Number so their literal text survives.
type SpecValue struct {
	value    any
	approved bool
	wrapped  bool
}

// Raw returns a bare specification value.
func Raw(v any) SpecValue {
	return SpecValue{value: v}
}

// Wrapped returns a specification value in its envelope form.
func Wrapped(v any, approved bool) SpecValue {
	return SpecValue{value: v, approved: approved, wrapped: true}
}

// Get returns the unwrapped value.
func (s SpecValue) Get() any {
	return s.value
}

// IsWrapped reports whether the value came in an envelope.
func (s SpecValue) IsWrapped() bool {
	return s.wrapped
}

// IsApproved reports the envelope's approval flag. Bare values are never approved.
func (s SpecValue) IsApproved() bool {
	return s.wrapped && s.approved
}

// Truthy reports whether the value is set to something non-empty:
// null, false, 0, "" and empty lists or objects are not.
func (s SpecValue) Truthy() bool {
	switch v := s.value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}

// String renders the unwrapped value the way it is handed to conversion
// procedures: strings verbatim, numbers by their literal, booleans as
// True/False, null as the empty string and anything else as compact JSON.
func (s SpecValue) String() string {
	switch v := s.value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return FormatBool(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	out, err := json.Marshal(s.value)
	if err != nil {
		return ""
	}
	return string(out)
}

// FormatBool renders a flag the way conversion procedures expect it.
func FormatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// MarshalJSON writes the value back in the form it was read.
func (s SpecValue) MarshalJSON() ([]byte, error) {
	if s.wrapped {
		return json.Marshal(struct {
			Value    any  `json:"value"`
			Approved bool `json:"approved"`
		}{s.value, s.approved})
	}
	return json.Marshal(s.value)
}

// UnmarshalJSON accepts either an envelope object (any object with a "value"
// key) or a bare value.
func (s *SpecValue) UnmarshalJSON(data []byte) error {
	v, err := decodeAny(data)
	if err != nil {
		return err
	}
	*s = SpecValue{value: v}

	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	inner, ok := m["value"]
	if !ok {
		return nil
	}
	approved, _ := m["approved"].(bool)
	*s = Wrapped(inner, approved)
	return nil
}

func decodeAny(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
