package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Reserved snippet keys. Every other key of a snippet is a specification
// value available for substitution.
const (
	KeyType       = "type"
	KeyLocation   = "location"
	KeyProcedures = "procedures"
)

// Directive keys
const (
	KeyProcedureName      = "procedure-name"
	KeyProcedureCall      = "procedure-call"
	KeyOncePerAcquisition = "once-per-acquisition"
)

// ProcedureIgnore is the procedure name that marks a directive as a no-op.
const ProcedureIgnore = "ignore"

// Field is one non-reserved key of a snippet.
type Field struct {
	Key   string
	Value SpecValue
}

// Snippet is one record of a specification file, usually describing one
// acquisition or one sub-entity of it. Field order follows the file.
type Snippet struct {
	Type       SpecValue
	Location   SpecValue
	Procedures []Directive
	Fields     []Field

	hasLocation bool
	raw         json.RawMessage
}

// Value returns the specification value stored under key, reserved keys included.
func (s *Snippet) Value(key string) (SpecValue, bool) {
	switch key {
	case KeyType:
		return s.Type, s.Type.value != nil || s.Type.wrapped
	case KeyLocation:
		return s.Location, s.hasLocation
	}
	for _, f := range s.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return SpecValue{}, false
}

// HasLocation reports whether the snippet carries a location.
func (s *Snippet) HasLocation() bool {
	return s.hasLocation
}

// NeedsAction reports whether the snippet lists any conversion procedure.
func (s *Snippet) NeedsAction() bool {
	return len(s.Procedures) > 0
}

// Raw returns the snippet as it was read, or nil for snippets built in code.
func (s *Snippet) Raw() json.RawMessage {
	return s.raw
}

// MarshalJSON returns the original record when available.
func (s *Snippet) MarshalJSON() ([]byte, error) {
	if s.raw != nil {
		return s.raw, nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, v any) error {
		val, err := json.Marshal(v)
		if err != nil {
			return err
		}
		name, _ := json.Marshal(key)
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(val)
		return nil
	}
	if s.Type.value != nil || s.Type.wrapped {
		if err := write(KeyType, s.Type); err != nil {
			return nil, err
		}
	}
	if s.hasLocation {
		if err := write(KeyLocation, s.Location); err != nil {
			return nil, err
		}
	}
	for _, f := range s.Fields {
		if err := write(f.Key, f.Value); err != nil {
			return nil, err
		}
	}
	if s.Procedures != nil {
		if err := write(KeyProcedures, s.Procedures); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a snippet, keeping the key order of the record.
// A repeated key replaces the earlier value in place.
func (s *Snippet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("snippet must be a JSON object")
	}

	out := Snippet{raw: append(json.RawMessage(nil), bytes.TrimSpace(data)...)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("snippet key %q: %w", key, err)
		}

		switch key {
		case KeyProcedures:
			out.Procedures, err = decodeDirectives(raw)
			if err != nil {
				return err
			}
		case KeyType:
			if err := json.Unmarshal(raw, &out.Type); err != nil {
				return fmt.Errorf("snippet key %q: %w", key, err)
			}
		case KeyLocation:
			if err := json.Unmarshal(raw, &out.Location); err != nil {
				return fmt.Errorf("snippet key %q: %w", key, err)
			}
			out.hasLocation = true
		default:
			var v SpecValue
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("snippet key %q: %w", key, err)
			}
			out.setField(key, v)
		}
	}
	*s = out
	return nil
}

func (s *Snippet) setField(key string, v SpecValue) {
	for i := range s.Fields {
		if s.Fields[i].Key == key {
			s.Fields[i].Value = v
			return
		}
	}
	s.Fields = append(s.Fields, Field{Key: key, Value: v})
}

// decodeDirectives accepts a single directive object or a list of them.
// Empty values (null, {}, false, "", 0) mean no procedures.
func decodeDirectives(raw json.RawMessage) ([]Directive, error) {
	trimmed := bytes.TrimSpace(raw)
	if isEmptyValue(trimmed) {
		return []Directive{}, nil
	}
	switch {
	case trimmed[0] == '{':
		var d Directive
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return nil, fmt.Errorf("procedures: %w", err)
		}
		return []Directive{d}, nil
	case trimmed[0] == '[':
		var list []Directive
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("procedures: %w", err)
		}
		if list == nil {
			list = []Directive{}
		}
		return list, nil
	}
	return nil, fmt.Errorf("procedures must be an object or a list, got %s", trimmed)
}

// isEmptyValue reports whether a procedures value is empty or false.
func isEmptyValue(v []byte) bool {
	if len(v) == 0 {
		return true
	}
	switch v[0] {
	case 'n', 'f':
		return bytes.Equal(v, []byte("null")) || bytes.Equal(v, []byte("false"))
	case '"':
		return bytes.Equal(v, []byte(`""`))
	case '{':
		var m map[string]json.RawMessage
		return json.Unmarshal(v, &m) == nil && len(m) == 0
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var f float64
		return json.Unmarshal(v, &f) == nil && f == 0
	}
	return false
}

// Directive is one entry of a snippet's procedure list.
type Directive struct {
	Name SpecValue
	Call SpecValue
	Once SpecValue

	raw json.RawMessage
}

// ProcedureName returns the procedure to run; ok is false if none is given.
func (d Directive) ProcedureName() (name string, ok bool) {
	if !d.Name.Truthy() {
		return "", false
	}
	return d.Name.String(), true
}

// ProcedureCall returns the call format override, if any.
func (d Directive) ProcedureCall() (call string, ok bool) {
	if !d.Call.Truthy() {
		return "", false
	}
	return d.Call.String(), true
}

// OncePerAcquisition reports whether the procedure runs at most once per specification file.
func (d Directive) OncePerAcquisition() bool {
	return d.Once.Truthy()
}

// String returns the directive as written in the specification.
func (d Directive) String() string {
	if d.raw != nil {
		return string(d.raw)
	}
	out, _ := json.Marshal(d)
	return string(out)
}

// MarshalJSON returns the original directive when available.
func (d Directive) MarshalJSON() ([]byte, error) {
	if d.raw != nil {
		return d.raw, nil
	}
	m := make(map[string]SpecValue)
	if d.Name.value != nil || d.Name.wrapped {
		m[KeyProcedureName] = d.Name
	}
	if d.Call.value != nil || d.Call.wrapped {
		m[KeyProcedureCall] = d.Call
	}
	if d.Once.value != nil || d.Once.wrapped {
		m[KeyOncePerAcquisition] = d.Once
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes a directive. Anything that is not an object decodes
// to a directive without a procedure name, which callers report as invalid.
func (d *Directive) UnmarshalJSON(data []byte) error {
	out := Directive{raw: append(json.RawMessage(nil), bytes.TrimSpace(data)...)}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			*d = out
			return nil
		}
		return err
	}
	for key, target := range map[string]*SpecValue{
		KeyProcedureName:      &out.Name,
		KeyProcedureCall:      &out.Call,
		KeyOncePerAcquisition: &out.Once,
	} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return fmt.Errorf("directive key %q: %w", key, err)
		}
	}
	*d = out
	return nil
}
