// Package types defines the records hirni reads from study specifications and
// the result records it reports while converting them.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Status is the outcome of a single reported action.
type Status string

// Result status constants
const (
	StatusOK         Status = "ok"
	StatusNotNeeded  Status = "notneeded"
	StatusImpossible Status = "impossible"
	StatusError      Status = "error"
)

// IsValid checks if the status value is one of the known statuses
func (s Status) IsValid() bool {
	switch s {
	case StatusOK, StatusNotNeeded, StatusImpossible, StatusError:
		return true
	}
	return false
}

// IsSuccess reports whether the status counts as success (ok or notneeded).
// Everything else, including unknown statuses reported by a procedure, is a failure.
func (s Status) IsSuccess() bool {
	return s == StatusOK || s == StatusNotNeeded
}

// Result is one record of the result stream.
//
// Records are never modified after they have been emitted. Records produced by
// a conversion procedure may carry additional fields; those are kept in Extra
// and written back out unchanged.
type Result struct {
	Action  string   `json:"action"`
	Path    string   `json:"path"`
	Status  Status   `json:"status"`
	Message string   `json:"message,omitempty"`
	Snippet *Snippet `json:"snippet,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// IsSuccess reports whether the record has an ok or notneeded status.
func (r Result) IsSuccess() bool {
	return r.Status.IsSuccess()
}

var resultKeys = map[string]bool{
	"action":  true,
	"path":    true,
	"status":  true,
	"message": true,
	"snippet": true,
}

// MarshalJSON writes the known fields followed by Extra in key order.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	base, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return base, nil
	}

	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		if !resultKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(base[:len(base)-1])
	for _, k := range keys {
		name, _ := json.Marshal(k)
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(r.Extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a result record. Unknown fields end up in Extra.
// A message that is not a plain string (procedures sometimes report
// a format string with arguments) is kept as its compact JSON text.
func (r *Result) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("result record must be a JSON object")
	}

	*r = Result{}
	for k, raw := range fields {
		var err error
		switch k {
		case "action":
			err = json.Unmarshal(raw, &r.Action)
		case "path":
			err = json.Unmarshal(raw, &r.Path)
		case "status":
			err = json.Unmarshal(raw, &r.Status)
		case "message":
			if err = json.Unmarshal(raw, &r.Message); err != nil {
				var compact bytes.Buffer
				if err = json.Compact(&compact, raw); err == nil {
					r.Message = compact.String()
				}
			}
		case "snippet":
			if !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
				r.Snippet = &Snippet{}
				err = json.Unmarshal(raw, r.Snippet)
			}
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]json.RawMessage)
			}
			r.Extra[k] = raw
		}
		if err != nil {
			return fmt.Errorf("result field %q: %w", k, err)
		}
	}
	return nil
}
