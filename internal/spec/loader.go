package spec

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/psychoinformatics-de/hirni/internal/types"
)

// ErrMalformed marks a specification stream that cannot be decoded.
var ErrMalformed = errors.New("malformed specification")

// DecodeError reports the record a specification stream broke at.
type DecodeError struct {
	Path   string
	Record int // 1-based
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: record %d: %v", e.Path, e.Record, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrMalformed, e.Err}
}

// Reader reads snippets from a specification stream one record at a time.
// Records are JSON objects separated by newlines or any other whitespace.
type Reader struct {
	name   string
	dec    *json.Decoder
	closer io.Closer
	n      int
}

// Open opens the specification file at path for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path) // #nosec G304 -- path is a resolved specification file
	if err != nil {
		return nil, fmt.Errorf("failed to open specification: %w", err)
	}
	r := NewReader(f, path)
	r.closer = f
	return r, nil
}

// NewReader reads snippets from r. name identifies the stream in errors.
func NewReader(r io.Reader, name string) *Reader {
	dec := json.NewDecoder(bufio.NewReader(r))
	dec.UseNumber()
	return &Reader{name: name, dec: dec}
}

// Next returns the next snippet, or io.EOF after the last one.
func (r *Reader) Next() (*types.Snippet, error) {
	if !r.dec.More() {
		// More reports false for a stray closing delimiter as well; make
		// sure the stream really ended.
		if _, err := r.dec.Token(); err != io.EOF {
			r.n++
			if err == nil {
				err = errors.New("unexpected delimiter")
			}
			return nil, &DecodeError{Path: r.name, Record: r.n, Err: err}
		}
		return nil, io.EOF
	}
	r.n++
	var snip types.Snippet
	if err := r.dec.Decode(&snip); err != nil {
		return nil, &DecodeError{Path: r.name, Record: r.n, Err: err}
	}
	return &snip, nil
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Stream yields the snippets of the file at path in file order. The file is
// read lazily and closed when iteration stops. A decode error is yielded
// once and ends the stream.
func Stream(path string) iter.Seq2[*types.Snippet, error] {
	return func(yield func(*types.Snippet, error) bool) {
		r, err := Open(path)
		if err != nil {
			yield(nil, err)
			return
		}
		defer r.Close()

		for {
			snip, err := r.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(snip, nil) {
				return
			}
		}
	}
}
