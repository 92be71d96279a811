package output

import (
	"encoding/json"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	_ Handler[any] = (*EncodedHandler[any])(nil)
	_ Handler[any] = (*TextHandler[any])(nil)
)

// EncodedHandler writes results and errors as structured documents, one document per call.
type EncodedHandler[T any] struct {
	out    io.Writer
	encode func(w io.Writer, v any) error
}

// NewJSONHandler returns a handler writing JSON. An indent of zero produces compact output.
func NewJSONHandler[T any](w io.Writer, indentSpaces int) *EncodedHandler[T] {
	indent := strings.Repeat(" ", indentSpaces)
	return &EncodedHandler[T]{
		out: w,
		encode: func(w io.Writer, v any) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", indent)
			return enc.Encode(v)
		},
	}
}

// NewYAMLHandler returns a handler writing YAML indented by indentSpaces.
func NewYAMLHandler[T any](w io.Writer, indentSpaces int) *EncodedHandler[T] {
	return &EncodedHandler[T]{
		out: w,
		encode: func(w io.Writer, v any) error {
			enc := yaml.NewEncoder(w)
			enc.SetIndent(indentSpaces)
			if err := enc.Encode(v); err != nil {
				_ = enc.Close()
				return err
			}
			return enc.Close()
		},
	}
}

func (h *EncodedHandler[T]) Writer() io.Writer {
	return h.out
}

func (h *EncodedHandler[T]) HandleResult(item T) error {
	return h.encode(h.out, ResultPayload[T]{Result: item})
}

func (h *EncodedHandler[T]) HandleResults(items ...T) error {
	return h.encode(h.out, ResultsPayload[T]{Results: items})
}

func (h *EncodedHandler[T]) HandleError(err error) error {
	return h.encode(h.out, ErrorPayload{Error: err.Error()})
}
