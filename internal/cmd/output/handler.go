// Package output renders command results as text, JSON or YAML.
package output

import "io"

// Handler renders the results or the failure of a single command invocation.
type Handler[T any] interface {
	Writer() io.Writer
	HandleResult(item T) error
	HandleResults(items ...T) error

	// HandleError renders err. Structured handlers encode it and return nil; the text handler returns it.
	HandleError(err error) error
}

// WriteFunc writes a header or footer for a listing of count items.
type WriteFunc[T any] func(w io.Writer, count int)

// Printer renders items as human-readable text.
type Printer[T any] interface {
	Header(w io.Writer, count int)
	SetHeader(fn WriteFunc[T])
	Item(w io.Writer, elem T) error
	Footer(w io.Writer, count int)
	SetFooter(fn WriteFunc[T])
}

// ResultsPayload wraps a listing under "results".
type ResultsPayload[T any] struct {
	Results []T `json:"results" yaml:"results"`
}

// ResultPayload wraps a single item under "result".
type ResultPayload[T any] struct {
	Result T `json:"result" yaml:"result"`
}

// ErrorPayload wraps a failure message under "error".
type ErrorPayload struct {
	Error string `json:"error" yaml:"error"`
}
