package output

import "io"

// noResults is written instead of a listing when there is nothing to list.
const noResults = "No items found\n"

// TextHandler renders through a Printer. Failures are returned to the caller rather than written.
type TextHandler[T any] struct {
	out     io.Writer
	printer Printer[T]
}

func NewTextHandler[T any](w io.Writer, p Printer[T]) *TextHandler[T] {
	return &TextHandler[T]{out: w, printer: p}
}

func (h *TextHandler[T]) Writer() io.Writer {
	return h.out
}

func (h *TextHandler[T]) HandleResult(item T) error {
	return h.printer.Item(h.out, item)
}

// HandleResults writes the header, each item and the footer. An item that fails to print stops the listing
// before the footer.
func (h *TextHandler[T]) HandleResults(items ...T) error {
	if len(items) == 0 {
		_, err := io.WriteString(h.out, noResults)
		return err
	}

	h.printer.Header(h.out, len(items))
	for _, it := range items {
		if err := h.printer.Item(h.out, it); err != nil {
			return err
		}
	}
	h.printer.Footer(h.out, len(items))

	return nil
}

func (h *TextHandler[T]) HandleError(err error) error {
	return err
}
