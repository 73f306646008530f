// Package writer renders API and export payloads, optionally compressed.
package writer

import (
	"encoding/json"
	"io"
)

// JSONWriter encodes values of T as JSON documents.
type JSONWriter[T any] struct {
	// Indent is the per-level indentation; empty means compact output.
	Indent string
}

// NewJSONWriter creates a writer with compact output.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{}
}

// NewPrettyJSONWriter creates a writer indenting by two spaces.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// Write encodes data to w followed by a newline.
func (w *JSONWriter[T]) Write(data T, out io.Writer) error {
	enc := json.NewEncoder(out)
	if w.Indent != "" {
		enc.SetIndent("", w.Indent)
	}
	return enc.Encode(data)
}
