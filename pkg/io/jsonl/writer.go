// Package jsonl writes predictions as newline delimited JSON.
package jsonl

import (
	"encoding/json"
	"io"
	"os"

	nidsio "github.com/hed1ad/nidsguard/pkg/io"
	"github.com/hed1ad/nidsguard/pkg/scorer"
)

var _ nidsio.Writer = (*Writer)(nil)

// Writer writes one JSON object per line.
type Writer struct {
	closer io.Closer
	enc    *json.Encoder
}

// NewWriter writes to w. Close does not close w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Create writes to a new file, truncating any existing one.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Writer{closer: f, enc: json.NewEncoder(f)}, nil
}

// Write outputs a single prediction.
func (w *Writer) Write(p *scorer.Prediction) error {
	return w.enc.Encode(p)
}

// WriteAll outputs multiple predictions.
func (w *Writer) WriteAll(ps []*scorer.Prediction) error {
	for _, p := range ps {
		if err := w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources.
func (w *Writer) Close() error {
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
