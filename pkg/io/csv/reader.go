// Package csv reads NSL-KDD style comma separated connection records.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hed1ad/nidsguard/pkg/features"
	nidsio "github.com/hed1ad/nidsguard/pkg/io"
)

var _ nidsio.Reader = (*Reader)(nil)

const (
	columnClass      = "class"
	columnDifficulty = "difficulty"
)

// Reader reads records from NSL-KDD files (41 features, then optionally
// the class and the difficulty level).
type Reader struct {
	file       io.Closer
	reader     *csv.Reader
	hasHeader  bool
	categorize func(string) string
	headers    []string
	line       int
	skipped    int
	err        error
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row naming the columns.
// Without one, columns are in NSL-KDD order.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithClassMapper rewrites class names as they are read, e.g. to map
// attack names to attack categories.
func WithClassMapper(fn func(string) string) Option {
	return func(r *Reader) {
		r.categorize = fn
	}
}

// NewReader opens a file.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := newReader(file, file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

// NewReaderFrom reads from an arbitrary stream.
func NewReaderFrom(in io.Reader, opts ...Option) (*Reader, error) {
	return newReader(in, nil, opts...)
}

func newReader(in io.Reader, closer io.Closer, opts ...Option) (*Reader, error) {
	r := &Reader{
		file:    closer,
		reader:  csv.NewReader(in),
		headers: append(features.ColumnNames(), columnClass, columnDifficulty),
	}
	r.reader.FieldsPerRecord = -1
	r.reader.TrimLeadingSpace = true

	for _, opt := range opts {
		opt(r)
	}

	// Read header if present
	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		for i := range headers {
			headers[i] = strings.TrimSpace(headers[i])
		}
		r.headers = headers
		r.line++
	}

	return r, nil
}

// Headers returns the column names in use.
func (r *Reader) Headers() []string {
	return r.headers
}

// Skipped returns how many malformed rows were skipped so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Read returns all well-formed rows. Malformed rows are skipped.
func (r *Reader) Read() ([]features.LabeledRecord, error) {
	var data []features.LabeledRecord

	for {
		rec, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		data = append(data, rec)
	}

	return data, nil
}

// Stream returns a channel of rows for incremental processing. The channel
// closes at the end of input, on cancellation or on a read error; check Err
// once it is drained.
func (r *Reader) Stream(ctx context.Context) (<-chan features.LabeledRecord, error) {
	out := make(chan features.LabeledRecord, 100)

	go func() {
		defer close(out)
		for {
			rec, err := r.next()
			if err == io.EOF {
				return
			}
			if err != nil {
				r.err = fmt.Errorf("line %d: %w", r.line, err)
				return
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Err returns the read error that stopped Stream, if any. It is only valid
// after the stream channel is closed.
func (r *Reader) Err() error {
	return r.err
}

// next returns the next well-formed row, io.EOF at the end, or a read error.
func (r *Reader) next() (features.LabeledRecord, error) {
	for {
		fields, err := r.reader.Read()
		if err == io.EOF {
			return features.LabeledRecord{}, io.EOF
		}
		r.line++
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			r.skipped++
			continue
		}
		if err != nil {
			return features.LabeledRecord{}, err
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}

		rec, err := r.parseRow(fields)
		if err != nil {
			r.skipped++
			continue
		}
		return rec, nil
	}
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// parseRow converts one row to a labeled record.
func (r *Reader) parseRow(fields []string) (features.LabeledRecord, error) {
	if len(fields) < len(features.ColumnNames()) {
		return features.LabeledRecord{}, fmt.Errorf("line %d: %d fields, want at least %d", r.line, len(fields), len(features.ColumnNames()))
	}

	var rec features.LabeledRecord
	for i, val := range fields {
		if i >= len(r.headers) {
			break
		}
		val = strings.TrimSpace(val)
		switch name := r.headers[i]; name {
		case columnClass:
			rec.Class = val
			if r.categorize != nil {
				rec.Class = r.categorize(val)
			}
		case columnDifficulty:
			d, err := strconv.Atoi(val)
			if err != nil {
				return rec, fmt.Errorf("line %d: difficulty: %w", r.line, err)
			}
			rec.Difficulty = d
		default:
			if err := rec.Set(name, val); err != nil {
				// Columns outside the record type are ignored.
				if _, known := rec.Numeric(name); known {
					return rec, fmt.Errorf("line %d: %w", r.line, err)
				}
			}
		}
	}
	return rec, nil
}
