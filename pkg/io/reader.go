// Package io provides input/output utilities for connection records and
// predictions.
package io

import (
	"context"

	"github.com/hed1ad/nidsguard/pkg/features"
	"github.com/hed1ad/nidsguard/pkg/scorer"
)

// Reader is the interface for reading connection records from various sources.
// Unlabeled sources leave Class empty.
type Reader interface {
	// Read returns the complete dataset.
	Read() ([]features.LabeledRecord, error)

	// Stream returns a channel of records for incremental processing.
	Stream(ctx context.Context) (<-chan features.LabeledRecord, error)

	// Close releases resources.
	Close() error
}

// Writer is the interface for writing predictions.
type Writer interface {
	// Write outputs a single prediction.
	Write(p *scorer.Prediction) error

	// WriteAll outputs multiple predictions.
	WriteAll(ps []*scorer.Prediction) error

	// Close releases resources.
	Close() error
}
