package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced directly to the HTTP layer.
var (
	ErrFileRequired         = errors.New("file required")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrNotFound             = errors.New("file not found")
)

// ErrorKind classifies an ingestion failure.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindTransform  ErrorKind = "transform"
	KindStore      ErrorKind = "store"
	KindTimeout    ErrorKind = "timeout"
	KindSource     ErrorKind = "source"
)

// IngestError is the single aggregate failure an ingestion reports.
// Label names the variant whose failure caused the abort, or is empty
// when the shared source stream failed.
type IngestError struct {
	Kind  ErrorKind
	Label string
	Err   error
}

func (e *IngestError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("ingest %s error (variant %s): %v", e.Kind, e.Label, e.Err)
	}
	return fmt.Sprintf("ingest %s error: %v", e.Kind, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// NewIngestError wraps err as an ingestion failure of the given kind.
func NewIngestError(kind ErrorKind, label string, err error) *IngestError {
	return &IngestError{Kind: kind, Label: label, Err: err}
}
