package ingest

import (
	"context"
	"io"

	"github.com/locator-kn/ms-fileserve/internal/domain"
)

// Sink is one open write channel against the blob store.
type Sink interface {
	io.Writer
	// Commit makes the object visible to readers. It is the only call
	// that does so.
	Commit(ctx context.Context) error
	// Abort discards the sink. Best-effort, never fails.
	Abort()
}

// BlobStore is the storage contract the coordinator consumes. Open
// allocates the storage id before any byte is written.
type BlobStore interface {
	Open(ctx context.Context, name string) (Sink, string, error)
	Delete(ctx context.Context, id string) error
}

// Transformer derives a variant's byte stream from a source stream.
type Transformer interface {
	Run(ctx context.Context, src io.Reader, spec domain.VariantSpec) (io.ReadCloser, error)
}

// Planner produces the ordered variant plan for an upload.
type Planner interface {
	Plan(class domain.ContentClass, ctx domain.UploadContext) []domain.VariantSpec
}

// VariantEvent reports a variant pipeline reaching a terminal state.
// Secondary events may fire after the ingestion response was already
// returned.
type VariantEvent struct {
	Label          string
	StorageID      string
	StoredFilename string
	State          domain.VariantState
	Size           int64
	Err            error
}

// VariantObserver receives terminal variant events. Implementations
// must not block for long; they run on the pipeline goroutines.
type VariantObserver func(event VariantEvent)
