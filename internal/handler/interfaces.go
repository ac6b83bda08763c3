package handler

import (
	"context"
	"io"

	"github.com/locator-kn/ms-fileserve/internal/domain"
)

// Ingestor runs the multi-variant ingestion for a validated upload.
type Ingestor interface {
	Ingest(ctx context.Context, req *domain.UploadRequest) (*domain.IngestResult, error)
}

// FileStore defines the read/delete side of the blob store.
type FileStore interface {
	OpenRead(ctx context.Context, id string) (io.ReadCloser, int64, error)
	Stat(ctx context.Context, id string) (int64, error)
	Delete(ctx context.Context, id string) error
}

// FileRepository defines database operations for file records.
type FileRepository interface {
	Create(ctx context.Context, rec *domain.FileRecord) error
	GetByID(ctx context.Context, id string) (*domain.FileRecord, error)
	Delete(ctx context.Context, id string) error
}
