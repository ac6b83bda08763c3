package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/locator-kn/ms-fileserve/internal/domain"
)

// FileRepository handles database operations for stored file records.
type FileRepository struct {
	pool *pgxpool.Pool
}

// NewFileRepository creates a new file repository.
func NewFileRepository(pool *pgxpool.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

// Create inserts a record. An existing row with the same storage id is
// left untouched so a terminal upsert from the variant observer is
// never downgraded.
func (r *FileRepository) Create(ctx context.Context, rec *domain.FileRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO media_files (id, label, filename, media_type, byte_size, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, rec.StorageID, rec.Label, rec.Filename, rec.MediaType, rec.ByteSize, rec.State, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// UpsertState records a variant's terminal state, creating the row if
// the ingestion response raced ahead of it.
func (r *FileRepository) UpsertState(ctx context.Context, id, label, filename, mediaType string, size int64, state domain.VariantState) error {
	now := time.Now()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO media_files (id, label, filename, media_type, byte_size, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state, byte_size = EXCLUDED.byte_size, updated_at = EXCLUDED.updated_at
	`, id, label, filename, mediaType, size, state, now)
	if err != nil {
		return fmt.Errorf("failed to upsert file state: %w", err)
	}
	return nil
}

// GetByID retrieves a record, or nil when unknown.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*domain.FileRecord, error) {
	var rec domain.FileRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, label, filename, media_type, byte_size, state, created_at, updated_at
		FROM media_files WHERE id = $1
	`, id).Scan(&rec.StorageID, &rec.Label, &rec.Filename, &rec.MediaType, &rec.ByteSize, &rec.State, &rec.CreatedAt, &rec.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return &rec, nil
}

// Delete permanently removes a record.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM media_files WHERE id = $1", id)
	return err
}

// ListStale returns records that failed long ago or never left the
// writing state, for the cleanup worker.
func (r *FileRepository) ListStale(ctx context.Context, stuckAge, failedAge time.Duration, limit int) ([]*domain.FileRecord, error) {
	cutoffStuck := time.Now().Add(-stuckAge)
	cutoffFailed := time.Now().Add(-failedAge)

	rows, err := r.pool.Query(ctx, `
		SELECT id, label, filename, media_type, byte_size, state, created_at, updated_at
		FROM media_files
		WHERE (state IN ($1, $2) AND created_at < $3)
		   OR (state = $4 AND created_at < $5)
		LIMIT $6
	`, domain.VariantPending, domain.VariantWriting, cutoffStuck, domain.VariantFailed, cutoffFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale records: %w", err)
	}
	defer rows.Close()

	var recs []*domain.FileRecord
	for rows.Next() {
		var rec domain.FileRecord
		if err := rows.Scan(&rec.StorageID, &rec.Label, &rec.Filename, &rec.MediaType, &rec.ByteSize, &rec.State, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}
