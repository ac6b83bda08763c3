package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locator-kn/ms-fileserve/internal/domain"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Skipf("Skipping integration test: database not reachable: %v", err)
	}
	return pool
}

func TestFileRepository_CreateUpsertGet(t *testing.T) {
	ctx := context.Background()
	repo := NewFileRepository(testPool(t))

	id := uuid.New().String()
	now := time.Now()
	rec := &domain.FileRecord{
		StorageID: id,
		Label:     "xlarge",
		Filename:  "lake_view.jpeg",
		MediaType: "image/jpeg",
		State:     domain.VariantWriting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, rec))

	// terminal upsert wins, late Create does not downgrade it
	require.NoError(t, repo.UpsertState(ctx, id, "xlarge", "lake_view.jpeg", "image/jpeg", 1234, domain.VariantCommitted))
	require.NoError(t, repo.Create(ctx, rec))

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.VariantCommitted, got.State)
	assert.Equal(t, int64(1234), got.ByteSize)

	require.NoError(t, repo.Delete(ctx, id))
	got, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFileRepository_ListStale(t *testing.T) {
	ctx := context.Background()
	repo := NewFileRepository(testPool(t))

	old := time.Now().Add(-48 * time.Hour)
	stuckID := uuid.New().String()
	require.NoError(t, repo.Create(ctx, &domain.FileRecord{
		StorageID: stuckID,
		Label:     "original",
		Filename:  "stuck.mp4",
		MediaType: "video/mp4",
		State:     domain.VariantWriting,
		CreatedAt: old,
		UpdatedAt: old,
	}))

	freshID := uuid.New().String()
	now := time.Now()
	require.NoError(t, repo.Create(ctx, &domain.FileRecord{
		StorageID: freshID,
		Label:     "original",
		Filename:  "fresh.mp4",
		MediaType: "video/mp4",
		State:     domain.VariantWriting,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	list, err := repo.ListStale(ctx, 24*time.Hour, 7*24*time.Hour, 100)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, rec := range list {
		ids[rec.StorageID] = true
	}
	assert.True(t, ids[stuckID], "old writing record should be listed")
	assert.False(t, ids[freshID], "fresh record should not be listed")

	_ = repo.Delete(ctx, stuckID)
	_ = repo.Delete(ctx, freshID)
}
