package cleanup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/locator-kn/ms-fileserve/internal/config"
	"github.com/locator-kn/ms-fileserve/internal/repository"
	"github.com/locator-kn/ms-fileserve/internal/storage"
)

// Cleaner reconciles records left behind by failed or interrupted
// ingestions: blobs are deleted best-effort, then the record goes.
type Cleaner struct {
	repo  *repository.FileRepository
	store *storage.S3Store
	cfg   *config.Config
	log   zerolog.Logger
}

// NewCleaner creates a new Cleaner.
func NewCleaner(repo *repository.FileRepository, store *storage.S3Store, cfg *config.Config, log zerolog.Logger) *Cleaner {
	return &Cleaner{
		repo:  repo,
		store: store,
		cfg:   cfg,
		log:   log,
	}
}

// Run starts the cleanup loop.
func (c *Cleaner) Run(ctx context.Context) {
	c.log.Info().Msg("cleanup worker started")
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("cleanup worker stopped")
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *Cleaner) cleanup(ctx context.Context) {
	records, err := c.repo.ListStale(ctx, c.cfg.StuckRecordAge, c.cfg.FailedRecordAge, 100)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to list stale records")
		return
	}
	if len(records) == 0 {
		return
	}

	c.log.Info().Int("count", len(records)).Msg("found stale file records")

	for _, rec := range records {
		if err := c.store.Delete(ctx, rec.StorageID); err != nil {
			c.log.Error().Err(err).Str("id", rec.StorageID).Msg("failed to delete stale blob")
		}
		if err := c.repo.Delete(ctx, rec.StorageID); err != nil {
			c.log.Error().Err(err).Str("id", rec.StorageID).Msg("failed to delete stale record")
			continue
		}
		c.log.Info().Str("id", rec.StorageID).Str("label", rec.Label).Msg("deleted stale file")
	}
}
