package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/locator-kn/ms-fileserve/internal/cleanup"
	"github.com/locator-kn/ms-fileserve/internal/config"
	"github.com/locator-kn/ms-fileserve/internal/handler"
	"github.com/locator-kn/ms-fileserve/internal/ingest"
	"github.com/locator-kn/ms-fileserve/internal/messaging"
	"github.com/locator-kn/ms-fileserve/internal/plan"
	"github.com/locator-kn/ms-fileserve/internal/repository"
	"github.com/locator-kn/ms-fileserve/internal/storage"
	"github.com/locator-kn/ms-fileserve/internal/transform"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	_ = godotenv.Load()
	cfg := config.Load()
	log.Info().Str("addr", cfg.HTTPAddr).Msg("starting ms-fileserve")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	// Initialize S3 store
	store, err := storage.NewS3Store(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create S3 store")
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Error().Err(err).Msg("failed to ensure bucket exists")
	}

	// Initialize RabbitMQ publisher
	publisher, err := messaging.NewPublisher(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create RabbitMQ publisher")
	}
	defer publisher.Close()

	fileRepo := repository.NewFileRepository(pool)

	// Variant outcomes are reported out-of-band: publish the event and
	// reconcile the metadata record, even for variants finishing after
	// the upload response went out.
	observer := func(e ingest.VariantEvent) {
		obsCtx, obsCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer obsCancel()
		if err := publisher.PublishVariantEvent(obsCtx, e.StorageID, e.Label, e.State, e.Size, e.Err); err != nil {
			log.Error().Err(err).Str("storage_id", e.StorageID).Msg("failed to publish variant event")
		}
		if err := fileRepo.UpsertState(obsCtx, e.StorageID, e.Label, e.StoredFilename, "", e.Size, e.State); err != nil {
			log.Error().Err(err).Str("storage_id", e.StorageID).Msg("failed to record variant state")
		}
	}

	coordinator := ingest.NewCoordinator(
		plan.NewPlanner(),
		store,
		transform.NewEngine(),
		observer,
		ingest.Options{
			VariantTimeout: cfg.VariantTimeout,
			BufferChunks:   cfg.SplitterBufferDepth,
		},
		log,
	)

	fileHandler := handler.NewFileHandler(coordinator, store, fileRepo, cfg, log)

	// Initialize and run cleaner
	cleaner := cleanup.NewCleaner(fileRepo, store, cfg, log)
	go cleaner.Run(ctx)

	// Setup router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("db not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Upload routes: no overall request timeout, the coordinator
	// bounds each variant itself.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Post("/stream/{class}", fileHandler.StreamUpload)
		r.Post("/image/location", fileHandler.LocationUpload)
		r.Post("/image/user", fileHandler.AvatarUpload)
	})

	r.Get("/file/{fileId}/{filename}", fileHandler.ServeFile)
	r.Delete("/file/{fileId}", fileHandler.DeleteFile)

	// Start server
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("ms-fileserve started")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down ms-fileserve")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
