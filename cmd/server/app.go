package main

import (
	"context"
	"database/sql"
	"fmt"

	"prototype-versions-backend/internal/archive"
	"prototype-versions-backend/internal/blob"
	"prototype-versions-backend/internal/config"
	"prototype-versions-backend/internal/database"
	"prototype-versions-backend/internal/flags"
	"prototype-versions-backend/internal/gate"
	"prototype-versions-backend/internal/logger"
	"prototype-versions-backend/internal/observability"
	"prototype-versions-backend/internal/services"
	"prototype-versions-backend/internal/supabase"
)

// app holds the dependencies shared by every command.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *sql.DB
	registry *supabase.DatabaseClient
	blobs    blob.Store
	gate     *gate.Gate
	events   *supabase.RealtimeClient
	pipeline *services.IngestionPipeline

	shutdownTracing func(context.Context) error
}

// initTracing is replaced in tests.
var initTracing = observability.InitOTel

func newApp(ctx context.Context, component string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	log = log.With("component", component)

	a := &app{cfg: cfg, log: log}
	a.shutdownTracing = initTracing(ctx, log, observability.OtelConfig{
		Enabled:     cfg.OtelEnabled,
		Endpoint:    cfg.OtelEndpoint,
		Environment: cfg.Environment,
		Component:   component,
	})

	a.db, err = database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		a.close()
		return nil, err
	}
	a.registry = supabase.NewDatabaseClient(a.db)

	a.blobs, err = newBlobStore(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	profiles, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize Supabase client: %w", err)
	}
	a.gate = gate.New(flags.New(cfg.Flags), profiles, cfg.ProfileCacheTTL, log)

	a.events, err = supabase.NewRealtimeClient(ctx, cfg.RedisAddr, cfg.RedisChannelPrefix)
	if err != nil {
		log.Warn("version events disabled", "redis_addr", cfg.RedisAddr, "error", err)
		a.events, _ = supabase.NewRealtimeClient(ctx, "", cfg.RedisChannelPrefix)
	}

	a.pipeline = services.NewIngestionPipeline(a.registry, a.blobs, a.events, services.IngestionConfig{
		StepTimeout:        cfg.IngestStepTimeout,
		StepRetries:        cfg.IngestStepRetries,
		Backoffs:           services.DefaultBackoffs,
		PublishConcurrency: cfg.PublishConcurrency,
		Limits: archive.Limits{
			MaxArchiveBytes:   cfg.MaxArchiveBytes,
			MaxExtractedBytes: cfg.MaxExtractedBytes,
		},
	}, log)

	return a, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverS3:
		store, err := blob.NewS3Store(ctx, blob.S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicBaseURL:   cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 store: %w", err)
		}
		return store, nil
	default:
		return supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket), nil
	}
}

func (a *app) migrate(ctx context.Context) error {
	if err := database.NewMigrator(a.db, a.log).Run(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	a.log.Info("migrations completed successfully")
	return nil
}

func (a *app) sweeper() *services.Sweeper {
	return services.NewSweeper(a.registry, a.events, a.cfg.StaleAfter, a.cfg.SweepInterval, a.log)
}

func (a *app) close() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.log.Warn("failed to close redis client", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close database", "error", err)
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(context.Background()); err != nil {
			a.log.Warn("failed to flush traces", "error", err)
		}
	}
	a.log.Sync()
}
