package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/photo-jobs/internal/config"
	"github.com/kozaktomas/photo-jobs/internal/database"
	"github.com/kozaktomas/photo-jobs/internal/database/postgres"
	"github.com/kozaktomas/photo-jobs/internal/fingerprint"
	"github.com/kozaktomas/photo-jobs/internal/jobs"
	"github.com/kozaktomas/photo-jobs/internal/jobs/handlers"
	"github.com/kozaktomas/photo-jobs/internal/queue"
	"github.com/kozaktomas/photo-jobs/internal/storage"
	"github.com/sirupsen/logrus"
)

// app holds everything serve and worker share.
type app struct {
	cfg      *config.Config
	pool     *postgres.Pool
	repo     database.Repository
	files    storage.Storage
	store    queue.Store
	system   *config.SystemConfigStore
	ml       *fingerprint.Client
	pipeline *jobs.Pipeline
}

// hnswSaver is implemented by repositories that keep an in-memory vector index.
type hnswSaver interface {
	SaveHNSWIndex(ctx context.Context) error
}

func newQueueStore(cfg *config.QueueConfig) queue.Store {
	if cfg.UsesRedis() {
		fmt.Printf("Using Redis queue at %s\n", cfg.RedisAddr)
		return queue.NewAsynqStore(cfg)
	}
	fmt.Printf("Using in-memory queue (tasks are lost on restart)\n")
	return queue.NewMemoryStore()
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	systemCfg, err := config.LoadSystemConfig(cfg.SystemConfigPath)
	if err != nil {
		return nil, err
	}
	system := config.NewSystemConfigStore(systemCfg, cfg.SystemConfigPath)

	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, repo, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	files, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	ml := fingerprint.NewClient(cfg.ML.URL)
	store := newQueueStore(&cfg.Queue)

	registry := handlers.NewRegistry(handlers.Deps{
		Repo:    repo,
		Storage: files,
		ML:      ml,
		System:  system,
	})

	return &app{
		cfg:      cfg,
		pool:     pool,
		repo:     repo,
		files:    files,
		store:    store,
		system:   system,
		ml:       ml,
		pipeline: jobs.NewPipeline(store, repo.Assets, registry, jobs.SystemFeatures(system)),
	}, nil
}

// runWorkers blocks until ctx is done.
func (a *app) runWorkers(ctx context.Context) {
	concurrency := jobs.Concurrency(&a.cfg.Jobs)
	logrus.WithField("concurrency", concurrency).Info("starting job workers")
	if err := a.pipeline.Run(ctx, concurrency); err != nil {
		logrus.WithError(err).Error("job workers stopped")
	}
}

// saveHNSWIndexes persists the vector indexes so the next start can skip the rebuild.
func (a *app) saveHNSWIndexes(ctx context.Context) {
	savers := map[string]any{"embedding": a.repo.Embeddings, "face": a.repo.Faces}
	for name, repo := range savers {
		saver, ok := repo.(hnswSaver)
		if !ok {
			continue
		}
		if err := saver.SaveHNSWIndex(ctx); err != nil {
			fmt.Printf("Warning: failed to save %s HNSW index: %v\n", name, err)
		}
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logrus.WithError(err).Warn("failed to close queue store")
	}
	if err := a.pool.Close(); err != nil {
		logrus.WithError(err).Warn("failed to close database pool")
	}
}
