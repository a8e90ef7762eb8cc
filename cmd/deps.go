package cmd

import (
	"context"
	"fmt"

	"github.com/petvet/biometry/internal/artifacts"
	"github.com/petvet/biometry/internal/config"
	"github.com/petvet/biometry/internal/database/postgres"
	"github.com/petvet/biometry/internal/extractor"
)

// appDeps holds the dependencies shared by most commands.
type appDeps struct {
	cfg     *config.Config
	pool    *postgres.Pool
	store   *postgres.Store
	models  *artifacts.Store
	uploads *artifacts.Store
	client  *extractor.Client
}

// setupDeps connects to PostgreSQL, runs pending migrations, ensures
// the similarity index matches the configured extractor dimension and
// opens the blob stores. Callers must Close when done.
func setupDeps(ctx context.Context) (*appDeps, error) {
	cfg := config.Load()

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	models, err := artifacts.NewStore(cfg.Artifacts.Dir)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}
	uploads, err := artifacts.NewStore(cfg.Artifacts.UploadsDir)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open uploads store: %w", err)
	}

	client, err := extractor.NewClient(cfg.Extractor, &cfg.Extractors)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create extractor client: %w", err)
	}
	if err := pool.CreateVectorIndex(ctx, client.Dim()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}

	return &appDeps{
		cfg:     cfg,
		pool:    pool,
		store:   postgres.NewStore(pool),
		models:  models,
		uploads: uploads,
		client:  client,
	}, nil
}

// Close releases the database connection pool.
func (d *appDeps) Close() {
	d.pool.Close()
}
