package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relengtools/composer/internal/config"
	"github.com/relengtools/composer/internal/models"
)

// NewStore creates a Store based on the configured storage type.
// The pool must not be nil when database storage is configured.
func NewStore(cfg *config.Config, pool *pgxpool.Pool) (Store, error) {
	switch cfg.GetStorageType() {
	case config.StorageTypeDatabase:
		if pool == nil {
			return nil, fmt.Errorf("database pool is required when storage type is database")
		}
		slog.Debug("Creating database-backed store")
		return NewDBStore(pool), nil
	case config.StorageTypeFile:
		slog.Debug("Creating file-based store", "data_dir", cfg.GetDataDir())
		return NewFileStore(cfg.GetDataDir())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.GetStorageType())
	}
}

// SeedReleases upserts the configured releases in one transaction.
func SeedReleases(ctx context.Context, s Store, releases []models.Release) error {
	if len(releases) == 0 {
		return nil
	}
	return s.InTx(ctx, func(tx Store) error {
		for i := range releases {
			if err := tx.UpsertRelease(ctx, &releases[i]); err != nil {
				return err
			}
		}
		slog.Info("Seeded releases", "count", len(releases))
		return nil
	})
}
