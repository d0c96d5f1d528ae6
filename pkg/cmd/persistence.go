package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adlytics/adflow/pkg/persistence"
	"github.com/adlytics/adflow/pkg/persistence/file"
	"github.com/adlytics/adflow/pkg/persistence/postgresql"
	"github.com/adlytics/adflow/pkg/persistence/redis"
)

// NewPersistence selects a storage backend from the database URL scheme:
// postgres:// and postgresql:// select PostgreSQL, redis:// and rediss://
// select Redis, anything else is treated as a filesystem root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "redis":
		return redis.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql"
	case "redis", "rediss":
		return "redis"
	default:
		return "file"
	}
}

// MustPersistence is NewPersistence for main functions.
func MustPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	persist, err := NewPersistence(ctx, logger, databaseURL)
	if err != nil {
		panic(fmt.Errorf("failed to initialize persistence: %w", err))
	}

	return persist
}
