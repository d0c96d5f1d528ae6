// Package redis provides Redis-backed persistence for workflow definitions
// and executions. Records are stored as JSON values with secondary index
// hashes for name/version and customer/workflow lookups.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/adlytics/adflow/pkg/persistence"
)

const keyPrefix = "adflow:"

// Persistence implements the persistence layer on Redis.
type Persistence struct {
	client      *redis.Client
	logger      *slog.Logger
	definitions *DefinitionRepository
	executions  *ExecutionRepository
}

// NewPersistence connects to Redis using a redis:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, redisURL string) (*Persistence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Persistence{
		client:      client,
		logger:      logger,
		definitions: NewDefinitionRepository(client),
		executions:  NewExecutionRepository(client),
	}, nil
}

// Definitions returns the definition repository.
func (p *Persistence) Definitions() persistence.DefinitionRepository {
	return p.definitions
}

// Executions returns the execution repository.
func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executions
}

// HealthCheck verifies the Redis connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// Close closes the Redis client.
func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

func key(parts ...string) string {
	return keyPrefix + strings.Join(parts, ":")
}
