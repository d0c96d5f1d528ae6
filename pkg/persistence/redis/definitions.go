package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/persistence"
)

// DefinitionRepository stores workflow definitions as JSON values under
// adflow:definitions:<id> with a per-name version index hash.
type DefinitionRepository struct {
	client *redis.Client
}

// NewDefinitionRepository creates a Redis definition repository.
func NewDefinitionRepository(client *redis.Client) *DefinitionRepository {
	return &DefinitionRepository{client: client}
}

// Save persists a definition. HSETNX on the name index enforces the
// name+version uniqueness invariant atomically.
func (r *DefinitionRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return persistence.NewError("Save", def.ID, fmt.Errorf("failed to marshal definition: %w", err))
	}

	reserved, err := r.client.HSetNX(ctx, key("definitions", "index", def.Name), def.Version, def.ID).Result()
	if err != nil {
		return persistence.NewError("Save", def.ID, err)
	}

	if !reserved {
		return persistence.NewError("Save", def.Name, persistence.ErrDefinitionExists)
	}

	err = r.client.Set(ctx, key("definitions", def.ID), data, 0).Err()
	if err != nil {
		return persistence.NewError("Save", def.ID, err)
	}

	err = r.client.SAdd(ctx, key("definitions", "all"), def.ID).Err()
	if err != nil {
		return persistence.NewError("Save", def.ID, err)
	}

	return nil
}

// ByID returns a definition by its ID.
func (r *DefinitionRepository) ByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	data, err := r.client.Get(ctx, key("definitions", id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, persistence.NewError("ByID", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewError("ByID", id, err)
	}

	var def models.WorkflowDefinition

	err = json.Unmarshal(data, &def)
	if err != nil {
		return nil, persistence.NewError("ByID", id, fmt.Errorf("failed to unmarshal definition: %w", err))
	}

	return &def, nil
}

// EnabledByName returns the latest enabled version of a named workflow.
func (r *DefinitionRepository) EnabledByName(ctx context.Context, name string) (*models.WorkflowDefinition, error) {
	index, err := r.client.HGetAll(ctx, key("definitions", "index", name)).Result()
	if err != nil {
		return nil, persistence.NewError("EnabledByName", name, err)
	}

	var match *models.WorkflowDefinition

	for _, id := range index {
		def, err := r.ByID(ctx, id)
		if err != nil {
			if persistence.IsDefinitionNotFound(err) {
				continue
			}

			return nil, err
		}

		if !def.Enabled {
			continue
		}

		if match == nil || def.Version > match.Version ||
			(def.Version == match.Version && def.CreatedAt.After(match.CreatedAt)) {
			match = def
		}
	}

	if match == nil {
		return nil, persistence.NewError("EnabledByName", name, persistence.ErrDefinitionNotFound)
	}

	return match, nil
}

// List returns all stored definitions.
func (r *DefinitionRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	ids, err := r.client.SMembers(ctx, key("definitions", "all")).Result()
	if err != nil {
		return nil, persistence.NewError("List", "", err)
	}

	defs := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		def, err := r.ByID(ctx, id)
		if err != nil {
			if persistence.IsDefinitionNotFound(err) {
				continue
			}

			return nil, err
		}

		defs = append(defs, def)
	}

	return defs, nil
}
