package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/persistence"
)

const uniqueViolationCode = "23505"

// DefinitionRepository stores workflow definitions in PostgreSQL with the
// step graph serialized as JSONB.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDefinitionRepository creates a PostgreSQL definition repository.
func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

// Save inserts a definition. A duplicate name+version pair maps to
// ErrDefinitionExists.
func (r *DefinitionRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return persistence.NewError("Save", def.ID, fmt.Errorf("failed to marshal steps: %w", err))
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, name, version, description, steps, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, def.ID, def.Name, def.Version, def.Description, steps, def.Enabled, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
			return persistence.NewError("Save", def.Name, persistence.ErrDefinitionExists)
		}

		return persistence.NewError("Save", def.ID, err)
	}

	return nil
}

// ByID returns a definition by its ID.
func (r *DefinitionRepository) ByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, version, description, steps, enabled, created_at, updated_at
		FROM workflow_definitions
		WHERE id = $1
	`, id)

	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewError("ByID", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewError("ByID", id, err)
	}

	return def, nil
}

// EnabledByName returns the latest enabled version of a named workflow.
func (r *DefinitionRepository) EnabledByName(ctx context.Context, name string) (*models.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, version, description, steps, enabled, created_at, updated_at
		FROM workflow_definitions
		WHERE name = $1 AND enabled
		ORDER BY version DESC, created_at DESC
		LIMIT 1
	`, name)

	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewError("EnabledByName", name, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewError("EnabledByName", name, err)
	}

	return def, nil
}

// List returns all stored definitions sorted by creation time.
func (r *DefinitionRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, version, description, steps, enabled, created_at, updated_at
		FROM workflow_definitions
		ORDER BY created_at
	`)
	if err != nil {
		return nil, persistence.NewError("List", "", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	defs := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, persistence.NewError("List", "", err)
		}

		defs = append(defs, def)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewError("List", "", err)
	}

	return defs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		def   models.WorkflowDefinition
		steps []byte
	)

	err := row.Scan(&def.ID, &def.Name, &def.Version, &def.Description, &steps, &def.Enabled, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(steps, &def.Steps)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}

	return &def, nil
}
