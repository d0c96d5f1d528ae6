package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/adlytics/adflow/pkg/models"
	"github.com/adlytics/adflow/pkg/persistence"
)

const dirPermissions = 0o755

// DefinitionRepository stores workflow definitions as JSON files under
// <root>/definitions.
type DefinitionRepository struct {
	root string
	mu   *sync.RWMutex
}

// NewDefinitionRepository creates a file-backed definition repository.
func NewDefinitionRepository(root string, mu *sync.RWMutex) *DefinitionRepository {
	return &DefinitionRepository{root: root, mu: mu}
}

// Save persists a definition, refusing duplicate name+version pairs.
func (r *DefinitionRepository) Save(ctx context.Context, def *models.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.list(ctx)
	if err != nil {
		return persistence.NewError("Save", def.ID, err)
	}

	for _, other := range existing {
		if other.Name == def.Name && other.Version == def.Version && other.ID != def.ID {
			return persistence.NewError("Save", def.Name, persistence.ErrDefinitionExists)
		}
	}

	err = writeJSON(r.dir(), def.ID, def)
	if err != nil {
		return persistence.NewError("Save", def.ID, err)
	}

	return nil
}

// ByID returns a definition by its ID.
func (r *DefinitionRepository) ByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var def models.WorkflowDefinition

	found, err := readJSON(r.dir(), id, &def)
	if err != nil {
		return nil, persistence.NewError("ByID", id, err)
	}

	if !found {
		return nil, persistence.NewError("ByID", id, persistence.ErrDefinitionNotFound)
	}

	return &def, nil
}

// EnabledByName returns the latest enabled version of a named workflow.
// Versions are compared lexicographically, newest created wins on ties.
func (r *DefinitionRepository) EnabledByName(ctx context.Context, name string) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs, err := r.list(ctx)
	if err != nil {
		return nil, persistence.NewError("EnabledByName", name, err)
	}

	var match *models.WorkflowDefinition

	for _, def := range defs {
		if def.Name != name || !def.Enabled {
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

// List returns all stored definitions sorted by creation time.
func (r *DefinitionRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs, err := r.list(ctx)
	if err != nil {
		return nil, persistence.NewError("List", "", err)
	}

	sort.Slice(defs, func(i, j int) bool {
		return defs[i].CreatedAt.Before(defs[j].CreatedAt)
	})

	return defs, nil
}

func (r *DefinitionRepository) list(_ context.Context) ([]*models.WorkflowDefinition, error) {
	files, err := globJSON(r.dir())
	if err != nil {
		return nil, err
	}

	defs := make([]*models.WorkflowDefinition, 0, len(files))

	for _, id := range files {
		var def models.WorkflowDefinition

		found, err := readJSON(r.dir(), id, &def)
		if err != nil {
			return nil, fmt.Errorf("failed to load definition %s: %w", id, err)
		}

		if found {
			defs = append(defs, &def)
		}
	}

	return defs, nil
}

func (r *DefinitionRepository) dir() string {
	return filepath.Join(r.root, "definitions")
}

func writeJSON(dir, id string, record any) error {
	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", id, err)
	}

	err = os.WriteFile(filepath.Join(dir, id+".json"), data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write record %s: %w", id, err)
	}

	return nil
}

func readJSON(dir, id string, record any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, id+".json"))
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to read record %s: %w", id, err)
	}

	err = json.Unmarshal(data, record)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}

	return true, nil
}

func globJSON(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list records in %s: %w", dir, err)
	}

	ids := make([]string, 0, len(files))
	for _, file := range files {
		ids = append(ids, file[:len(file)-len(".json")])
	}

	return ids, nil
}
