// Package file provides file-based persistence for workflow definitions and
// executions. Records are stored as JSON documents under a root directory;
// intended for local development and tests.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/adlytics/adflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root        string
	definitions *DefinitionRepository
	executions  *ExecutionRepository
}

// NewPersistence creates a file persistence layer rooted at the given
// directory. A "file://" prefix is stripped, matching database-URL style
// configuration.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.TrimPrefix(root, "file://")

	// Writers share one lock: definition and execution saves touch separate
	// files but directory creation must not race.
	mu := &sync.RWMutex{}

	return &Persistence{
		root:        cleanRoot,
		definitions: NewDefinitionRepository(cleanRoot, mu),
		executions:  NewExecutionRepository(cleanRoot, mu),
	}
}

// Definitions returns the definition repository.
func (p *Persistence) Definitions() persistence.DefinitionRepository {
	return p.definitions
}

// Executions returns the execution repository.
func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executions
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	_, err := os.Stat(p.root)

	return err
}

// Close is a no-op for file persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}
