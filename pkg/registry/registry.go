// Package registry provides the name-keyed lookup table of step executor
// factories used to dispatch workflow steps.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/adlytics/adflow/pkg/protocol"
)

// Registry maps service names to step executor factories. It is safe for
// concurrent use.
type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	factories map[string]protocol.StepExecutorFactory
}

// NewRegistry creates an empty executor registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[string]protocol.StepExecutorFactory),
	}
}

// Register adds a factory under its service name, replacing any previous
// registration for the same name.
func (r *Registry) Register(factory protocol.StepExecutorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.ID()] = factory
	r.logger.Debug("Registered step executor", "service", factory.ID())
}

// Unregister removes a service name. Removing an unknown name is a no-op.
func (r *Registry) Unregister(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.factories, service)
}

// Get returns the factory registered under the service name.
func (r *Registry) Get(service string) (protocol.StepExecutorFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[service]

	return factory, ok
}

// Services returns the registered service names in sorted order.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]string, 0, len(r.factories))
	for service := range r.factories {
		services = append(services, service)
	}

	sort.Strings(services)

	return services
}

// Create builds an executor for the service, validating the step
// configuration against the factory's JSON schema first.
func (r *Registry) Create(service string, config map[string]any) (protocol.StepExecutor, error) {
	factory, ok := r.Get(service)
	if !ok {
		return nil, fmt.Errorf("step executor %q not registered", service)
	}

	err := r.validateConfig(factory, config)
	if err != nil {
		return nil, err
	}

	executor, err := factory.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %q executor: %w", service, err)
	}

	if validator, ok := executor.(protocol.ConfigValidator); ok {
		err = validator.ValidateConfig(config)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration for %q executor: %w", service, err)
		}
	}

	return executor, nil
}

// HealthCheck reports whether the registry is usable, i.e. has at least one
// executor registered.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.factories) == 0 {
		return "No step executors registered", false
	}

	return fmt.Sprintf("%d step executors registered", len(r.factories)), true
}

func (r *Registry) validateConfig(factory protocol.StepExecutorFactory, config map[string]any) error {
	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("failed to validate %q configuration: %w", factory.ID(), err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("invalid configuration for %q: %s", factory.ID(), strings.Join(problems, "; "))
	}

	return nil
}
