// Package parser parses and validates workflow definitions and computes their
// staged execution order.
package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/adlytics/adflow/pkg/models"
)

// SchemaError reports why a workflow definition failed validation. Problems
// collects every violation found so callers can surface them all at once.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "invalid workflow definition: " + strings.Join(e.Problems, "; ")
}

// IsSchemaError checks whether an error is a definition validation failure.
func IsSchemaError(err error) bool {
	var schemaErr *SchemaError

	return errors.As(err, &schemaErr)
}

// Parser turns structured-text workflow definitions into validated models and
// computes dependency-ordered execution plans.
type Parser struct {
	validate *validator.Validate
}

// NewParser creates a workflow definition parser.
func NewParser() *Parser {
	return &Parser{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Parse decodes a YAML workflow definition and validates it.
func (p *Parser) Parse(data []byte) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition

	err := yaml.Unmarshal(data, &def)
	if err != nil {
		return nil, &SchemaError{Problems: []string{"malformed YAML: " + err.Error()}}
	}

	err = p.Validate(&def)
	if err != nil {
		return nil, err
	}

	return &def, nil
}

// Validate checks a definition against the schema rules: required fields,
// unique step names, dependencies that reference earlier-declared steps, and
// an acyclic dependency graph.
func (p *Parser) Validate(def *models.WorkflowDefinition) error {
	problems := make([]string, 0)

	err := p.validate.Struct(def)
	if err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			for _, fieldErr := range validationErrs {
				problems = append(problems, fmt.Sprintf("field %s failed rule %q", fieldErr.Namespace(), fieldErr.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	problems = append(problems, p.validateSteps(def.Steps)...)

	if len(problems) > 0 {
		return &SchemaError{Problems: problems}
	}

	return nil
}

func (p *Parser) validateSteps(steps []models.StepDefinition) []string {
	problems := make([]string, 0)
	declared := make(map[string]int, len(steps))

	for i, step := range steps {
		if _, exists := declared[step.Name]; exists {
			problems = append(problems, fmt.Sprintf("duplicate step name %q", step.Name))

			continue
		}

		declared[step.Name] = i

		for _, dep := range step.DependsOn {
			if dep == step.Name {
				problems = append(problems, fmt.Sprintf("step %q depends on itself", step.Name))

				continue
			}

			depIndex, known := declared[dep]
			if !known {
				problems = append(problems, fmt.Sprintf("step %q depends on unknown or later step %q", step.Name, dep))

				continue
			}

			if depIndex >= i {
				problems = append(problems, fmt.Sprintf("step %q depends on later step %q", step.Name, dep))
			}
		}
	}

	if len(problems) == 0 && len(steps) > 0 {
		_, err := p.ExecutionOrder(steps)
		if err != nil {
			problems = append(problems, err.Error())
		}
	}

	return problems
}

// ExecutionOrder groups steps into the minimum number of stages such that
// every step lands strictly after all of its dependencies. Steps whose
// dependencies are already resolved are packed into the same stage, so
// independent steps run concurrently. The grouping is deterministic: ties are
// broken by declaration order.
func (p *Parser) ExecutionOrder(steps []models.StepDefinition) (models.ExecutionPlan, error) {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	order := make(map[string]int, len(steps))

	for i, step := range steps {
		order[step.Name] = i
		indegree[step.Name] = len(step.DependsOn)

		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.Name)
		}
	}

	ready := make([]string, 0, len(steps))

	for _, step := range steps {
		if indegree[step.Name] == 0 {
			ready = append(ready, step.Name)
		}
	}

	plan := make(models.ExecutionPlan, 0)
	placed := 0

	for len(ready) > 0 {
		// Ready steps are appended in declaration order, so each stage is
		// already deterministic.
		stage := ready
		ready = make([]string, 0)

		plan = append(plan, stage)
		placed += len(stage)

		for _, name := range stage {
			for _, dependent := range dependents[name] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					ready = insertByDeclaration(ready, dependent, order)
				}
			}
		}
	}

	if placed != len(steps) {
		remaining := make([]string, 0, len(steps)-placed)

		for _, step := range steps {
			if indegree[step.Name] > 0 {
				remaining = append(remaining, step.Name)
			}
		}

		return nil, fmt.Errorf("dependency cycle involving steps: %s", strings.Join(remaining, ", "))
	}

	return plan, nil
}

func insertByDeclaration(names []string, name string, order map[string]int) []string {
	pos := len(names)

	for i, existing := range names {
		if order[name] < order[existing] {
			pos = i

			break
		}
	}

	names = append(names, "")
	copy(names[pos+1:], names[pos:])
	names[pos] = name

	return names
}
