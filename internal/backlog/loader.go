// Package backlog loads a YAML task backlog and compiles it into
// dependency phases the coordinator can schedule, one wave at a time.
package backlog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/anthropics/task-orchestrator/internal/domain"
	"github.com/anthropics/task-orchestrator/internal/orcherr"
)

// entry is the YAML shape of a single backlog task.
type entry struct {
	ID                 string   `yaml:"id"`
	Title              string   `yaml:"title"`
	Description        string   `yaml:"description"`
	Kind               string   `yaml:"kind"`
	Priority           string   `yaml:"priority"`
	DependsOn          []string `yaml:"depends_on"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria"`
}

type file struct {
	Tasks []entry `yaml:"tasks"`
}

// Load reads a backlog YAML file and validates it into domain tasks.
// Validation failures are returned wrapped as orcherr.KindValidation.
func Load(path string) ([]*domain.Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse validates and converts raw backlog YAML into domain tasks.
func Parse(raw []byte) ([]*domain.Task, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, orcherr.Validation("backlog.parse", err)
	}
	if len(f.Tasks) == 0 {
		return nil, orcherr.Validation("backlog.parse", fmt.Errorf("backlog has no tasks"))
	}

	seen := make(map[string]bool, len(f.Tasks))
	tasks := make([]*domain.Task, 0, len(f.Tasks))

	for i, e := range f.Tasks {
		if e.ID == "" {
			return nil, orcherr.Validation("backlog.parse", fmt.Errorf("task at index %d missing id", i))
		}
		if seen[e.ID] {
			return nil, orcherr.Validation("backlog.parse", fmt.Errorf("duplicate task id %q", e.ID))
		}
		seen[e.ID] = true
		if e.Title == "" {
			return nil, orcherr.Validation("backlog.parse", fmt.Errorf("task %q missing title", e.ID))
		}

		kind := domain.TaskKind(e.Kind)
		if !validKind(kind) {
			return nil, orcherr.Validation("backlog.parse", fmt.Errorf("task %q has invalid kind %q", e.ID, e.Kind))
		}

		priority := domain.Priority(e.Priority)
		if priority == "" {
			priority = domain.PriorityM
		}
		if priority != domain.PriorityH && priority != domain.PriorityM && priority != domain.PriorityL {
			return nil, orcherr.Validation("backlog.parse", fmt.Errorf("task %q has invalid priority %q", e.ID, e.Priority))
		}

		tasks = append(tasks, &domain.Task{
			ID:                 e.ID,
			Title:              e.Title,
			Description:        e.Description,
			Kind:                kind,
			Priority:           priority,
			DependsOn:          e.DependsOn,
			AcceptanceCriteria: e.AcceptanceCriteria,
			Status:             domain.StatusPending,
		})
	}

	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return nil, orcherr.Validation("backlog.parse", fmt.Errorf("task %q depends on unknown task %q", t.ID, dep))
			}
		}
	}

	return tasks, nil
}

func validKind(k domain.TaskKind) bool {
	switch k {
	case domain.KindSetup, domain.KindDevelopment, domain.KindTesting, domain.KindSecurity, domain.KindDocumentation, domain.KindReview:
		return true
	default:
		return false
	}
}
