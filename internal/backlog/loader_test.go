package backlog

import (
	"testing"

	"github.com/anthropics/task-orchestrator/internal/domain"
	"github.com/anthropics/task-orchestrator/internal/orcherr"
)

func TestParse_ValidBacklog(t *testing.T) {
	raw := []byte(`
tasks:
  - id: t1
    title: set up project
    kind: setup
    priority: H
  - id: t2
    title: implement feature
    kind: development
    depends_on: [t1]
    acceptance_criteria:
      - builds cleanly
`)
	tasks, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].Priority != domain.PriorityH {
		t.Fatalf("got priority %s, want H", tasks[0].Priority)
	}
	if tasks[1].Priority != domain.PriorityM {
		t.Fatalf("got default priority %s, want M", tasks[1].Priority)
	}
	if tasks[0].Status != domain.StatusPending {
		t.Fatalf("got status %s, want pending for a freshly parsed task", tasks[0].Status)
	}
}

func TestParse_EmptyBacklogIsInvalid(t *testing.T) {
	_, err := Parse([]byte(`tasks: []`))
	if !orcherr.Is(err, orcherr.KindValidation) {
		t.Fatalf("got %v, want a validation error for an empty backlog", err)
	}
}

func TestParse_DuplicateIDIsInvalid(t *testing.T) {
	raw := []byte(`
tasks:
  - id: t1
    title: one
    kind: setup
  - id: t1
    title: two
    kind: setup
`)
	_, err := Parse(raw)
	if !orcherr.Is(err, orcherr.KindValidation) {
		t.Fatalf("got %v, want a validation error for a duplicate id", err)
	}
}

func TestParse_UnknownDependencyIsInvalid(t *testing.T) {
	raw := []byte(`
tasks:
  - id: t1
    title: one
    kind: setup
    depends_on: [ghost]
`)
	_, err := Parse(raw)
	if !orcherr.Is(err, orcherr.KindValidation) {
		t.Fatalf("got %v, want a validation error for an unknown dependency", err)
	}
}

func TestParse_InvalidKindIsRejected(t *testing.T) {
	raw := []byte(`
tasks:
  - id: t1
    title: one
    kind: not-a-real-kind
`)
	_, err := Parse(raw)
	if !orcherr.Is(err, orcherr.KindValidation) {
		t.Fatalf("got %v, want a validation error for an invalid kind", err)
	}
}

func TestParse_InvalidPriorityIsRejected(t *testing.T) {
	raw := []byte(`
tasks:
  - id: t1
    title: one
    kind: setup
    priority: URGENT
`)
	_, err := Parse(raw)
	if !orcherr.Is(err, orcherr.KindValidation) {
		t.Fatalf("got %v, want a validation error for an invalid priority", err)
	}
}
