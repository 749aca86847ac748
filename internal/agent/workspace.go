package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

const (
	taskBriefName  = "CURRENT_TASK.md"
	contextDirName = ".ai-context"
)

const taskBriefTemplate = `# %s

Task: %s
Kind: %s
Priority: %s
Branch: %s

## Description

%s

## Acceptance Criteria

%s

## When Done

Commit your changes to this branch. Do not push or open a pull request
yourself; the orchestrator takes over once it sees a new commit.
`

// taskContext is the machine-readable counterpart to the task brief,
// meant for a tool-using implementer rather than a human.
type taskContext struct {
	Task      *domain.Task `json:"task"`
	Role      string       `json:"role"`
	StartedAt time.Time    `json:"started_at"`
}

// prepareWorkspace materializes the human-readable task brief and the
// machine-readable context file inside a freshly created worktree, per
// the agent lifecycle's prepare-workspace step. Both are removed by
// removeWorkspaceFiles once an implementation commit lands — they
// describe the task to whatever is implementing it, they should not
// ship in the commit.
func prepareWorkspace(wtPath string, task *domain.Task) error {
	if err := writeTaskBrief(wtPath, task); err != nil {
		return fmt.Errorf("writing task brief: %w", err)
	}
	if err := writeTaskContext(wtPath, task); err != nil {
		return fmt.Errorf("writing task context: %w", err)
	}
	return nil
}

func writeTaskBrief(wtPath string, task *domain.Task) error {
	criteria := "- (none specified)"
	if len(task.AcceptanceCriteria) > 0 {
		var b strings.Builder
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		criteria = strings.TrimRight(b.String(), "\n")
	}

	body := fmt.Sprintf(taskBriefTemplate, task.Title, task.ID, task.Kind, task.Priority, task.BranchName, task.Description, criteria)
	return os.WriteFile(filepath.Join(wtPath, taskBriefName), []byte(body), 0644)
}

func writeTaskContext(wtPath string, task *domain.Task) error {
	dir := filepath.Join(wtPath, contextDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(taskContext{
		Task:      task,
		Role:      describeKind(task.Kind),
		StartedAt: time.Now(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("task-%s.json", task.ID)), data, 0644)
}

// removeWorkspaceFiles deletes the brief and context file once an
// implementation commit has landed, so neither ships in the commit.
func removeWorkspaceFiles(wtPath string, task *domain.Task) {
	os.Remove(filepath.Join(wtPath, taskBriefName))
	os.Remove(filepath.Join(wtPath, contextDirName, fmt.Sprintf("task-%s.json", task.ID)))
}
