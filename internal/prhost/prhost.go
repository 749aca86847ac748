// Package prhost publishes an agent's branch to the hosting provider
// once a task's implementation commit lands and local checks pass.
// The core only ever reads back a PR number/URL; it never inspects
// diff content for merge decisions (that's the merge coordinator's
// conflict probe, not this package).
package prhost

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/task-orchestrator/internal/domain"
	"github.com/anthropics/task-orchestrator/internal/gitutil"
)

const bodyTemplate = `## Task
%s

## Description
%s

## Acceptance Criteria
%s

---
Published automatically by the task orchestrator.
`

// Host publishes task branches as pull requests via the gh CLI.
type Host struct {
	Runner gitutil.Runner
}

// BuildBody renders a PR description from a task's backlog fields.
func BuildBody(t *domain.Task) string {
	var criteria strings.Builder
	if len(t.AcceptanceCriteria) == 0 {
		criteria.WriteString("- (none specified)")
	}
	for _, c := range t.AcceptanceCriteria {
		fmt.Fprintf(&criteria, "- %s\n", c)
	}
	return fmt.Sprintf(bodyTemplate, t.ID, t.Description, criteria.String())
}

// Publish pushes the branch and opens a PR, returning the hosting
// provider's handle (PR number as a string) and URL.
func (h *Host) Publish(ctx context.Context, worktreePath string, t *domain.Task) (handle, url string, err error) {
	if _, err := h.Runner.Run(ctx, worktreePath, "push", "-u", "origin", t.BranchName); err != nil {
		return "", "", fmt.Errorf("push branch: %w", err)
	}

	title := fmt.Sprintf("%s: %s", t.Kind, t.Title)
	return h.createPR(ctx, worktreePath, title, BuildBody(t), t.BranchName)
}

// ClosePR closes a PR on the hosting provider without merging it
// there, since the merge coordinator integrates the branch into the
// mainline via git directly; this just keeps the provider's record in
// sync with what already happened.
func (h *Host) ClosePR(ctx context.Context, repoDir, handle string) error {
	return runGH(ctx, repoDir, "pr", "close", handle)
}

// AddLabels tags a PR using the semantic category labels computed by
// Categorize.
func (h *Host) AddLabels(ctx context.Context, repoDir, handle string, labels []string) error {
	args := []string{"pr", "edit", handle}
	for _, l := range labels {
		args = append(args, "--add-label", l)
	}
	return runGH(ctx, repoDir, args...)
}

func (h *Host) createPR(ctx context.Context, worktreePath, title, body, branch string) (string, string, error) {
	out, err := runGHOutput(ctx, worktreePath, "pr", "create", "--title", title, "--body", body, "--head", branch)
	if err != nil {
		return "", "", fmt.Errorf("gh pr create: %w", err)
	}
	url := strings.TrimSpace(out)
	return extractHandle(url), url, nil
}

// Diff fetches a merged PR's diff so the caller can categorize it via
// Categorize for labeling.
func (h *Host) Diff(ctx context.Context, repoDir, handle string) (string, error) {
	return runGHOutput(ctx, repoDir, "pr", "diff", handle)
}

func extractHandle(url string) string {
	parts := strings.Split(url, "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}
