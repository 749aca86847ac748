package gitutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WorktreeManager creates and tears down per-task git worktrees rooted
// off a shared mainline checkout.
type WorktreeManager struct {
	Runner      Runner
	RepoDir     string
	WorktreeDir string
	Mainline    string // e.g. "main"
}

// BranchName derives a branch name from an opaque task id.
func BranchName(taskID string) string {
	return "task/" + sanitize(taskID)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '/':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// Create fetches the mainline, removes any stale worktree/branch for
// this task, and creates a fresh worktree checked out on a new branch.
func (m *WorktreeManager) Create(ctx context.Context, taskID string) (path, branch string, err error) {
	if err := os.MkdirAll(m.WorktreeDir, 0755); err != nil {
		return "", "", fmt.Errorf("creating worktree dir: %w", err)
	}

	branch = BranchName(taskID)
	if err := m.cleanupExisting(ctx, branch); err != nil {
		return "", "", fmt.Errorf("cleaning up existing branch: %w", err)
	}

	m.Runner.Run(ctx, m.RepoDir, "fetch", "origin", m.Mainline)

	base := "origin/" + m.Mainline
	if _, err := m.Runner.Run(ctx, m.RepoDir, "rev-parse", "--verify", base); err != nil {
		base = m.Mainline
	}

	dirName := fmt.Sprintf("%s-%s", sanitize(taskID), randomSuffix())
	wtPath := filepath.Join(m.WorktreeDir, dirName)

	if _, err := m.Runner.Run(ctx, m.RepoDir, "worktree", "add", "-b", branch, wtPath, base); err != nil {
		return "", "", err
	}
	return wtPath, branch, nil
}

func (m *WorktreeManager) cleanupExisting(ctx context.Context, branch string) error {
	m.Runner.Run(ctx, m.RepoDir, "worktree", "prune")

	out, _ := m.Runner.Run(ctx, m.RepoDir, "worktree", "list", "--porcelain")
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "worktree ") {
			continue
		}
		wtPath := strings.TrimPrefix(line, "worktree ")
		for j := i + 1; j < len(lines) && j < i+4; j++ {
			if strings.TrimSpace(lines[j]) == "branch refs/heads/"+branch {
				m.Runner.Run(ctx, m.RepoDir, "worktree", "remove", "--force", wtPath)
				break
			}
		}
	}
	m.Runner.Run(ctx, m.RepoDir, "branch", "-D", branch)
	return nil
}

// Remove deletes the worktree and its branch.
func (m *WorktreeManager) Remove(ctx context.Context, wtPath, branch string) error {
	if _, err := m.Runner.Run(ctx, m.RepoDir, "worktree", "remove", "--force", wtPath); err != nil {
		return err
	}
	m.Runner.Run(ctx, m.RepoDir, "branch", "-D", branch)
	return nil
}

func randomSuffix() string {
	b := make([]byte, 3)
	rand.Read(b)
	return hex.EncodeToString(b)
}
