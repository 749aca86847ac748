// Package gitutil wraps the git CLI for worktree management, conflict
// probing, and merge integration. Every operation goes through a
// Runner so tests can substitute a fake without a real git binary.
package gitutil

import (
	"context"
	"fmt"
	"os/exec"
)

// Runner executes a git subcommand in dir and returns combined output.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner shells out to the real git binary.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %v: %s: %w", args, out, err)
	}
	return string(out), nil
}
