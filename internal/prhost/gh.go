package prhost

import (
	"context"
	"fmt"
	"os/exec"
)

// CheckAuth verifies the gh CLI is installed and authenticated, the
// precondition an agent must satisfy before it can ever call Publish.
func CheckAuth(ctx context.Context, dir string) error {
	if _, err := exec.LookPath("gh"); err != nil {
		return fmt.Errorf("gh CLI not found: %w", err)
	}
	return runGH(ctx, dir, "auth", "status")
}

// gh is a thin, unexported wrapper so the rest of the package reads
// like a normal method call; prhost has no need for Runner-style test
// substitution since its tests stub at the Host method boundary.
func runGH(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("gh %v: %s: %w", args, out, err)
	}
	return nil
}

func runGHOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("gh %v: %s: %w", args, out, err)
	}
	return string(out), nil
}
