package merge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

// ShellChecker runs a fixed list of quality-gate commands in sequence
// inside a worktree, streaming combined output to a sink so a failing
// check's output survives even though the merge worker discards the
// worktree right after. Only a Required check's failure stops the run
// and fails the gate; an advisory check's failure is streamed through
// Sink and otherwise ignored.
type ShellChecker struct {
	Checks []domain.QualityCheck
	Sink   func(line string)
}

func (c *ShellChecker) Run(ctx context.Context, dir string) error {
	for _, check := range c.Checks {
		if err := c.runOne(ctx, dir, check.Command); err != nil {
			if check.Required {
				return fmt.Errorf("check %q: %w", check.Name, err)
			}
			if c.Sink != nil {
				c.Sink(fmt.Sprintf("advisory check %q failed: %v", check.Name, err))
			}
		}
	}
	return nil
}

func (c *ShellChecker) runOne(ctx context.Context, dir, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return err
	}

	c.stream(stdout)

	return cmd.Wait()
}

func (c *ShellChecker) stream(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if c.Sink != nil {
			c.Sink(scanner.Text())
		}
	}
}
