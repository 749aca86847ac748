package merge

import (
	"context"
	"testing"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

func TestShellChecker_RunsCommandsInSequence(t *testing.T) {
	var lines []string
	c := &ShellChecker{
		Checks: []domain.QualityCheck{
			{Name: "one", Command: "echo one", Required: true},
			{Name: "two", Command: "echo two", Required: true},
		},
		Sink: func(line string) { lines = append(lines, line) },
	}
	if err := c.Run(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("got lines %v, want [one two] in order", lines)
	}
}

func TestShellChecker_StopsAtFirstRequiredFailure(t *testing.T) {
	var lines []string
	c := &ShellChecker{
		Checks: []domain.QualityCheck{
			{Name: "reached", Command: "echo reached", Required: true},
			{Name: "boom", Command: "exit 1", Required: true},
			{Name: "never", Command: "echo never", Required: true},
		},
		Sink: func(line string) { lines = append(lines, line) },
	}
	err := c.Run(context.Background(), t.TempDir())
	if err == nil {
		t.Fatal("expected a failing required check to return an error")
	}
	for _, l := range lines {
		if l == "never" {
			t.Fatal("got output from a check after the failing required one")
		}
	}
}

func TestShellChecker_AdvisoryFailureIsLoggedNotFailed(t *testing.T) {
	var lines []string
	c := &ShellChecker{
		Checks: []domain.QualityCheck{
			{Name: "lint", Command: "exit 1", Required: false},
			{Name: "build", Command: "echo built", Required: true},
		},
		Sink: func(line string) { lines = append(lines, line) },
	}
	if err := c.Run(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("Run: %v, want an advisory check's failure to not fail the gate", err)
	}
	found := false
	for _, l := range lines {
		if l == `advisory check "lint" failed: exit status 1` {
			found = true
		}
	}
	if !found {
		t.Fatalf("got lines %v, want the advisory failure logged to Sink", lines)
	}
	if lines[len(lines)-1] != "built" {
		t.Fatalf("got lines %v, want the required check after it to still run", lines)
	}
}

func TestShellChecker_NilSinkDoesNotPanic(t *testing.T) {
	c := &ShellChecker{Checks: []domain.QualityCheck{{Name: "hi", Command: "echo hi", Required: true}}}
	if err := c.Run(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
