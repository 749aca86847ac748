// Package projectkind guesses which quality-gate commands apply to a
// worktree by the presence of a handful of marker files, so the same
// agent and merge-coordinator check runner works across the several
// project kinds the backlog might describe without per-task config.
package projectkind

import (
	"os"
	"path/filepath"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

// Kind identifies a project's toolchain.
type Kind string

const (
	KindGo     Kind = "go"
	KindNode   Kind = "node"
	KindPython Kind = "python"
	KindUnknown Kind = "unknown"
)

// Detect inspects dir for marker files and returns the best-guess kind.
func Detect(dir string) Kind {
	if exists(dir, "go.mod") {
		return KindGo
	}
	if exists(dir, "package.json") {
		return KindNode
	}
	if exists(dir, "pyproject.toml") || exists(dir, "setup.py") || exists(dir, "requirements.txt") {
		return KindPython
	}
	return KindUnknown
}

func exists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

// DefaultChecks returns the default quality-gate commands for a kind,
// every one of them required. A config.Checks override always takes
// precedence; this is only the fallback when the backlog/config
// doesn't specify one.
func DefaultChecks(k Kind) []domain.QualityCheck {
	switch k {
	case KindGo:
		return []domain.QualityCheck{
			{Name: "build", Command: "go build ./...", Required: true},
			{Name: "vet", Command: "go vet ./...", Required: true},
			{Name: "test", Command: "go test ./...", Required: true},
		}
	case KindNode:
		return []domain.QualityCheck{
			{Name: "install", Command: "npm ci", Required: true},
			{Name: "test", Command: "npm test", Required: true},
		}
	case KindPython:
		return []domain.QualityCheck{
			{Name: "install", Command: "pip install -e .", Required: true},
			{Name: "test", Command: "pytest", Required: true},
		}
	default:
		return nil
	}
}
