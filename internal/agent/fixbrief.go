package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

// fixBriefName is the file an implementer (human or tool) checks for
// instructions after a merge attempt reports conflict_detected or
// tests_failed. It lives at the worktree root, alongside the code, not
// under .git, so it shows up in `git status` as an untracked file the
// implementer notices and is expected to delete once read.
const fixBriefName = "FIX_NEEDED.md"

// writeFixBrief records why the last merge attempt for task failed so
// whoever picks up the branch next knows what to address before
// committing a fix, without having to go query the coordinator.
func writeFixBrief(wtPath string, task *domain.Task, reason domain.NotificationKind) error {
	var label, action string
	switch reason {
	case domain.NotifyConflictDetected:
		label = "merge conflict"
		action = "Rebase onto the current mainline, resolve the conflicting hunks, and push the result to this same branch."
	case domain.NotifyTestsFailed:
		label = "quality gate failure"
		action = "Fix the failing checks and push a new commit to this same branch."
	default:
		label = string(reason)
		action = "Push a new commit to this same branch once addressed."
	}

	body := fmt.Sprintf("# %s\n\nTask: %s (%s)\n\n%s\n\n%s\n", label, task.ID, task.Title, task.BlockedReason, action)
	return os.WriteFile(filepath.Join(wtPath, fixBriefName), []byte(body), 0644)
}
