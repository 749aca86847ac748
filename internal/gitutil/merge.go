package gitutil

import (
	"context"
	"strings"
)

// MergeWorkspace is a dedicated checkout of the mainline used exclusively
// by the sequential merge coordinator, never shared with an agent's
// worktree. When PushToRemote is false the coordinator runs entirely
// against branches local to Dir's repo (the same repo an agent's
// worktree was created off of) and never touches origin: no fetch, no
// push, no remote branch cleanup.
type MergeWorkspace struct {
	Runner       Runner
	Dir          string
	Mainline     string
	PushToRemote bool
}

// candidateRef returns the ref a candidate branch is addressed by: the
// remote-tracking ref in remote mode, the local branch itself
// otherwise (an agent's worktree creates the branch locally in this
// same repo, so there is nothing to fetch in local-only mode).
func (w *MergeWorkspace) candidateRef(branch string) string {
	if w.PushToRemote {
		return "origin/" + branch
	}
	return branch
}

// RefreshMainline brings the merge workspace to the mainline's latest
// tip: origin's in remote mode, or just a clean checkout of the local
// mainline branch in local-only mode.
func (w *MergeWorkspace) RefreshMainline(ctx context.Context) error {
	if !w.PushToRemote {
		_, err := w.Runner.Run(ctx, w.Dir, "checkout", w.Mainline)
		return err
	}
	if _, err := w.Runner.Run(ctx, w.Dir, "fetch", "origin", w.Mainline); err != nil {
		return err
	}
	if _, err := w.Runner.Run(ctx, w.Dir, "checkout", w.Mainline); err != nil {
		return err
	}
	_, err := w.Runner.Run(ctx, w.Dir, "reset", "--hard", "origin/"+w.Mainline)
	return err
}

// ProbeConflict attempts a dry-run merge of branch into the current
// mainline tip without committing, then aborts regardless of outcome.
// A non-nil error means the branch does not merge cleanly.
func (w *MergeWorkspace) ProbeConflict(ctx context.Context, branch string) error {
	_, err := w.Runner.Run(ctx, w.Dir, "merge", "--no-commit", "--no-ff", w.candidateRef(branch))
	w.Runner.Run(ctx, w.Dir, "merge", "--abort")
	return err
}

// CheckoutBranch switches the workspace onto the candidate branch so a
// quality-gate run right afterward exercises the candidate's own code
// rather than whatever the workspace was left on by the conflict
// probe's abort.
func (w *MergeWorkspace) CheckoutBranch(ctx context.Context, branch string) error {
	_, err := w.Runner.Run(ctx, w.Dir, "checkout", w.candidateRef(branch))
	return err
}

// CheckoutMainline returns the workspace to the mainline branch, used
// after testing a candidate branch so the following squash merge
// starts from the right base again.
func (w *MergeWorkspace) CheckoutMainline(ctx context.Context) error {
	_, err := w.Runner.Run(ctx, w.Dir, "checkout", w.Mainline)
	return err
}

// SquashMerge integrates branch into the mainline as a single commit
// and returns the resulting commit hash.
func (w *MergeWorkspace) SquashMerge(ctx context.Context, branch, message string) (string, error) {
	if _, err := w.Runner.Run(ctx, w.Dir, "merge", "--squash", w.candidateRef(branch)); err != nil {
		w.Runner.Run(ctx, w.Dir, "merge", "--abort")
		return "", err
	}
	if _, err := w.Runner.Run(ctx, w.Dir, "commit", "-m", message); err != nil {
		return "", err
	}
	out, err := w.Runner.Run(ctx, w.Dir, "rev-parse", "HEAD")
	return strings.TrimSpace(out), err
}

// Push pushes the mainline to origin using a lease to guard against a
// concurrent writer, even though the merge coordinator is meant to be
// the sole mainline writer by construction. A no-op in local-only mode.
func (w *MergeWorkspace) Push(ctx context.Context) error {
	if !w.PushToRemote {
		return nil
	}
	_, err := w.Runner.Run(ctx, w.Dir, "push", "--force-with-lease", "origin", w.Mainline)
	return err
}

// DeleteRemoteBranch removes the task branch from origin after a
// successful merge. A no-op in local-only mode; the local branch is
// left for the caller to clean up the way any local-only branch is.
func (w *MergeWorkspace) DeleteRemoteBranch(ctx context.Context, branch string) error {
	if !w.PushToRemote {
		return nil
	}
	_, err := w.Runner.Run(ctx, w.Dir, "push", "origin", "--delete", branch)
	return err
}
