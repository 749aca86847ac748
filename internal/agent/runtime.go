package agent

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/anthropics/task-orchestrator/internal/domain"
	"github.com/anthropics/task-orchestrator/internal/gitutil"
	"github.com/anthropics/task-orchestrator/internal/merge"
	"github.com/anthropics/task-orchestrator/internal/prhost"
	"github.com/anthropics/task-orchestrator/internal/projectkind"
)

// Config configures one agent process.
type Config struct {
	ID                string
	CoordinatorURL    string
	RepoDir           string
	WorktreeDir       string
	Mainline          string
	HeartbeatInterval time.Duration
	CommitWait        time.Duration
	FixLoopMaxIter    int
	FixLoopWait       time.Duration
	AutoPR            bool
	PushToRemote      bool
	QualityGates      []domain.QualityCheck
	ClaimWait         time.Duration // backoff between claim attempts when none is available
	ImplPoll          time.Duration // poll interval while waiting for an implementation commit
}

// Runtime drives one agent's claim/implement/publish loop. It never
// spawns an implementer process itself: it prepares a branch, waits
// for a commit to land on it by whatever means (a human, a CLI tool, a
// script) the operator has wired up outside this core, then takes over
// from there. Handing a done task to the merge FIFO is the
// coordinator's job, triggered by the "complete" RPC below, not the
// agent's — the agent has no business writing to the merge queue
// directly.
type Runtime struct {
	cfg    Config
	client *Client
	wt     *gitutil.WorktreeManager
	host   *prhost.Host

	mu      sync.Mutex
	current string                       // task id currently owned, "" if idle
	events  chan *domain.Notification    // filtered to the current task
}

func NewRuntime(cfg Config, client *Client, wt *gitutil.WorktreeManager, host *prhost.Host) *Runtime {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.CommitWait == 0 {
		cfg.CommitWait = 10 * time.Minute
	}
	if cfg.FixLoopMaxIter == 0 {
		cfg.FixLoopMaxIter = 3
	}
	if cfg.FixLoopWait == 0 {
		cfg.FixLoopWait = 30 * time.Minute
	}
	if cfg.ClaimWait == 0 {
		cfg.ClaimWait = 3 * time.Second
	}
	if cfg.ImplPoll == 0 {
		cfg.ImplPoll = 10 * time.Second
	}
	return &Runtime{cfg: cfg, client: client, wt: wt, host: host, events: make(chan *domain.Notification, 8)}
}

// Run registers the agent, starts heartbeating and the notification
// subscriber, and loops claiming and processing tasks until ctx is
// canceled.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.client.Register(r.cfg.ID); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	go r.heartbeatLoop(ctx)
	go r.notifyLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		task, status, err := r.client.Claim(r.cfg.ID)
		if err != nil {
			log.Printf("agent %s: claim error: %v", r.cfg.ID, err)
			time.Sleep(r.cfg.ClaimWait)
			continue
		}
		if task == nil {
			wait := r.cfg.ClaimWait
			if status == http.StatusUnprocessableEntity {
				wait = 5 * r.cfg.ClaimWait // backlog exhausted, no point hammering
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}

		r.processTask(ctx, task)
	}
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.client.Heartbeat(r.cfg.ID); err != nil {
				log.Printf("agent %s: heartbeat failed: %v", r.cfg.ID, err)
			}
		}
	}
}

// notifyLoop drains the per-agent pending queue, then holds a live
// subscription open, redialing on drop. Events for the task currently
// owned are forwarded to r.events; anything else (phase/backlog
// broadcasts) is only logged here, since the claim loop picks those up
// naturally on its next claim attempt.
func (r *Runtime) notifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ch, err := r.client.Subscribe(ctx, r.cfg.ID)
		if err != nil {
			log.Printf("agent %s: notification subscribe failed: %v", r.cfg.ID, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for n := range ch {
			r.mu.Lock()
			owned := r.current != "" && r.current == n.TaskID
			r.mu.Unlock()
			if owned {
				select {
				case r.events <- n:
				default:
				}
			} else {
				log.Printf("agent %s: notification %s for task %s (not currently owned)", r.cfg.ID, n.Kind, n.TaskID)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (r *Runtime) setCurrent(taskID string) {
	r.mu.Lock()
	r.current = taskID
	r.mu.Unlock()
}

func (r *Runtime) processTask(ctx context.Context, task *domain.Task) {
	r.setCurrent(task.ID)
	defer r.setCurrent("")

	if reason := r.checkPreconditions(ctx); reason != "" {
		r.client.Complete(r.cfg.ID, task.ID, domain.StatusFailed, reason, "")
		return
	}

	wtPath, branch, err := r.wt.Create(ctx, task.ID)
	if err != nil {
		r.client.Complete(r.cfg.ID, task.ID, domain.StatusBlocked, "worktree prep failed: "+err.Error(), "")
		return
	}
	task.BranchName = branch

	if err := prepareWorkspace(wtPath, task); err != nil {
		log.Printf("agent %s: preparing workspace for %s: %v", r.cfg.ID, task.ID, err)
	}

	watcher := NewRefWatcher(wtPath)
	defer watcher.Close()

	if !r.waitForCommit(ctx, wtPath, watcher, r.cfg.CommitWait) {
		r.wt.Remove(ctx, wtPath, branch)
		r.client.Complete(r.cfg.ID, task.ID, domain.StatusBlocked, "no implementation commit within wait window", "")
		return
	}
	removeWorkspaceFiles(wtPath, task)

	if ok := r.fixLoop(ctx, wtPath, task); !ok {
		r.wt.Remove(ctx, wtPath, branch)
		reason := fmt.Sprintf("%s checks did not pass within fix-loop budget", describeKind(task.Kind))
		r.client.Complete(r.cfg.ID, task.ID, domain.StatusFailed, reason, "")
		return
	}

	r.publishAndAwaitMerge(ctx, wtPath, branch, task)
}

// checkPreconditions verifies the publish-time requirements the
// operator's config implies, before any worktree gets created for the
// task. Returns a non-empty structured reason on failure; an agent
// never attempts push or PR creation after a precondition miss.
func (r *Runtime) checkPreconditions(ctx context.Context) string {
	if r.cfg.PushToRemote {
		if _, err := r.wt.Runner.Run(ctx, r.cfg.RepoDir, "remote", "get-url", "origin"); err != nil {
			return "precondition failed: no remote named origin: " + err.Error()
		}
	}
	if r.cfg.AutoPR {
		if err := prhost.CheckAuth(ctx, r.cfg.RepoDir); err != nil {
			return "precondition failed: gh CLI not installed or not authenticated: " + err.Error()
		}
	}
	return ""
}

// publishAndAwaitMerge runs the publish → signal-done → wait-for-merge-outcome
// cycle, retrying through the post-merge fix loop (spec §4.6h) up to
// FixLoopMaxIter times when the merge worker reports conflict_detected
// or tests_failed for this task.
func (r *Runtime) publishAndAwaitMerge(ctx context.Context, wtPath, branch string, task *domain.Task) {
	for attempt := 0; ; attempt++ {
		if r.cfg.AutoPR && r.host != nil && task.PRHandle == "" {
			handle, _, err := r.host.Publish(ctx, wtPath, task)
			if err != nil {
				log.Printf("agent %s: PR publish failed for %s: %v", r.cfg.ID, task.ID, err)
			} else {
				task.PRHandle = handle
			}
		}

		r.client.Complete(r.cfg.ID, task.ID, domain.StatusDone, "", task.PRHandle)

		outcome := r.awaitMergeOutcome(ctx)
		switch outcome {
		case domain.NotifyMergeSuccess, "":
			r.wt.Remove(ctx, wtPath, branch)
			return
		case domain.NotifyMergeFailed:
			r.wt.Remove(ctx, wtPath, branch)
			return
		case domain.NotifyConflictDetected, domain.NotifyTestsFailed:
			if attempt+1 >= r.cfg.FixLoopMaxIter {
				r.client.Complete(r.cfg.ID, task.ID, domain.StatusFailed, "post-merge fix loop exhausted", "")
				r.wt.Remove(ctx, wtPath, branch)
				return
			}
			if !r.runFixRound(ctx, wtPath, branch, task, outcome) {
				r.client.Complete(r.cfg.ID, task.ID, domain.StatusFailed, "no fix commit within fix-loop wait window", "")
				r.wt.Remove(ctx, wtPath, branch)
				return
			}
			// loop: re-run checks, re-push, re-signal done
		}
	}
}

// awaitMergeOutcome blocks for a merge-related notification about the
// currently owned task. Used only as a liveness hint: if nothing
// arrives within a generous window the agent simply moves on to its
// next claim rather than hanging forever on a dropped event.
func (r *Runtime) awaitMergeOutcome(ctx context.Context) domain.NotificationKind {
	timeout := time.NewTimer(15 * time.Minute)
	defer timeout.Stop()
	for {
		select {
		case <-ctx.Done():
			return ""
		case <-timeout.C:
			return ""
		case n := <-r.events:
			switch n.Kind {
			case domain.NotifyMergeSuccess, domain.NotifyMergeFailed, domain.NotifyConflictDetected, domain.NotifyTestsFailed:
				return n.Kind
			}
		}
	}
}

// runFixRound writes a fix-brief describing the failure, waits for a
// remediation commit, re-validates (re-running local checks for
// tests_failed, rebasing onto the mainline ref for conflict and
// aborting the rebase if it fails), and re-pushes.
func (r *Runtime) runFixRound(ctx context.Context, wtPath, branch string, task *domain.Task, reason domain.NotificationKind) bool {
	if err := writeFixBrief(wtPath, task, reason); err != nil {
		log.Printf("agent %s: writing fix brief for %s: %v", r.cfg.ID, task.ID, err)
	}

	watcher := NewRefWatcher(wtPath)
	defer watcher.Close()
	if !r.waitForCommit(ctx, wtPath, watcher, r.cfg.FixLoopWait) {
		return false
	}

	if reason == domain.NotifyTestsFailed {
		checker := &merge.ShellChecker{Checks: checksFor(task.Kind, r.effectiveChecks(wtPath)), Sink: func(line string) { log.Println(line) }}
		if err := checker.Run(ctx, wtPath); err != nil {
			return false
		}
	} else {
		if _, err := r.wt.Runner.Run(ctx, wtPath, "rebase", gitMainlineRef(r.cfg.Mainline, r.cfg.PushToRemote)); err != nil {
			r.wt.Runner.Run(ctx, wtPath, "rebase", "--abort")
			return false
		}
	}

	if r.cfg.PushToRemote {
		if _, err := r.wt.Runner.Run(ctx, wtPath, "push", "--force-with-lease", "origin", branch); err != nil {
			log.Printf("agent %s: re-push after fix failed for %s: %v", r.cfg.ID, task.ID, err)
			return false
		}
	}
	return true
}

func gitMainlineRef(mainline string, pushToRemote bool) string {
	if mainline == "" {
		mainline = "main"
	}
	if !pushToRemote {
		return mainline
	}
	return "origin/" + mainline
}

func (r *Runtime) effectiveChecks(wtPath string) []domain.QualityCheck {
	if len(r.cfg.QualityGates) > 0 {
		return r.cfg.QualityGates
	}
	return projectkind.DefaultChecks(projectkind.Detect(wtPath))
}

// waitForCommit blocks until a commit lands on the branch checked out
// in wtPath, the ref watcher fires and a poll confirms it, or wait
// elapses. It never relies solely on the watcher: a missed fsnotify
// event still gets caught by the next poll tick.
func (r *Runtime) waitForCommit(ctx context.Context, wtPath string, watcher *RefWatcher, wait time.Duration) bool {
	deadline := time.After(wait)
	poll := time.NewTicker(r.cfg.ImplPoll)
	defer poll.Stop()

	baseline, _ := gitutil.ExecRunner{}.Run(ctx, wtPath, "rev-parse", "HEAD")

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return false
		case <-watcher.Notify():
		case <-poll.C:
		}

		head, err := gitutil.ExecRunner{}.Run(ctx, wtPath, "rev-parse", "HEAD")
		if err == nil && head != baseline {
			return true
		}
	}
}

// fixLoop runs the quality gates up to FixLoopMaxIter times before the
// first publish attempt, giving the implementer a chance to address
// failures between iterations. The core itself never attempts a fix; it
// only reports pass/fail per iteration and stops once the budget is
// exhausted or checks pass.
func (r *Runtime) fixLoop(ctx context.Context, wtPath string, task *domain.Task) bool {
	checks := checksFor(task.Kind, r.effectiveChecks(wtPath))
	checker := &merge.ShellChecker{Checks: checks, Sink: func(line string) { log.Println(line) }}

	for i := 0; i < r.cfg.FixLoopMaxIter; i++ {
		if err := checker.Run(ctx, wtPath); err == nil {
			return true
		}
		time.Sleep(2 * time.Second)
	}
	return false
}
