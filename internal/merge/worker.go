// Package merge implements the sequential FIFO merge coordinator: a
// single worker goroutine that is the only writer to the mainline
// branch, so integration order always matches enqueue order and two
// branches are never resolved against each other concurrently.
package merge

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/task-orchestrator/internal/domain"
	"github.com/anthropics/task-orchestrator/internal/gitutil"
	"github.com/anthropics/task-orchestrator/internal/notify"
	"github.com/anthropics/task-orchestrator/internal/prhost"
	"github.com/anthropics/task-orchestrator/internal/statestore"
)

// stepOutcome is a closed enum for what a merge attempt step produced,
// dispatched explicitly rather than inspected via error-string
// matching, per the rest of the core's error-handling style.
type stepOutcome int

const (
	outcomeOK stepOutcome = iota
	outcomeConflict
	outcomeTestFailed
	outcomeMergeFailed
)

// Checker runs a project's quality gates against a worktree. Swapped
// out in tests for a fake that never shells out.
type Checker interface {
	Run(ctx context.Context, dir string) error
}

// Scheduler is the subset of internal/scheduler.Scheduler the merge
// worker needs after a task reaches merged or failed.
type Scheduler interface {
	OnTaskTerminal() error
}

// Config configures the merge worker's git plumbing and gating.
type Config struct {
	PollInterval time.Duration
	MaxRetries   int           // merge_failed attempts before a task gives up and goes to failed
	StepTimeout  time.Duration // budget for the quality gate, and separately one shared budget for all other steps of an attempt
}

// Worker drains the merge FIFO one request at a time.
type Worker struct {
	cfg       Config
	store     *statestore.Store
	workspace *gitutil.MergeWorkspace
	checker   Checker
	host      *prhost.Host
	sched     Scheduler
	bus       *notify.Bus
	operator  notify.Notifier
}

func NewWorker(cfg Config, store *statestore.Store, workspace *gitutil.MergeWorkspace, checker Checker, host *prhost.Host, sched Scheduler, bus *notify.Bus) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.StepTimeout == 0 {
		cfg.StepTimeout = 30 * time.Minute
	}
	return &Worker{cfg: cfg, store: store, workspace: workspace, checker: checker, host: host, sched: sched, bus: bus, operator: notify.NoopNotifier{}}
}

// SetOperatorNotifier wires a desktop/Slack notifier fired whenever a
// merge attempt lands in conflict or test_failed, since those need a
// human to look at the task rather than a silent retry.
func (w *Worker) SetOperatorNotifier(n notify.Notifier) { w.operator = n }

// Enqueue appends a task's branch to the FIFO, called by the
// coordinator once an agent reports a task done.
func (w *Worker) Enqueue(task *domain.Task) error {
	return w.store.EnqueueMerge(&domain.MergeRequest{
		ID:         uuid.NewString(),
		TaskID:     task.ID,
		BranchName: task.BranchName,
		AgentID:    task.AssignedTo,
	})
}

// Run loops dequeuing and processing merge requests until ctx is
// canceled. On startup it also recovers any request left active by a
// prior crash and reprocesses it from the refresh step, since every
// step up to push is idempotent.
func (w *Worker) Run(ctx context.Context) error {
	if active, err := w.store.ActiveMerge(); err == nil && active != nil {
		log.Printf("merge worker recovering in-flight request %s for task %s", active.ID, active.TaskID)
		w.process(ctx, active)
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			req, err := w.store.DequeueMerge()
			if err != nil {
				log.Printf("merge dequeue error: %v", err)
				continue
			}
			if req == nil {
				continue
			}
			if err := w.store.BeginActiveMerge(req); err != nil {
				log.Printf("merge begin-active error: %v", err)
				continue
			}
			w.process(ctx, req)
		}
	}
}

// process dispatches on the merge attempt's outcome per the single-writer
// rule from spec.md §9: the merge worker owns status transitions out of
// done/conflict/test_failed, merged_at, and retry_count. Conflict and
// test-failure are not terminal — the task keeps its owning agent and
// branch, the merge is simply dropped, and a later completion event (once
// the agent pushes a fix) re-enqueues it. Only merge_success and
// exhausted-retry merge_failed advance the scheduler.
func (w *Worker) process(ctx context.Context, req *domain.MergeRequest) {
	outcome, reason := w.attempt(ctx, req)

	switch outcome {
	case outcomeOK:
		w.store.FinishActiveMerge(req.ID, domain.MergeSucceeded, reason)
		w.store.SetTaskStatus(req.TaskID, domain.StatusMerged)
		w.store.ReleaseLock(req.TaskID)
		w.store.Audit("merge-worker", "merge", req.TaskID, "merged")
		w.notifyAgent(req, domain.NotifyMergeSuccess, reason)
		if err := w.sched.OnTaskTerminal(); err != nil {
			log.Printf("scheduler advance after merge: %v", err)
		}

	case outcomeConflict:
		w.store.FinishActiveMerge(req.ID, domain.MergeConflict, reason)
		w.store.MarkUnresolved(req.TaskID, domain.StatusConflict, reason)
		w.store.Audit("merge-worker", "merge", req.TaskID, "conflict: "+reason)
		w.notifyAgent(req, domain.NotifyConflictDetected, reason)
		w.operator.Send(notify.Notification{Title: "conflict", Message: reason, TaskID: req.TaskID, Type: notify.NotifyWarning})

	case outcomeTestFailed:
		w.store.FinishActiveMerge(req.ID, domain.MergeFailed, reason)
		w.store.MarkUnresolved(req.TaskID, domain.StatusTestFailed, reason)
		w.store.Audit("merge-worker", "merge", req.TaskID, "test_failed: "+reason)
		w.notifyAgent(req, domain.NotifyTestsFailed, reason)
		w.operator.Send(notify.Notification{Title: "tests failed", Message: reason, TaskID: req.TaskID, Type: notify.NotifyWarning})

	case outcomeMergeFailed:
		w.store.FinishActiveMerge(req.ID, domain.MergeFailed, reason)
		count, err := w.store.BumpRetryMergeFailed(req.TaskID, reason)
		if err == nil && count < w.cfg.MaxRetries {
			w.store.Audit("merge-worker", "merge", req.TaskID, fmt.Sprintf("merge_failed, retry %d/%d: %s", count, w.cfg.MaxRetries, reason))
			retry := &domain.MergeRequest{ID: uuid.NewString(), TaskID: req.TaskID, BranchName: req.BranchName, AgentID: req.AgentID}
			if reqErr := w.store.EnqueueMerge(retry); reqErr != nil {
				log.Printf("merge requeue failed for %s: %v", req.TaskID, reqErr)
			}
			return
		}
		w.store.SetTaskStatus(req.TaskID, domain.StatusFailed)
		w.store.ReleaseLock(req.TaskID)
		w.store.Audit("merge-worker", "merge", req.TaskID, "merge_failed, retries exhausted: "+reason)
		w.notifyAgent(req, domain.NotifyMergeFailed, reason)
		w.operator.Send(notify.Notification{Title: "merge failed", Message: reason, TaskID: req.TaskID, Type: notify.NotifyError})
		if err := w.sched.OnTaskTerminal(); err != nil {
			log.Printf("scheduler advance after merge failed: %v", err)
		}
	}
}

func (w *Worker) notifyAgent(req *domain.MergeRequest, kind domain.NotificationKind, payload string) {
	if w.bus == nil || req.AgentID == "" {
		return
	}
	w.bus.Publish(&domain.Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		TaskID:    req.TaskID,
		Payload:   payload,
		CreatedAt: time.Now(),
	}, []string{req.AgentID})
}

// attempt runs the refresh -> conflict-probe -> test-gate -> integrate
// -> cleanup sequence for one request. The quality gate runs under its
// own cfg.StepTimeout; every other step shares a single cfg.StepTimeout
// budget for the whole attempt. Either way a hung subprocess can't
// wedge the single merge worker goroutine forever.
func (w *Worker) attempt(ctx context.Context, req *domain.MergeRequest) (stepOutcome, string) {
	stepCtx, cancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
	defer cancel()

	if err := w.workspace.RefreshMainline(stepCtx); err != nil {
		return outcomeMergeFailed, "refreshing mainline: " + err.Error()
	}

	if err := w.workspace.ProbeConflict(stepCtx, req.BranchName); err != nil {
		return outcomeConflict, "conflict probe failed: " + err.Error()
	}

	if w.checker != nil {
		if err := w.workspace.CheckoutBranch(stepCtx, req.BranchName); err != nil {
			return outcomeMergeFailed, "checking out branch for quality gate: " + err.Error()
		}
		checkCtx, checkCancel := context.WithTimeout(ctx, w.cfg.StepTimeout)
		testErr := w.checker.Run(checkCtx, w.workspace.Dir)
		checkCancel()
		if err := w.workspace.CheckoutMainline(stepCtx); err != nil {
			return outcomeMergeFailed, "returning to mainline after quality gate: " + err.Error()
		}
		if testErr != nil {
			return outcomeTestFailed, "quality gate failed: " + testErr.Error()
		}
	}

	commitMsg := fmt.Sprintf("Merge %s", req.BranchName)
	if w.workspace.PushToRemote {
		commitMsg = fmt.Sprintf("merge %s (%s)", req.TaskID, req.BranchName)
	}
	if _, err := w.workspace.SquashMerge(stepCtx, req.BranchName, commitMsg); err != nil {
		return outcomeMergeFailed, "squash merge failed: " + err.Error()
	}
	if err := w.workspace.Push(stepCtx); err != nil {
		return outcomeMergeFailed, "push failed: " + err.Error()
	}

	w.workspace.DeleteRemoteBranch(stepCtx, req.BranchName)

	if w.host != nil {
		task, err := w.store.GetTask(req.TaskID)
		if err == nil && task.PRHandle != "" {
			w.host.ClosePR(stepCtx, w.workspace.Dir, task.PRHandle)
		}
	}

	return outcomeOK, ""
}
