// Package reaper detects dead agents by heartbeat staleness and
// returns their in-flight claims to the pending pool so the phase
// scheduler can hand them to another agent.
package reaper

import (
	"time"

	"github.com/anthropics/task-orchestrator/internal/domain"
	"github.com/anthropics/task-orchestrator/internal/statestore"
)

// Reaper scans for agents whose heartbeat has gone stale for longer
// than timeout and resets whatever task they held.
type Reaper struct {
	store   *statestore.Store
	timeout time.Duration
}

func New(store *statestore.Store, timeout time.Duration) *Reaper {
	return &Reaper{store: store, timeout: timeout}
}

// Sweep runs one pass: mark stale agents dead, release their claim
// locks, and reset any task they still held to pending. Returns the
// number of tasks reset.
func (r *Reaper) Sweep() (int, error) {
	stale, err := r.store.ListStaleAgents(r.timeout)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, a := range stale {
		if err := r.store.MarkAgentDead(a.ID); err != nil {
			return reset, err
		}
		if a.CurrentTaskID == "" {
			continue
		}
		if err := r.store.ReleaseLock(a.CurrentTaskID); err != nil {
			return reset, err
		}
		// A concurrently-finished task (merged, failed, blocked, or
		// even mid-fix-loop on done/conflict/test_failed) must never be
		// bounced back to pending just because its agent went quiet.
		t, err := r.store.GetTask(a.CurrentTaskID)
		if err != nil {
			return reset, err
		}
		if t.Status != domain.StatusInProgress {
			continue
		}
		if err := r.store.ResetTask(a.CurrentTaskID, "agent heartbeat timeout"); err != nil {
			return reset, err
		}
		r.store.Audit("reaper", "reap", a.CurrentTaskID, "agent "+a.ID+" timed out")
		reset++
	}

	// Also sweep claim locks whose TTL expired independently of the
	// owning agent's heartbeat (e.g. a crashed agent whose lock outlived
	// its TTL without ever renewing). The lock TTL alone is not a safe
	// reset signal on its own: the coordinator renews a live agent's
	// lock on every heartbeat, so an expired lock on a non-terminal task
	// only means the reset is safe once the owning agent's heartbeat is
	// also stale — otherwise this would reset an agent's in-progress
	// work out from under it mid-implementation.
	expired, err := r.store.ExpiredLockTaskIDs()
	if err != nil {
		return reset, err
	}
	for _, taskID := range expired {
		t, err := r.store.GetTask(taskID)
		if err != nil {
			continue
		}
		if t.Status.Terminal() {
			r.store.ReleaseLock(taskID)
			continue
		}
		if t.AssignedTo != "" {
			agent, err := r.store.GetAgent(t.AssignedTo)
			if err == nil && !agent.Stale(time.Now(), r.timeout) {
				continue // the owning agent is alive; let it renew the lock on its next heartbeat
			}
		}
		r.store.ReleaseLock(taskID)
		r.store.ResetTask(taskID, "claim lock expired")
		r.store.Audit("reaper", "reap-lock", taskID, "")
		reset++
	}

	return reset, nil
}
