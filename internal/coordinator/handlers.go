package coordinator

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/anthropics/task-orchestrator/internal/domain"
	"github.com/anthropics/task-orchestrator/internal/orcherr"
	"github.com/anthropics/task-orchestrator/internal/scheduler"
)

type registerRequest struct {
	AgentID string `json:"agent_id"`
}

func (c *Coordinator) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeError(w, orcherr.Validation("register", errBadBody))
		return
	}
	if err := c.store.RegisterAgent(req.AgentID); err != nil {
		writeError(w, err)
		return
	}
	c.store.Audit(req.AgentID, "register", "", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

type heartbeatRequest struct {
	AgentID string `json:"agent_id"`
}

// handleHeartbeat refreshes an agent's last-seen timestamp and, if it
// currently holds a task, renews that task's claim lock in step — the
// lock's TaskLockTTL defaults to 2x AgentTimeout and is counted from
// the last acquire or renew, so it must be renewed here rather than
// left to expire on its own while the agent is still alive and working.
func (c *Coordinator) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeError(w, orcherr.Validation("heartbeat", errBadBody))
		return
	}
	if err := c.store.Heartbeat(req.AgentID); err != nil {
		if err == sql.ErrNoRows {
			writeError(w, orcherr.NotFound("heartbeat", orcherr.ErrUnknownAgent))
			return
		}
		writeError(w, err)
		return
	}
	if agent, err := c.store.GetAgent(req.AgentID); err == nil && agent.CurrentTaskID != "" {
		c.store.RenewLock(agent.CurrentTaskID, req.AgentID, c.cfg.TaskLockTTL)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type claimRequest struct {
	AgentID string `json:"agent_id"`
}

type claimResponse struct {
	Task *domain.Task `json:"task"`
}

// handleClaim implements the claim algorithm: find the active phase,
// rank its pending tasks, and atomically claim the first candidate
// whose dependencies have all merged and whose ClaimTask call still
// wins the race. A candidate with a failed (or otherwise non-merged
// terminal) dependency is transitioned to blocked in place rather than
// claimed, since the coordinator is the only party that knows a
// dependency failed — the agent that would claim it never would. A 409
// means no candidate could be claimed right now: none is pending with
// its kind enabled and every dependency merged, or another agent won
// each race. It does not mean that anything failed.
func (c *Coordinator) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" {
		writeError(w, orcherr.Validation("claim", errBadBody))
		return
	}
	if _, err := c.store.GetAgent(req.AgentID); err != nil {
		if err == sql.ErrNoRows {
			writeError(w, orcherr.NotFound("claim", orcherr.ErrUnknownAgent))
			return
		}
		writeError(w, err)
		return
	}

	phase, err := c.store.ActivePhase()
	if err != nil {
		writeError(w, err)
		return
	}
	if phase == nil {
		writeError(w, orcherr.Precondition("claim", orcherr.ErrNoReadyTasks))
		return
	}

	tasks, err := c.store.ListTasksByPhase(phase.Number)
	if err != nil {
		writeError(w, err)
		return
	}
	ranked := scheduler.RankReady(tasks)

	for _, t := range ranked {
		if !c.cfg.KindEnabled(t.Kind) {
			continue // operator has disabled auto-claim for this kind
		}

		depsReady, blockedOn, err := scheduler.DependencyStatus(c.store, t)
		if err != nil {
			writeError(w, err)
			return
		}
		if !depsReady {
			if blockedOn != "" {
				if err := c.store.MarkUnresolved(t.ID, domain.StatusBlocked, "dependency "+blockedOn+" failed"); err != nil {
					writeError(w, err)
					return
				}
				c.store.Audit(req.AgentID, "claim", t.ID, "blocked: dependency "+blockedOn+" failed")
				if err := c.sched.OnTaskTerminal(); err != nil {
					writeError(w, err)
					return
				}
			}
			continue // not yet claimable, either blocked just now or its dependency hasn't resolved
		}

		branch := branchNameFor(t.ID)
		if err := c.store.ClaimTask(t.ID, req.AgentID, branch); err != nil {
			if err == sql.ErrNoRows {
				continue // lost the race, try the next candidate
			}
			writeError(w, err)
			return
		}
		if err := c.store.AcquireLock(t.ID, req.AgentID, c.cfg.TaskLockTTL); err != nil {
			// Someone else's lock is still live; back the claim out and
			// treat it as contention rather than leaving a half-claimed task.
			c.store.ResetTask(t.ID, "lock contention after claim")
			continue
		}
		c.store.SetAgentTask(req.AgentID, t.ID)
		c.store.Audit(req.AgentID, "claim", t.ID, branch)
		t.BranchName = branch
		t.Status = domain.StatusInProgress
		t.AssignedTo = req.AgentID
		writeJSON(w, http.StatusOK, claimResponse{Task: t})
		return
	}

	writeError(w, orcherr.Conflict("claim", orcherr.ErrAlreadyClaimed))
}

type completeRequest struct {
	AgentID  string            `json:"agent_id"`
	TaskID   string            `json:"task_id"`
	Status   domain.TaskStatus `json:"status"`
	Reason   string            `json:"reason,omitempty"`
	PRHandle string            `json:"pr_handle,omitempty"`
}

// handleComplete records an agent's outcome for a task it holds. "done"
// hands the task to the merge coordinator's FIFO rather than finishing
// it outright, since the merge worker is what decides merged vs.
// conflict/test_failed/merge_failed. "blocked" is terminal in place.
// "failed" is terminal and releases the claim. Any other status an
// agent reports falls through to the generic reset-to-pending path,
// used for local infra hiccups that warrant another attempt.
func (c *Coordinator) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AgentID == "" || req.TaskID == "" {
		writeError(w, orcherr.Validation("complete", errBadBody))
		return
	}

	task, err := c.store.GetTask(req.TaskID)
	if err != nil {
		writeError(w, orcherr.NotFound("complete", orcherr.ErrUnknownTask))
		return
	}
	if task.AssignedTo != req.AgentID {
		writeError(w, orcherr.Precondition("complete", orcherr.ErrClaimLost))
		return
	}

	switch req.Status {
	case domain.StatusDone:
		if req.PRHandle != "" {
			c.store.SetPRHandle(req.TaskID, req.PRHandle)
			task.PRHandle = req.PRHandle
		}
		if err := c.store.SetTaskStatus(req.TaskID, domain.StatusDone); err != nil {
			writeError(w, err)
			return
		}
		c.store.Audit(req.AgentID, "complete", req.TaskID, "done")
		if c.merger != nil {
			if err := c.merger.Enqueue(task); err != nil {
				writeError(w, err)
				return
			}
		}
	case domain.StatusFailed:
		if err := c.store.SetTaskStatus(req.TaskID, domain.StatusFailed); err != nil {
			writeError(w, err)
			return
		}
		c.store.ReleaseLock(req.TaskID)
		c.store.Audit(req.AgentID, "complete", req.TaskID, "failed: "+req.Reason)
		if err := c.sched.OnTaskTerminal(); err != nil {
			writeError(w, err)
			return
		}
	case domain.StatusBlocked:
		if err := c.store.MarkUnresolved(req.TaskID, domain.StatusBlocked, req.Reason); err != nil {
			writeError(w, err)
			return
		}
		c.store.ReleaseLock(req.TaskID)
		c.store.Audit(req.AgentID, "complete", req.TaskID, "blocked: "+req.Reason)
		if err := c.sched.OnTaskTerminal(); err != nil {
			writeError(w, err)
			return
		}
	default:
		if err := c.store.ResetTask(req.TaskID, req.Reason); err != nil {
			writeError(w, err)
			return
		}
		c.store.ReleaseLock(req.TaskID)
		c.store.Audit(req.AgentID, "complete", req.TaskID, string(req.Status)+": "+req.Reason)
	}

	c.store.SetAgentTask(req.AgentID, "")
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (c *Coordinator) handleStatus(w http.ResponseWriter, r *http.Request) {
	tasks, err := c.store.ListAllTasks()
	if err != nil {
		writeError(w, err)
		return
	}
	phase, err := c.store.ActivePhase()
	if err != nil {
		writeError(w, err)
		return
	}
	queueLen, err := c.store.MergeQueueLength()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":               tasks,
		"active_phase":        phase,
		"merge_queue_length":  queueLen,
		"dependent_counts":    scheduler.DependentCount(tasks),
	})
}

func (c *Coordinator) handleCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := c.runCleanup()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reaped": n})
}

func (c *Coordinator) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNotificationStream upgrades to a websocket connection and
// streams live bus notifications to the connecting agent, draining its
// durable pending list first so reconnect never loses a phase event.
func (c *Coordinator) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	pending, err := c.bus.Drain(agentID)
	if err == nil {
		for _, n := range pending {
			conn.WriteJSON(n)
		}
	}

	ch, unsubscribe := c.bus.Subscribe(agentID)
	defer unsubscribe()

	for n := range ch {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(n); err != nil {
			return
		}
	}
}

var errBadBody = &badBodyError{}

type badBodyError struct{}

func (*badBodyError) Error() string { return "invalid or missing fields in request body" }

func branchNameFor(taskID string) string {
	return "task/" + taskID
}
