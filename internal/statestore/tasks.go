package statestore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

// UpsertTask inserts or updates a task's backlog-derived fields. Status
// and claim fields are left untouched on conflict; use the dedicated
// mutators for those so a re-load of the backlog never clobbers live
// scheduling state.
func (s *Store) UpsertTask(t *domain.Task) error {
	deps, err := json.Marshal(t.DependsOn)
	if err != nil {
		return err
	}
	criteria, err := json.Marshal(t.AcceptanceCriteria)
	if err != nil {
		return err
	}

	return withRetry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO tasks (id, title, description, kind, priority, depends_on, acceptance_criteria, phase, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				description = excluded.description,
				kind = excluded.kind,
				priority = excluded.priority,
				depends_on = excluded.depends_on,
				acceptance_criteria = excluded.acceptance_criteria,
				phase = excluded.phase
		`, t.ID, t.Title, t.Description, string(t.Kind), string(t.Priority), string(deps), string(criteria), t.Phase, string(domain.StatusPending), time.Now())
		return err
	})
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(id string) (*domain.Task, error) {
	row := s.db.QueryRow(taskSelect+" WHERE id = ?", id)
	return scanTask(row)
}

// ListTasksByStatus returns every task with the given status, ordered
// by creation time.
func (s *Store) ListTasksByStatus(status domain.TaskStatus) ([]*domain.Task, error) {
	rows, err := s.db.Query(taskSelect+" WHERE status = ? ORDER BY created_at", string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasksByPhase returns every task assigned to the given phase number.
func (s *Store) ListTasksByPhase(phase int) ([]*domain.Task, error) {
	rows, err := s.db.Query(taskSelect+" WHERE phase = ? ORDER BY priority, created_at", phase)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListAllTasks returns the full task set, used by the backlog compiler
// to recompute phases and by status endpoints.
func (s *Store) ListAllTasks() ([]*domain.Task, error) {
	rows, err := s.db.Query(taskSelect + " ORDER BY phase, priority, created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

// CompletedTaskIDs returns the set of task IDs in a merged state, used
// for dependency-readiness checks.
func (s *Store) CompletedTaskIDs() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT id FROM tasks WHERE status = ?`, string(domain.StatusMerged))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// ClaimTask atomically transitions a pending task to in_progress for
// the given agent, provided it is still pending. Returns sql.ErrNoRows
// if another agent won the race.
func (s *Store) ClaimTask(taskID, agentID, branch string) error {
	return withRetry(func() error {
		res, err := s.db.Exec(`
			UPDATE tasks SET status = ?, assigned_to = ?, branch_name = ?, claimed_at = ?
			WHERE id = ? AND status = ?
		`, string(domain.StatusInProgress), agentID, branch, time.Now(), taskID, string(domain.StatusPending))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// SetTaskStatus updates a task's status and, for terminal-ish
// transitions, the relevant timestamp.
func (s *Store) SetTaskStatus(taskID string, status domain.TaskStatus) error {
	return withRetry(func() error {
		var col string
		switch status {
		case domain.StatusDone:
			col = "completed_at"
		case domain.StatusMerged:
			col = "merged_at"
		}
		var err error
		if col != "" {
			_, err = s.db.Exec(`UPDATE tasks SET status = ?, `+col+` = ? WHERE id = ?`, string(status), time.Now(), taskID)
		} else {
			_, err = s.db.Exec(`UPDATE tasks SET status = ? WHERE id = ?`, string(status), taskID)
		}
		return err
	})
}

// ResetTask clears claim state and returns a task to pending, recording
// a reason. Used by the reaper to recover a dead agent's task and by
// the coordinator to back out a claim that lost a lock-contention race;
// NOT used by the merge coordinator for conflict/test-failure, since
// those keep the owning agent and branch so it can push a fix (spec:
// "this spec assumes the branch persists and the agent pushes new
// commits onto the same branch name").
func (s *Store) ResetTask(taskID, reason string) error {
	return withRetry(func() error {
		_, err := s.db.Exec(`
			UPDATE tasks SET status = ?, assigned_to = '', branch_name = '', claimed_at = NULL,
				retry_count = retry_count + 1, blocked_reason = ?
			WHERE id = ?
		`, string(domain.StatusPending), reason, taskID)
		return err
	})
}

// MarkUnresolved sets a task's status (conflict or test_failed) without
// disturbing its claim, branch, or retry count: the owning agent keeps
// the task and is expected to push a fix and re-signal completion.
func (s *Store) MarkUnresolved(taskID string, status domain.TaskStatus, reason string) error {
	return withRetry(func() error {
		_, err := s.db.Exec(`UPDATE tasks SET status = ?, blocked_reason = ? WHERE id = ?`, string(status), reason, taskID)
		return err
	})
}

// BumpRetryMergeFailed increments retry_count for a merge_failed attempt
// and returns the new count, leaving claim/branch untouched so a requeue
// retries against the same branch.
func (s *Store) BumpRetryMergeFailed(taskID, reason string) (int, error) {
	var count int
	err := withRetry(func() error {
		_, err := s.db.Exec(`UPDATE tasks SET status = ?, retry_count = retry_count + 1, blocked_reason = ? WHERE id = ?`,
			string(domain.StatusMergeFailed), reason, taskID)
		return err
	})
	if err != nil {
		return 0, err
	}
	err = s.db.QueryRow(`SELECT retry_count FROM tasks WHERE id = ?`, taskID).Scan(&count)
	return count, err
}

// SetPRHandle records the hosting-provider handle (e.g. PR number) once
// an agent publishes its branch.
func (s *Store) SetPRHandle(taskID, handle string) error {
	_, err := s.db.Exec(`UPDATE tasks SET pr_handle = ? WHERE id = ?`, handle, taskID)
	return err
}

const taskSelect = `SELECT id, title, description, kind, priority, depends_on, acceptance_criteria, phase,
	status, assigned_to, branch_name, pr_handle, retry_count, blocked_reason,
	created_at, claimed_at, completed_at, merged_at FROM tasks`

func scanTask(row *sql.Row) (*domain.Task, error) {
	var t domain.Task
	var deps, criteria string
	var assignedTo, branch, pr, reason sql.NullString
	var claimedAt, completedAt, mergedAt sql.NullTime

	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Kind, &t.Priority, &deps, &criteria, &t.Phase,
		&t.Status, &assignedTo, &branch, &pr, &t.RetryCount, &reason,
		&t.CreatedAt, &claimedAt, &completedAt, &mergedAt)
	if err != nil {
		return nil, err
	}
	applyTaskScan(&t, deps, criteria, assignedTo, branch, pr, reason, claimedAt, completedAt, mergedAt)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*domain.Task, error) {
	var out []*domain.Task
	for rows.Next() {
		var t domain.Task
		var deps, criteria string
		var assignedTo, branch, pr, reason sql.NullString
		var claimedAt, completedAt, mergedAt sql.NullTime

		err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Kind, &t.Priority, &deps, &criteria, &t.Phase,
			&t.Status, &assignedTo, &branch, &pr, &t.RetryCount, &reason,
			&t.CreatedAt, &claimedAt, &completedAt, &mergedAt)
		if err != nil {
			return nil, err
		}
		applyTaskScan(&t, deps, criteria, assignedTo, branch, pr, reason, claimedAt, completedAt, mergedAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func applyTaskScan(t *domain.Task, deps, criteria string, assignedTo, branch, pr, reason sql.NullString,
	claimedAt, completedAt, mergedAt sql.NullTime) {
	_ = json.Unmarshal([]byte(deps), &t.DependsOn)
	_ = json.Unmarshal([]byte(criteria), &t.AcceptanceCriteria)
	t.AssignedTo = assignedTo.String
	t.BranchName = branch.String
	t.PRHandle = pr.String
	t.BlockedReason = reason.String
	if claimedAt.Valid {
		t.ClaimedAt = claimedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = completedAt.Time
	}
	if mergedAt.Valid {
		t.MergedAt = mergedAt.Time
	}
}
