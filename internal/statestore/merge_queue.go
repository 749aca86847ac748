package statestore

import (
	"database/sql"
	"time"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

// EnqueueMerge appends a merge request to the tail of the FIFO queue.
// Position is an autoincrement surrogate so dequeue order is exact
// insertion order, mirroring the single-queue dispatch used for job
// submission in the agent pool.
func (s *Store) EnqueueMerge(m *domain.MergeRequest) error {
	_, err := s.db.Exec(`INSERT INTO merge_queue (id, task_id, branch_name, agent_id, enqueued_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.TaskID, m.BranchName, m.AgentID, time.Now())
	return err
}

// DequeueMerge pops the head of the FIFO queue, returning nil if empty.
func (s *Store) DequeueMerge() (*domain.MergeRequest, error) {
	var m domain.MergeRequest
	err := withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		row := tx.QueryRow(`SELECT id, task_id, branch_name, agent_id, enqueued_at FROM merge_queue ORDER BY position ASC LIMIT 1`)
		if err := row.Scan(&m.ID, &m.TaskID, &m.BranchName, &m.AgentID, &m.EnqueuedAt); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM merge_queue WHERE id = ?`, m.ID); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Status = domain.MergeQueued
	return &m, nil
}

// MergeQueueLength reports how many requests are waiting.
func (s *Store) MergeQueueLength() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM merge_queue`).Scan(&n)
	return n, err
}

// BeginActiveMerge records the merge request currently being processed
// by the single merge worker.
func (s *Store) BeginActiveMerge(m *domain.MergeRequest) error {
	_, err := s.db.Exec(`INSERT INTO active_merges (id, task_id, branch_name, agent_id, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.TaskID, m.BranchName, m.AgentID, string(domain.MergeActive), time.Now())
	return err
}

// FinishActiveMerge records the terminal status of the active merge.
func (s *Store) FinishActiveMerge(id string, status domain.MergeStatus, reason string) error {
	_, err := s.db.Exec(`UPDATE active_merges SET status = ?, fail_reason = ?, finished_at = ? WHERE id = ?`,
		string(status), reason, time.Now(), id)
	return err
}

// ActiveMerge returns the in-flight merge request, if any, so a
// restarted coordinator can recover mid-merge state.
func (s *Store) ActiveMerge() (*domain.MergeRequest, error) {
	row := s.db.QueryRow(`SELECT id, task_id, branch_name, agent_id, status, started_at FROM active_merges
		WHERE status = ? ORDER BY started_at DESC LIMIT 1`, string(domain.MergeActive))
	var m domain.MergeRequest
	err := row.Scan(&m.ID, &m.TaskID, &m.BranchName, &m.AgentID, &m.Status, &m.StartedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &m, err
}
