package statestore

import (
	"database/sql"
	"time"
)

// AcquireLock creates a TTL-bounded claim lock for taskID if none is
// currently held (or the prior one has expired). The claim-lock TTL is
// set by callers to roughly 2x the agent heartbeat timeout, per the
// reaper's dead-agent detection window.
func (s *Store) AcquireLock(taskID, agentID string, ttl time.Duration) error {
	now := time.Now()
	expires := now.Add(ttl)
	return withRetry(func() error {
		res, err := s.db.Exec(`
			INSERT INTO claim_locks (task_id, agent_id, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(task_id) DO UPDATE SET agent_id = excluded.agent_id, expires_at = excluded.expires_at
			WHERE claim_locks.expires_at < ?
		`, taskID, agentID, expires, now)
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

// RenewLock extends an existing lock's TTL, provided the caller still
// holds it.
func (s *Store) RenewLock(taskID, agentID string, ttl time.Duration) error {
	res, err := s.db.Exec(`UPDATE claim_locks SET expires_at = ? WHERE task_id = ? AND agent_id = ?`,
		time.Now().Add(ttl), taskID, agentID)
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
}

// ReleaseLock drops the lock for taskID unconditionally, used once a
// task reaches a terminal-for-this-claim status.
func (s *Store) ReleaseLock(taskID string) error {
	_, err := s.db.Exec(`DELETE FROM claim_locks WHERE task_id = ?`, taskID)
	return err
}

// ExpiredLockTaskIDs returns task IDs whose claim lock has expired,
// used by the reaper alongside agent-heartbeat staleness.
func (s *Store) ExpiredLockTaskIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT task_id FROM claim_locks WHERE expires_at < ?`, time.Now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
