package statestore

import (
	"database/sql"
	"time"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

// RegisterAgent inserts or refreshes an agent's registration record.
func (s *Store) RegisterAgent(id string) error {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO agents (id, status, registered_at, last_heartbeat)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, last_heartbeat = excluded.last_heartbeat
	`, id, string(domain.AgentIdle), now, now)
	return err
}

// Heartbeat refreshes an agent's last-seen timestamp.
func (s *Store) Heartbeat(id string) error {
	res, err := s.db.Exec(`UPDATE agents SET last_heartbeat = ? WHERE id = ?`, time.Now(), id)
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

// SetAgentTask records (or clears, with taskID="") the agent's current
// claim for status reporting.
func (s *Store) SetAgentTask(agentID, taskID string) error {
	status := domain.AgentIdle
	if taskID != "" {
		status = domain.AgentWorking
	}
	_, err := s.db.Exec(`UPDATE agents SET status = ?, current_task_id = ? WHERE id = ?`,
		string(status), taskID, agentID)
	return err
}

// GetAgent retrieves a single agent record.
func (s *Store) GetAgent(id string) (*domain.Agent, error) {
	row := s.db.QueryRow(`SELECT id, status, current_task_id, registered_at, last_heartbeat FROM agents WHERE id = ?`, id)
	var a domain.Agent
	var cur sql.NullString
	if err := row.Scan(&a.ID, &a.Status, &cur, &a.RegisteredAt, &a.LastHeartbeat); err != nil {
		return nil, err
	}
	a.CurrentTaskID = cur.String
	return &a, nil
}

// ListStaleAgents returns agents whose heartbeat is older than timeout,
// for the reaper sweep.
func (s *Store) ListStaleAgents(timeout time.Duration) ([]*domain.Agent, error) {
	cutoff := time.Now().Add(-timeout)
	rows, err := s.db.Query(`SELECT id, status, current_task_id, registered_at, last_heartbeat FROM agents
		WHERE last_heartbeat < ? AND status != ?`, cutoff, string(domain.AgentDead))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		var a domain.Agent
		var cur sql.NullString
		if err := rows.Scan(&a.ID, &a.Status, &cur, &a.RegisteredAt, &a.LastHeartbeat); err != nil {
			return nil, err
		}
		a.CurrentTaskID = cur.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

// MarkAgentDead flags an agent as dead so the reaper does not reprocess
// it on every sweep.
func (s *Store) MarkAgentDead(id string) error {
	_, err := s.db.Exec(`UPDATE agents SET status = ? WHERE id = ?`, string(domain.AgentDead), id)
	return err
}

// ListAgentIDs returns every non-dead agent id, used to address
// backlog-wide notifications.
func (s *Store) ListAgentIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM agents WHERE status != ?`, string(domain.AgentDead))
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
