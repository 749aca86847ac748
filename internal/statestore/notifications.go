package statestore

import (
	"time"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

// AppendPendingNotification adds n to agentID's durable pending list.
// The live pub/sub bus (internal/notify) calls this alongside its
// in-memory broadcast so a disconnected agent can drain what it missed
// on reconnect, per the "never rely solely on pub/sub" guidance.
func (s *Store) AppendPendingNotification(agentID string, n *domain.Notification) error {
	_, err := s.db.Exec(`INSERT INTO notifications_pending (id, agent_id, kind, task_id, phase, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, agentID, string(n.Kind), n.TaskID, n.Phase, n.Payload, time.Now())
	return err
}

// DrainPending returns and deletes every pending notification queued
// for agentID, oldest first.
func (s *Store) DrainPending(agentID string) ([]*domain.Notification, error) {
	rows, err := s.db.Query(`SELECT id, kind, task_id, phase, payload, created_at FROM notifications_pending
		WHERE agent_id = ? ORDER BY created_at ASC`, agentID)
	if err != nil {
		return nil, err
	}
	var out []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.Kind, &n.TaskID, &n.Phase, &n.Payload, &n.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, &n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = s.db.Exec(`DELETE FROM notifications_pending WHERE agent_id = ?`, agentID)
	return out, err
}
