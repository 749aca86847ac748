package statestore

import (
	"database/sql"
	"encoding/json"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

// SavePhases replaces the phase table with the backlog compiler's
// freshly computed phase assignments. Phase 0 starts active.
func (s *Store) SavePhases(phases []*domain.Phase) error {
	return withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM phases`); err != nil {
			return err
		}
		for _, p := range phases {
			ids, err := json.Marshal(p.TaskIDs)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`INSERT INTO phases (number, task_ids, active, done) VALUES (?, ?, ?, ?)`,
				p.Number, string(ids), boolToInt(p.Active), boolToInt(p.Done)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ActivePhase returns the currently active phase, or nil if none is
// active (backlog not yet compiled, or fully complete).
func (s *Store) ActivePhase() (*domain.Phase, error) {
	row := s.db.QueryRow(`SELECT number, task_ids, active, done FROM phases WHERE active = 1`)
	p, err := scanPhase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ActivateNextPhase marks the current active phase done and activates
// the next numbered phase, if any. Returns the newly active phase, or
// nil if the backlog is now fully complete.
func (s *Store) ActivateNextPhase() (*domain.Phase, error) {
	var next *domain.Phase
	err := withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		row := tx.QueryRow(`SELECT number FROM phases WHERE active = 1`)
		var current int
		if err := row.Scan(&current); err != nil && err != sql.ErrNoRows {
			return err
		}
		if _, err := tx.Exec(`UPDATE phases SET active = 0, done = 1 WHERE number = ?`, current); err != nil {
			return err
		}

		row = tx.QueryRow(`SELECT number, task_ids, active, done FROM phases WHERE number = ?`, current+1)
		p, err := scanPhase(row)
		if err == sql.ErrNoRows {
			next = nil
			return tx.Commit()
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE phases SET active = 1 WHERE number = ?`, p.Number); err != nil {
			return err
		}
		p.Active = true
		next = p
		return tx.Commit()
	})
	return next, err
}

// AllPhasesDone reports whether every phase row is marked done.
func (s *Store) AllPhasesDone() (bool, error) {
	var total, done int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM phases`).Scan(&total); err != nil {
		return false, err
	}
	if total == 0 {
		return false, nil
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM phases WHERE done = 1`).Scan(&done); err != nil {
		return false, err
	}
	return done == total, nil
}

func scanPhase(row *sql.Row) (*domain.Phase, error) {
	var p domain.Phase
	var ids string
	var active, done int
	if err := row.Scan(&p.Number, &ids, &active, &done); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(ids), &p.TaskIDs)
	p.Active = active != 0
	p.Done = done != 0
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
