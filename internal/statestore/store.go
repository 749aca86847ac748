// Package statestore is the SQLite-backed durable state layer for the
// coordinator: tasks, phases, agents, claim locks, the merge FIFO, and
// the pub/sub pending-notification lists all live in one database file
// so a restarted coordinator recovers its full state from disk.
package statestore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides durable persistence for every coordinator subsystem.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite has no real concurrent-writer story

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// retryPolicy mirrors the worker-to-coordinator reconnect backoff: base
// 1s, factor 2, capped attempts rather than unbounded like the original.
const (
	retryBase    = 1 * time.Second
	retryFactor  = 2
	retryMaxWait = 16 * time.Second
	retryMaxN    = 5
)

func backoff(attempt int) time.Duration {
	d := retryBase
	for i := 0; i < attempt; i++ {
		d *= retryFactor
		if d > retryMaxWait {
			return retryMaxWait
		}
	}
	return d
}

// withRetry retries fn on SQLITE_BUSY-shaped errors using exponential
// backoff, up to retryMaxN attempts. Non-transient errors return
// immediately.
func withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < retryMaxN; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		time.Sleep(backoff(attempt))
	}
	return fmt.Errorf("after %d attempts: %w", retryMaxN, err)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

// Audit appends a line to the append-only audit log. Never fails the
// caller's own operation; audit logging errors are swallowed by design
// since the log is diagnostic, not authoritative state.
func (s *Store) Audit(actor, action, taskID, detail string) {
	_, _ = s.db.Exec(`INSERT INTO audit_log (at, actor, action, task_id, detail) VALUES (?, ?, ?, ?, ?)`,
		time.Now(), actor, action, taskID, detail)
}
