package domain

import "time"

// NotificationKind enumerates the coordinator-to-agent pub/sub events.
type NotificationKind string

const (
	NotifyPhaseActivated  NotificationKind = "phase_activated"
	NotifyTaskReassigned  NotificationKind = "task_reassigned"
	NotifyBacklogDone     NotificationKind = "backlog_done"
	NotifyConflictDetected NotificationKind = "conflict_detected"
	NotifyTestsFailed     NotificationKind = "tests_failed"
	NotifyMergeFailed     NotificationKind = "merge_failed"
	NotifyMergeSuccess    NotificationKind = "merge_success"
)

// Notification is a single message on the per-agent pub/sub bus. It is
// delivered to each addressed agent's live subscription, if any, and
// additionally appended to each addressed agent's durable pending list so a disconnected agent can drain it on
// reconnect. Payload is opaque to the bus: for conflict_detected it is
// the conflicted file list, for tests_failed the captured check output.
type Notification struct {
	ID        string
	Kind      NotificationKind
	TaskID    string
	Phase     int
	Payload   string
	CreatedAt time.Time
}
