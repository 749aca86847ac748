package statestore

// schema is applied on every Open; all statements are idempotent so the
// store can be reopened against an existing database file.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT,
	kind TEXT NOT NULL,
	priority TEXT NOT NULL,
	depends_on TEXT NOT NULL DEFAULT '[]',
	acceptance_criteria TEXT NOT NULL DEFAULT '[]',
	phase INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	assigned_to TEXT,
	branch_name TEXT,
	pr_handle TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	blocked_reason TEXT,
	created_at DATETIME NOT NULL,
	claimed_at DATETIME,
	completed_at DATETIME,
	merged_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_phase ON tasks(phase);

CREATE TABLE IF NOT EXISTS phases (
	number INTEGER PRIMARY KEY,
	task_ids TEXT NOT NULL DEFAULT '[]',
	active INTEGER NOT NULL DEFAULT 0,
	done INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	current_task_id TEXT,
	registered_at DATETIME NOT NULL,
	last_heartbeat DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agents_heartbeat ON agents(last_heartbeat);

CREATE TABLE IF NOT EXISTS claim_locks (
	task_id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS merge_queue (
	position INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	task_id TEXT NOT NULL,
	branch_name TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	enqueued_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS active_merges (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	branch_name TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	status TEXT NOT NULL,
	fail_reason TEXT,
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS notifications_pending (
	id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	task_id TEXT,
	phase INTEGER,
	payload TEXT,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (id, agent_id)
);
CREATE INDEX IF NOT EXISTS idx_notify_pending_agent ON notifications_pending(agent_id);

CREATE TABLE IF NOT EXISTS audit_log (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	at DATETIME NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	task_id TEXT,
	detail TEXT
);
`
