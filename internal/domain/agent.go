package domain

import "time"

// AgentStatus is the lifecycle state of a registered agent process.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentDead    AgentStatus = "dead"
)

// Agent is a registered worker process capable of claiming and
// implementing tasks. The coordinator never spawns or observes the
// process directly; it only tracks heartbeats and claims.
type Agent struct {
	ID            string
	Status        AgentStatus
	CurrentTaskID string
	RegisteredAt  time.Time
	LastHeartbeat time.Time
}

// Stale reports whether the agent's heartbeat is older than timeout,
// i.e. it should be considered dead by the reaper.
func (a *Agent) Stale(now time.Time, timeout time.Duration) bool {
	return now.Sub(a.LastHeartbeat) > timeout
}
